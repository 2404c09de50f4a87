package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcpforge/internal/clarify"
	"mcpforge/internal/logging"
	"mcpforge/internal/refine"
	"mcpforge/internal/types"
)

// Collaborator contracts, narrowed to what the nodes call so tests can stub
// each phase independently.
type (
	Researcher interface {
		ConductResearch(ctx context.Context, s *types.SessionState) (*types.ResearchResult, error)
	}
	Ensembler interface {
		OrchestrateEnsemble(ctx context.Context, s *types.SessionState) (*types.EnsembleResult, error)
	}
	Clarifier interface {
		OrchestrateClarification(ctx context.Context, s *types.SessionState) clarify.Result
	}
	RefinerStep interface {
		RefineUntilWorking(ctx context.Context, s *types.SessionState) refine.Result
	}
)

// nodeHandler runs one phase against the session and returns the partial
// update to merge and yield.
type nodeHandler func(ctx context.Context, s *types.SessionState) (*types.StateDelta, error)

func (p *Pipeline) handlers() map[Phase]nodeHandler {
	return map[Phase]nodeHandler{
		PhaseInit:     p.runInit,
		PhaseResearch: p.runResearch,
		PhaseEnsemble: p.runEnsemble,
		PhaseClarify:  p.runClarify,
		PhasePlan:     p.runPlan,
		PhaseRefine:   p.runRefine,
	}
}

func (p *Pipeline) runInit(_ context.Context, s *types.SessionState) (*types.StateDelta, error) {
	params := s.Params
	extractParams(&params)
	intent := detectIntent(s)
	return &types.StateDelta{
		Intent:         &intent,
		Params:         &params,
		AppendProgress: []types.ProgressEvent{types.Progressf(string(PhaseInit), "understanding your request")},
	}, nil
}

func (p *Pipeline) runResearch(ctx context.Context, s *types.SessionState) (*types.StateDelta, error) {
	result, err := p.researcher.ConductResearch(ctx, s)
	if err != nil {
		return nil, err
	}
	params := s.Params
	return &types.StateDelta{
		Research: result,
		Params:   &params,
		AppendProgress: []types.ProgressEvent{types.Progressf(string(PhaseResearch),
			fmt.Sprintf("gathered evidence (%s, confidence %.0f%%)", result.Kind, result.Plan.Confidence*100))},
	}, nil
}

func (p *Pipeline) runEnsemble(ctx context.Context, s *types.SessionState) (*types.StateDelta, error) {
	result, err := p.ensembler.OrchestrateEnsemble(ctx, s)
	if err != nil {
		return nil, err
	}
	return &types.StateDelta{
		Ensemble: result,
		AppendProgress: []types.ProgressEvent{types.Progressf(string(PhaseEnsemble),
			fmt.Sprintf("%d tools agreed (consensus %.1f)", len(result.Tools), result.ConsensusScore))},
	}, nil
}

func (p *Pipeline) runClarify(ctx context.Context, s *types.SessionState) (*types.StateDelta, error) {
	res := p.clarifier.OrchestrateClarification(ctx, s)
	delta := &types.StateDelta{
		Clarification:  &s.Clarification,
		NeedsUserInput: types.BoolPtr(res.NeedsUserInput),
	}
	if res.NeedsUserInput {
		delta.PendingQuestions = res.Questions
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseClarify),
			fmt.Sprintf("need %d answers before continuing", len(res.Questions)))}
	} else {
		delta.PendingQuestions = []types.ClarificationQuestion{}
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseClarify), "no blocking questions")}
	}
	return delta, nil
}

// runPlan folds the ensemble consensus and clarification answers into the
// generation plan handed to refinement.
func (p *Pipeline) runPlan(_ context.Context, s *types.SessionState) (*types.StateDelta, error) {
	if s.Ensemble == nil {
		return nil, fmt.Errorf("planning requires an ensemble result")
	}
	plan := &types.GenerationPlan{
		ServerName: serverName(s),
		Tools:      s.Ensemble.Tools,
		EnvVars:    discoverEnvVars(s),
	}
	if s.Research != nil {
		plan.Approach = s.Research.Plan.Approach
	}
	return &types.StateDelta{
		Plan: plan,
		AppendProgress: []types.ProgressEvent{types.Progressf(string(PhasePlan),
			fmt.Sprintf("planned %s with %d tools", plan.ServerName, len(plan.Tools)))},
	}, nil
}

func (p *Pipeline) runRefine(ctx context.Context, s *types.SessionState) (*types.StateDelta, error) {
	res := p.refiner.RefineUntilWorking(ctx, s)

	delta := &types.StateDelta{
		Artifact:            s.Artifact,
		RefinementIteration: types.IntPtr(s.RefinementIteration),
	}
	switch {
	case res.Success:
		delta.IsComplete = types.BoolPtr(true)
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseRefine),
			fmt.Sprintf("server ready: all %d tools passing", res.Outcome.ToolsFound))}
	case res.Err != nil && !res.ShouldContinue:
		var aerr *types.ArtifactInvalidError
		if !errors.As(res.Err, &aerr) || aerr.Outcome == nil {
			// Structural failure before any submission: nothing to keep.
			return nil, res.Err
		}
		// Budget exhausted: terminal partial success with the best artifact.
		delta.IsComplete = types.BoolPtr(true)
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseRefine), partialSummary(res))}
	case res.Err != nil:
		// Transient harness trouble; the next refine visit resubmits.
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseRefine),
			fmt.Sprintf("submission failed, retrying: %v", res.Err))}
	default:
		delta.AppendProgress = []types.ProgressEvent{types.Progressf(string(PhaseRefine),
			fmt.Sprintf("iteration %d: %d/%d tools passing, repairing", res.Iterations,
				res.Outcome.ToolsPassed, res.Outcome.ToolsFound))}
	}
	return delta, nil
}

// partialSummary names what remains broken when the budget runs out.
func partialSummary(res refine.Result) string {
	if res.Outcome == nil {
		return "refinement budget exhausted"
	}
	var broken []string
	for _, tr := range res.Outcome.ToolResults {
		if !tr.Passed {
			broken = append(broken, tr.Name)
		}
	}
	if len(broken) == 0 {
		return fmt.Sprintf("refinement budget exhausted with %d/%d tools passing",
			res.Outcome.ToolsPassed, res.Outcome.ToolsFound)
	}
	return fmt.Sprintf("best artifact kept with %d/%d tools passing; still broken: %s",
		res.Outcome.ToolsPassed, res.Outcome.ToolsFound, strings.Join(broken, ", "))
}

func serverName(s *types.SessionState) string {
	switch {
	case s.Params.ServiceName != "":
		return s.Params.ServiceName + "-mcp"
	case s.Params.SourceRef != "":
		parts := strings.Split(s.Params.SourceRef, "/")
		return parts[len(parts)-1] + "-mcp"
	default:
		return "generated-mcp"
	}
}

// discoverEnvVars derives required credentials from the gathered evidence:
// any sign of authentication in the research output becomes an API-key
// requirement, plus anything the user already supplied stays declared.
func discoverEnvVars(s *types.SessionState) []types.EnvVarRequirement {
	var out []types.EnvVarRequirement
	seen := map[string]bool{}
	add := func(req types.EnvVarRequirement) {
		if !seen[req.Name] {
			seen[req.Name] = true
			out = append(out, req)
		}
	}

	if s.Research != nil && mentionsAuth(s.Research) {
		add(types.EnvVarRequirement{
			Name:        envVarName(serverName(s)) + "_API_KEY",
			Description: "credential for the upstream service",
			Required:    true,
		})
	}
	for name := range s.Clarification.Collected {
		add(types.EnvVarRequirement{Name: name, Required: true})
	}
	return out
}

func mentionsAuth(r *types.ResearchResult) bool {
	probe := strings.ToLower(r.Plan.Summary + " " + strings.Join(r.Plan.KeyInsights, " "))
	for _, marker := range []string{"auth", "api key", "token", "credential", "oauth"} {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}

func envVarName(server string) string {
	upper := strings.ToUpper(server)
	upper = strings.TrimSuffix(upper, "-MCP")
	mapped := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return strings.Trim(mapped, "_")
}

func logNode(phase Phase, s *types.SessionState) {
	logging.Pipeline("session %s: entering %s", s.SessionID, phase)
}
