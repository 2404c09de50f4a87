// Package refine drives the generate-test-repair loop: obtain an artifact,
// submit it to the test harness, analyze what failed, request a corrected
// artifact, and stop after five iterations with the best artifact retained.
package refine

import (
	"context"
	"fmt"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/harness"
	"mcpforge/internal/logging"
	"mcpforge/internal/scaffold"
	"mcpforge/internal/types"
)

const maxIterations = 5

// Result is the verdict of one refinement call. ShouldContinue tells the
// caller whether another call is worthwhile; terminal results (success,
// exhausted budget, fatal error) report false.
type Result struct {
	Success        bool
	Artifact       *types.GeneratedArtifact
	Outcome        *types.TestOutcome
	Analysis       *types.FailureAnalysis
	Iterations     int
	ShouldContinue bool
	Err            error
}

// Refiner owns the refinement loop's collaborators.
type Refiner struct {
	client    types.LLMClient
	harness   harness.Harness
	generator *scaffold.Generator
	envelope  harness.ResourceEnvelope
}

func NewRefiner(client types.LLMClient, h harness.Harness) *Refiner {
	return &Refiner{
		client:    client,
		harness:   h,
		generator: scaffold.NewGenerator(),
		envelope:  harness.DefaultEnvelope(),
	}
}

// WithEnvelope overrides the resource envelope applied to every submission.
func (r *Refiner) WithEnvelope(env harness.ResourceEnvelope) *Refiner {
	r.envelope = env
	return r
}

// RefineUntilWorking performs one test-analyze-repair step. The session's
// RefinementIteration counter carries across calls, so a resumed session does
// not restart the budget; callers loop while ShouldContinue holds.
func (r *Refiner) RefineUntilWorking(ctx context.Context, session *types.SessionState) Result {
	timer := logging.StartTimer(logging.CategoryRefine, "RefineUntilWorking")
	defer timer.Stop()

	artifact, err := r.obtainArtifact(session)
	if err != nil {
		return Result{Err: err, Iterations: session.RefinementIteration}
	}
	session.Artifact = artifact

	outcome, err := r.harness.Submit(ctx, artifact, r.envelope)
	if err != nil {
		return Result{
			Artifact:       artifact,
			Iterations:     session.RefinementIteration,
			ShouldContinue: session.RefinementIteration < maxIterations,
			Err:            fmt.Errorf("harness submission failed: %w", err),
		}
	}
	session.RefinementHistory = append(session.RefinementHistory, types.RefinementRecord{
		Iteration: session.RefinementIteration,
		Artifact:  artifact,
		Outcome:   outcome,
	})

	if outcome.Success {
		logging.Refine("all %d tools passing after %d iterations", outcome.ToolsFound, session.RefinementIteration)
		return Result{Success: true, Artifact: artifact, Outcome: outcome, Iterations: session.RefinementIteration}
	}

	if session.RefinementIteration >= maxIterations {
		best, bestOutcome := bestIteration(session)
		logging.Refine("iteration budget exhausted, keeping best artifact (%d/%d tools)",
			bestOutcome.ToolsPassed, bestOutcome.ToolsFound)
		session.Artifact = best
		return Result{
			Artifact:   best,
			Outcome:    bestOutcome,
			Iterations: session.RefinementIteration,
			Err:        &types.ArtifactInvalidError{Outcome: bestOutcome},
		}
	}

	analysis := r.analyzeFailures(ctx, artifact, outcome)
	record := &session.RefinementHistory[len(session.RefinementHistory)-1]
	record.Analysis = analysis

	repaired, rerr := r.repair(ctx, artifact, analysis)
	if rerr != nil {
		logging.Get(logging.CategoryRefine).Warn("repair call failed, next round resubmits unchanged: %v", rerr)
	} else {
		session.Artifact = repaired
		record.Repaired = true
	}
	session.RefinementIteration++
	logging.Refine("iteration %d: %d/%d tools passing",
		session.RefinementIteration, outcome.ToolsPassed, outcome.ToolsFound)

	return Result{
		Artifact:       session.Artifact,
		Outcome:        outcome,
		Analysis:       analysis,
		Iterations:     session.RefinementIteration,
		ShouldContinue: session.RefinementIteration < maxIterations,
	}
}

// ShouldContinue reports whether another refinement call is within budget.
func ShouldContinue(session *types.SessionState) bool {
	return session.RefinementIteration < maxIterations
}

// obtainArtifact reuses the session's artifact or generates fresh from the
// consensus plan. No artifact and no plan tools is fatal.
func (r *Refiner) obtainArtifact(session *types.SessionState) (*types.GeneratedArtifact, error) {
	if session.Artifact != nil {
		return session.Artifact, nil
	}
	if session.Plan == nil || len(session.Plan.Tools) == 0 {
		return nil, &types.ArtifactInvalidError{Reason: "no artifact and the plan contains no tools"}
	}
	return r.generator.Generate(session.Plan, session.RefinementIteration)
}

// bestIteration returns the artifact and outcome of the strongest recorded
// iteration: most passing tools, then a successful build.
func bestIteration(session *types.SessionState) (*types.GeneratedArtifact, *types.TestOutcome) {
	var best *types.RefinementRecord
	for i := range session.RefinementHistory {
		rec := &session.RefinementHistory[i]
		if rec.Outcome == nil {
			continue
		}
		if best == nil || betterOutcome(rec.Outcome, best.Outcome) {
			best = rec
		}
	}
	if best == nil {
		return session.Artifact, &types.TestOutcome{}
	}
	return best.Artifact, best.Outcome
}

// betterOutcome prefers more passing tools, then a successful build.
func betterOutcome(a, b *types.TestOutcome) bool {
	if a.ToolsPassed != b.ToolsPassed {
		return a.ToolsPassed > b.ToolsPassed
	}
	return a.BuildSuccess && !b.BuildSuccess
}

const repairSystemPrompt = `You repair a generated MCP server. You receive its full
source and a failure analysis. Return the complete corrected main source file.
Respond with JSON only: {"mainFile":"...full corrected source..."}`

// repair asks for a full corrected artifact. The returned source is screened
// for truncation and best-effort repaired before acceptance; the next harness
// submission re-validates it regardless.
func (r *Refiner) repair(ctx context.Context, artifact *types.GeneratedArtifact, analysis *types.FailureAnalysis) (*types.GeneratedArtifact, error) {
	if r.client == nil {
		return nil, fmt.Errorf("no client for repair")
	}

	var sb strings.Builder
	sb.WriteString("Failure analysis:\n")
	for _, cause := range analysis.RootCauses {
		sb.WriteString("- " + cause + "\n")
	}
	for _, fix := range analysis.Fixes {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", fix.Priority, fix.Tool, fix.Solution))
	}
	sb.WriteString("\nCurrent source:\n" + artifact.MainFile)

	resp, err := r.client.CompleteWithSystem(ctx, repairSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		MainFile string `json:"mainFile"`
	}
	if err := extract.ExtractInto("repair", resp, &parsed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.MainFile) == "" {
		return nil, fmt.Errorf("repair returned an empty source file")
	}

	source := parsed.MainFile
	if !IsComplete(source) {
		logging.Refine("repair output looks truncated, attempting recovery")
		source = AttemptRepair(source)
	}

	out := artifact.Clone()
	out.MainFile = source
	out.Metadata.Iteration = artifact.Metadata.Iteration + 1
	return out, nil
}
