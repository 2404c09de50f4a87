package ensemble

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// Coordinator fans out specialist passes and merges them into a consensus.
type Coordinator struct {
	client types.LLMClient
	roles  []Role
}

// NewCoordinator builds a coordinator over the given roles; nil roles means
// the built-in four.
func NewCoordinator(client types.LLMClient, roles []Role) *Coordinator {
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	return &Coordinator{client: client, roles: roles}
}

// OrchestrateEnsemble runs every specialist concurrently over the session's
// research result, tallies weighted votes, resolves weak consensus once, and
// applies the user-constraint gate.
func (c *Coordinator) OrchestrateEnsemble(ctx context.Context, session *types.SessionState) (*types.EnsembleResult, error) {
	if session.Research == nil {
		return nil, fmt.Errorf("ensemble requires a research result")
	}
	timer := logging.StartTimer(logging.CategoryEnsemble, "OrchestrateEnsemble")
	defer timer.StopWithInfo()

	perspectives := make([]types.SpecialistPerspective, len(c.roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range c.roles {
		g.Go(func() error {
			// runSpecialist degrades internally; the join never fails.
			perspectives[i] = runSpecialist(gctx, c.client, role, session.Research)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	votes := tallyVotes(perspectives)
	tools := admitTools(votes)
	reached := len(tools) >= consensusMinTools

	result := &types.EnsembleResult{
		Perspectives:     perspectives,
		Votes:            votes,
		ConsensusReached: reached,
	}
	if reached {
		result.ConsensusScore = 1.0
		result.Tools = tools
	} else {
		result.ConsensusScore = 0.5
		result.Tools = c.resolveConflicts(ctx, perspectives, tools)
		result.ConflictsResolved = true
	}
	logging.Ensemble("consensus=%v score=%.1f tools=%d", reached, result.ConsensusScore, len(result.Tools))

	result.Tools = applyUserConstraints(result.Tools, session.Params)
	return result, nil
}

// resolveConflicts runs when the consensus set is too small. It tries one
// mediation call, then the highest-weighted specialist's own proposals, then
// pools and de-duplicates everything.
func (c *Coordinator) resolveConflicts(ctx context.Context, perspectives []types.SpecialistPerspective, admitted []types.ToolRecommendation) []types.ToolRecommendation {
	logging.Ensemble("consensus weak (%d admitted), resolving conflicts", len(admitted))

	if tools := c.mediate(ctx, perspectives); len(tools) > 0 {
		return capTools(tools)
	}

	best := highestWeight(c.roles)
	for _, p := range perspectives {
		if p.Role == best.Name && len(p.Recommendations) > 0 {
			logging.Ensemble("mediation failed, using %s specialist proposals", p.Role)
			return capTools(p.Recommendations)
		}
	}

	logging.Ensemble("falling back to pooled proposals")
	return capTools(poolProposals(perspectives))
}

// mediate issues one extra call summarizing every specialist's proposals and
// asks for a synthesized 5-10 tool list.
func (c *Coordinator) mediate(ctx context.Context, perspectives []types.SpecialistPerspective) []types.ToolRecommendation {
	if c.client == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Specialists disagreed on the tool set for an MCP server. Their proposals:\n\n")
	for _, p := range perspectives {
		sb.WriteString(fmt.Sprintf("## %s (weight %.1f, confidence %.2f)\n", p.Role, p.Weight, p.Confidence))
		if len(p.Recommendations) == 0 {
			sb.WriteString("(no proposals)\n")
		}
		for _, r := range p.Recommendations {
			sb.WriteString("- " + r.Name + ": " + r.Description + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Synthesize a final list of 5-10 tools reconciling these views.
Respond with JSON only: {"recommendations":[{"name":"...","description":"...","inputSchema":{},"priority":"high|medium|low","complexity":"simple|moderate|complex"}]}`)

	resp, err := c.client.Complete(ctx, sb.String())
	if err != nil {
		logging.Get(logging.CategoryEnsemble).Warn("mediation call failed: %v", err)
		return nil
	}
	var parsed struct {
		Recommendations []types.ToolRecommendation `json:"recommendations"`
	}
	if err := extract.ExtractInto("mediation", resp, &parsed); err != nil {
		logging.Get(logging.CategoryEnsemble).Warn("mediation output malformed: %v", err)
		return nil
	}
	return sanitizeRecommendations(parsed.Recommendations)
}

// poolProposals merges every specialist's raw proposals, first writer wins per
// normalized name.
func poolProposals(perspectives []types.SpecialistPerspective) []types.ToolRecommendation {
	seen := map[string]bool{}
	var out []types.ToolRecommendation
	for _, p := range perspectives {
		for _, r := range p.Recommendations {
			if seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			out = append(out, r)
		}
	}
	return out
}

func capTools(tools []types.ToolRecommendation) []types.ToolRecommendation {
	if len(tools) > maxTools {
		return tools[:maxTools]
	}
	return tools
}

// applyUserConstraints is the final deterministic gate. Explicitly requested
// tool names are kept first (with placeholders synthesized for names the
// ensemble never produced), remaining slots fill by descending priority, and
// the list truncates to the requested count or the cap.
func applyUserConstraints(tools []types.ToolRecommendation, params types.ExtractedParams) []types.ToolRecommendation {
	limit := maxTools
	if params.RequestedToolCount > 0 && params.RequestedToolCount < limit {
		limit = params.RequestedToolCount
	}
	if len(params.RequestedToolNames) == 0 {
		return capAt(tools, limit)
	}

	byName := map[string]types.ToolRecommendation{}
	for _, t := range tools {
		byName[t.Name] = t
	}

	var out []types.ToolRecommendation
	used := map[string]bool{}
	for _, raw := range params.RequestedToolNames {
		name := types.NormalizeToolName(raw)
		if name == "" || used[name] {
			continue
		}
		used[name] = true
		if t, ok := byName[name]; ok {
			out = append(out, t)
		} else {
			logging.Ensemble("synthesizing placeholder for requested tool %s", name)
			out = append(out, types.ToolRecommendation{
				Name:        name,
				Description: "User-requested tool: " + strings.ReplaceAll(name, "_", " "),
				Priority:    types.PriorityHigh,
				Complexity:  types.ComplexityModerate,
			})
		}
	}

	rest := make([]types.ToolRecommendation, 0, len(tools))
	for _, t := range tools {
		if !used[t.Name] {
			rest = append(rest, t)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].Priority.Rank() > rest[j].Priority.Rank()
	})
	for _, t := range rest {
		if len(out) >= limit {
			break
		}
		out = append(out, t)
	}
	return capAt(out, limit)
}

func capAt(tools []types.ToolRecommendation, limit int) []types.ToolRecommendation {
	if len(tools) > limit {
		return tools[:limit]
	}
	return tools
}
