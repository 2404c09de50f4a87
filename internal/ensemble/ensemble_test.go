package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge/internal/types"
)

type stubClient struct {
	perRole  map[string]string // keyed by substring of the system prompt
	fallback string
	err      error
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.fallback, nil
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for key, resp := range s.perRole {
		if key != "" && containsFold(system, key) {
			return resp, nil
		}
	}
	return s.fallback, nil
}

func containsFold(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) &&
		(haystack == needle || indexFold(haystack, needle) >= 0)
}

func indexFold(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			a, b := haystack[i+j], needle[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func researchFixture() *types.ResearchResult {
	return &types.ResearchResult{
		Kind: types.InputNamedService,
		Plan: types.SynthesizedPlan{
			Summary:     "Acme widget API",
			KeyInsights: []string{"REST with bearer auth"},
			Confidence:  0.8,
		},
	}
}

func sessionFixture() *types.SessionState {
	s := types.NewSession("acme")
	s.Research = researchFixture()
	return s
}

func recsJSON(conf float64, names ...string) string {
	out := `{"recommendations":[`
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"name":%q,"description":"tool %s","priority":"medium","complexity":"simple"}`, n, n)
	}
	return out + fmt.Sprintf(`],"confidence":%.2f}`, conf)
}

func TestVoteScoreWorkedExamples(t *testing.T) {
	// Two votes at (0.9, 1.2) and (0.6, 0.8): (0.9*1.2+0.6*0.8)/2.0 = 0.78.
	votes := []types.Vote{
		{Confidence: 0.9, Weight: 1.2},
		{Confidence: 0.6, Weight: 0.8},
	}
	assert.InDelta(t, 0.78, voteScore(votes), 1e-9)

	// A lone vote at (0.5, 1.0) scores 0.5 and must not be admitted.
	lone := map[string][]types.Vote{
		"solo_tool": {{Confidence: 0.5, Weight: 1.0, Recommendation: types.ToolRecommendation{Name: "solo_tool"}}},
	}
	assert.Empty(t, admitTools(lone))
}

func TestAdmitToolsThresholdBoundary(t *testing.T) {
	votes := map[string][]types.Vote{
		"at_threshold":    {{Confidence: 0.7, Weight: 1.0, Recommendation: types.ToolRecommendation{Name: "at_threshold"}}},
		"below_threshold": {{Confidence: 0.69, Weight: 1.0, Recommendation: types.ToolRecommendation{Name: "below_threshold"}}},
	}
	admitted := admitTools(votes)
	require.Len(t, admitted, 1)
	assert.Equal(t, "at_threshold", admitted[0].Name)
}

func TestMergeVotesProtocolSchemaWins(t *testing.T) {
	votes := []types.Vote{
		{
			Specialist: RoleSecurity,
			Confidence: 0.9,
			Recommendation: types.ToolRecommendation{
				Name: "get_user",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":          map[string]any{"type": "integer"},
						"redact_pii":  map[string]any{"type": "boolean"},
					},
				},
			},
		},
		{
			Specialist: RoleProtocol,
			Confidence: 0.8,
			Recommendation: types.ToolRecommendation{
				Name:        "get_user",
				Description: "Fetch a user by ID",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{"type": "string"},
					},
					"required": []any{"id"},
				},
			},
		},
	}

	merged := mergeVotes(votes)
	assert.Equal(t, "Fetch a user by ID", merged.Description)

	props := merged.InputSchema["properties"].(map[string]any)
	// Base field keeps the protocol specialist's type.
	assert.Equal(t, map[string]any{"type": "string"}, props["id"])
	// The security specialist's extra field layers in additively.
	assert.Equal(t, map[string]any{"type": "boolean"}, props["redact_pii"])
	assert.Equal(t, []any{"id"}, merged.InputSchema["required"])
}

func TestMergeVotesHighestConfidenceBaseWithoutProtocol(t *testing.T) {
	votes := []types.Vote{
		{Specialist: RoleDesign, Confidence: 0.6, Recommendation: types.ToolRecommendation{Name: "x", Description: "design"}},
		{Specialist: RolePerformance, Confidence: 0.9, Recommendation: types.ToolRecommendation{Name: "x", Description: "perf"}},
	}
	assert.Equal(t, "perf", mergeVotes(votes).Description)
}

func TestOrchestrateEnsembleConsensus(t *testing.T) {
	// Every specialist proposes the same six tools at 0.85: all six score
	// 0.85 ≥ 0.7 and consensus (≥5) is reached.
	client := &stubClient{fallback: recsJSON(0.85, "a", "b", "c", "d", "e", "f")}
	coord := NewCoordinator(client, nil)

	result, err := coord.OrchestrateEnsemble(context.Background(), sessionFixture())
	require.NoError(t, err)
	assert.True(t, result.ConsensusReached)
	assert.Equal(t, 1.0, result.ConsensusScore)
	assert.False(t, result.ConflictsResolved)
	assert.Len(t, result.Tools, 6)
	assert.Len(t, result.Perspectives, 4)
	for _, p := range result.Perspectives {
		assert.False(t, p.Degraded)
	}
}

func TestOrchestrateEnsembleAllPassesFailDegrade(t *testing.T) {
	client := &stubClient{err: errors.New("api down")}
	coord := NewCoordinator(client, nil)

	result, err := coord.OrchestrateEnsemble(context.Background(), sessionFixture())
	require.NoError(t, err)
	assert.False(t, result.ConsensusReached)
	assert.Equal(t, 0.5, result.ConsensusScore)
	assert.True(t, result.ConflictsResolved)
	for _, p := range result.Perspectives {
		assert.True(t, p.Degraded)
		assert.InDelta(t, 0.3, p.Confidence, 1e-9)
		assert.Empty(t, p.Recommendations)
	}
	// With no proposals anywhere and a failing mediator, the pool is empty.
	assert.Empty(t, result.Tools)
}

func TestOrchestrateEnsembleConflictResolutionPoolsProposals(t *testing.T) {
	// Specialists disagree completely at low confidence: nothing clears 0.7,
	// mediation fails (Complete errors are not simulated here; fallback response
	// is unparseable), so the highest-weight specialist's proposals win.
	client := &stubClient{
		perRole: map[string]string{
			"protocol-compliance": recsJSON(0.6, "proto_tool_one", "proto_tool_two"),
			"api-design":          recsJSON(0.55, "design_tool"),
			"security":            recsJSON(0.5, "security_tool"),
			"performance":         recsJSON(0.5, "perf_tool"),
		},
		fallback: "no json here",
	}
	coord := NewCoordinator(client, nil)

	result, err := coord.OrchestrateEnsemble(context.Background(), sessionFixture())
	require.NoError(t, err)
	assert.False(t, result.ConsensusReached)
	assert.True(t, result.ConflictsResolved)
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "proto_tool_one", result.Tools[0].Name)
}

func TestOrchestrateEnsembleMediation(t *testing.T) {
	client := &stubClient{
		perRole:  map[string]string{"specialist": recsJSON(0.5, "weak_tool")},
		fallback: recsJSON(0.9, "m1", "m2", "m3", "m4", "m5"),
	}
	// Override per-role answers so each specialist lands at 0.5, which keeps
	// consensus weak enough to trigger mediation.
	client.perRole = map[string]string{
		"protocol-compliance": recsJSON(0.5, "t1"),
		"api-design":          recsJSON(0.5, "t2"),
		"security":            recsJSON(0.5, "t3"),
		"performance":         recsJSON(0.5, "t4"),
	}
	coord := NewCoordinator(client, nil)

	result, err := coord.OrchestrateEnsemble(context.Background(), sessionFixture())
	require.NoError(t, err)
	assert.True(t, result.ConflictsResolved)
	require.Len(t, result.Tools, 5)
	assert.Equal(t, "m1", result.Tools[0].Name)
}

func TestApplyUserConstraintsNamedFirstWithPlaceholder(t *testing.T) {
	tools := []types.ToolRecommendation{
		{Name: "list_orders", Priority: types.PriorityLow},
		{Name: "get_order", Priority: types.PriorityHigh},
		{Name: "cancel_order", Priority: types.PriorityMedium},
	}
	params := types.ExtractedParams{
		RequestedToolNames: []string{"getOrder", "refund_order"},
		RequestedToolCount: 3,
	}

	out := applyUserConstraints(tools, params)
	require.Len(t, out, 3)
	assert.Equal(t, "get_order", out[0].Name)
	// refund_order was never proposed; a placeholder is synthesized.
	assert.Equal(t, "refund_order", out[1].Name)
	assert.Equal(t, types.PriorityHigh, out[1].Priority)
	// Remaining slot fills by descending priority.
	assert.Equal(t, "cancel_order", out[2].Name)
}

func TestApplyUserConstraintsCapWithoutNames(t *testing.T) {
	var tools []types.ToolRecommendation
	for i := 0; i < 14; i++ {
		tools = append(tools, types.ToolRecommendation{Name: fmt.Sprintf("tool_%02d", i)})
	}
	out := applyUserConstraints(tools, types.ExtractedParams{})
	assert.Len(t, out, 10)
}

func TestLoadRolesFallsBackAndOverrides(t *testing.T) {
	assert.Equal(t, DefaultRoles(), LoadRoles(""))
	assert.Equal(t, DefaultRoles(), LoadRoles("/nonexistent/specialists.yaml"))

	dir := t.TempDir()
	path := filepath.Join(dir, "specialists.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
specialists:
  - name: protocol
    weight: 1.5
  - name: compliance-auditor
    weight: 0.7
    systemPrompt: "You audit regulatory compliance."
`), 0o644))

	roles := LoadRoles(path)
	require.Len(t, roles, 2)
	assert.Equal(t, 1.5, roles[0].Weight)
	assert.NotEmpty(t, roles[0].SystemPrompt) // inherited from the default
	assert.Equal(t, "compliance-auditor", roles[1].Name)
}

func TestDefaultRoleWeights(t *testing.T) {
	roles := DefaultRoles()
	require.Len(t, roles, 4)
	want := map[string]float64{
		RoleProtocol:    1.2,
		RoleDesign:      1.0,
		RoleSecurity:    0.9,
		RolePerformance: 0.8,
	}
	for _, r := range roles {
		assert.Equal(t, want[r.Name], r.Weight, r.Name)
	}
	assert.Equal(t, RoleProtocol, highestWeight(roles).Name)
}
