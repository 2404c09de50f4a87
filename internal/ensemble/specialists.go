package ensemble

import (
	"context"
	"fmt"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// runSpecialist executes one specialist pass. A failed call or malformed
// output degrades to an empty, low-confidence perspective; it never returns
// an error.
func runSpecialist(ctx context.Context, client types.LLMClient, role Role, research *types.ResearchResult) types.SpecialistPerspective {
	timer := logging.StartTimer(logging.CategoryEnsemble, "specialist."+role.Name)
	defer timer.Stop()

	degraded := types.SpecialistPerspective{
		Role:       role.Name,
		Weight:     role.Weight,
		Confidence: degradedConfidence,
		Degraded:   true,
	}
	if client == nil {
		return degraded
	}

	resp, err := client.CompleteWithSystem(ctx, role.SystemPrompt, buildEvidencePrompt(research))
	if err != nil {
		logging.Get(logging.CategoryEnsemble).Warn("specialist %s pass failed: %v", role.Name, err)
		return degraded
	}

	var parsed struct {
		Recommendations []types.ToolRecommendation `json:"recommendations"`
		Confidence      float64                    `json:"confidence"`
	}
	if err := extract.ExtractInto("specialist."+role.Name, resp, &parsed); err != nil {
		logging.Get(logging.CategoryEnsemble).Warn("specialist %s output malformed: %v", role.Name, err)
		return degraded
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}

	recs := sanitizeRecommendations(parsed.Recommendations)
	logging.EnsembleDebug("specialist %s proposed %d tools at confidence %.2f",
		role.Name, len(recs), parsed.Confidence)
	return types.SpecialistPerspective{
		Role:            role.Name,
		Weight:          role.Weight,
		Confidence:      parsed.Confidence,
		Recommendations: recs,
	}
}

// sanitizeRecommendations normalizes names, drops nameless entries, and
// de-duplicates within a single perspective.
func sanitizeRecommendations(recs []types.ToolRecommendation) []types.ToolRecommendation {
	seen := map[string]bool{}
	out := recs[:0]
	for _, r := range recs {
		name := types.NormalizeToolName(r.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		r.Name = name
		if r.Priority == "" {
			r.Priority = types.PriorityMedium
		}
		if r.Complexity == "" {
			r.Complexity = types.ComplexityModerate
		}
		out = append(out, r)
	}
	return out
}

// buildEvidencePrompt renders the research result as the user message every
// specialist sees. All four passes see the identical prompt.
func buildEvidencePrompt(research *types.ResearchResult) string {
	var sb strings.Builder
	sb.WriteString("Propose MCP tools for the following service.\n\n")
	sb.WriteString("Summary: " + research.Plan.Summary + "\n")
	if research.Plan.Approach != "" {
		sb.WriteString("Approach: " + research.Plan.Approach + "\n")
	}
	if len(research.Plan.KeyInsights) > 0 {
		sb.WriteString("Key insights:\n")
		for _, in := range research.Plan.KeyInsights {
			sb.WriteString("- " + in + "\n")
		}
	}
	if sa := research.SourceAnalysis; sa != nil {
		sb.WriteString(fmt.Sprintf("\nSource scan of %s: languages %s\n", sa.Ref, strings.Join(sa.Languages, ", ")))
		if len(sa.Exports) > 0 {
			sb.WriteString("Exported functions: " + strings.Join(head(sa.Exports, 30), ", ") + "\n")
		}
		if len(sa.Endpoints) > 0 {
			sb.WriteString("Endpoints: " + strings.Join(head(sa.Endpoints, 20), ", ") + "\n")
		}
	}
	if da := research.DocsAnalysis; da != nil {
		sb.WriteString("\nDocumentation (" + da.URL + "): " + da.Title + "\n")
		if len(da.Headings) > 0 {
			sb.WriteString("Sections: " + strings.Join(head(da.Headings, 20), "; ") + "\n")
		}
		if len(da.Endpoints) > 0 {
			sb.WriteString("Endpoints: " + strings.Join(head(da.Endpoints, 20), ", ") + "\n")
		}
	}
	if len(research.WebFindings) > 0 {
		sb.WriteString("\nWeb evidence:\n")
		for _, f := range research.WebFindings {
			sb.WriteString("- " + f.Title + ": " + f.Snippet + "\n")
		}
	}
	sb.WriteString("\nPropose 5-10 tools.")
	return sb.String()
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
