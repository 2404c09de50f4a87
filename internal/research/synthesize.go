package research

import (
	"context"
	"fmt"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// fallbackConfidence is the fixed conservative confidence assigned when
// synthesis falls back to the deterministic path.
const fallbackConfidence = 0.6

const synthesisSystemPrompt = `You are a research synthesizer for an MCP server generator.
Given gathered evidence about a service or codebase, produce a generation plan.
Respond with JSON only:
{"summary":"...","keyInsights":["..."],"approach":"...","challenges":["..."],"confidence":0.0}
Rules:
- keyInsights: 3 to 5 concrete, evidence-grounded insights
- challenges: only real blocking challenges, empty list if none
- confidence: your honest confidence in [0,1] that a working server can be generated`

// Synthesize runs one constrained generation call over the gathered evidence.
// On any call or extraction failure it falls back to a deterministic synthesis
// built directly from the raw evidence.
func Synthesize(ctx context.Context, client types.LLMClient, result *types.ResearchResult, input string) types.SynthesizedPlan {
	timer := logging.StartTimer(logging.CategoryResearch, "Synthesize")
	defer timer.Stop()

	if client != nil {
		plan, err := synthesizeWithLLM(ctx, client, result, input)
		if err == nil {
			return plan
		}
		logging.Get(logging.CategoryResearch).Warn("synthesis call failed, using deterministic fallback: %v", err)
	}
	return fallbackSynthesis(result, input)
}

func synthesizeWithLLM(ctx context.Context, client types.LLMClient, result *types.ResearchResult, input string) (types.SynthesizedPlan, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User input: %s\nClassified as: %s\n\n", input, result.Kind)

	if len(result.WebFindings) > 0 {
		sb.WriteString("Web evidence:\n")
		for i, f := range result.WebFindings {
			if i >= 8 {
				break
			}
			fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Title, f.URL, f.Snippet)
		}
		sb.WriteByte('\n')
	}
	if result.SourceAnalysis != nil {
		fmt.Fprintf(&sb, "Source analysis: %s\n", result.SourceAnalysis.Summary)
		if len(result.SourceAnalysis.Exports) > 0 {
			fmt.Fprintf(&sb, "Exported symbols: %s\n", strings.Join(head(result.SourceAnalysis.Exports, 25), ", "))
		}
		if len(result.SourceAnalysis.Endpoints) > 0 {
			fmt.Fprintf(&sb, "Endpoints: %s\n", strings.Join(head(result.SourceAnalysis.Endpoints, 25), ", "))
		}
		sb.WriteByte('\n')
	}
	if result.DocsAnalysis != nil {
		fmt.Fprintf(&sb, "Documentation (%s): %s\n", result.DocsAnalysis.Title, result.DocsAnalysis.URL)
		if len(result.DocsAnalysis.Headings) > 0 {
			fmt.Fprintf(&sb, "Headings: %s\n", strings.Join(head(result.DocsAnalysis.Headings, 15), "; "))
		}
		if result.DocsAnalysis.Excerpt != "" {
			fmt.Fprintf(&sb, "Excerpt: %s\n", result.DocsAnalysis.Excerpt)
		}
	}

	resp, err := client.CompleteWithSystem(ctx, synthesisSystemPrompt, sb.String())
	if err != nil {
		return types.SynthesizedPlan{}, err
	}

	var plan types.SynthesizedPlan
	if err := extract.ExtractInto("synthesis", resp, &plan); err != nil {
		return types.SynthesizedPlan{}, err
	}
	if plan.Summary == "" {
		return types.SynthesizedPlan{}, fmt.Errorf("synthesis returned empty summary")
	}
	if plan.Confidence < 0 || plan.Confidence > 1 {
		plan.Confidence = fallbackConfidence
	}
	return plan, nil
}

// fallbackSynthesis builds a plan directly from whatever raw evidence was
// gathered, with a fixed conservative confidence. No AI involved.
func fallbackSynthesis(result *types.ResearchResult, input string) types.SynthesizedPlan {
	plan := types.SynthesizedPlan{
		Summary:    fmt.Sprintf("Generate an MCP server for %q based on gathered evidence.", strings.TrimSpace(input)),
		Approach:   "Wrap the discovered operations as MCP tools with JSON-schema inputs.",
		Confidence: fallbackConfidence,
	}

	if n := len(result.WebFindings); n > 0 {
		plan.KeyInsights = append(plan.KeyInsights, fmt.Sprintf("%d web findings describe the target service", n))
	}
	if sa := result.SourceAnalysis; sa != nil {
		if len(sa.Exports) > 0 {
			plan.KeyInsights = append(plan.KeyInsights,
				fmt.Sprintf("source exposes %d callable symbols (e.g. %s)", len(sa.Exports), strings.Join(head(sa.Exports, 3), ", ")))
		}
		if len(sa.Endpoints) > 0 {
			plan.KeyInsights = append(plan.KeyInsights,
				fmt.Sprintf("source references %d endpoint paths", len(sa.Endpoints)))
		}
	}
	if da := result.DocsAnalysis; da != nil {
		plan.KeyInsights = append(plan.KeyInsights,
			fmt.Sprintf("documentation at %s covers %d sections", da.URL, len(da.Headings)))
	}
	if len(plan.KeyInsights) == 0 {
		plan.KeyInsights = []string{"no external evidence gathered; plan derives from the raw request only"}
		plan.Challenges = append(plan.Challenges, "evidence gathering produced no usable material")
	}
	return plan
}

func head(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}
