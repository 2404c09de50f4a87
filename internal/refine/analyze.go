package refine

import (
	"context"
	"fmt"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// analyzeFailures categorizes a failing outcome, extracting root causes and
// prioritized tool-scoped fixes. When the analysis call itself fails, a
// mechanical listing of failures stands in so the repair step always has
// something to work from.
func (r *Refiner) analyzeFailures(ctx context.Context, artifact *types.GeneratedArtifact, outcome *types.TestOutcome) *types.FailureAnalysis {
	timer := logging.StartTimer(logging.CategoryRefine, "analyzeFailures")
	defer timer.Stop()

	if r.client != nil {
		if analysis, err := r.analyzeWithLLM(ctx, artifact, outcome); err == nil {
			return analysis
		} else {
			logging.Get(logging.CategoryRefine).Warn("analysis call failed, using mechanical listing: %v", err)
		}
	}
	return mechanicalAnalysis(outcome)
}

const analysisSystemPrompt = `You analyze test failures of a generated MCP server.
Categorize each failure as syntax, runtime, protocol_violation, logic, or timeout.
Respond with JSON only:
{"failureCount":0,"categories":{"syntax":0,"runtime":0,"protocol_violation":0,"logic":0,"timeout":0},"rootCauses":["..."],"fixes":[{"tool":"...","issue":"...","solution":"...","priority":"high|medium|low","snippet":"..."}],"recommendation":"..."}`

func (r *Refiner) analyzeWithLLM(ctx context.Context, artifact *types.GeneratedArtifact, outcome *types.TestOutcome) (*types.FailureAnalysis, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Build success: %v. Tools passing: %d/%d.\n\nFailures:\n",
		outcome.BuildSuccess, outcome.ToolsPassed, outcome.ToolsFound))
	for _, tr := range outcome.ToolResults {
		if !tr.Passed {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", tr.Name, tr.Error))
		}
	}
	if outcome.Output != "" {
		sb.WriteString("\nHarness output:\n" + clip(outcome.Output, 2000) + "\n")
	}
	sb.WriteString("\nGenerated source:\n" + clip(artifact.MainFile, 6000))

	resp, err := r.client.CompleteWithSystem(ctx, analysisSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	var analysis types.FailureAnalysis
	if err := extract.ExtractInto("failure-analysis", resp, &analysis); err != nil {
		return nil, err
	}
	if analysis.FailureCount == 0 {
		analysis.FailureCount = failingCount(outcome)
	}
	return &analysis, nil
}

// mechanicalAnalysis derives an analysis from the outcome alone: build
// failures count as syntax, timeouts by error text, everything else runtime.
func mechanicalAnalysis(outcome *types.TestOutcome) *types.FailureAnalysis {
	analysis := &types.FailureAnalysis{
		Categories:     map[types.FailureCategory]int{},
		Recommendation: "mechanical listing; fix the failures below in order",
	}
	if !outcome.BuildSuccess {
		analysis.Categories[types.FailureSyntax]++
		analysis.FailureCount++
		analysis.RootCauses = append(analysis.RootCauses, "artifact does not build")
		analysis.Fixes = append(analysis.Fixes, types.Fix{
			Tool:     "*",
			Issue:    "build failure",
			Solution: "correct the syntax error reported by the harness",
			Priority: types.PriorityHigh,
			Snippet:  clip(outcome.Output, 300),
		})
		return analysis
	}
	for _, tr := range outcome.ToolResults {
		if tr.Passed {
			continue
		}
		analysis.FailureCount++
		cat := categorizeError(tr.Error)
		analysis.Categories[cat]++
		analysis.RootCauses = append(analysis.RootCauses, tr.Name+": "+tr.Error)
		analysis.Fixes = append(analysis.Fixes, types.Fix{
			Tool:     tr.Name,
			Issue:    tr.Error,
			Solution: "make " + tr.Name + " satisfy its declared contract",
			Priority: types.PriorityMedium,
		})
	}
	return analysis
}

func categorizeError(errText string) types.FailureCategory {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return types.FailureTimeout
	case strings.Contains(lower, "syntax") || strings.Contains(lower, "parse"):
		return types.FailureSyntax
	case strings.Contains(lower, "protocol") || strings.Contains(lower, "schema") ||
		strings.Contains(lower, "never registered"):
		return types.FailureProtocol
	case strings.Contains(lower, "panic") || strings.Contains(lower, "nil pointer"):
		return types.FailureRuntime
	default:
		return types.FailureLogic
	}
}

func failingCount(outcome *types.TestOutcome) int {
	n := 0
	for _, tr := range outcome.ToolResults {
		if !tr.Passed {
			n++
		}
	}
	if n == 0 && !outcome.Success {
		n = 1
	}
	return n
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[clipped]"
}
