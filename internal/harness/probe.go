package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcpforge/internal/logging"
	"mcpforge/internal/sandbox"
	"mcpforge/internal/types"
)

// ProbeHarness approximates the container harness locally: it syntax-checks
// the artifact, interprets its main file in the sandbox, and treats a tool as
// discovered when the run's output registers it. It cannot exercise real
// transports, so it is a floor, not a substitute, for the container harness.
type ProbeHarness struct {
	executor *sandbox.Executor
}

func NewProbeHarness() *ProbeHarness {
	return &ProbeHarness{executor: sandbox.New()}
}

// Submit validates one artifact. The sandbox enforces the wall-clock bound;
// CPU share is not enforceable in-process and is ignored here.
func (h *ProbeHarness) Submit(ctx context.Context, artifact *types.GeneratedArtifact, envelope ResourceEnvelope) (*types.TestOutcome, error) {
	if artifact == nil || artifact.MainFile == "" {
		return nil, fmt.Errorf("no artifact to submit")
	}
	timer := logging.StartTimer(logging.CategoryHarness, "ProbeHarness.Submit")
	defer timer.Stop()

	outcome := &types.TestOutcome{}

	if err := h.executor.Check(artifact.MainFile); err != nil {
		outcome.Output = err.Error()
		logging.Get(logging.CategoryHarness).Warn("artifact failed syntax check: %v", err)
		return outcome, nil
	}
	outcome.BuildSuccess = true

	opts := sandbox.Options{
		Timeout:     envelope.WallClock,
		MemoryLimit: envelope.MemoryBytes,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEnvelope().WallClock
	}

	res := h.executor.Execute(ctx, artifact.MainFile, opts)
	outcome.Output = res.Output
	if res.Violation != nil {
		outcome.Output = res.Violation.Detail
		logging.Get(logging.CategoryHarness).Warn("probe run violated sandbox: %s", res.Violation.Kind)
		return outcome, nil
	}

	registered := registeredTools(res.Logs, res.Output)
	for _, tool := range artifact.Metadata.Tools {
		start := time.Now()
		passed := registered[types.NormalizeToolName(tool)]
		result := types.ToolTestResult{
			Name:     tool,
			Passed:   passed,
			Duration: time.Since(start),
		}
		if !passed {
			result.Error = "tool never registered during probe run"
		}
		outcome.ToolResults = append(outcome.ToolResults, result)
		outcome.ToolsFound++
		if passed {
			outcome.ToolsPassed++
		}
	}
	outcome.Success = res.Success && outcome.ToolsFound > 0 && outcome.ToolsPassed == outcome.ToolsFound
	logging.Harness("probe submission: build=%v tools=%d/%d", outcome.BuildSuccess, outcome.ToolsPassed, outcome.ToolsFound)
	return outcome, nil
}

// registeredTools scans probe output for "registered tool: <name>" lines, the
// marker the scaffold templates emit on startup.
func registeredTools(logs []string, output string) map[string]bool {
	const marker = "registered tool:"
	out := map[string]bool{}
	scan := func(line string) {
		idx := strings.Index(strings.ToLower(line), marker)
		if idx == -1 {
			return
		}
		name := strings.TrimSpace(line[idx+len(marker):])
		if name != "" {
			out[types.NormalizeToolName(name)] = true
		}
	}
	for _, l := range logs {
		scan(l)
	}
	for _, l := range strings.Split(output, "\n") {
		scan(l)
	}
	return out
}
