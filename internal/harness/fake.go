package harness

import (
	"context"
	"fmt"

	"mcpforge/internal/types"
)

// Fake is a scripted harness for tests: each submission pops the next
// outcome. When the script runs out, the last outcome repeats.
type Fake struct {
	Outcomes    []*types.TestOutcome
	Err         error
	Submissions []*types.GeneratedArtifact
}

func (f *Fake) Submit(ctx context.Context, artifact *types.GeneratedArtifact, _ ResourceEnvelope) (*types.TestOutcome, error) {
	f.Submissions = append(f.Submissions, artifact)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Outcomes) == 0 {
		return nil, fmt.Errorf("fake harness has no scripted outcomes")
	}
	idx := len(f.Submissions) - 1
	if idx >= len(f.Outcomes) {
		idx = len(f.Outcomes) - 1
	}
	return f.Outcomes[idx], nil
}

// AllPass returns an outcome where every named tool passes.
func AllPass(tools ...string) *types.TestOutcome {
	out := &types.TestOutcome{Success: true, BuildSuccess: true, ToolsFound: len(tools), ToolsPassed: len(tools)}
	for _, t := range tools {
		out.ToolResults = append(out.ToolResults, types.ToolTestResult{Name: t, Passed: true})
	}
	return out
}

// SomeFail returns an outcome where the named failing tools carry errors.
func SomeFail(passing []string, failing map[string]string) *types.TestOutcome {
	out := &types.TestOutcome{BuildSuccess: true}
	for _, t := range passing {
		out.ToolResults = append(out.ToolResults, types.ToolTestResult{Name: t, Passed: true})
		out.ToolsPassed++
	}
	for t, errMsg := range failing {
		out.ToolResults = append(out.ToolResults, types.ToolTestResult{Name: t, Error: errMsg})
	}
	out.ToolsFound = len(out.ToolResults)
	return out
}
