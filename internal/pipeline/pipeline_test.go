package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mcpforge/internal/clarify"
	"mcpforge/internal/refine"
	"mcpforge/internal/types"
)

// ---------------------------------------------------------------------------
// Stub collaborators
// ---------------------------------------------------------------------------

type stubResearcher struct {
	result *types.ResearchResult
	err    error
	calls  int
}

func (s *stubResearcher) ConductResearch(_ context.Context, _ *types.SessionState) (*types.ResearchResult, error) {
	s.calls++
	return s.result, s.err
}

type stubEnsembler struct {
	result *types.EnsembleResult
	err    error
	calls  int
}

func (s *stubEnsembler) OrchestrateEnsemble(_ context.Context, _ *types.SessionState) (*types.EnsembleResult, error) {
	s.calls++
	return s.result, s.err
}

type stubClarifier struct {
	results []clarify.Result
	calls   int
}

func (s *stubClarifier) OrchestrateClarification(_ context.Context, sess *types.SessionState) clarify.Result {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	if idx < 0 {
		return clarify.Result{Complete: true}
	}
	sess.Clarification.Rounds++
	return s.results[idx]
}

// stubRefiner scripts one refine.Result per visit, mimicking the real step's
// session mutations so routing sees the same state the caller would.
type stubRefiner struct {
	script []refine.Result
	calls  int
}

func (s *stubRefiner) RefineUntilWorking(_ context.Context, sess *types.SessionState) refine.Result {
	idx := s.calls
	s.calls++
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	res := s.script[idx]
	if res.Artifact != nil {
		sess.Artifact = res.Artifact
	}
	if res.ShouldContinue {
		sess.RefinementIteration++
	}
	return res
}

func confidentResearch() *types.ResearchResult {
	return &types.ResearchResult{
		Kind: types.InputNamedService,
		Plan: types.SynthesizedPlan{
			Summary:    "REST API with cursor pagination",
			Approach:   "wrap the documented endpoints",
			Confidence: 0.9,
		},
	}
}

func consensusEnsemble() *types.EnsembleResult {
	return &types.EnsembleResult{
		Tools: []types.ToolRecommendation{
			{Name: "get_order"}, {Name: "list_orders"}, {Name: "create_order"},
			{Name: "cancel_order"}, {Name: "search_orders"},
		},
		ConsensusScore:   1.0,
		ConsensusReached: true,
	}
}

func passingOutcome(tools int) *types.TestOutcome {
	return &types.TestOutcome{Success: true, BuildSuccess: true, ToolsFound: tools, ToolsPassed: tools}
}

func drain(t *testing.T, ch <-chan *types.StateDelta) []*types.StateDelta {
	t.Helper()
	var deltas []*types.StateDelta
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return deltas
			}
			deltas = append(deltas, d)
		case <-deadline:
			t.Fatal("pipeline did not finish in time")
		}
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunHappyPath(t *testing.T) {
	artifact := &types.GeneratedArtifact{MainFile: "package main"}
	p := New(
		&stubResearcher{result: confidentResearch()},
		&stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}},
		&stubRefiner{script: []refine.Result{
			{Success: true, Artifact: artifact, Outcome: passingOutcome(5)},
		}},
	)

	session := types.NewSession("build an MCP server for Acme Orders")
	deltas := drain(t, p.Run(context.Background(), session))

	require.NotEmpty(t, deltas)
	assert.True(t, session.IsComplete)
	assert.Empty(t, session.Error)
	assert.False(t, session.NeedsUserInput)
	assert.Equal(t, "generate_server", session.Intent)
	require.NotNil(t, session.Plan)
	assert.Len(t, session.Plan.Tools, 5)
	assert.Same(t, artifact, session.Artifact)

	// Every phase that did work announced itself.
	phases := map[string]bool{}
	for _, ev := range session.Progress {
		phases[ev.Phase] = true
	}
	for _, want := range []Phase{PhaseInit, PhaseResearch, PhaseEnsemble, PhasePlan, PhaseRefine} {
		assert.True(t, phases[string(want)], "missing progress from %s", want)
	}
}

func TestRunDeltasArriveIncrementally(t *testing.T) {
	p := New(
		&stubResearcher{result: confidentResearch()},
		&stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}},
		&stubRefiner{script: []refine.Result{
			{Success: true, Artifact: &types.GeneratedArtifact{MainFile: "x"}, Outcome: passingOutcome(5)},
		}},
	)

	session := types.NewSession("acme orders server")
	deltas := drain(t, p.Run(context.Background(), session))

	// One delta per executed node: init, research, ensemble, clarify, plan, refine.
	assert.Len(t, deltas, 6)
	assert.NotNil(t, deltas[1].Research, "research delta carries the result")
	assert.NotNil(t, deltas[2].Ensemble, "ensemble delta carries the consensus")
	require.NotNil(t, deltas[5].IsComplete)
	assert.True(t, *deltas[5].IsComplete)
}

func TestRunPausesForClarification(t *testing.T) {
	questions := []types.ClarificationQuestion{
		{Text: "Which authentication does the API use?", AllowFreeText: true},
		{Text: "Which pagination style does it use?", AllowFreeText: true},
	}
	clarifier := &stubClarifier{results: []clarify.Result{
		{NeedsUserInput: true, Questions: questions},
	}}
	refiner := &stubRefiner{script: []refine.Result{{Success: true, Outcome: passingOutcome(5)}}}
	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{result: consensusEnsemble()}, clarifier, refiner)

	session := types.NewSession("acme orders server")
	drain(t, p.Run(context.Background(), session))

	assert.True(t, session.NeedsUserInput)
	assert.Len(t, session.PendingQuestions, 2)
	assert.False(t, session.IsComplete)
	assert.Zero(t, refiner.calls, "refinement must not start while questions are open")
}

func TestRunResumesAfterAnswers(t *testing.T) {
	// A session that already paused once: answers recorded, pass restarts.
	clarifier := &stubClarifier{results: []clarify.Result{{Complete: true}}}
	refiner := &stubRefiner{script: []refine.Result{
		{Success: true, Artifact: &types.GeneratedArtifact{MainFile: "x"}, Outcome: passingOutcome(5)},
	}}
	researcher := &stubResearcher{result: confidentResearch()}
	p := New(researcher, &stubEnsembler{result: consensusEnsemble()}, clarifier, refiner)

	session := types.NewSession("acme orders server")
	session.Research = confidentResearch()
	session.Ensemble = consensusEnsemble()
	session.Clarification.Answers = map[string]string{"authentication": "API key"}

	drain(t, p.Run(context.Background(), session))

	assert.True(t, session.IsComplete)
	assert.Zero(t, researcher.calls, "research must not rerun on resume")
	assert.Equal(t, 1, clarifier.calls)
	assert.Equal(t, 1, refiner.calls)
}

func TestRunRefineLoopsUntilSuccess(t *testing.T) {
	failing := &types.TestOutcome{BuildSuccess: true, ToolsFound: 5, ToolsPassed: 3}
	refiner := &stubRefiner{script: []refine.Result{
		{Outcome: failing, ShouldContinue: true, Iterations: 1},
		{Outcome: failing, ShouldContinue: true, Iterations: 2},
		{Success: true, Artifact: &types.GeneratedArtifact{MainFile: "x"}, Outcome: passingOutcome(5), Iterations: 2},
	}}
	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}}, refiner)

	session := types.NewSession("acme orders server")
	drain(t, p.Run(context.Background(), session))

	assert.Equal(t, 3, refiner.calls)
	assert.True(t, session.IsComplete)
	assert.Empty(t, session.Error)
}

func TestRunBudgetExhaustionEndsWithPartialSuccess(t *testing.T) {
	best := &types.TestOutcome{BuildSuccess: true, ToolsFound: 5, ToolsPassed: 4,
		ToolResults: []types.ToolTestResult{
			{Name: "get_order", Passed: true},
			{Name: "cancel_order", Passed: false, Error: "schema mismatch"},
		}}
	refiner := &stubRefiner{script: []refine.Result{
		{
			Artifact:   &types.GeneratedArtifact{MainFile: "best"},
			Outcome:    best,
			Iterations: 5,
			Err:        &types.ArtifactInvalidError{Outcome: best},
		},
	}}
	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}}, refiner)

	session := types.NewSession("acme orders server")
	drain(t, p.Run(context.Background(), session))

	assert.True(t, session.IsComplete, "partial success is still terminal")
	assert.Empty(t, session.Error, "budget exhaustion is not a pipeline fault")

	last := session.Progress[len(session.Progress)-1]
	assert.Contains(t, last.Message, "cancel_order")
}

func TestRunFatalResearchErrorReachesErrorState(t *testing.T) {
	researcher := &stubResearcher{err: &types.EvidenceUnavailableError{
		Provider: "web-search", Reason: "MCPFORGE_SEARCH_API_KEY is not set",
	}}
	p := New(researcher, &stubEnsembler{}, &stubClarifier{}, &stubRefiner{})

	session := types.NewSession("acme orders server")
	deltas := drain(t, p.Run(context.Background(), session))

	require.NotEmpty(t, deltas)
	assert.True(t, session.IsComplete)
	assert.Contains(t, session.Error, "web-search")

	last := deltas[len(deltas)-1]
	require.NotNil(t, last.Error)
	assert.Contains(t, *last.Error, "pipeline aborted at research")
}

func TestRunStructuralRefineErrorReachesErrorState(t *testing.T) {
	refiner := &stubRefiner{script: []refine.Result{
		{Err: &types.ArtifactInvalidError{Reason: "no artifact and the plan contains no tools"}},
	}}
	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}}, refiner)

	session := types.NewSession("acme orders server")
	drain(t, p.Run(context.Background(), session))

	assert.True(t, session.IsComplete)
	assert.Contains(t, session.Error, "artifact invalid")
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{}, &stubClarifier{}, &stubRefiner{})
	session := types.NewSession("acme orders server")
	drain(t, p.Run(ctx, session))

	assert.True(t, session.IsComplete)
	assert.Contains(t, session.Error, context.Canceled.Error())
}

func TestRunStepBudgetGuardsLoopingTables(t *testing.T) {
	// A refiner that never terminates and never advances would loop the
	// refine node; the step budget converts that into a fault.
	refiner := &stubRefiner{script: []refine.Result{
		{Err: errors.New("harness offline"), ShouldContinue: true},
	}}
	p := New(&stubResearcher{result: confidentResearch()}, &stubEnsembler{result: consensusEnsemble()},
		&stubClarifier{results: []clarify.Result{{Complete: true}}}, refiner)

	session := types.NewSession("acme orders server")
	drain(t, p.Run(context.Background(), session))

	assert.True(t, session.IsComplete)
	assert.Contains(t, session.Error, "step budget")
}

func TestPlanNodeDerivesEnvVarsFromAuthEvidence(t *testing.T) {
	p := New(nil, nil, nil, nil)
	session := types.NewSession("acme server")
	session.Params.ServiceName = "acme"
	session.Research = &types.ResearchResult{Plan: types.SynthesizedPlan{
		Summary:     "Acme REST API",
		KeyInsights: []string{"requires an API key via Authorization header"},
		Approach:    "wrap documented endpoints",
		Confidence:  0.9,
	}}
	session.Ensemble = consensusEnsemble()

	delta, err := p.runPlan(context.Background(), session)
	require.NoError(t, err)
	require.NotNil(t, delta.Plan)
	assert.Equal(t, "acme-mcp", delta.Plan.ServerName)
	assert.Equal(t, "wrap documented endpoints", delta.Plan.Approach)
	require.Len(t, delta.Plan.EnvVars, 1)
	assert.Equal(t, "ACME_API_KEY", delta.Plan.EnvVars[0].Name)
	assert.True(t, delta.Plan.EnvVars[0].Required)
}

func TestPlanNodeWithoutAuthEvidenceNeedsNoEnvVars(t *testing.T) {
	p := New(nil, nil, nil, nil)
	session := types.NewSession("acme server")
	session.Research = &types.ResearchResult{Plan: types.SynthesizedPlan{
		Summary: "public read-only dataset", Confidence: 0.9,
	}}
	session.Ensemble = consensusEnsemble()

	delta, err := p.runPlan(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, delta.Plan.EnvVars)
}

func TestPlanNodeRequiresEnsemble(t *testing.T) {
	p := New(nil, nil, nil, nil)
	_, err := p.runPlan(context.Background(), types.NewSession("x"))
	assert.Error(t, err)
}

func TestServerName(t *testing.T) {
	s := types.NewSession("x")
	assert.Equal(t, "generated-mcp", serverName(s))
	s.Params.SourceRef = "acme/widget"
	assert.Equal(t, "widget-mcp", serverName(s))
	s.Params.ServiceName = "stripe"
	assert.Equal(t, "stripe-mcp", serverName(s))
}
