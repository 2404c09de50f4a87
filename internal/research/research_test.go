package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge/internal/types"
)

// stubClient returns canned responses or a fixed error.
type stubClient struct {
	response string
	err      error
	calls    int
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return s.Complete(ctx, user)
}

func TestClassifyInputPatterns(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind types.InputKind
		minConf  float64
	}{
		{"github url", "https://github.com/stripe/stripe-go", types.InputSourceRef, 0.9},
		{"gitlab url", "https://gitlab.com/acme/widget", types.InputSourceRef, 0.9},
		{"bare owner/repo", "stripe/stripe-go", types.InputSourceRef, 0.8},
		{"docs url", "https://docs.stripe.com/api", types.InputDocsURL, 0.9},
		{"developer portal", "https://developer.spotify.com/web-api", types.InputDocsURL, 0.9},
		{"generic url", "https://example.com/about", types.InputGenericURL, 0.8},
		{"known service", "stripe", types.InputNamedService, 0.9},
		{"known service mixed case", "Slack", types.InputNamedService, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// nil client: patterns must decide without an LLM call.
			got := ClassifyInput(context.Background(), nil, tt.input)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
		})
	}
}

func TestClassifyInputExtractsRepoRef(t *testing.T) {
	got := ClassifyInput(context.Background(), nil, "https://github.com/stripe/stripe-go")
	assert.Equal(t, "stripe/stripe-go", got.SourceRef)

	got = ClassifyInput(context.Background(), nil, "https://github.com/acme/widget.git")
	assert.Equal(t, "acme/widget", got.SourceRef)
}

func TestClassifyInputLLMFallback(t *testing.T) {
	client := &stubClient{response: `{"kind":"named_service","confidence":0.82,"service":"internaltool"}`}
	got := ClassifyInput(context.Background(), client, "the internaltool thing we use for billing")
	assert.Equal(t, types.InputNamedService, got.Kind)
	assert.Equal(t, "internaltool", got.Service)
	assert.InDelta(t, 0.82, got.Confidence, 0.001)
	assert.Equal(t, 1, client.calls)
}

func TestClassifyInputLLMFailureFallsBackToHeuristics(t *testing.T) {
	client := &stubClient{err: errors.New("api down")}

	got := ClassifyInput(context.Background(), client, "somethingshort")
	assert.Equal(t, types.InputNamedService, got.Kind)
	assert.InDelta(t, 0.5, got.Confidence, 0.001)

	got = ClassifyInput(context.Background(), client, "build me a server for our order tracking workflow")
	assert.Equal(t, types.InputFreeText, got.Kind)
	assert.InDelta(t, 0.6, got.Confidence, 0.001)
}

func TestClassifyInputRejectsBogusLLMKind(t *testing.T) {
	client := &stubClient{response: `{"kind":"what_even","confidence":0.9}`}
	got := ClassifyInput(context.Background(), client, "ambiguous multi word input here")
	assert.Equal(t, types.InputFreeText, got.Kind)
}

func TestSynthesizeFallbackDeterministic(t *testing.T) {
	result := &types.ResearchResult{
		Kind: types.InputNamedService,
		WebFindings: []types.WebFinding{
			{Title: "Stripe API Reference", URL: "https://docs.stripe.com/api", Snippet: "REST API"},
			{Title: "Stripe Auth", URL: "https://docs.stripe.com/keys", Snippet: "API keys"},
		},
	}

	plan := Synthesize(context.Background(), nil, result, "stripe")
	assert.InDelta(t, 0.6, plan.Confidence, 0.001)
	assert.NotEmpty(t, plan.Summary)
	assert.NotEmpty(t, plan.KeyInsights)
}

func TestSynthesizeFallbackOnLLMError(t *testing.T) {
	client := &stubClient{err: errors.New("quota exceeded")}
	result := &types.ResearchResult{Kind: types.InputFreeText}

	plan := Synthesize(context.Background(), client, result, "weather lookups")
	assert.InDelta(t, 0.6, plan.Confidence, 0.001)
	assert.NotEmpty(t, plan.Summary)
}

func TestSynthesizeUsesLLMPlan(t *testing.T) {
	client := &stubClient{response: `Here is the plan:
{"summary":"Stripe payments API","keyInsights":["REST with bearer auth","rate limited at 100rps","webhooks available"],"approach":"wrap core payment endpoints","challenges":["idempotency keys"],"confidence":0.88}`}
	result := &types.ResearchResult{Kind: types.InputNamedService}

	plan := Synthesize(context.Background(), client, result, "stripe")
	assert.Equal(t, "Stripe payments API", plan.Summary)
	assert.Len(t, plan.KeyInsights, 3)
	assert.InDelta(t, 0.88, plan.Confidence, 0.001)
}

func TestConductResearchMissingSearchCredentialIsFatal(t *testing.T) {
	coord := NewCoordinator(nil, nil, nil, nil)
	session := types.NewSession("stripe")

	_, err := coord.ConductResearch(context.Background(), session)
	require.Error(t, err)

	var evErr *types.EvidenceUnavailableError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, "web-search", evErr.Provider)
	assert.True(t, types.IsFatal(err))
}

func TestConductResearchMissingSourceTokenIsFatal(t *testing.T) {
	coord := NewCoordinator(nil, nil, nil, nil)
	session := types.NewSession("https://github.com/acme/widget")

	_, err := coord.ConductResearch(context.Background(), session)
	require.Error(t, err)

	var evErr *types.EvidenceUnavailableError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, "source-analysis", evErr.Provider)
}

func TestConductResearchDocsStrategyDegradesWithoutSearcher(t *testing.T) {
	// Docs strategy never requires the search key: fetch failure plus a
	// missing searcher still yields a (fallback) plan, not an abort.
	coord := NewCoordinator(nil, nil, nil, nil)
	session := types.NewSession("https://docs.invalid.example/api-reference")

	result, err := coord.ConductResearch(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, types.InputDocsURL, result.Kind)
	assert.Nil(t, result.DocsAnalysis)
	assert.InDelta(t, 0.6, result.Plan.Confidence, 0.001)
}

func TestConductResearchPropagatesDiscoveredParams(t *testing.T) {
	coord := NewCoordinator(nil, nil, nil, nil)
	session := types.NewSession("https://docs.stripe.com/api")

	_, err := coord.ConductResearch(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.stripe.com/api", session.Params.DocsURL)
}

func TestExtractRepoRef(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://github.com/stripe/stripe-go", "stripe/stripe-go"},
		{"https://github.com/stripe/stripe-go/tree/master/invoice", "stripe/stripe-go"},
		{"github.com/acme/widget", "acme/widget"},
		{"https://gitlab.com/acme/widget.git", "acme/widget"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractRepoRef(tt.in), tt.in)
	}
}
