package clarify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge/internal/types"
)

type stubClient struct {
	response string
	err      error
	calls    int
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

const twoGaps = `{"gaps":[
{"issue":"authentication method unknown","priority":"HIGH","suggestedQuestion":"Which authentication method does the API use?"},
{"issue":"pagination style unclear","priority":"MEDIUM","suggestedQuestion":"How are large result sets paginated?"},
{"issue":"logo color","priority":"LOW","suggestedQuestion":"What color is the logo?"}]}`

func TestClarificationAsksTopTwoHighMediumOnly(t *testing.T) {
	o := NewOrchestrator(&stubClient{response: twoGaps})
	session := types.NewSession("acme")

	res := o.OrchestrateClarification(context.Background(), session)
	assert.False(t, res.Complete)
	assert.True(t, res.NeedsUserInput)
	require.Len(t, res.Questions, 2)
	// LOW gap is filtered before selection.
	assert.Len(t, res.Gaps, 2)
	// HIGH sorts before MEDIUM.
	assert.Contains(t, res.Questions[0].Text, "authentication")
	assert.True(t, res.Questions[0].AllowFreeText)
	assert.Equal(t, 1, session.Clarification.Rounds)
}

func TestClarificationAuthGapGetsMultipleChoice(t *testing.T) {
	o := NewOrchestrator(&stubClient{response: twoGaps})
	res := o.OrchestrateClarification(context.Background(), types.NewSession("acme"))

	require.Len(t, res.Questions, 2)
	assert.Contains(t, res.Questions[0].Options, "OAuth 2.0")
	assert.Empty(t, res.Questions[1].Options) // pagination has no canned options
}

func TestClarificationRateLimitOptions(t *testing.T) {
	gap := types.KnowledgeGap{Issue: "rate limit tier unknown", Priority: types.GapHigh}
	qs := gapsToQuestions([]types.KnowledgeGap{gap})
	require.Len(t, qs, 1)
	assert.Contains(t, qs[0].Options, "Free tier")
}

func TestClarificationRoundBudget(t *testing.T) {
	client := &stubClient{response: twoGaps}
	o := NewOrchestrator(client)
	session := types.NewSession("acme")

	for i := 0; i < 3; i++ {
		res := o.OrchestrateClarification(context.Background(), session)
		assert.True(t, res.NeedsUserInput, "round %d", i+1)
	}
	require.Equal(t, 3, session.Clarification.Rounds)

	// Fourth call: budget exhausted, proceeds unconditionally without another
	// detection call.
	before := client.calls
	res := o.OrchestrateClarification(context.Background(), session)
	assert.True(t, res.Complete)
	assert.False(t, res.NeedsUserInput)
	assert.Empty(t, res.Questions)
	assert.Equal(t, before, client.calls)
}

func TestClarificationDetectionFailureProceeds(t *testing.T) {
	o := NewOrchestrator(&stubClient{err: errors.New("api down")})
	res := o.OrchestrateClarification(context.Background(), types.NewSession("acme"))
	assert.True(t, res.Complete)
	assert.False(t, res.NeedsUserInput)
}

func TestClarificationNoGapsComplete(t *testing.T) {
	o := NewOrchestrator(&stubClient{response: `{"gaps":[]}`})
	session := types.NewSession("acme")

	res := o.OrchestrateClarification(context.Background(), session)
	assert.True(t, res.Complete)
	assert.Zero(t, session.Clarification.Rounds)
}

func TestClarificationSuppressesAnsweredGaps(t *testing.T) {
	o := NewOrchestrator(&stubClient{response: twoGaps})
	session := types.NewSession("acme")
	RecordAnswer(session, types.ClarificationQuestion{
		Text: "Which authentication method does the API use?",
	}, "OAuth 2.0")

	res := o.OrchestrateClarification(context.Background(), session)
	require.Len(t, res.Questions, 1)
	assert.Contains(t, res.Questions[0].Text, "paginated")
}

func TestEnvVarCollection(t *testing.T) {
	o := NewOrchestrator(nil)
	session := types.NewSession("acme")
	session.Plan = &types.GenerationPlan{
		ServerName: "acme",
		EnvVars: []types.EnvVarRequirement{
			{Name: "ACME_API_KEY", Required: true, Description: "API key"},
			{Name: "ACME_REGION", Required: true},
			{Name: "ACME_DEBUG", Required: false},
			{Name: "ACME_WEBHOOK_SECRET", Required: true},
		},
	}

	// Round one: at most two env questions, required vars only.
	res := o.OrchestrateClarification(context.Background(), session)
	assert.True(t, res.NeedsUserInput)
	require.Len(t, res.Questions, 2)
	assert.Equal(t, "ACME_API_KEY", res.Questions[0].EnvVar)
	assert.Equal(t, "ACME_REGION", res.Questions[1].EnvVar)

	RecordAnswer(session, res.Questions[0], "sk-123")
	RecordAnswer(session, res.Questions[1], "skip")

	// Round two: the remaining required var; answered and skipped ones are
	// never re-asked.
	res = o.OrchestrateClarification(context.Background(), session)
	require.Len(t, res.Questions, 1)
	assert.Equal(t, "ACME_WEBHOOK_SECRET", res.Questions[0].EnvVar)

	assert.Equal(t, "sk-123", session.Clarification.Collected["ACME_API_KEY"])
	assert.True(t, session.Clarification.Skipped["ACME_REGION"])
}

func TestRecordEnvAnswerBlankIsSkip(t *testing.T) {
	session := types.NewSession("acme")
	RecordEnvAnswer(session, "FOO_TOKEN", "   ")
	assert.True(t, session.Clarification.Skipped["FOO_TOKEN"])
	_, collected := session.Clarification.Collected["FOO_TOKEN"]
	assert.False(t, collected)
}

func TestTopGapsStableOrder(t *testing.T) {
	gaps := []types.KnowledgeGap{
		{Issue: "first medium", Priority: types.GapMedium},
		{Issue: "the high one", Priority: types.GapHigh},
		{Issue: "second medium", Priority: types.GapMedium},
	}
	top := topGaps(gaps, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "the high one", top[0].Issue)
	assert.Equal(t, "first medium", top[1].Issue)
}
