// Package clarify decides whether generation can proceed or the user must be
// asked first. Interruption is bounded: at most 3 rounds, at most 2 questions
// per round, and a gap-detection failure always means "proceed".
package clarify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

const (
	maxRounds            = 3
	maxQuestionsPerRound = 2
)

// Result is the clarification verdict for one round.
type Result struct {
	Complete       bool
	Gaps           []types.KnowledgeGap
	Questions      []types.ClarificationQuestion
	NeedsUserInput bool
}

// Orchestrator runs gap detection and the credential-collection sub-flow.
type Orchestrator struct {
	client types.LLMClient
}

func NewOrchestrator(client types.LLMClient) *Orchestrator {
	return &Orchestrator{client: client}
}

// OrchestrateClarification runs one clarification round. Once the round bound
// is hit, generation proceeds unconditionally regardless of remaining gaps.
func (o *Orchestrator) OrchestrateClarification(ctx context.Context, session *types.SessionState) Result {
	timer := logging.StartTimer(logging.CategoryClarify, "OrchestrateClarification")
	defer timer.Stop()

	if session.Clarification.Rounds >= maxRounds {
		logging.Clarify("round budget exhausted (%d), proceeding unconditionally", session.Clarification.Rounds)
		return Result{Complete: true}
	}

	// Pending env-var collection takes priority over fresh gap detection: the
	// generated server cannot run without its credentials.
	if qs := o.pendingEnvQuestions(session); len(qs) > 0 {
		session.Clarification.Rounds++
		return Result{Questions: qs, NeedsUserInput: true}
	}

	gaps := o.detectGaps(ctx, session)
	if len(gaps) == 0 {
		logging.Clarify("no HIGH/MEDIUM gaps, clarification complete")
		return Result{Complete: true}
	}

	questions := gapsToQuestions(topGaps(gaps, maxQuestionsPerRound))
	session.Clarification.Rounds++
	logging.Clarify("round %d: asking %d of %d gaps", session.Clarification.Rounds, len(questions), len(gaps))
	return Result{Gaps: gaps, Questions: questions, NeedsUserInput: true}
}

// detectGaps issues one gap-detection call. Failures degrade to no gaps; only
// HIGH and MEDIUM priorities survive the filter.
func (o *Orchestrator) detectGaps(ctx context.Context, session *types.SessionState) []types.KnowledgeGap {
	if o.client == nil {
		return nil
	}

	resp, err := o.client.CompleteWithSystem(ctx, gapSystemPrompt, buildGapPrompt(session))
	if err != nil {
		logging.Get(logging.CategoryClarify).Warn("gap detection failed, proceeding without questions: %v", err)
		return nil
	}

	var parsed struct {
		Gaps []types.KnowledgeGap `json:"gaps"`
	}
	if err := extract.ExtractInto("gap-detection", resp, &parsed); err != nil {
		logging.Get(logging.CategoryClarify).Warn("gap detection output malformed: %v", err)
		return nil
	}

	answered := answeredTopics(session)
	out := parsed.Gaps[:0]
	for _, g := range parsed.Gaps {
		if g.Priority != types.GapHigh && g.Priority != types.GapMedium {
			continue
		}
		if isAnswered(g, answered) {
			logging.ClarifyDebug("suppressing already-answered gap: %s", g.Issue)
			continue
		}
		out = append(out, g)
	}
	return out
}

const gapSystemPrompt = `You review the evidence gathered for an MCP server generation
and identify missing information that would block or degrade generation. Bias toward
minimal interruption: report only gaps the evidence genuinely cannot answer.
Respond with JSON only:
{"gaps":[{"issue":"...","priority":"HIGH|MEDIUM|LOW","suggestedQuestion":"...","context":"..."}]}`

func buildGapPrompt(session *types.SessionState) string {
	var sb strings.Builder
	sb.WriteString("User request: " + session.Params.RawInput + "\n\n")
	if r := session.Research; r != nil {
		sb.WriteString("Research summary: " + r.Plan.Summary + "\n")
		for _, in := range r.Plan.KeyInsights {
			sb.WriteString("- " + in + "\n")
		}
		if len(r.Plan.Challenges) > 0 {
			sb.WriteString("Known challenges: " + strings.Join(r.Plan.Challenges, "; ") + "\n")
		}
	}
	if len(session.Clarification.Answers) > 0 {
		sb.WriteString("\nAlready answered by the user (do not re-raise):\n")
		for q, a := range session.Clarification.Answers {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", q, a))
		}
	}
	return sb.String()
}

// answeredTopics collects lowercase text from prior answers so detection
// output that re-raises them can be suppressed even if the model ignores the
// prompt instruction.
func answeredTopics(session *types.SessionState) []string {
	var topics []string
	for q := range session.Clarification.Answers {
		topics = append(topics, strings.ToLower(q))
	}
	for _, q := range session.Clarification.Asked {
		topics = append(topics, strings.ToLower(q.Text))
	}
	return topics
}

func isAnswered(gap types.KnowledgeGap, topics []string) bool {
	issue := strings.ToLower(gap.Issue)
	question := strings.ToLower(gap.SuggestedQuestion)
	for _, t := range topics {
		if t == "" {
			continue
		}
		if strings.Contains(t, issue) || strings.Contains(issue, t) ||
			(question != "" && (strings.Contains(t, question) || strings.Contains(question, t))) {
			return true
		}
	}
	return false
}

// topGaps sorts by priority rank descending (stable, so detection order
// breaks ties) and returns the first n.
func topGaps(gaps []types.KnowledgeGap, n int) []types.KnowledgeGap {
	sorted := append([]types.KnowledgeGap(nil), gaps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority.Rank() > sorted[j].Priority.Rank()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// gapsToQuestions converts gaps to user-facing questions. Recognized
// categories get multiple-choice options; free text is always allowed.
func gapsToQuestions(gaps []types.KnowledgeGap) []types.ClarificationQuestion {
	out := make([]types.ClarificationQuestion, 0, len(gaps))
	for _, g := range gaps {
		text := g.SuggestedQuestion
		if text == "" {
			text = "Can you clarify: " + g.Issue + "?"
		}
		out = append(out, types.ClarificationQuestion{
			Text:          text,
			Options:       optionsFor(g),
			AllowFreeText: true,
		})
	}
	return out
}

// optionsFor returns multiple-choice affordances for recognized gap
// categories.
func optionsFor(gap types.KnowledgeGap) []string {
	text := strings.ToLower(gap.Issue + " " + gap.SuggestedQuestion)
	switch {
	case strings.Contains(text, "auth"):
		return []string{"API key", "OAuth 2.0", "Bearer token", "Basic auth", "No authentication"}
	case strings.Contains(text, "rate limit") || strings.Contains(text, "rate-limit"):
		return []string{"Free tier", "Standard tier", "Enterprise tier", "Not sure"}
	default:
		return nil
	}
}
