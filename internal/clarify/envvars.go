package clarify

import (
	"strings"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// pendingEnvQuestions returns questions for required environment variables the
// generation plan discovered, skipping anything already collected or
// explicitly skipped. The same at-most-2-per-round bound applies.
func (o *Orchestrator) pendingEnvQuestions(session *types.SessionState) []types.ClarificationQuestion {
	plan := session.Plan
	if plan == nil {
		return nil
	}

	var out []types.ClarificationQuestion
	for _, ev := range plan.EnvVars {
		if !ev.Required {
			continue
		}
		if _, ok := session.Clarification.Collected[ev.Name]; ok {
			continue
		}
		if session.Clarification.Skipped[ev.Name] {
			continue
		}
		desc := ev.Description
		if desc == "" {
			desc = strings.ReplaceAll(strings.ToLower(ev.Name), "_", " ")
		}
		out = append(out, types.ClarificationQuestion{
			Text:          "The generated server needs " + ev.Name + " (" + desc + "). Provide a value, or reply \"skip\".",
			EnvVar:        ev.Name,
			AllowFreeText: true,
		})
		if len(out) == maxQuestionsPerRound {
			break
		}
	}
	if len(out) > 0 {
		logging.Clarify("collecting %d required env vars", len(out))
	}
	return out
}

// RecordEnvAnswer files a user answer to an env-var question. A "skip" answer
// marks the variable skipped so it is never re-asked.
func RecordEnvAnswer(session *types.SessionState, envVar, answer string) {
	if session.Clarification.Collected == nil {
		session.Clarification.Collected = map[string]string{}
	}
	if session.Clarification.Skipped == nil {
		session.Clarification.Skipped = map[string]bool{}
	}
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" || strings.EqualFold(trimmed, "skip") {
		session.Clarification.Skipped[envVar] = true
		logging.ClarifyDebug("env var %s skipped", envVar)
		return
	}
	session.Clarification.Collected[envVar] = trimmed
}

// RecordAnswer files a free-text answer to a clarification question, routing
// env-var questions to the collected/skipped sets.
func RecordAnswer(session *types.SessionState, question types.ClarificationQuestion, answer string) {
	if question.EnvVar != "" {
		RecordEnvAnswer(session, question.EnvVar, answer)
		return
	}
	if session.Clarification.Answers == nil {
		session.Clarification.Answers = map[string]string{}
	}
	session.Clarification.Answers[question.Text] = answer
	session.Clarification.Asked = append(session.Clarification.Asked, question)
}
