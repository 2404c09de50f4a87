// Package pipeline is the top-level controller: an explicit phased state
// machine that sequences research, ensemble, clarification, planning, and
// refinement over one session, yielding incremental state updates after every
// node. Routing is data-driven through a transition table so it can be tested
// without running any node body.
package pipeline

import (
	"mcpforge/internal/types"
)

// Phase is one node of the state machine.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseResearch   Phase = "research"
	PhaseEnsemble   Phase = "ensemble"
	PhaseClarify    Phase = "clarify"
	PhasePlan       Phase = "plan"
	PhaseRefine     Phase = "refine"
	PhaseAwaitInput Phase = "await_input"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Terminal reports whether a phase ends the pass. AwaitInput is terminal for
// the pass but not the session; the caller resumes once answers arrive.
func (p Phase) Terminal() bool {
	return p == PhaseAwaitInput || p == PhaseComplete || p == PhaseError
}

// Predicate inspects accumulated session state to pick a transition.
type Predicate func(*types.SessionState) bool

// Transition is one row of the routing table.
type Transition struct {
	From Phase
	When Predicate
	To   Phase
}

func always(*types.SessionState) bool { return true }

// lowResearchConfidence routes weak evidence to clarification before any
// specialist time is spent on it, while the question budget lasts.
const minResearchConfidence = 0.5

func lowResearchConfidence(s *types.SessionState) bool {
	return s.Research != nil &&
		s.Research.Plan.Confidence < minResearchConfidence &&
		s.Clarification.Rounds < 3
}

func needsInput(s *types.SessionState) bool { return s.NeedsUserInput }
func noEnsemble(s *types.SessionState) bool { return s.Ensemble == nil }
func noPlan(s *types.SessionState) bool     { return s.Plan == nil }

func hasOutstandingEnv(s *types.SessionState) bool {
	if s.Plan == nil {
		return false
	}
	for _, ev := range s.Plan.EnvVars {
		if !ev.Required {
			continue
		}
		if _, ok := s.Clarification.Collected[ev.Name]; ok {
			continue
		}
		if s.Clarification.Skipped[ev.Name] {
			continue
		}
		return true
	}
	return false
}

// refining loops the refine node until it marks the session complete; the
// node itself bounds the loop via the iteration budget.
func refining(s *types.SessionState) bool {
	return !s.IsComplete && s.Error == ""
}

// transitions is evaluated top-down; the first matching row wins. Every
// non-terminal phase has an unconditional final row, so routing never dead
// ends.
var transitions = []Transition{
	{PhaseInit, always, PhaseResearch},

	{PhaseResearch, lowResearchConfidence, PhaseClarify},
	{PhaseResearch, always, PhaseEnsemble},

	{PhaseEnsemble, always, PhaseClarify},

	{PhaseClarify, needsInput, PhaseAwaitInput},
	{PhaseClarify, noEnsemble, PhaseEnsemble},
	{PhaseClarify, noPlan, PhasePlan},
	{PhaseClarify, always, PhaseRefine},

	{PhasePlan, hasOutstandingEnv, PhaseClarify},
	{PhasePlan, always, PhaseRefine},

	{PhaseRefine, refining, PhaseRefine},
	{PhaseRefine, always, PhaseComplete},
}

// Next resolves the follow-up phase for the current one.
func Next(from Phase, s *types.SessionState) Phase {
	for _, t := range transitions {
		if t.From == from && t.When(s) {
			return t.To
		}
	}
	return PhaseError
}

// Resume picks the phase a returning session should re-enter, based on what
// it has already accumulated.
func Resume(s *types.SessionState) Phase {
	switch {
	case s.IsComplete:
		return PhaseComplete
	case s.NeedsUserInput:
		return PhaseAwaitInput
	case s.Artifact != nil || s.RefinementIteration > 0:
		return PhaseRefine
	case s.Plan != nil, s.Ensemble != nil:
		// Remaining gaps and outstanding credentials get re-checked before
		// generation resumes.
		return PhaseClarify
	case s.Research != nil:
		return PhaseEnsemble
	default:
		return PhaseInit
	}
}
