// Package pipeline sequences the generation phases as an explicit state
// machine: a transition table picks the next phase from observable session
// state, node handlers do the work and report partial updates, and every
// update is streamed to the caller as it is applied.
package pipeline

import (
	"context"
	"errors"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

var (
	errStepBudget = errors.New("step budget exceeded, transition table is looping")
	errNoHandler  = errors.New("no handler registered for phase")
)

// maxSteps bounds one Run against transition bugs. The longest legitimate
// walk (three clarification loops plus five refinement visits) stays well
// under it.
const maxSteps = 64

// Pipeline wires the phase handlers to their collaborators.
type Pipeline struct {
	researcher Researcher
	ensembler  Ensembler
	clarifier  Clarifier
	refiner    RefinerStep
}

func New(r Researcher, e Ensembler, c Clarifier, ref RefinerStep) *Pipeline {
	return &Pipeline{researcher: r, ensembler: e, clarifier: c, refiner: ref}
}

// Run drives the session from wherever Resume places it until a terminal
// phase, sending one StateDelta per node (already applied to the session).
// The channel closes when the walk ends; callers range over it. The session
// must not be touched concurrently while Run owns it.
func (p *Pipeline) Run(ctx context.Context, session *types.SessionState) <-chan *types.StateDelta {
	out := make(chan *types.StateDelta, 1)
	go func() {
		defer close(out)
		p.walk(ctx, session, out)
	}()
	return out
}

func (p *Pipeline) walk(ctx context.Context, session *types.SessionState, out chan<- *types.StateDelta) {
	handlers := p.handlers()
	phase := Resume(session)
	logging.Pipeline("session %s: resuming at %s", session.SessionID, phase)

	for steps := 0; !phase.Terminal(); steps++ {
		if err := ctx.Err(); err != nil {
			p.emitError(ctx, session, out, &types.PipelineAbortedError{Node: string(phase), Err: err})
			return
		}
		if steps >= maxSteps {
			p.emitError(ctx, session, out, &types.PipelineAbortedError{
				Node: string(phase),
				Err:  errStepBudget,
			})
			return
		}

		handler, ok := handlers[phase]
		if !ok {
			p.emitError(ctx, session, out, &types.PipelineAbortedError{Node: string(phase), Err: errNoHandler})
			return
		}

		logNode(phase, session)
		delta, err := handler(ctx, session)
		if err != nil {
			p.emitError(ctx, session, out, &types.PipelineAbortedError{Node: string(phase), Err: err})
			return
		}
		delta.Apply(session)
		emit(ctx, out, delta)

		phase = Next(phase, session)
	}

	if phase == PhaseAwaitInput {
		logging.Pipeline("session %s: paused for user input (%d questions)",
			session.SessionID, len(session.PendingQuestions))
	} else {
		logging.Pipeline("session %s: finished at %s", session.SessionID, phase)
	}
}

// emitError converts an uncaught node fault into the terminal error state.
// This is the single place pipeline faults become user-visible.
func (p *Pipeline) emitError(ctx context.Context, session *types.SessionState, out chan<- *types.StateDelta, err *types.PipelineAbortedError) {
	logging.Get(logging.CategoryPipeline).Error("session %s: %v", session.SessionID, err)
	delta := &types.StateDelta{
		Error:      types.StrPtr(err.Error()),
		IsComplete: types.BoolPtr(true),
		AppendProgress: []types.ProgressEvent{
			types.Progressf(string(PhaseError), "generation stopped: "+err.Err.Error()),
		},
	}
	delta.Apply(session)
	// On cancellation the delta is already on the session, so dropping the
	// emission is harmless.
	emit(ctx, out, delta)
}

func emit(ctx context.Context, out chan<- *types.StateDelta, delta *types.StateDelta) {
	select {
	case out <- delta:
	case <-ctx.Done():
	}
}
