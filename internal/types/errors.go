package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
// Phase-local AI failures are swallowed into deterministic fallbacks by the
// phases themselves. Only genuinely unrecoverable conditions (missing
// credentials, no tools and no source) propagate as errors; the pipeline
// catches them once, centrally, and converts them into a terminal
// user-visible message. Nothing here ever crashes the host process.

// MalformedOutputError reports that structured-output extraction failed.
// Recoverable: callers either retry on the next call or use fallback synthesis.
type MalformedOutputError struct {
	Phase   string
	Snippet string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed output in %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("malformed output in %s", e.Phase)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// maxSnippetLen bounds the diagnostic span carried inside a
// MalformedOutputError.
const maxSnippetLen = 500

// NewMalformedOutput builds a MalformedOutputError, truncating the offending
// span for diagnostics.
func NewMalformedOutput(phase, span string, err error) *MalformedOutputError {
	if len(span) > maxSnippetLen {
		span = span[:maxSnippetLen]
	}
	return &MalformedOutputError{Phase: phase, Snippet: span, Err: err}
}

// EvidenceUnavailableError reports a missing external credential or data
// source. Fatal: the pipeline cannot proceed without evidence access.
type EvidenceUnavailableError struct {
	Provider string
	Reason   string
}

func (e *EvidenceUnavailableError) Error() string {
	return fmt.Sprintf("evidence unavailable from %s: %s", e.Provider, e.Reason)
}

// ViolationKind categorizes a sandbox failure.
type ViolationKind string

const (
	ViolationTimeout ViolationKind = "timeout"
	ViolationMemory  ViolationKind = "memory"
	ViolationPanic   ViolationKind = "panic"
	ViolationImport  ViolationKind = "import"
)

// SandboxViolation is returned as a structured failure inside a sandbox
// Result, never propagated as a panic.
type SandboxViolation struct {
	Kind   ViolationKind
	Detail string
}

func (e *SandboxViolation) Error() string {
	return fmt.Sprintf("sandbox violation (%s): %s", e.Kind, e.Detail)
}

// ArtifactInvalidError reports an artifact that cannot be accepted: a failing
// test outcome driving the refinement loop, or a structural reason (invalid
// schema, empty plan) blocking generation outright.
type ArtifactInvalidError struct {
	Reason  string
	Outcome *TestOutcome
}

func (e *ArtifactInvalidError) Error() string {
	if e.Reason != "" {
		return "artifact invalid: " + e.Reason
	}
	if e.Outcome == nil {
		return "artifact invalid"
	}
	return fmt.Sprintf("artifact invalid: %d/%d tools passing (build=%v)",
		e.Outcome.ToolsPassed, e.Outcome.ToolsFound, e.Outcome.BuildSuccess)
}

// PipelineAbortedError wraps an uncaught node fault. The state machine routes
// it to the terminal error node.
type PipelineAbortedError struct {
	Node string
	Err  error
}

func (e *PipelineAbortedError) Error() string {
	return fmt.Sprintf("pipeline aborted at %s: %v", e.Node, e.Err)
}

func (e *PipelineAbortedError) Unwrap() error { return e.Err }

// IsFatal reports whether an error must terminate the pipeline rather than be
// absorbed by a phase-local fallback.
func IsFatal(err error) bool {
	var ev *EvidenceUnavailableError
	var pa *PipelineAbortedError
	return errors.As(err, &ev) || errors.As(err, &pa)
}
