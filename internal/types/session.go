package types

import (
	"time"

	"github.com/google/uuid"
)

// Role of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ProgressEvent is one user-visible pipeline progress notice.
type ProgressEvent struct {
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ExtractedParams holds parameters pulled out of the user's request, including
// any explicit tool constraints enforced by the ensemble's final gate.
type ExtractedParams struct {
	RawInput           string   `json:"rawInput"`
	SourceRef          string   `json:"sourceRef,omitempty"`
	ServiceName        string   `json:"serviceName,omitempty"`
	DocsURL            string   `json:"docsUrl,omitempty"`
	RequestedToolCount int      `json:"requestedToolCount,omitempty"`
	RequestedToolNames []string `json:"requestedToolNames,omitempty"`
}

// SessionState is the single mutable record threaded through every pipeline
// node. It is mutated exclusively by node handlers returning StateDelta values
// that the pipeline merges in; one pipeline pass owns a session exclusively.
//
// Invariant: exactly one of NeedsUserInput, IsComplete, or "mid-pipeline"
// (both false, Error empty) holds at any observation point.
type SessionState struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`

	Transcript []Message       `json:"transcript,omitempty"`
	Intent     string          `json:"intent,omitempty"`
	Params     ExtractedParams `json:"params"`

	Research *ResearchResult    `json:"research,omitempty"`
	Ensemble *EnsembleResult    `json:"ensemble,omitempty"`
	Plan     *GenerationPlan    `json:"plan,omitempty"`
	Artifact *GeneratedArtifact `json:"artifact,omitempty"`

	Clarification       ClarificationHistory `json:"clarification"`
	RefinementHistory   []RefinementRecord   `json:"refinementHistory,omitempty"`
	RefinementIteration int                  `json:"refinementIteration"`

	NeedsUserInput   bool                    `json:"needsUserInput"`
	PendingQuestions []ClarificationQuestion `json:"pendingQuestions,omitempty"`
	IsComplete       bool                    `json:"isComplete"`
	Error            string                  `json:"error,omitempty"`

	Progress []ProgressEvent `json:"progress,omitempty"`
}

// NewSession creates a session for one user turn.
func NewSession(input string) *SessionState {
	now := time.Now()
	return &SessionState{
		SessionID:      uuid.NewString(),
		ConversationID: uuid.NewString(),
		Params:         ExtractedParams{RawInput: input},
		Transcript:     []Message{{Role: RoleUser, Content: input, At: now}},
	}
}

// StateDelta is a partial session update returned by a node handler. Nil
// pointer fields mean "unchanged"; slices append rather than replace where
// noted. Each delta is self-contained enough to act as a checkpoint candidate
// when applied on top of the previous state.
type StateDelta struct {
	Intent   *string
	Params   *ExtractedParams
	Research *ResearchResult
	Ensemble *EnsembleResult
	Plan     *GenerationPlan
	Artifact *GeneratedArtifact

	Clarification       *ClarificationHistory
	AppendRefinement    []RefinementRecord
	RefinementIteration *int

	NeedsUserInput   *bool
	PendingQuestions []ClarificationQuestion
	IsComplete       *bool
	Error            *string

	AppendProgress []ProgressEvent
	AppendMessages []Message
}

// Apply merges the delta into the session in place.
func (d *StateDelta) Apply(s *SessionState) {
	if d == nil {
		return
	}
	if d.Intent != nil {
		s.Intent = *d.Intent
	}
	if d.Params != nil {
		s.Params = *d.Params
	}
	if d.Research != nil {
		s.Research = d.Research
	}
	if d.Ensemble != nil {
		s.Ensemble = d.Ensemble
	}
	if d.Plan != nil {
		s.Plan = d.Plan
	}
	if d.Artifact != nil {
		s.Artifact = d.Artifact
	}
	if d.Clarification != nil {
		s.Clarification = *d.Clarification
	}
	if len(d.AppendRefinement) > 0 {
		s.RefinementHistory = append(s.RefinementHistory, d.AppendRefinement...)
	}
	if d.RefinementIteration != nil {
		s.RefinementIteration = *d.RefinementIteration
	}
	if d.NeedsUserInput != nil {
		s.NeedsUserInput = *d.NeedsUserInput
	}
	if d.PendingQuestions != nil {
		s.PendingQuestions = d.PendingQuestions
	}
	if d.IsComplete != nil {
		s.IsComplete = *d.IsComplete
	}
	if d.Error != nil {
		s.Error = *d.Error
	}
	if len(d.AppendProgress) > 0 {
		s.Progress = append(s.Progress, d.AppendProgress...)
	}
	if len(d.AppendMessages) > 0 {
		s.Transcript = append(s.Transcript, d.AppendMessages...)
	}
}

// Progressf builds a progress event for the given phase.
func Progressf(phase, message string) ProgressEvent {
	return ProgressEvent{Phase: phase, Message: message, At: time.Now()}
}

// BoolPtr, IntPtr and StrPtr are small helpers for building deltas.
func BoolPtr(b bool) *bool       { return &b }
func IntPtr(i int) *int         { return &i }
func StrPtr(s string) *string   { return &s }
