// Package types provides shared type definitions used across mcpforge packages.
// This package exists to break import cycles between pipeline, research, ensemble,
// and refine. Types in this package should be foundational data structures with no
// complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// TOOL RECOMMENDATIONS & VOTING
// =============================================================================

// Priority ranks a recommendation or fix.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a sortable rank for a priority (higher is more important).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Complexity estimates implementation effort for a recommended tool.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ToolRecommendation is a single proposed tool for the generated server.
// Identity is the normalized name; see NormalizeToolName.
type ToolRecommendation struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputFormat string         `json:"outputFormat,omitempty"`
	Priority     Priority       `json:"priority"`
	Complexity   Complexity     `json:"complexity"`
}

// NormalizeToolName lowercases a tool name and collapses separators so that
// "getUser", "get_user" and "get-user" share one identity key.
func NormalizeToolName(name string) string {
	var sb strings.Builder
	sep := false
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 && !sep {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
			sep = false
		case r == '-' || r == '_' || r == ' ' || r == '.':
			if sb.Len() > 0 {
				sb.WriteByte('_')
			}
			sep = true
		default:
			sb.WriteRune(r)
			sep = false
		}
	}
	return strings.Trim(sb.String(), "_")
}

// Vote records one specialist's support for a tool name.
type Vote struct {
	Specialist     string             `json:"specialist"`
	Tool           string             `json:"tool"`
	Confidence     float64            `json:"confidence"`
	Weight         float64            `json:"weight"`
	Recommendation ToolRecommendation `json:"recommendation"`
}

// SpecialistPerspective is one specialist pass over the research result.
// Degraded is set when the pass failed and was replaced by an empty set.
type SpecialistPerspective struct {
	Role            string               `json:"role"`
	Weight          float64              `json:"weight"`
	Confidence      float64              `json:"confidence"`
	Recommendations []ToolRecommendation `json:"recommendations"`
	Degraded        bool                 `json:"degraded,omitempty"`
}

// EnsembleResult is the merged outcome of all specialist passes.
type EnsembleResult struct {
	Perspectives      []SpecialistPerspective `json:"perspectives"`
	Tools             []ToolRecommendation    `json:"tools"`
	ConsensusScore    float64                 `json:"consensusScore"`
	ConsensusReached  bool                    `json:"consensusReached"`
	ConflictsResolved bool                    `json:"conflictsResolved"`
	Votes             map[string][]Vote       `json:"votes,omitempty"`
}

// =============================================================================
// RESEARCH
// =============================================================================

// InputKind classifies what the user actually handed us.
type InputKind string

const (
	InputSourceRef    InputKind = "source_ref"
	InputGenericURL   InputKind = "generic_url"
	InputDocsURL      InputKind = "docs_url"
	InputNamedService InputKind = "named_service"
	InputFreeText     InputKind = "free_text"
)

// WebFinding is a single piece of web evidence.
type WebFinding struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SourceAnalysis is the structural scan of a discovered source tree.
type SourceAnalysis struct {
	Ref       string   `json:"ref"`
	Languages []string `json:"languages,omitempty"`
	Exports   []string `json:"exports,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// DocsAnalysis is the outcome of scraping a documentation URL.
type DocsAnalysis struct {
	URL       string   `json:"url"`
	Title     string   `json:"title,omitempty"`
	Headings  []string `json:"headings,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Excerpt   string   `json:"excerpt,omitempty"`
}

// SynthesizedPlan is the mandatory output of research synthesis.
// Confidence in [0,1] drives pipeline routing.
type SynthesizedPlan struct {
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"keyInsights"`
	Approach    string   `json:"approach"`
	Challenges  []string `json:"challenges"`
	Confidence  float64  `json:"confidence"`
}

// ResearchResult bundles gathered evidence and the synthesized plan.
// Absent optional fields mean "not attempted", not "unknown".
type ResearchResult struct {
	Kind           InputKind       `json:"kind"`
	KindConfidence float64         `json:"kindConfidence"`
	WebFindings    []WebFinding    `json:"webFindings,omitempty"`
	SourceAnalysis *SourceAnalysis `json:"sourceAnalysis,omitempty"`
	DocsAnalysis   *DocsAnalysis   `json:"docsAnalysis,omitempty"`
	Plan           SynthesizedPlan `json:"plan"`
	Iteration      int             `json:"iteration"`
}

// =============================================================================
// CLARIFICATION
// =============================================================================

// GapPriority ranks a knowledge gap. The clarifier only surfaces HIGH and MEDIUM.
type GapPriority string

const (
	GapHigh   GapPriority = "HIGH"
	GapMedium GapPriority = "MEDIUM"
	GapLow    GapPriority = "LOW"
)

// Rank returns a sortable rank for a gap priority.
func (g GapPriority) Rank() int {
	switch g {
	case GapHigh:
		return 3
	case GapMedium:
		return 2
	case GapLow:
		return 1
	default:
		return 0
	}
}

// KnowledgeGap is a concrete missing piece of information that would block or
// degrade generation. Gaps are recomputed every round, never carried over.
type KnowledgeGap struct {
	Issue             string      `json:"issue"`
	Priority          GapPriority `json:"priority"`
	SuggestedQuestion string      `json:"suggestedQuestion"`
	Context           string      `json:"context,omitempty"`
}

// ClarificationQuestion is a user-facing question derived from a gap.
// Options are optional multiple-choice affordances; free text is always allowed.
type ClarificationQuestion struct {
	Text          string   `json:"text"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allowFreeText"`
	EnvVar        string   `json:"envVar,omitempty"`
}

// ClarificationHistory tracks rounds and the credential-collection sub-flow.
// Collected and Skipped are keyed by env-var name so re-asking is impossible
// once a value was answered or explicitly skipped.
type ClarificationHistory struct {
	Rounds    int                     `json:"rounds"`
	Asked     []ClarificationQuestion `json:"asked,omitempty"`
	Answers   map[string]string       `json:"answers,omitempty"`
	Collected map[string]string       `json:"collected,omitempty"`
	Skipped   map[string]bool         `json:"skipped,omitempty"`
}

// =============================================================================
// ARTIFACTS, TESTING & REFINEMENT
// =============================================================================

// ArtifactMetadata describes one generated artifact value.
type ArtifactMetadata struct {
	Name        string    `json:"name"`
	Tools       []string  `json:"tools"`
	Iteration   int       `json:"iteration"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// GeneratedArtifact is the source/build bundle for one refinement iteration.
// Each refinement produces a new value (copy-on-write), never an in-place patch.
type GeneratedArtifact struct {
	MainFile     string            `json:"mainFile"`
	BuildFiles   map[string]string `json:"buildFiles,omitempty"`
	SupportFiles map[string]string `json:"supportFiles,omitempty"`
	Metadata     ArtifactMetadata  `json:"metadata"`
}

// Clone returns a deep copy so a repair never mutates the previous iteration.
func (a *GeneratedArtifact) Clone() *GeneratedArtifact {
	if a == nil {
		return nil
	}
	out := &GeneratedArtifact{MainFile: a.MainFile, Metadata: a.Metadata}
	if a.BuildFiles != nil {
		out.BuildFiles = make(map[string]string, len(a.BuildFiles))
		for k, v := range a.BuildFiles {
			out.BuildFiles[k] = v
		}
	}
	if a.SupportFiles != nil {
		out.SupportFiles = make(map[string]string, len(a.SupportFiles))
		for k, v := range a.SupportFiles {
			out.SupportFiles[k] = v
		}
	}
	out.Metadata.Tools = append([]string(nil), a.Metadata.Tools...)
	return out
}

// FailureCategory buckets a test failure.
type FailureCategory string

const (
	FailureSyntax   FailureCategory = "syntax"
	FailureRuntime  FailureCategory = "runtime"
	FailureProtocol FailureCategory = "protocol_violation"
	FailureLogic    FailureCategory = "logic"
	FailureTimeout  FailureCategory = "timeout"
)

// Fix is one prioritized, tool-scoped repair suggestion.
type Fix struct {
	Tool     string   `json:"tool"`
	Issue    string   `json:"issue"`
	Solution string   `json:"solution"`
	Priority Priority `json:"priority"`
	Snippet  string   `json:"snippet,omitempty"`
}

// FailureAnalysis is produced fresh each refinement iteration from the current
// test outcome.
type FailureAnalysis struct {
	FailureCount   int                     `json:"failureCount"`
	Categories     map[FailureCategory]int `json:"categories"`
	RootCauses     []string                `json:"rootCauses"`
	Fixes          []Fix                   `json:"fixes"`
	Recommendation string                  `json:"recommendation"`
}

// ToolTestResult is the per-tool detail from the harness.
type ToolTestResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// TestOutcome is the harness verdict for one artifact submission.
// This type is consumed only; the harness itself is external.
type TestOutcome struct {
	Success      bool             `json:"success"`
	BuildSuccess bool             `json:"buildSuccess"`
	ToolsFound   int              `json:"toolsFound"`
	ToolsPassed  int              `json:"toolsPassed"`
	ToolResults  []ToolTestResult `json:"toolResults,omitempty"`
	Output       string           `json:"output,omitempty"`
}

// RefinementRecord is one completed iteration of the refinement loop. The
// artifact pointer lets the loop recover its best iteration when the budget
// runs out.
type RefinementRecord struct {
	Iteration int                `json:"iteration"`
	Artifact  *GeneratedArtifact `json:"-"`
	Outcome   *TestOutcome       `json:"outcome,omitempty"`
	Analysis  *FailureAnalysis   `json:"analysis,omitempty"`
	Repaired  bool               `json:"repaired"`
}

// =============================================================================
// GENERATION PLAN
// =============================================================================

// EnvVarRequirement is a credential or setting the generated server needs.
type EnvVarRequirement struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// GenerationPlan is the consensus plan handed to artifact generation.
type GenerationPlan struct {
	ServerName string               `json:"serverName"`
	Tools      []ToolRecommendation `json:"tools"`
	EnvVars    []EnvVarRequirement  `json:"envVars,omitempty"`
	Approach   string               `json:"approach,omitempty"`
}
