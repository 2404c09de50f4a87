// Package research classifies the user's input, fans out to evidence
// gathering strategies, and synthesizes a generation plan with a confidence
// score. A failed sub-search yields an absent result, never a pipeline abort;
// only missing credentials for a required evidence provider are fatal.
package research

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"mcpforge/internal/extract"
	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

var (
	repoRefRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	urlRegex     = regexp.MustCompile(`^https?://`)
)

// docsHostHints mark URL substrings that indicate documentation rather than a
// generic page.
var docsHostHints = []string{
	"docs.", "/docs", "developer.", "/developers", "/api-reference",
	"/reference", "readthedocs", "apidocs", "/swagger", "/openapi",
}

// knownServices maps well-known service names to a high-confidence
// classification without an LLM round trip.
var knownServices = map[string]bool{
	"stripe": true, "github": true, "slack": true, "jira": true,
	"notion": true, "linear": true, "salesforce": true, "shopify": true,
	"twilio": true, "sendgrid": true, "hubspot": true, "zendesk": true,
	"discord": true, "airtable": true, "asana": true, "trello": true,
}

// Classification is the outcome of input classification.
type Classification struct {
	Kind       types.InputKind
	Confidence float64
	SourceRef  string
	DocsURL    string
	Service    string
}

// ClassifyInput pattern-matches the raw input first (URL shape, host hints,
// owner/repo shape, known service names) and falls back to one LLM call only
// when patterns are inconclusive.
func ClassifyInput(ctx context.Context, client types.LLMClient, raw string) Classification {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	// Source references: explicit host or bare owner/repo shape.
	if strings.Contains(lower, "github.com/") || strings.Contains(lower, "gitlab.com/") {
		ref := extractRepoRef(trimmed)
		logging.ResearchDebug("classified as source ref: %s", ref)
		return Classification{Kind: types.InputSourceRef, Confidence: 0.95, SourceRef: ref}
	}
	if repoRefRegex.MatchString(trimmed) && !strings.Contains(trimmed, " ") {
		return Classification{Kind: types.InputSourceRef, Confidence: 0.8, SourceRef: trimmed}
	}

	if urlRegex.MatchString(lower) {
		for _, hint := range docsHostHints {
			if strings.Contains(lower, hint) {
				return Classification{Kind: types.InputDocsURL, Confidence: 0.9, DocsURL: trimmed}
			}
		}
		return Classification{Kind: types.InputGenericURL, Confidence: 0.85, DocsURL: trimmed}
	}

	if !strings.Contains(trimmed, " ") && knownServices[lower] {
		return Classification{Kind: types.InputNamedService, Confidence: 0.9, Service: lower}
	}

	// Single unknown word could still be a service name; short of that,
	// patterns are inconclusive and one LLM call settles it.
	if client != nil {
		if c, ok := classifyWithLLM(ctx, client, trimmed); ok {
			return c
		}
	}

	if !strings.Contains(trimmed, " ") && len(trimmed) < 30 {
		return Classification{Kind: types.InputNamedService, Confidence: 0.5, Service: lower}
	}
	return Classification{Kind: types.InputFreeText, Confidence: 0.6}
}

func classifyWithLLM(ctx context.Context, client types.LLMClient, input string) (Classification, bool) {
	prompt := `Classify the following user input for an MCP server generator.
Respond with JSON only: {"kind":"source_ref|generic_url|docs_url|named_service|free_text","confidence":0.0,"service":"","sourceRef":"","docsUrl":""}

Input: ` + input

	resp, err := client.Complete(ctx, prompt)
	if err != nil {
		logging.Get(logging.CategoryResearch).Warn("classification call failed, using pattern fallback: %v", err)
		return Classification{}, false
	}

	var parsed struct {
		Kind       string  `json:"kind"`
		Confidence float64 `json:"confidence"`
		Service    string  `json:"service"`
		SourceRef  string  `json:"sourceRef"`
		DocsURL    string  `json:"docsUrl"`
	}
	if err := extract.ExtractInto("classification", resp, &parsed); err != nil {
		logging.Get(logging.CategoryResearch).Warn("classification output malformed: %v", err)
		return Classification{}, false
	}

	kind := types.InputKind(parsed.Kind)
	switch kind {
	case types.InputSourceRef, types.InputGenericURL, types.InputDocsURL,
		types.InputNamedService, types.InputFreeText:
	default:
		return Classification{}, false
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}
	return Classification{
		Kind:       kind,
		Confidence: parsed.Confidence,
		Service:    parsed.Service,
		SourceRef:  parsed.SourceRef,
		DocsURL:    parsed.DocsURL,
	}, true
}

// extractRepoRef pulls "owner/repo" out of a repository URL, with or without
// a scheme.
func extractRepoRef(input string) string {
	rest := input
	for _, host := range []string{"github.com/", "gitlab.com/"} {
		if idx := strings.Index(rest, host); idx != -1 {
			rest = rest[idx+len(host):]
			break
		}
	}
	if u, err := url.Parse(rest); err == nil && u.Path != "" {
		rest = u.Path
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) >= 2 {
		return parts[0] + "/" + strings.TrimSuffix(parts[1], ".git")
	}
	return strings.TrimSuffix(strings.Trim(rest, "/"), ".git")
}
