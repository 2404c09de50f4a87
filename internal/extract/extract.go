// Package extract recovers a single well-formed JSON value from free-form
// generated text. Every phase that consumes model output as structured data
// goes through this package; the upstream generator has no hard guarantee of
// well-formedness or completion, so extraction failures are routine and are
// reported as MalformedOutputError for the caller's fallback logic.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// Extract returns the first balanced JSON object or array embedded in text,
// stripped of any prose or markdown fences around it. When no balanced span
// exists (the generation was cut off mid-output) a best-effort recovery closes
// the dangling structures before parsing. Both recovery failures and ordinary
// parse failures surface as *types.MalformedOutputError.
func Extract(phase, text string) (json.RawMessage, error) {
	stripped := stripFences(text)

	span := balancedSpan(stripped)
	if span == "" {
		logging.Get(logging.CategoryExtract).Debug("no balanced span in %s output, attempting recovery", phase)
		repaired, err := recoverTruncated(stripped)
		if err != nil {
			return nil, types.NewMalformedOutput(phase, stripped, err)
		}
		span = repaired
	}

	if !json.Valid([]byte(span)) {
		var probe any
		err := json.Unmarshal([]byte(span), &probe)
		return nil, types.NewMalformedOutput(phase, span, err)
	}
	return json.RawMessage(span), nil
}

// ExtractInto extracts and unmarshals into v.
func ExtractInto(phase, text string, v any) error {
	raw, err := Extract(phase, text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewMalformedOutput(phase, string(raw), err)
	}
	return nil
}

// stripFences removes markdown code fence markers while keeping their content.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// balancedSpan locates the first opening brace/bracket and scans forward
// tracking nesting depth, skipping characters inside quoted strings (honoring
// escape sequences) so braces inside string literals are not counted. Returns
// "" when depth never returns to zero.
func balancedSpan(text string) string {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// recoverTruncated takes everything from the first opening brace to the last
// closing brace, counts net-unclosed nesting excluding quoted spans, and
// appends that many closers.
func recoverTruncated(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", fmt.Errorf("no opening brace or bracket found")
	}
	end := strings.LastIndexAny(text, "}]")
	candidate := text[start:]
	if end > start {
		candidate = text[start : end+1]
	}

	// Track open structures in order so closers match their openers.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(candidate); i++ {
		ch := candidate[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(candidate)
	// A truncated string literal has to be closed before any structure can be.
	if inString {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}

	repaired := sb.String()
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("recovery produced invalid JSON")
	}
	logging.Get(logging.CategoryExtract).Debug("recovered truncated output: appended %d closers", len(stack))
	return repaired, nil
}
