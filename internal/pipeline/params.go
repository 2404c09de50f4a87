package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"mcpforge/internal/types"
)

var (
	toolCountRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s+tools?\b`)
	quotedRegex    = regexp.MustCompile("`([^`]+)`|\"([^\"]+)\"|'([^']+)'")
	toolNameRegex  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ -]{1,40}$`)
)

// extractParams pulls explicit user constraints out of the raw request:
// a requested tool count ("give me 5 tools") and requested tool names
// (quoted or backticked short identifiers). Deterministic on purpose; the
// ensemble's final gate consumes these verbatim.
func extractParams(params *types.ExtractedParams) {
	raw := params.RawInput

	if m := toolCountRegex.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			params.RequestedToolCount = n
		}
	}

	for _, m := range quotedRegex.FindAllStringSubmatch(raw, -1) {
		candidate := m[1] + m[2] + m[3]
		if !toolNameRegex.MatchString(candidate) {
			continue
		}
		// Only phrases that read like an operation, not a service name.
		if !looksLikeToolName(candidate) {
			continue
		}
		params.RequestedToolNames = append(params.RequestedToolNames, types.NormalizeToolName(candidate))
	}
}

// verbPrefixes mark a quoted phrase as a tool request rather than a quoted
// service or product name.
var verbPrefixes = []string{
	"get", "list", "create", "update", "delete", "search", "send", "fetch",
	"add", "remove", "cancel", "post", "query", "read", "write", "sync",
}

func looksLikeToolName(candidate string) bool {
	lower := strings.ToLower(strings.TrimSpace(candidate))
	first := lower
	for _, sep := range []string{"_", "-", " "} {
		if idx := strings.Index(first, sep); idx != -1 && idx < len(first) {
			first = first[:idx]
			break
		}
	}
	for _, v := range verbPrefixes {
		if first == v {
			return true
		}
	}
	return false
}

// detectIntent tags the session with a coarse intent. Everything this core
// serves is server generation; the tag distinguishes regenerate requests on
// an existing session from first-time generation.
func detectIntent(s *types.SessionState) string {
	lower := strings.ToLower(s.Params.RawInput)
	if s.Artifact != nil &&
		(strings.Contains(lower, "again") || strings.Contains(lower, "regenerate") ||
			strings.Contains(lower, "redo")) {
		return "regenerate_server"
	}
	return "generate_server"
}
