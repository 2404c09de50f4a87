package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mcpforge/internal/types"
)

func TestExtractParamsToolCount(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"build me a server with 5 tools", 5},
		{"give me 12 tools for Stripe", 12},
		{"one tool please", 0},
		{"I want tools for orders", 0},
		{"the API returns 200 tools of data", 0}, // three digits, not a request
	}
	for _, tc := range tests {
		params := types.ExtractedParams{RawInput: tc.input}
		extractParams(&params)
		assert.Equal(t, tc.want, params.RequestedToolCount, "input %q", tc.input)
	}
}

func TestExtractParamsToolNames(t *testing.T) {
	params := types.ExtractedParams{
		RawInput: "I need `get_order` and \"list orders\" plus 'cancel-order' for the \"Acme Platform\"",
	}
	extractParams(&params)

	assert.Equal(t, []string{"get_order", "list_orders", "cancel_order"}, params.RequestedToolNames)
}

func TestExtractParamsIgnoresQuotedServiceNames(t *testing.T) {
	params := types.ExtractedParams{RawInput: "wrap the \"Spotify Web API\" for me"}
	extractParams(&params)
	assert.Empty(t, params.RequestedToolNames)
}

func TestDetectIntent(t *testing.T) {
	fresh := types.NewSession("build a server for Stripe")
	assert.Equal(t, "generate_server", detectIntent(fresh))

	// "again" without an existing artifact is still a first generation.
	noArtifact := types.NewSession("try again with Stripe")
	assert.Equal(t, "generate_server", detectIntent(noArtifact))

	redo := types.NewSession("regenerate the server with better pagination")
	redo.Artifact = &types.GeneratedArtifact{MainFile: "package main"}
	assert.Equal(t, "regenerate_server", detectIntent(redo))
}
