package extract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpforge/internal/types"
)

func TestExtract_PlainObject(t *testing.T) {
	raw, err := Extract("test", `{"name":"search","confidence":0.9}`)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "search", got["name"])
}

func TestExtract_WrappedInProse(t *testing.T) {
	text := "Here is the plan you asked for:\n\n" +
		`{"summary":"a plan","confidence":0.8}` +
		"\n\nLet me know if you need changes."
	raw, err := Extract("test", text)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "a plan", got["summary"])
}

func TestExtract_FencedBlock(t *testing.T) {
	text := "```json\n{\"tools\":[{\"name\":\"fetch_user\"}]}\n```"
	var got struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, ExtractInto("test", text, &got))
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "fetch_user", got.Tools[0].Name)
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	// Braces inside string literals must not affect depth tracking.
	text := `{"pattern":"if x { y }","note":"escaped \" quote { here"}`
	raw, err := Extract("test", text)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "if x { y }", got["pattern"])
}

func TestExtract_MatchesDirectParse(t *testing.T) {
	embedded := `{"a":[1,2,{"b":"c"}],"d":{"e":null}}`
	text := "preamble " + embedded + " trailing"

	raw, err := Extract("test", text)
	require.NoError(t, err)

	var viaExtract, direct any
	require.NoError(t, json.Unmarshal(raw, &viaExtract))
	require.NoError(t, json.Unmarshal([]byte(embedded), &direct))
	if diff := cmp.Diff(direct, viaExtract); diff != "" {
		t.Errorf("extracted value differs from direct parse (-want +got):\n%s", diff)
	}
}

func TestExtract_TruncatedObjectRecovers(t *testing.T) {
	// Cut off mid-output: recovery must close dangling structures.
	text := `{"tools":[{"name":"list_items","priority":"high"}`
	raw, err := Extract("test", text)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	tools, ok := got["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
}

func TestExtract_TruncatedInsideString(t *testing.T) {
	text := `{"summary":"the generation stopped right abou`
	raw, err := Extract("test", text)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

func TestExtract_ArrayValue(t *testing.T) {
	raw, err := Extract("test", `[{"name":"a"},{"name":"b"}]`)
	require.NoError(t, err)

	var got []map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, 2)
}

func TestExtract_NoJSONFails(t *testing.T) {
	_, err := Extract("synthesis", "I could not produce a plan, sorry.")
	require.Error(t, err)

	var malformed *types.MalformedOutputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "synthesis", malformed.Phase)
}

func TestExtract_SnippetBounded(t *testing.T) {
	long := "no json here " + string(make([]byte, 2000))
	_, err := Extract("test", long)
	var malformed *types.MalformedOutputError
	require.True(t, errors.As(err, &malformed))
	assert.LessOrEqual(t, len(malformed.Snippet), 500)
}

func TestExtractInto_TypeMismatch(t *testing.T) {
	var got struct {
		Count int `json:"count"`
	}
	err := ExtractInto("test", `{"count":"not a number"}`, &got)
	var malformed *types.MalformedOutputError
	require.True(t, errors.As(err, &malformed))
}
