package scaffold

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// ValidateTools checks that every recommendation can become a real MCP tool:
// unique normalized names, a description, and an input schema that resolves
// under the SDK's schema model.
func ValidateTools(tools []types.ToolRecommendation) error {
	seen := map[string]bool{}
	for _, t := range tools {
		name := types.NormalizeToolName(t.Name)
		if name == "" {
			return &types.ArtifactInvalidError{Reason: fmt.Sprintf("tool with empty name (%q)", t.Name)}
		}
		if seen[name] {
			return &types.ArtifactInvalidError{Reason: "duplicate tool name " + name}
		}
		seen[name] = true

		if _, err := toolManifest(t); err != nil {
			return &types.ArtifactInvalidError{Reason: fmt.Sprintf("tool %s: %v", name, err)}
		}
	}
	logging.ScaffoldDebug("validated %d tool schemas", len(tools))
	return nil
}

// toolManifest builds the SDK tool descriptor for one recommendation,
// resolving its input schema. A nil schema defaults to an open object.
func toolManifest(rec types.ToolRecommendation) (*sdkmcp.Tool, error) {
	schema, err := resolveSchema(rec.InputSchema)
	if err != nil {
		return nil, err
	}
	return &sdkmcp.Tool{
		Name:        types.NormalizeToolName(rec.Name),
		Description: rec.Description,
		InputSchema: schema,
	}, nil
}

func resolveSchema(raw map[string]any) (*jsonschema.Schema, error) {
	if raw == nil {
		raw = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("schema not serializable: %w", err)
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := schema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("schema does not resolve: %w", err)
	}
	return schema, nil
}

// Manifest renders the full SDK tool list for a plan, for callers that want
// to advertise the planned surface before generation completes.
func Manifest(plan *types.GenerationPlan) ([]*sdkmcp.Tool, error) {
	out := make([]*sdkmcp.Tool, 0, len(plan.Tools))
	for _, t := range plan.Tools {
		m, err := toolManifest(t)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
