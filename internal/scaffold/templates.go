package scaffold

// mainTemplate is the server core: tool table, handlers, registration, and a
// transport seam. It deliberately imports nothing beyond fmt and
// encoding/json so the probe harness can interpret it standalone; with no
// transport bound, main registers every tool and exits cleanly.
const mainTemplate = `package main

import (
	"encoding/json"
	"fmt"
)

// Tool is one callable operation exposed by this server.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     func(params json.RawMessage) (any, error)
}

// Transport carries requests to the tool table. The stdio binding assigns
// this in its init; when nil (probe runs) the server registers and exits.
type Transport interface {
	Serve(tools map[string]Tool) error
}

var transport Transport

var tools = map[string]Tool{
{{- range .Tools}}
	"{{.Name}}": {
		Name:        "{{.Name}}",
		Description: {{printf "%q" .Description}},
		InputSchema: json.RawMessage({{jsonString .Schema}}),
		Handler:     {{.Handler}},
	},
{{- end}}
}

{{range .Tools}}
func {{.Handler}}(params json.RawMessage) (any, error) {
	var input map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters for {{.Name}}: %w", err)
		}
	}
	return map[string]any{
		"tool":   "{{.Name}}",
		"status": "ok",
		"input":  input,
	}, nil
}
{{end}}
func main() {
	for name := range tools {
		fmt.Printf("registered tool: %s\n", name)
	}
	if transport == nil {
		return
	}
	if err := transport.Serve(tools); err != nil {
		fmt.Printf("transport error: %v\n", err)
	}
}
`

// transportTemplate binds the server core to MCP over stdio using the
// official SDK. It only compiles in a real build; the probe harness never
// sees it.
const transportTemplate = `package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func init() {
	transport = &stdioTransport{}
}

// requiredEnv lists environment variables the server refuses to start without.
var requiredEnv = []string{
{{- range .EnvVars}}{{if .Required}}
	"{{.Name}}",
{{- end}}{{end}}
}

type stdioTransport struct{}

func (t *stdioTransport) Serve(tools map[string]Tool) error {
	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			return fmt.Errorf("missing required environment variable %s", name)
		}
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "{{.ServerName}}", Version: "0.1.0"}, nil)
	for _, tool := range tools {
		var schema *jsonschema.Schema
		if len(tool.InputSchema) > 0 {
			schema = new(jsonschema.Schema)
			if err := json.Unmarshal(tool.InputSchema, schema); err != nil {
				return err
			}
		}
		tool := tool
		server.AddTool(&sdkmcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			raw, _ := json.Marshal(req.Params.Arguments)
			out, err := tool.Handler(raw)
			if err != nil {
				return nil, err
			}
			body, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(body)}},
			}, nil
		})
	}
	return server.Run(context.Background(), &sdkmcp.StdioTransport{})
}
`

const goModTemplate = `module {{.ModuleName}}

go 1.24

require (
	github.com/google/jsonschema-go v0.4.2
	github.com/modelcontextprotocol/go-sdk v1.3.1
)
`
