// Package scaffold renders the consensus plan into a generated artifact and
// validates recommended tool schemas against the MCP SDK's schema model.
package scaffold

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"mcpforge/internal/logging"
	"mcpforge/internal/types"
)

// Generator renders artifacts from generation plans.
type Generator struct {
	mainTmpl      *template.Template
	transportTmpl *template.Template
	modTmpl       *template.Template
}

func NewGenerator() *Generator {
	return &Generator{
		mainTmpl:      template.Must(template.New("main").Funcs(tmplFuncs).Parse(mainTemplate)),
		transportTmpl: template.Must(template.New("transport").Funcs(tmplFuncs).Parse(transportTemplate)),
		modTmpl:       template.Must(template.New("gomod").Parse(goModTemplate)),
	}
}

var tmplFuncs = template.FuncMap{
	"camel": exportedName,
	"jsonString": func(v any) (string, error) {
		if v == nil {
			v = map[string]any{"type": "object"}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%q", string(data)), nil
	},
}

// Generate renders the initial artifact for a plan. The main file is a
// self-contained server core that registers every tool on startup; the
// transport support file binds it to stdio when built as a real binary.
func (g *Generator) Generate(plan *types.GenerationPlan, iteration int) (*types.GeneratedArtifact, error) {
	if plan == nil || len(plan.Tools) == 0 {
		return nil, &types.ArtifactInvalidError{Reason: "generation plan contains no tools"}
	}
	if err := ValidateTools(plan.Tools); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryScaffold, "Generate")
	defer timer.Stop()

	data := templateData(plan)

	var main bytes.Buffer
	if err := g.mainTmpl.Execute(&main, data); err != nil {
		return nil, fmt.Errorf("failed to render main template: %w", err)
	}
	var transport bytes.Buffer
	if err := g.transportTmpl.Execute(&transport, data); err != nil {
		return nil, fmt.Errorf("failed to render transport template: %w", err)
	}
	var gomod bytes.Buffer
	if err := g.modTmpl.Execute(&gomod, data); err != nil {
		return nil, fmt.Errorf("failed to render go.mod template: %w", err)
	}

	names := make([]string, len(plan.Tools))
	for i, t := range plan.Tools {
		names[i] = t.Name
	}
	artifact := &types.GeneratedArtifact{
		MainFile: main.String(),
		SupportFiles: map[string]string{
			"transport_stdio.go": transport.String(),
		},
		BuildFiles: map[string]string{
			"go.mod": gomod.String(),
		},
		Metadata: types.ArtifactMetadata{
			Name:        data.ServerName,
			Tools:       names,
			Iteration:   iteration,
			GeneratedAt: time.Now(),
		},
	}
	logging.Get(logging.CategoryScaffold).Info("generated artifact %s with %d tools", data.ServerName, len(names))
	return artifact, nil
}

type toolData struct {
	Name        string
	Handler     string
	Description string
	Schema      map[string]any
}

type planData struct {
	ServerName string
	ModuleName string
	Tools      []toolData
	EnvVars    []types.EnvVarRequirement
}

func templateData(plan *types.GenerationPlan) planData {
	name := plan.ServerName
	if name == "" {
		name = "generated-server"
	}
	data := planData{
		ServerName: name,
		ModuleName: moduleName(name),
		EnvVars:    plan.EnvVars,
	}
	for _, t := range plan.Tools {
		data.Tools = append(data.Tools, toolData{
			Name:        t.Name,
			Handler:     "handle" + exportedName(t.Name),
			Description: t.Description,
			Schema:      t.InputSchema,
		})
	}
	return data
}

// exportedName turns snake_case into an exported Go identifier.
func exportedName(snake string) string {
	var sb strings.Builder
	for _, part := range strings.Split(snake, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return sb.String()
}

func moduleName(server string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '_' || r == ' ':
			return '-'
		default:
			return -1
		}
	}, server)
	if out == "" {
		return "generated-server"
	}
	return out
}
