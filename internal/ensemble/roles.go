// Package ensemble runs weighted specialist reasoning passes over a research
// result and merges them into a consensus tool list through weighted voting.
package ensemble

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mcpforge/internal/logging"
)

// Role is one specialist's identity: a fixed voting weight and the system
// prompt that frames its pass.
type Role struct {
	Name         string  `yaml:"name"`
	Weight       float64 `yaml:"weight"`
	SystemPrompt string  `yaml:"systemPrompt"`
}

// Voting constants. A tool is admitted when its weighted vote score clears
// voteThreshold; consensus holds when at least consensusMinTools are admitted.
const (
	voteThreshold     = 0.7
	consensusMinTools = 5
	maxTools          = 10

	// A failed specialist pass degrades to an empty recommendation set at
	// this fixed confidence instead of aborting the ensemble.
	degradedConfidence = 0.3
)

const (
	RoleProtocol    = "protocol"
	RoleDesign      = "design"
	RoleSecurity    = "security"
	RolePerformance = "performance"
)

// DefaultRoles returns the four built-in specialists. The protocol-compliance
// specialist outweighs the rest; its schema also wins merge conflicts.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:   RoleProtocol,
			Weight: 1.2,
			SystemPrompt: `You are a protocol-compliance specialist for MCP tool servers.
Given research about a service, propose tools whose names, descriptions, and JSON
input schemas strictly follow MCP conventions. Favor correct, complete schemas
over breadth.` + outputContract,
		},
		{
			Name:   RoleDesign,
			Weight: 1.0,
			SystemPrompt: `You are an API-design specialist.
Given research about a service, propose the tool set a thoughtful integrator would
want: orthogonal operations, predictable naming, sensible defaults.` + outputContract,
		},
		{
			Name:   RoleSecurity,
			Weight: 0.9,
			SystemPrompt: `You are a security specialist.
Given research about a service, propose tools with safe-by-default parameters:
scoped access, no raw credential passthrough, explicit destructive-operation flags.` + outputContract,
		},
		{
			Name:   RolePerformance,
			Weight: 0.8,
			SystemPrompt: `You are a performance specialist.
Given research about a service, propose tools with efficient access patterns:
pagination, batching, optional caching hints, bounded result sizes.` + outputContract,
		},
	}
}

const outputContract = `

Respond with JSON only:
{"recommendations":[{"name":"tool_name","description":"...","inputSchema":{...},"outputFormat":"...","priority":"high|medium|low","complexity":"simple|moderate|complex"}],"confidence":0.0}`

// LoadRoles reads specialist definitions from a YAML file, falling back to the
// built-in set when the file is absent or invalid. Entries missing a weight or
// prompt inherit the default role of the same name.
func LoadRoles(path string) []Role {
	defaults := DefaultRoles()
	if path == "" {
		return defaults
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults
	}

	var loaded struct {
		Specialists []Role `yaml:"specialists"`
	}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		logging.Get(logging.CategoryEnsemble).Warn("invalid specialist config %s: %v", path, err)
		return defaults
	}
	if len(loaded.Specialists) == 0 {
		return defaults
	}

	byName := map[string]Role{}
	for _, r := range defaults {
		byName[r.Name] = r
	}
	out := make([]Role, 0, len(loaded.Specialists))
	for _, r := range loaded.Specialists {
		base, known := byName[r.Name]
		if r.Weight <= 0 {
			if !known {
				logging.Get(logging.CategoryEnsemble).Warn("specialist %q has no weight, skipping", r.Name)
				continue
			}
			r.Weight = base.Weight
		}
		if r.SystemPrompt == "" {
			if !known {
				logging.Get(logging.CategoryEnsemble).Warn("specialist %q has no prompt, skipping", r.Name)
				continue
			}
			r.SystemPrompt = base.SystemPrompt
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return defaults
	}
	logging.Ensemble("loaded %d specialist roles from %s", len(out), path)
	return out
}

// highestWeight returns the role with the largest weight.
func highestWeight(roles []Role) Role {
	best := roles[0]
	for _, r := range roles[1:] {
		if r.Weight > best.Weight {
			best = r
		}
	}
	return best
}

func roleWeight(roles []Role, name string) (float64, error) {
	for _, r := range roles {
		if r.Name == name {
			return r.Weight, nil
		}
	}
	return 0, fmt.Errorf("unknown specialist role %q", name)
}
