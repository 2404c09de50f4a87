// Package config loads mcpforge settings from .forge/config.json with
// environment-variable overrides. A missing file yields defaults, so the tool
// runs with nothing but an API key in the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all mcpforge configuration.
type Config struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	LLM      LLMConfig      `json:"llm"`
	Research ResearchConfig `json:"research"`
	Sandbox  SandboxConfig  `json:"sandbox"`
	Store    StoreConfig    `json:"store"`
	Ensemble EnsembleConfig `json:"ensemble"`
	Logging  LoggingConfig  `json:"logging"`
}

// LLMConfig selects and configures the text-generation provider.
type LLMConfig struct {
	Provider string `json:"provider,omitempty"` // gemini, gemini-sdk, openai
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// ResearchConfig configures the evidence-gathering providers.
type ResearchConfig struct {
	SearchAPIKey string `json:"search_api_key,omitempty"`
	GitHubToken  string `json:"github_token,omitempty"`
	HTTPTimeout  string `json:"http_timeout,omitempty"`
}

// SandboxConfig bounds probe execution of generated artifacts.
type SandboxConfig struct {
	CPUShare       float64 `json:"cpu_share,omitempty"`
	MemoryMB       int     `json:"memory_mb,omitempty"`
	WallClock      string  `json:"wall_clock,omitempty"`
	PerToolTimeout string  `json:"per_tool_timeout,omitempty"`
}

// StoreConfig configures session checkpointing.
type StoreConfig struct {
	DatabasePath string `json:"database_path,omitempty"`
}

// EnsembleConfig points at an optional specialist-role override file.
type EnsembleConfig struct {
	RolesPath string `json:"roles_path,omitempty"`
}

// LoggingConfig mirrors the section the logging package reads from the same
// file; keeping it here lets Save round-trip a user's logging settings.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
}

// DefaultConfigPath returns .forge/config.json under the given workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".forge", "config.json")
}

// DefaultConfig returns the defaults applied underneath any file or env
// settings.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mcpforge",
		Version: "0.3.0",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},
		Research: ResearchConfig{
			HTTPTimeout: "30s",
		},
		Sandbox: SandboxConfig{
			CPUShare:       0.5,
			MemoryMB:       256,
			WallClock:      "2m",
			PerToolTimeout: "10s",
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".forge", "sessions.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a JSON file, layering env overrides on top.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a JSON file, creating the directory.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Provider keys are
// checked in priority order; an explicit MCPFORGE_* variable always wins.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("MCPFORGE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if provider := os.Getenv("MCPFORGE_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if model := os.Getenv("MCPFORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if key := os.Getenv("MCPFORGE_SEARCH_API_KEY"); key != "" {
		c.Research.SearchAPIKey = key
	}
	if token := os.Getenv("MCPFORGE_GITHUB_TOKEN"); token != "" {
		c.Research.GitHubToken = token
	}
	if path := os.Getenv("MCPFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if level := os.Getenv("MCPFORGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLLMTimeout returns the provider timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetHTTPTimeout returns the research HTTP timeout as a duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	return parseDuration(c.Research.HTTPTimeout, 30*time.Second)
}

// GetWallClock returns the sandbox wall-clock budget as a duration.
func (c *Config) GetWallClock() time.Duration {
	return parseDuration(c.Sandbox.WallClock, 2*time.Minute)
}

// GetPerToolTimeout returns the per-tool probe timeout as a duration.
func (c *Config) GetPerToolTimeout() time.Duration {
	return parseDuration(c.Sandbox.PerToolTimeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
