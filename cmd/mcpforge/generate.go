package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mcpforge/internal/clarify"
	"mcpforge/internal/config"
	"mcpforge/internal/ensemble"
	"mcpforge/internal/harness"
	"mcpforge/internal/llm"
	"mcpforge/internal/pipeline"
	"mcpforge/internal/refine"
	"mcpforge/internal/research"
	"mcpforge/internal/store"
	"mcpforge/internal/types"
)

var generateCmd = &cobra.Command{
	Use:   "generate [description]",
	Short: "Generate an MCP server from a repo, service name, docs URL, or description",
	Long: `Runs the full generation pipeline on your input.

Examples:
  mcpforge generate "an MCP server for the Stripe API"
  mcpforge generate github.com/acme/widget
  mcpforge generate https://docs.example.com/api --out ./example-mcp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var answerCmd = &cobra.Command{
	Use:   "answer [session-id] [answers...]",
	Short: "Answer a paused session's questions and resume generation",
	Long: `A session pauses when the pipeline needs information only you have.
Provide one answer per pending question, in order; use "skip" for a
credential you want to supply later.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAnswer,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent generation sessions",
	RunE:  runSessions,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	session := types.NewSession(strings.Join(args, " "))
	return driveSession(session)
}

func runAnswer(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	session, err := st.LoadSession(args[0])
	if err != nil {
		return err
	}
	if !session.NeedsUserInput || len(session.PendingQuestions) == 0 {
		return fmt.Errorf("session %s has no pending questions", session.SessionID)
	}

	answers := args[1:]
	for i, q := range session.PendingQuestions {
		if i >= len(answers) {
			break
		}
		clarify.RecordAnswer(session, q, answers[i])
	}
	session.PendingQuestions = nil
	session.NeedsUserInput = false

	return driveSessionWith(st, session)
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions(20)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		status := "in progress"
		switch {
		case s.IsComplete:
			status = "complete"
		case s.NeedsUserInput:
			status = "awaiting answers"
		}
		fmt.Printf("%s  %-16s  %s\n", s.SessionID, status, fmtAge(s.UpdatedAt))
	}
	return nil
}

func openStore() (*store.SessionStore, error) {
	path := cfg.Store.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return store.Open(path)
}

func driveSession(session *types.SessionState) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return driveSessionWith(st, session)
}

func driveSessionWith(st *store.SessionStore, session *types.SessionState) error {
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for delta := range p.Run(ctx, session) {
		for _, ev := range delta.AppendProgress {
			if verbose {
				fmt.Printf("[%s] %s\n", ev.Phase, ev.Message)
			} else {
				fmt.Printf("  %s\n", ev.Message)
			}
		}
		phase := "pipeline"
		if n := len(delta.AppendProgress); n > 0 {
			phase = delta.AppendProgress[n-1].Phase
		}
		if err := st.SaveCheckpoint(session, phase); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: checkpoint failed: %v\n", err)
		}
	}

	switch {
	case session.Error != "":
		return fmt.Errorf("%s", session.Error)
	case session.NeedsUserInput:
		printQuestions(session)
		return nil
	case session.IsComplete && session.Artifact != nil:
		return writeArtifact(session)
	default:
		return nil
	}
}

func printQuestions(session *types.SessionState) {
	fmt.Println("\nI need a bit more information:")
	for i, q := range session.PendingQuestions {
		fmt.Printf("  %d. %s\n", i+1, q.Text)
		for _, opt := range q.Options {
			fmt.Printf("     - %s\n", opt)
		}
	}
	fmt.Printf("\nAnswer with:\n  mcpforge answer %s \"<answer 1>\" \"<answer 2>\"\n", session.SessionID)
}

func writeArtifact(session *types.SessionState) error {
	artifact := session.Artifact
	dir := outputDir
	if dir == "" {
		dir = artifact.Metadata.Name
	}
	if dir == "" {
		dir = "generated-mcp"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	files := map[string]string{"main.go": artifact.MainFile}
	for name, content := range artifact.SupportFiles {
		files[name] = content
	}
	for name, content := range artifact.BuildFiles {
		files[name] = content
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	fmt.Printf("\nWrote %s (%d tools) to %s\n", artifact.Metadata.Name, len(artifact.Metadata.Tools), dir)
	for _, tool := range artifact.Metadata.Tools {
		fmt.Printf("  - %s\n", tool)
	}
	if warn := partialWarning(session); warn != "" {
		fmt.Println(warn)
	}
	return nil
}

// partialWarning surfaces a budget-exhausted result so a partially working
// server is never mistaken for a fully passing one.
func partialWarning(session *types.SessionState) string {
	if len(session.RefinementHistory) == 0 {
		return ""
	}
	last := session.RefinementHistory[len(session.RefinementHistory)-1]
	if last.Outcome == nil || last.Outcome.Success {
		return ""
	}
	return fmt.Sprintf("\nNote: %d/%d tools passing after %d refinement iterations; check the failing tools before use.",
		last.Outcome.ToolsPassed, last.Outcome.ToolsFound, session.RefinementIteration)
}

func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	client, err := llm.NewFromConfig(llm.Config{
		Provider: llm.Provider(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, err
	}

	var searcher *research.WebSearcher
	if cfg.Research.SearchAPIKey != "" {
		searcher = research.NewWebSearcher(cfg.Research.SearchAPIKey)
	}
	researcher := research.NewCoordinator(client, searcher,
		research.NewSourceAnalyzer(cfg.Research.GitHubToken), research.NewDocsFetcher())

	roles := ensemble.LoadRoles(cfg.Ensemble.RolesPath)

	refiner := refine.NewRefiner(client, harness.NewProbeHarness()).WithEnvelope(harness.ResourceEnvelope{
		CPUShare:       cfg.Sandbox.CPUShare,
		MemoryBytes:    int64(cfg.Sandbox.MemoryMB) << 20,
		WallClock:      cfg.GetWallClock(),
		PerToolTimeout: cfg.GetPerToolTimeout(),
	})

	return pipeline.New(
		researcher,
		ensemble.NewCoordinator(client, roles),
		clarify.NewOrchestrator(client),
		refiner,
	), nil
}
