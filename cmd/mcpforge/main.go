// mcpforge turns a repository reference, service name, docs URL, or free-text
// description into a working MCP tool server: research gathers evidence, a
// specialist ensemble votes on the tool surface, clarification fills the gaps
// the user must answer, and a bounded refinement loop tests and repairs the
// generated server until it passes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mcpforge/internal/config"
	"mcpforge/internal/logging"
)

// Version is stamped at build time.
var Version = "0.3.0"

var (
	workspace  string
	configPath string
	apiKey     string
	model      string
	verbose    bool
	outputDir  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mcpforge",
	Short: "mcpforge - generate working MCP tool servers from any description",
	Long: `mcpforge builds Model Context Protocol servers from whatever you have:
a GitHub repository, a service name, an API docs URL, or a plain description.

The pipeline researches the target, lets four specialists vote on the tool
surface, asks you only the questions it cannot answer itself, then generates,
tests, and repairs the server until every tool passes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if configPath == "" {
			configPath = config.DefaultConfigPath(workspace)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if model != "" {
			cfg.LLM.Model = model
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpforge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpforge %s\n", Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory (.forge lives here)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default <workspace>/.forge/config.json)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "LLM model override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print per-phase progress detail")

	generateCmd.Flags().StringVarP(&outputDir, "out", "o", "", "directory to write the generated server into (default ./<server-name>)")
	answerCmd.Flags().StringVarP(&outputDir, "out", "o", "", "directory to write the generated server into (default ./<server-name>)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fmtAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
