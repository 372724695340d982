// Package main provides the CLI entry point for agentstream.
//
// # Basic Usage
//
// Start the server:
//
//	agentstream serve --config agentstream.yaml
//
// Check a conversation history file:
//
//	agentstream validate history.json
//
// Mint a bearer token for local testing:
//
//	agentstream token --user alice
//
// # Environment Variables
//
//   - AGENTSTREAM_CONFIG: Path to configuration file
//   - AGENTSTREAM_*: Overrides for individual settings (see package config)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: Provider keys when not configured
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentstream",
		Short: "Tool-augmented conversation streaming engine",
		Long: `agentstream runs bounded model/tool loops over persisted conversations
and streams typed events over SSE or websockets.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENTSTREAM_CONFIG"); p != "" {
		return p
	}
	return ""
}
