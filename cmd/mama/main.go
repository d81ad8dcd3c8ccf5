// Package main is the composition root for the mama personal-assistant
// daemon described in spec.md: it wires the store, sandbox, LLM router,
// memory engine, scheduler, and tool registry together, then exposes them
// through a cobra CLI (serve/daemon/scheduler/memory/cost), grounded on the
// teacher's cmd/nexus/main.go buildRootCmd + subcommand-builder idiom.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mama",
		Short: "mama - a personal-assistant daemon",
		Long: `mama accepts natural-language requests over a terminal, a chat-bot
adapter, and a local HTTP API, routes them to LLM providers, and lets the
model invoke side-effecting tools gated by a capability sandbox.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: $MAMA_HOME/config.yaml)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDaemonCmd(),
		buildSchedulerCmd(),
		buildMemoryCmd(),
		buildCostCmd(),
	)
	return rootCmd
}
