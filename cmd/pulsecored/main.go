// Command pulsecored runs the PulseCore pipeline: it wires the Config
// Resolver, Scorer, Admission Controller, Premium Enhancer, Ingest Writer,
// dead-letter queue, and audit log into an Orchestrator, then drives a
// change-stream source until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsecored",
		Short: "PulseCore asynchronous pulse-enhancement pipeline",
		Long: `pulsecored ingests Stopped-pulse change-stream events, decides which
are worth a premium AI enhancement under a per-user budget, enhances or
falls back to a deterministic rule-based title/badge, and persists the
result exactly once.`,
	}

	rootCmd.PersistentFlags().String("config", "", "path to the YAML config file layer (optional; builtin defaults apply if empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pulsecored version %s\n", version)
		},
	}
}
