// Orchestd is the workflow orchestration daemon for hierarchical AI agent
// teams. It drives workflows through a coordinator/specialist state machine,
// tracks every agent invocation durably, and enforces per-tenant isolation
// on all external calls.
//
// Usage:
//
//	# Start the daemon with defaults
//	orchestd serve
//
//	# Use a specific config file
//	orchestd serve --config /etc/orchestd/config.yaml
//
// Configuration is a YAML file overridden by environment variables; see
// internal/config for the full reference.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "orchestd",
	Short: "Workflow orchestration daemon for AI agent teams",
	Long: `orchestd coordinates hierarchical AI agent workflows: a coordinator
delegating to specialists across the idea, specs, architecture and planning
stages. Workflows are controlled over NATS and every agent invocation is
durably recorded.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
