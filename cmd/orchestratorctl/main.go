// Command orchestratorctl is the thin admin CLI for the orchestrator:
// it starts/stops/inspects workflows and tails bus traffic, driving the
// Runtime Registry directly without an HTTP API in between.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "orchestratorctl",
	Short: "Admin CLI for the coderun orchestrator core",
	Long: `orchestratorctl drives the Orchestrator Agent, Runtime Registry, and
Message Bus directly, without the HTTP/WebSocket API layer that the core
itself never implements. Use it to start or stop a workflow, inspect its
current state, or tail the bus traffic a running workflow emits.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "directory containing config.yaml (defaults to CODERUN_* env vars and built-in defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
