package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// stopTimeout bounds how long a CLI-initiated stop waits for the
// Registry's own graceful-shutdown grace period (runtime.stopGrace)
// before this process gives up and exits anyway.
const stopTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(stopCmd, stopAllCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop <workflow-id>",
	Short: "Stop one running workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		registry := e.buildRegistry()

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := registry.StopWorkflow(ctx, args[0]); err != nil {
			return fmt.Errorf("stop_workflow: %w", err)
		}
		fmt.Println("stopped", args[0])
		return nil
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every running workflow this process's registry knows about",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		registry := e.buildRegistry()

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		registry.StopAll(ctx)
		fmt.Println("stop_all complete")
		return nil
	},
}
