package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start <workflow-id>",
	Short: "Start a ready workflow and run it in the foreground",
	Long: `start calls the Runtime Registry's start_workflow for the given id and
then blocks, keeping this process alive as the workflow's Orchestrator
Agent (and, if enabled, its Git Watcher) run. Ctrl-C triggers a graceful
stop_workflow before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workflowID := args[0]

		e, err := newEnv()
		if err != nil {
			return err
		}
		registry := e.buildRegistry()

		ctx := context.Background()
		if err := registry.StartWorkflow(ctx, workflowID); err != nil {
			return fmt.Errorf("start_workflow: %w", err)
		}
		fmt.Printf("workflow %s started; press Ctrl-C to stop\n", workflowID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nstopping workflow...")
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := registry.StopWorkflow(stopCtx, workflowID); err != nil {
			return fmt.Errorf("stop_workflow: %w", err)
		}
		return nil
	},
}
