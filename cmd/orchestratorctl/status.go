package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, recoverCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show a workflow's tasks and terminals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		ctx := context.Background()

		wf, err := e.store.GetWorkflow(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get workflow: %w", err)
		}
		fmt.Printf("workflow %s  %-20s  status=%s  target_branch=%s\n", wf.ID, wf.Name, wf.Status, wf.TargetBranch)

		tasks, err := e.store.ListTasksForWorkflow(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		for _, t := range tasks {
			fmt.Printf("  task %s  %-20s  status=%s\n", t.ID, t.Name, t.Status)

			terms, err := e.store.ListTerminalsForTask(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("list terminals for task %s: %w", t.ID, err)
			}
			for _, term := range terms {
				fmt.Printf("    terminal %s  cli=%-12s role=%-10s status=%s\n", term.ID, term.CLIType, term.Role, term.Status)
			}
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Sweep for workflows the store still marks running and mark them failed",
	Long: `recover runs the crash-recovery sweep: on a fresh process a workflow
left "running" by the store cannot have a live agent task in this
process's memory, so it is surfaced as failed rather than silently
resumed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		registry := e.buildRegistry()

		if err := registry.RecoverRunningWorkflows(context.Background()); err != nil {
			return fmt.Errorf("recover_running_workflows: %w", err)
		}
		fmt.Println("recovery sweep complete")
		return nil
	},
}
