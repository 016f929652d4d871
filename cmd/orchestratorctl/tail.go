package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coderunhq/coderun/internal/bus"
)

var tailBroadcast bool

func init() {
	tailCmd.Flags().BoolVar(&tailBroadcast, "broadcast", false, "tail the broadcast topic instead of one workflow's topic")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [workflow-id]",
	Short: "Print bus messages for a workflow (or every workflow, with --broadcast) as they are published",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tailBroadcast && len(args) == 0 {
			return fmt.Errorf("tail requires a workflow-id, or --broadcast")
		}

		e, err := newEnv()
		if err != nil {
			return err
		}

		var recv *bus.Receiver
		if tailBroadcast {
			recv = e.bus.SubscribeBroadcast()
		} else {
			recv = e.bus.Subscribe(bus.WorkflowTopic(args[0]))
		}
		defer recv.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		for {
			select {
			case <-sigCh:
				return nil
			case msg, ok := <-recv.Recv():
				if !ok {
					return nil
				}
				printMessage(msg)
			}
		}
	},
}

func printMessage(msg bus.Message) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		fmt.Printf("%-28s <unmarshalable payload: %v>\n", msg.Type, err)
		return
	}
	fmt.Printf("%-28s %s\n", msg.Type, payload)
}
