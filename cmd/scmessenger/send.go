package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <text>",
	Short: "Prepare and enqueue a one-shot message to a known contact",
	Long: `send runs the same SettingsGate-guarded, history-recording path as
a UI shell's send button, then returns immediately: actual delivery
happens on DeliveryEngine's flush loop, which this command does not
wait for. It is meant for scripting and smoke-testing against a node
that is separately running serve.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		messageID, err := core.SendMessage(args[0], args[1])
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		fmt.Println(messageID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
