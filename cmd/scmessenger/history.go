package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect message history with a contact",
}

var historyListCmd = &cobra.Command{
	Use:   "list <peer-id>",
	Short: "List a conversation's history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		return printJSON(core.History.List(args[0], historyLimit))
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <peer-id> <query>",
	Short: "Search a conversation's content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		return printJSON(core.History.Search(args[0], args[1], historyLimit))
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <peer-id>",
	Short: "Delete every history record with a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		if err := core.History.Remove(args[0]); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historySearchCmd, historyClearCmd)

	historyListCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum records to return (0 = unlimited)")
	historySearchCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum records to return (0 = unlimited)")
}
