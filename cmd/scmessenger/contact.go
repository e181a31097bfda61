package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scmessenger/core/internal/model"
)

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage the node's contact book",
}

var contactNickname string

var contactAddCmd = &cobra.Command{
	Use:   "add <peer-id> <public-key-hex>",
	Short: "Add or update a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		err = core.Contacts.Add(model.Contact{
			PeerID:    args[0],
			PublicKey: args[1],
			Nickname:  contactNickname,
			AddedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("add contact: %w", err)
		}
		return nil
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		return printJSON(core.Contacts.List())
	},
}

var contactRemoveCmd = &cobra.Command{
	Use:   "remove <peer-id>",
	Short: "Remove a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		if err := core.Contacts.Remove(args[0]); err != nil {
			return fmt.Errorf("remove contact: %w", err)
		}
		return nil
	},
}

var contactSearchCmd = &cobra.Command{
	Use:   "search <public-key-hex>",
	Short: "Find contacts by exact public key match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		return printJSON(core.Contacts.Search(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(contactCmd)
	contactCmd.AddCommand(contactAddCmd, contactListCmd, contactRemoveCmd, contactSearchCmd)

	contactAddCmd.Flags().StringVar(&contactNickname, "nickname", "", "display name for this contact")
}
