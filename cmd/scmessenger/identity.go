package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the node's long-term identity",
}

var identityPassphrase string
var identityBackupFile string

var identityInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the node's identity if one doesn't already exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		info, err := core.InitializeIdentity()
		if err != nil {
			return fmt.Errorf("initialize identity: %w", err)
		}
		return printJSON(info)
	},
}

var identityInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the node's identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		info, err := core.GetIdentityInfo()
		if err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
		return printJSON(info)
	},
}

var identityNicknameCmd = &cobra.Command{
	Use:   "nickname <name>",
	Short: "Set the node's own display nickname",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		if err := core.SetNickname(args[0]); err != nil {
			return fmt.Errorf("set nickname: %w", err)
		}
		return nil
	},
}

var identityExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a passphrase-encrypted identity backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		if identityPassphrase == "" {
			return fmt.Errorf("--passphrase is required")
		}
		core, err := openCore()
		if err != nil {
			return err
		}
		backup, err := core.ExportIdentityBackup(identityPassphrase)
		if err != nil {
			return fmt.Errorf("export identity backup: %w", err)
		}
		if identityBackupFile == "" {
			fmt.Println(backup)
			return nil
		}
		return os.WriteFile(identityBackupFile, []byte(backup), 0600)
	},
}

var identityImportCmd = &cobra.Command{
	Use:   "import <backup-file>",
	Short: "Restore an identity from a backup produced by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if identityPassphrase == "" {
			return fmt.Errorf("--passphrase is required")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read backup file: %w", err)
		}
		core, err := openCore()
		if err != nil {
			return err
		}
		info, err := core.ImportIdentityBackup(string(data), identityPassphrase)
		if err != nil {
			return fmt.Errorf("import identity backup: %w", err)
		}
		return printJSON(info)
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityInitCmd, identityInfoCmd, identityNicknameCmd, identityExportCmd, identityImportCmd)

	identityExportCmd.Flags().StringVar(&identityPassphrase, "passphrase", "", "passphrase protecting the exported backup")
	identityExportCmd.Flags().StringVar(&identityBackupFile, "output", "", "file to write the backup to (default: stdout)")

	identityImportCmd.Flags().StringVar(&identityPassphrase, "passphrase", "", "passphrase protecting the backup being imported")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
