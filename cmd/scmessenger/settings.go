package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change the node's mesh settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current mesh settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore()
		if err != nil {
			return err
		}
		return printJSON(core.Settings.Get())
	},
}

var settingsSetRelayCmd = &cobra.Command{
	Use:   "set-relay <true|false>",
	Short: "Enable or disable the relay fail-safe gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("relay flag must be true or false: %w", err)
		}
		core, err := openCore()
		if err != nil {
			return err
		}
		current := core.Settings.Get()
		current.RelayEnabled = enabled
		warning, err := core.Settings.Save(current)
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		if warning != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", warning)
		}
		return nil
	},
}

var settingsSetAutoadjustCmd = &cobra.Command{
	Use:   "set-autoadjust <max-relay-per-hour>",
	Short: "Override AutoAdjustEngine's relay budget for this process",
	Long: `set-autoadjust pins the relay max-per-hour AutoAdjustEngine would
otherwise derive from the device's current power/motion state. The
override only lives for the running process; it is not written to the
persisted Settings record, matching RelayOverride's in-memory scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("max-relay-per-hour must be an integer: %w", err)
		}
		core, err := openCore()
		if err != nil {
			return err
		}
		core.SetRelayBudget(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetRelayCmd, settingsSetAutoadjustCmd)
}
