package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scmessenger/core/internal/config"
	"github.com/scmessenger/core/pkg/ironcore"
)

var (
	configFile  string
	storageRoot string
)

var rootCmd = &cobra.Command{
	Use:   "scmessenger",
	Short: "SCMessenger node CLI - identity, contacts, history and mesh lifecycle",
	Long: `scmessenger manages a SCMessenger core node: its long-term identity,
contact book, message history, relay settings, and mesh connectivity.

This tool supports:
- Identity generation, inspection, and passphrase-protected backup
- Contact management
- Message history inspection
- Relay and autoadjust settings
- Running a headless relay node (serve) or scripting a one-shot send`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage-root", "", "override the node's storage root directory")

	// Subcommands register themselves in their own files:
	// - identity.go: identityCmd
	// - contact.go: contactCmd
	// - history.go: historyCmd
	// - settings.go: settingsCmd
	// - serve.go: serveCmd
	// - send.go: sendCmd
}

// loadConfig resolves process configuration the same way Load does for
// any long-running node, then applies this invocation's CLI overrides,
// the highest precedence tier.
func loadConfig() (*config.Config, error) {
	opts := config.DefaultLoaderOptions()
	if configFile != "" {
		opts.ConfigFile = configFile
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storageRoot != "" {
		cfg.StorageRoot = storageRoot
	}
	return cfg, nil
}

// openCore resolves configuration and opens the façade over it. Every
// subcommand but serve opens, acts, and lets the process exit without
// ever starting the mesh.
func openCore() (*ironcore.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openCoreFromConfig(cfg)
}

// openCoreFromConfig opens the façade over an already-resolved Config,
// for callers (serve) that apply their own overrides before opening.
func openCoreFromConfig(cfg *config.Config) (*ironcore.Core, error) {
	core, err := ironcore.WithStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("open core: %w", err)
	}
	return core, nil
}
