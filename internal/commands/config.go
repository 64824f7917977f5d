package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zot/p2p-chat/internal/config"
)

// ConfigCmd prints the effective configuration
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration p2p-chat would run with, after merging defaults,
the config file and P2PCHAT_* environment variables, as TOML.`,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.Encode(cmd.OutOrStdout())
}
