package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the engine and print the
resulting configuration, defaults included.

Flat key = value files, YAML and JSON are accepted; the format is picked
from the extension.

Examples:
  callx validate -c /etc/callx/callx.conf
  callx validate -c callx.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd)
	},
}

func runValidate(path string, cmd *cobra.Command) error {
	cfg, err := config.Load(path, nil)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "VALID: %s\n\n%s", path, data)
	return nil
}
