package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the capture engine in foreground",
	Long: `Run the capture engine in foreground.

The daemon will:
  1. Load the configuration file
  2. Initialize logging and metrics
  3. Open the capture source and start every pipeline stage
  4. Start the console and the Kafka command consumer (if configured)
  5. Handle signals for shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonOverrides())
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (overrides pid_file)")
}

func daemonOverrides() map[string]any {
	overrides := map[string]any{}
	if pidFile != "" {
		overrides["pid_file"] = pidFile
	}
	return overrides
}

func runDaemon(overrides map[string]any) error {
	d, err := daemon.New(configFile, daemon.WithOverrides(overrides))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
