package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/config"
	"firestige.xyz/callx/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stop the daemon gracefully.

This command sends SIGTERM to the process named in the PID file and waits
for the daemon to remove the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		if err := daemon.StopRunning(path, stopTimeout); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var (
	stopPIDFile string
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file path (default: pid_file from the config)")
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 30*time.Second, "how long to wait for the daemon to exit")
	reloadCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file path (default: pid_file from the config)")
}

// resolvePIDFile returns the --pidfile flag or the pid_file of the config.
func resolvePIDFile() (string, error) {
	if stopPIDFile != "" {
		return stopPIDFile, nil
	}
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return "", err
	}
	if cfg.Process.PIDFile == "" {
		return "", fmt.Errorf("no pid_file configured, pass --pidfile")
	}
	return cfg.Process.PIDFile, nil
}
