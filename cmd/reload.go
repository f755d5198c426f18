package cmd

import (
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/daemon"
)

// signalDaemon is replaced in tests.
var signalDaemon = daemon.Signal

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Send SIGHUP to the daemon. The log level and the SBA thresholds are
applied at once; other changes need a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		return runReload(path, cmd.OutOrStdout())
	},
}

func runReload(pidFile string, out io.Writer) error {
	if err := signalDaemon(pidFile, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Reload signal sent")
	return nil
}
