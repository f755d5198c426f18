package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query a running daemon for its overall status.

Shows: uptime, capture counters, number of live calls and RTP sequence errors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodStatus, nil)
	},
}
