package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/command"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show container sizes",
	Long: `Query a running daemon for the current and peak size of every pool,
queue, table and SBA map.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodContainers, nil)
	},
}
