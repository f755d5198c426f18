package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/command"
)

// consoleCmd represents the console command group
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Query and control a running daemon",
	Long: `Send console commands to a running daemon.

Subcommands:
  calls      - List live calls
  events     - Count SBA events per caller
  incidents  - List SBA incidents
  seq-errors - Show the RTP sequence error counter
  config     - Dump the active configuration
  sba-clear  - Drop all SBA events and incidents
  shutdown   - Stop the daemon
  call       - Send any method with JSON params`,
}

var consoleCallsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List live calls, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{}
		if callsCallID != "" {
			params["call_id"] = callsCallID
		}
		if callsCaller != "" {
			params["caller"] = callsCaller
		}
		if callsLimit > 0 {
			params["limit"] = callsLimit
		}
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodCalls, params)
	},
}

var consoleEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Count SBA events per caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodSbaEvents, callerParams())
	},
}

var consoleIncidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List SBA incidents per caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodSbaIncidents, callerParams())
	},
}

var consoleSeqErrorsCmd = &cobra.Command{
	Use:   "seq-errors",
	Short: "Show the RTP sequence error counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodRtpSeqErrors, nil)
	},
}

var consoleConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Dump the active configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodConfig, nil)
	},
}

var consoleSbaClearCmd = &cobra.Command{
	Use:   "sba-clear",
	Short: "Drop all SBA events and incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodSbaClear, nil)
	},
}

var consoleShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), command.MethodShutdown, nil)
	},
}

var consoleCallCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Send any console method",
	Long: `Send a console method with optional JSON params.

Examples:
  callx console call ping
  callx console call calls '{"caller":"sip:alice@example.com","limit":5}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params interface{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("invalid params JSON: %w", err)
			}
		}
		return callAndPrint(cmd.Context(), consoleClient(), cmd.OutOrStdout(), args[0], params)
	},
}

var (
	callsCallID string
	callsCaller string
	callsLimit  int
	sbaCaller   string
)

func callerParams() map[string]interface{} {
	if sbaCaller == "" {
		return nil
	}
	return map[string]interface{}{"caller": sbaCaller}
}

func init() {
	consoleCallsCmd.Flags().StringVar(&callsCallID, "call-id", "", "only the call with this Call-ID")
	consoleCallsCmd.Flags().StringVar(&callsCaller, "caller", "", "only calls from this caller")
	consoleCallsCmd.Flags().IntVarP(&callsLimit, "limit", "n", 0, "at most this many calls")
	consoleEventsCmd.Flags().StringVar(&sbaCaller, "caller", "", "only this caller")
	consoleIncidentsCmd.Flags().StringVar(&sbaCaller, "caller", "", "only this caller")

	consoleCmd.AddCommand(consoleCallsCmd)
	consoleCmd.AddCommand(consoleEventsCmd)
	consoleCmd.AddCommand(consoleIncidentsCmd)
	consoleCmd.AddCommand(consoleSeqErrorsCmd)
	consoleCmd.AddCommand(consoleConfigCmd)
	consoleCmd.AddCommand(consoleSbaClearCmd)
	consoleCmd.AddCommand(consoleShutdownCmd)
	consoleCmd.AddCommand(consoleCallCmd)
}
