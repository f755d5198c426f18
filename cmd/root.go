// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	consoleAddr string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callx",
	Short: "callx - passive SIP/RTP call capture and behavior analysis",
	Long: `callx passively captures SIP signalling and RTP media, follows every call
through its dialog and transaction state machines, records the audio of both
directions and raises incidents when a caller behaves suspiciously.

Features:
  - Capture from libpcap, AF_PACKET rings or pcap/pcapng files
  - Audio output to WAV files, a TCP receiver, a call-record database and S3
  - Six subscriber behavior rules with Kafka incident export
  - Remote console over TCP and an optional Kafka command channel`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/callx/callx.conf",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&consoleAddr, "addr", "a", "127.0.0.1:5000",
		"console address of a running daemon")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
