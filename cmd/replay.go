package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/callx/internal/config"
	"firestige.xyz/callx/internal/log"
	"firestige.xyz/callx/internal/pipeline"
)

var replayCmd = &cobra.Command{
	Use:   "replay <pcap-file>",
	Short: "Run the engine over a capture file",
	Long: `Run the whole pipeline over a pcap or pcapng file and print the packet
counters when the file is done. Calls still live at the end of the file are
recorded as if the watchdog had expired them.

Examples:
  callx replay trace.pcap                  # as fast as possible
  callx replay -c callx.conf trace.pcapng  # with a config file
  callx replay --speed 1 trace.pcap        # in real time`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path := configFile
		if !cmd.Flags().Changed("config") {
			if _, err := os.Stat(path); err != nil {
				// the default path is optional for replay
				path = ""
			}
		}
		return runReplay(ctx, path, replayOverrides(args[0]), cmd.OutOrStdout())
	},
}

var replaySpeed float64

func init() {
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0,
		"replay speed factor, 1 = capture timing, 0 = as fast as possible")
}

func replayOverrides(file string) map[string]any {
	return map[string]any{
		"capture_source": config.SourceFile,
		"pcap_file":      file,
		"replay_speed":   replaySpeed,
		"start_console":  false,
	}
}

// runReplay replays the file named in overrides and prints the counters.
func runReplay(ctx context.Context, configPath string, overrides map[string]any, out io.Writer, opts ...pipeline.Option) error {
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}
	if err := log.Init(&cfg.Process.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	p, err := pipeline.New(ctx, cfg, log.GetLogger(), opts...)
	if err != nil {
		return err
	}
	runErr := p.Run(ctx)

	data, err := json.MarshalIndent(p.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return runErr
}
