package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"meshsim/internal/sim"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayFormat    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a routing event log",
	Long:  "replay feeds routing events from a JSONL log back into GreptimeDB or STDOUT, keeping their original spacing scaled by --speed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		format, err := resolveFormat(replayFormat, stdoutIsTerminal())
		if err != nil {
			return err
		}
		if format == formatTUI {
			return fmt.Errorf("replay does not support --format tui")
		}
		log, closeLog, err := newLogger(false)
		if err != nil {
			return err
		}
		defer closeLog()

		writers, err := newWriters(nil, replayPrintOnly, format, "")
		if err != nil {
			return err
		}
		defer writers.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		log.Info("replaying events", "input", replayInput, "speed", replaySpeed)
		return sim.ReplayLogFile(ctx, replayInput, writers.events, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to routing event log file (JSONL)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print events to STDOUT instead of writing to DB")
	replayCmd.Flags().StringVar(&replayFormat, "format", formatAuto, "STDOUT format: auto, json or color")
	replayCmd.MarkFlagRequired("input")
}
