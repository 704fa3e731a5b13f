package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"meshsim/internal/logging"
)

var (
	logLevel  string
	logFormat string
	logOutput string
)

var rootCmd = &cobra.Command{
	Use:          "meshsim",
	Short:        "Mesh network routing simulator",
	Long:         "meshsim simulates a radio mesh network comparing flood and congestion-aware routing, with replay and dashboard utilities.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	env := logging.ConfigFromEnv()
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", env.Level, "Log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", env.Format, "Log format: text or json (env LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "", "Write logs to this file instead of STDERR")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// newLogger builds the process logger. Logs go to STDERR so they never mix
// with rows on STDOUT; quiet discards them unless a log file was requested.
func newLogger(quiet bool) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	cleanup := func() {}
	switch {
	case logOutput != "":
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		out = f
		cleanup = func() { f.Close() }
	case quiet:
		out = io.Discard
	}
	log := logging.NewWithConfig(logging.Config{Level: logLevel, Format: logFormat, Output: out})
	slog.SetDefault(log)
	return log, cleanup, nil
}
