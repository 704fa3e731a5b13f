package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meshsim/internal/admin"
	"meshsim/internal/config"
	"meshsim/internal/observability"
	"meshsim/internal/sim"
)

const defaultConfigPath = "config/simulation.yaml"

var (
	simConfigPath string
	simSchemaPath string
	simPolicy     string
	simNodes      int
	simDuration   time.Duration
	simSeed       int64
	simPrintOnly  bool
	simFormat     string
	simLogFile    string
	simAdminAddr  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the mesh network simulator",
	Long:  "simulate starts a radio mesh, injects scenario traffic and emits node, routing event and network state rows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		isTTY := stdoutIsTerminal()
		format, err := resolveFormat(simFormat, isTTY)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(format == formatTUI)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
		if err != nil {
			return err
		}
		defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := observability.NewMeshCollector(reg)
		if err != nil {
			return err
		}

		writers, err := newWriters(cfg, simPrintOnly, format, simLogFile)
		if err != nil {
			return err
		}
		defer writers.Close()

		simulator, err := sim.NewSimulator(cfg,
			sim.WithWriter(writers.nodes),
			sim.WithEventWriter(writers.events),
			sim.WithStateWriter(writers.state),
			sim.WithMetrics(metrics),
			sim.WithLogger(log),
		)
		if err != nil {
			return err
		}
		writers.setInjector(simulator)
		log.Info("run configured", "run_id", simulator.RunID(), "format", format, "policy", cfg.Policy)

		g, gctx := errgroup.WithContext(ctx)
		adminCtx, stopAdmin := context.WithCancel(gctx)
		defer stopAdmin()
		if simAdminAddr != "" {
			srv := admin.NewServer(simulator, admin.WithMetrics(metrics.Handler()), admin.WithLogger(log))
			writers.setAdminStatus(true)
			g.Go(func() error {
				defer writers.setAdminStatus(false)
				return srv.Start(adminCtx, simAdminAddr)
			})
		}
		g.Go(func() error {
			defer stopAdmin()
			return simulator.Run(gctx)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// loadConfig reads the config file, then applies environment and flag
// overrides. A missing default config file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.SimulationConfig, error) {
	var cfg *config.SimulationConfig
	if _, err := os.Stat(simConfigPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
	} else {
		if cfg, err = config.Load(simConfigPath, simSchemaPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Policy = simPolicy
	}
	if flags.Changed("nodes") {
		cfg.Nodes = simNodes
	}
	if flags.Changed("duration") {
		cfg.Duration = simDuration
	}
	if flags.Changed("seed") {
		cfg.Seed = simSeed
	}
	if !flags.Changed("admin-addr") {
		simAdminAddr = cfg.Admin.Addr
	}
	return cfg, cfg.Check()
}

func init() {
	simulateCmd.Flags().StringVar(&simConfigPath, "config", defaultConfigPath, "Path to simulation configuration YAML")
	simulateCmd.Flags().StringVar(&simSchemaPath, "schema", "", "Path to CUE schema file (default: embedded schema)")
	simulateCmd.Flags().StringVar(&simPolicy, "policy", "", "Routing policy: flood or agentic (env MESH_POLICY)")
	simulateCmd.Flags().IntVar(&simNodes, "nodes", 0, "Number of mesh nodes")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Traffic duration (0 runs until interrupted)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Seed for node placement and traffic (0 picks a random seed)")
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to DB")
	simulateCmd.Flags().StringVar(&simFormat, "format", formatAuto, "STDOUT format: auto, json, color or tui")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export node rows as JSONL (events and state go to .events/.state)")
	simulateCmd.Flags().StringVar(&simAdminAddr, "admin-addr", "", "Admin endpoint address (default from config; empty disables)")
}
