package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver/sim"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/migrate"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/profiler"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/version"
)

var (
	cfgFile    string
	logLevel   string
	noWorkload bool
	migrateDSN string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpucounters",
		Short: "GPU hardware counter profiling engine",
		Long: `gpucounters collects kernel-level GPU hardware performance
counters over named ranges, correlates them with intercepted kernel
launches, and exports per-range results to ClickHouse or HTTP sinks.
It runs against a simulated driver backend and ships with a synthetic
workload generator for end-to-end validation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().BoolVar(
		&noWorkload, "no-workload", false,
		"disable the synthetic workload generator",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse schema",
	}

	cmd.PersistentFlags().StringVar(
		&migrateDSN, "dsn", "",
		"ClickHouse DSN, e.g. clickhouse://localhost:9000/profiling (required)",
	)

	if err := cmd.MarkPersistentFlagRequired("dsn"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return newMigrator().Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return newMigrator().Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current migration version",
			RunE: func(cmd *cobra.Command, args []string) error {
				ver, dirty, err := newMigrator().Status(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Printf("version: %d dirty: %v\n", ver, dirty)

				return nil
			},
		},
	)

	return cmd
}

func newMigrator() migrate.Migrator {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return migrate.New(log, migrateDSN)
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := profiler.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	// Validate already pins cfg.Driver to the simulation backend; a
	// hardware backend would be constructed here instead.
	drv := sim.New(
		[]sim.Device{{
			ChipName:               "ga102",
			ComputeCapabilityMajor: 8,
			ComputeCapabilityMinor: 6,
			MultiprocessorCount:    84,
		}},
		cfg.MetricNames(),
	)

	p, err := profiler.New(log, cfg, drv)
	if err != nil {
		return fmt.Errorf("creating profiler: %w", err)
	}

	log.Info("Starting gpucounters profiler")

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting profiler: %w", err)
	}

	if !noWorkload {
		go runWorkload(ctx, log, drv, p)
	}

	<-ctx.Done()

	log.Info("Shutting down gpucounters profiler")

	if err := p.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping profiler: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
