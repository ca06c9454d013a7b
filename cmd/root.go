// Package cmd implements the flipr command line: the crawler daemon, the read API
// and the operator commands that talk to a running daemon through SQLite.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flipr_ingest/config"
	"flipr_ingest/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version is reported by /healthz and the version command.
	Version = "1.0.0"

	cfg     *config.Config
	logger  logging.Logger
	logFile *logging.RotatingWriter

	rootCmd = &cobra.Command{
		Use:           "flipr",
		Short:         "Real estate listing ingestion and deal scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			teardown()
		},
	}
)

func init() {
	rootCmd.AddCommand(
		crawlCmd(),
		serveCmd(),
		runCmd(),
		statusCmd(),
		pauseCmd(),
		resumeCmd(),
		resetCmd(),
		backfillCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			// No config needed.
			PersistentPreRun: func(*cobra.Command, []string) {},
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("flipr version %s\n", Version)
			},
		},
	)
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setup() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err = logging.Setup(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	logger.Debug("Configuration loaded",
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("cities", len(cfg.Crawler.Cities)),
		zap.String("sink", cfg.Storage.Sink),
	)
	return nil
}

func teardown() {
	if logger != nil {
		_ = logger.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}

// withApp builds the app for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
