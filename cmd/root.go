// Package cmd defines and implements the CLI commands for the crs-etl executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/app"
	"github.com/JakeFAU/crs-draws-etl/internal/config"
	"github.com/JakeFAU/crs-draws-etl/internal/logging"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and attaches the subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "crs-etl",
		Short: "Collects Express Entry rounds of invitations into a data store.",
		Long: `crs-etl fetches the published Express Entry rounds page, extracts the
rounds table, normalizes each round and writes the result to JSON/CSV files,
a DynamoDB table or a PostgreSQL table. Progress is journaled to a text file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// loadApp reads configuration, installs the configured logger globally and
// builds the pipeline.
func loadApp(ctx context.Context, opts *rootOptions, withRuntimeMetrics bool) (*app.App, config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := app.New(ctx, cfg, logger, withRuntimeMetrics)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("initialize application services: %w", err)
	}
	return a, cfg, nil
}

// Execute is the main entry point.
func Execute() {
	bootstrap, err := logging.New(logging.Options{Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(bootstrap)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = newRootCmd().ExecuteContext(ctx)
	stop()
	_ = zap.L().Sync()
	if err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}
