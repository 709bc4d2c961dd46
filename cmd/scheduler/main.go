package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/app"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "fieldservice"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Field service availability and booking engine",
		Long: `Computes bookable time slots for field workers from the organization
scheduling policy and their calendars, work orders and time off, and runs
the booking approval workflow over HTTP and a Telegram staff bot.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), suggestCmd())
	return cmd
}

// env bundles what every subcommand needs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg.Environment, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) close() {
	e.pool.Close()
	_ = e.logger.Sync()
}
