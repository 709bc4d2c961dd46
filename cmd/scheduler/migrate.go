package main

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			return runMigrations(cmd.Context(), e, args[0])
		},
	}
	return cmd
}

func runMigrations(ctx context.Context, e *env, direction string) error {
	migrator, err := app.NewMigrator(e.pool, e.cfg.MigrationsDir, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			e.logger.Warn("Failed to close migrator", zap.Error(err))
		}
	}()

	switch direction {
	case "up":
		return migrator.Up(ctx)
	case "down":
		return migrator.Down(ctx)
	case "version":
		version, err := migrator.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d\n", version)
		return nil
	default:
		return fmt.Errorf("unknown migration command %q", direction)
	}
}
