package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
	"github.com/spf13/cobra"
)

func suggestCmd() *cobra.Command {
	var (
		orgID     int64
		workerIDs []int64
		duration  int
		days      int
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Print bookable slots for a roster of workers",
		Example: `  fieldservice suggest --org 1 --workers 7,8 --duration 90
  fieldservice suggest --org 1 --duration 60 --days 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			loc, err := e.cfg.Location()
			if err != nil {
				return err
			}

			repo := base.NewRepository(e.pool)
			workerRepo := repository.NewWorkerRepository(repo)

			// no roster given: every active worker of the organization
			if len(workerIDs) == 0 {
				workers, err := workerRepo.ListActive(ctx, orgID)
				if err != nil {
					return fmt.Errorf("list workers: %w", err)
				}
				for _, w := range workers {
					workerIDs = append(workerIDs, w.ID)
				}
			}

			engine := availability.NewEngine(repository.NewSettingsRepository(repo), workerRepo, busySources(repo), availability.Options{
				Location:          loc,
				SourceTimeout:     e.cfg.Scheduler.SourceTimeout,
				WorkerConcurrency: e.cfg.Scheduler.WorkerConcurrency,
			}, e.logger)

			now := time.Now()
			to := now.AddDate(0, 0, days)
			res, err := engine.GetSuggestions(ctx, availability.SuggestionRequest{
				OrgID:           orgID,
				WorkerIDs:       workerIDs,
				DurationMinutes: duration,
				From:            &now,
				To:              &to,
			})
			if err != nil {
				return err
			}

			printSuggestions(cmd, res, loc)
			return nil
		},
	}

	cmd.Flags().Int64Var(&orgID, "org", 1, "Organization ID")
	cmd.Flags().Int64SliceVar(&workerIDs, "workers", nil, "Worker IDs (default: all active workers)")
	cmd.Flags().IntVar(&duration, "duration", 60, "Job duration in minutes")
	cmd.Flags().IntVar(&days, "days", 14, "Search horizon in days")
	return cmd
}

func printSuggestions(cmd *cobra.Command, res *availability.Suggestions, loc *time.Location) {
	out := cmd.OutOrStdout()
	if res.Empty() {
		fmt.Fprintln(out, "No availability")
	}

	ids := make([]int64, 0, len(res.PerWorker))
	for id := range res.PerWorker {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		w := res.PerWorker[id]
		switch {
		case w.Error != "":
			fmt.Fprintf(out, "worker %d: %s\n", id, w.Error)
			continue
		case w.Degraded:
			fmt.Fprintf(out, "worker %d: %d slots (incomplete, some sources failed)\n", id, w.Count)
		default:
			fmt.Fprintf(out, "worker %d: %d slots\n", id, w.Count)
		}
		for _, s := range w.Slots {
			fmt.Fprintf(out, "  %s\n", availability.DescribeSlot(s, loc))
		}
	}
}
