package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSourceTimeout bounds a single busy-interval query.
const DefaultSourceTimeout = 5 * time.Second

// EventSource is one kind of record that makes a worker unavailable:
// calendar entries, work-order assignments or approved time off.
// Implementations return intervals overlapping [from, to) and may return
// the same record more than once; the Aggregator deduplicates.
type EventSource interface {
	Kind() model.SourceKind
	BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error)
}

// Collection is the merged busy set of one worker.
type Collection struct {
	Intervals []model.BusyInterval
	Warnings  []*SourceQueryError
}

// Degraded reports whether at least one source failed to contribute.
func (c *Collection) Degraded() bool {
	return len(c.Warnings) > 0
}

// Aggregator fans out to every EventSource and merges the results.
type Aggregator struct {
	sources []EventSource
	timeout time.Duration
	logger  *zap.Logger
	metrics Recorder
}

func NewAggregator(sources []EventSource, timeout time.Duration, logger *zap.Logger, metrics Recorder) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Aggregator{
		sources: sources,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Collect gathers the busy intervals of a worker overlapping [from, to).
// A failing source is logged and reported in Warnings; the others still
// contribute.
func (a *Aggregator) Collect(ctx context.Context, workerID, orgID int64, from, to time.Time) Collection {
	results := make([][]model.BusyInterval, len(a.sources))
	failures := make([]error, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			results[i], failures[i] = a.query(ctx, src, workerID, orgID, from, to)
			return nil
		})
	}
	_ = g.Wait()

	var coll Collection
	seen := make(map[string]struct{})
	for i, src := range a.sources {
		if failures[i] != nil {
			qerr := &SourceQueryError{Source: src.Kind(), WorkerID: workerID, Err: failures[i]}
			coll.Warnings = append(coll.Warnings, qerr)
			a.metrics.SourceFailure(src.Kind())
			a.logger.Warn("Busy interval source failed, continuing without it",
				zap.String("source", string(src.Kind())),
				zap.Int64("worker_id", workerID),
				zap.Int64("org_id", orgID),
				zap.Error(failures[i]))
			continue
		}

		kept := 0
		for _, b := range results[i] {
			if b.Source == "" {
				b.Source = src.Kind()
			}
			if b.WorkerID == 0 {
				b.WorkerID = workerID
			}
			if !b.Valid() || !b.Start.Before(to) || !b.End.After(from) {
				continue
			}
			key := identity(b)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			coll.Intervals = append(coll.Intervals, b)
			kept++
		}

		a.logger.Debug("Busy intervals collected",
			zap.String("source", string(src.Kind())),
			zap.Int64("worker_id", workerID),
			zap.Int("received", len(results[i])),
			zap.Int("kept", kept))
	}

	SortIntervals(coll.Intervals)
	return coll
}

func (a *Aggregator) query(ctx context.Context, src EventSource, workerID, orgID int64, from, to time.Time) (list []model.BusyInterval, err error) {
	qctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			list, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	list, err = src.BusyIntervals(qctx, workerID, orgID, from, to)
	if err == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s", a.timeout)
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func identity(b model.BusyInterval) string {
	if b.ID != "" {
		return string(b.Source) + "/" + b.ID
	}
	return fmt.Sprintf("%s/%d-%d/%s", b.Source, b.Start.UnixMilli(), b.End.UnixMilli(), b.Label)
}

// SortIntervals orders intervals by start, end, source and id so that
// results are deterministic.
func SortIntervals(list []model.BusyInterval) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})
}
