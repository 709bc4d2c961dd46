package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSuggestionHorizon is the search window used when the caller gives none.
const DefaultSuggestionHorizon = 14 * 24 * time.Hour

type SuggestionRequest struct {
	OrgID           int64
	WorkerIDs       []int64
	DurationMinutes int
	From            *time.Time
	To              *time.Time
}

// Suggestions groups slot lists per worker together with the policy and the
// effective window they were computed with.
type Suggestions struct {
	PerWorker  map[int64]*WorkerAvailability `json:"per_worker"`
	Policy     model.SchedulingPolicy         `json:"policy"`
	Window     model.Window                   `json:"effective_window"`
	TotalSlots int                            `json:"total_slots"`
}

// Empty reports whether no worker has a single bookable slot.
func (s *Suggestions) Empty() bool {
	return s.TotalSlots == 0
}

// GetSuggestions runs the slot search for every worker of the roster.
// Workers are evaluated independently and concurrently; a failure of one
// worker is recorded in that worker's entry and never affects the others.
func (e *Engine) GetSuggestions(ctx context.Context, req SuggestionRequest) (*Suggestions, error) {
	if len(req.WorkerIDs) == 0 {
		return nil, ErrEmptyRoster
	}
	if req.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	now := e.now()
	requested := model.Window{From: now, To: now.Add(DefaultSuggestionHorizon)}
	if req.From != nil {
		requested.From = *req.From
	}
	if req.To != nil {
		requested.To = *req.To
	}
	if !requested.From.Before(requested.To) {
		return nil, ErrInvalidInterval
	}

	policy := e.ResolvePolicy(ctx, req.OrgID)

	workers := uniqueIDs(req.WorkerIDs)
	results := make([]*WorkerAvailability, len(workers))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, workerID := range workers {
		g.Go(func() error {
			results[i] = e.suggestForWorker(ctx, req.OrgID, workerID, req.DurationMinutes, requested, policy)
			return nil
		})
	}
	_ = g.Wait()

	out := &Suggestions{
		PerWorker: make(map[int64]*WorkerAvailability, len(workers)),
		Policy:    policy,
		Window:    EffectiveWindow(now, requested, &policy),
	}
	for _, r := range results {
		out.PerWorker[r.WorkerID] = r
		out.TotalSlots += r.Count
	}

	e.logger.Info("Suggestions computed",
		zap.Int64("org_id", req.OrgID),
		zap.Int("workers", len(workers)),
		zap.Int("duration_minutes", req.DurationMinutes),
		zap.Int("total_slots", out.TotalSlots))

	return out, nil
}

func (e *Engine) suggestForWorker(
	ctx context.Context,
	orgID, workerID int64,
	durationMinutes int,
	window model.Window,
	policy model.SchedulingPolicy,
) (result *WorkerAvailability) {
	failed := func(err error) *WorkerAvailability {
		e.metrics.WorkerFailure()
		e.logger.Error("Failed to compute slots for worker",
			zap.Int64("worker_id", workerID),
			zap.Int64("org_id", orgID),
			zap.Error(err))
		return &WorkerAvailability{
			WorkerID: workerID,
			Slots:    []model.CandidateSlot{},
			Window:   EffectiveWindow(e.now(), window, &policy),
			Degraded: true,
			Error:    err.Error(),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := e.FindAvailableSlots(ctx, orgID, workerID, durationMinutes, window.From, window.To, &policy)
	if err != nil {
		return failed(err)
	}
	return res
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
