package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
)

// DefaultWorkerConcurrency bounds how many workers GetSuggestions evaluates
// at the same time.
const DefaultWorkerConcurrency = 8

type Options struct {
	Location          *time.Location
	SourceTimeout     time.Duration
	WorkerConcurrency int
	Clock             func() time.Time
	Metrics           Recorder
}

// Engine computes bookable windows for workers of an organization.
type Engine struct {
	policies    PolicyStore
	capacities  CapacityStore
	aggregator  *Aggregator
	loc         *time.Location
	now         func() time.Time
	concurrency int
	metrics     Recorder
	logger      *zap.Logger
}

func NewEngine(
	policies PolicyStore,
	capacities CapacityStore,
	sources []EventSource,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.WorkerConcurrency <= 0 {
		opts.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		policies:    policies,
		capacities:  capacities,
		aggregator:  NewAggregator(sources, opts.SourceTimeout, logger, opts.Metrics),
		loc:         opts.Location,
		now:         opts.Clock,
		concurrency: opts.WorkerConcurrency,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// WorkerAvailability is the slot list of one worker. Warnings lists sources
// that could not be read; the slots were computed without them.
type WorkerAvailability struct {
	WorkerID int64                 `json:"worker_id"`
	Slots    []model.CandidateSlot `json:"slots"`
	Count    int                   `json:"count"`
	Window   model.Window          `json:"window"`
	Degraded bool                  `json:"degraded"`
	Warnings []string              `json:"warnings,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// FindAvailableSlots returns the bookable slots of one worker inside
// [from, to) under the given policy.
func (e *Engine) FindAvailableSlots(
	ctx context.Context,
	orgID, workerID int64,
	durationMinutes int,
	from, to time.Time,
	policy *model.SchedulingPolicy,
) (*WorkerAvailability, error) {
	if workerID <= 0 {
		return nil, ErrInvalidWorker
	}
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	if !from.Before(to) {
		return nil, ErrInvalidInterval
	}
	if policy == nil {
		p := e.ResolvePolicy(ctx, orgID)
		policy = &p
	}

	started := time.Now()
	now := e.now()
	window := EffectiveWindow(now, model.Window{From: from, To: to}, policy)

	result := &WorkerAvailability{
		WorkerID: workerID,
		Slots:    []model.CandidateSlot{},
		Window:   window,
	}
	if window.Empty() {
		e.logger.Debug("Effective booking window is empty",
			zap.Int64("worker_id", workerID),
			zap.Time("from", from),
			zap.Time("to", to))
		return result, nil
	}

	// Whole days around the window so capacity sees the full daily load and
	// buffers see events just outside the window.
	queryFrom := StartOfDay(window.From.Add(-policy.BufferAfter()), e.loc)
	queryTo := StartOfDay(window.To.Add(policy.BufferBefore()), e.loc).AddDate(0, 0, 1)
	busy := e.aggregator.Collect(ctx, workerID, orgID, queryFrom, queryTo)

	capacity, err := e.workerCapacity(ctx, workerID, orgID)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("capacity: %v", err))
	}

	result.Slots = GenerateSlots(SlotRequest{
		WorkerID:             workerID,
		DurationMinutes:      durationMinutes,
		Window:               window,
		Policy:               policy,
		Busy:                 busy.Intervals,
		DailyCapacityMinutes: capacity,
		Now:                  now,
		Location:             e.loc,
	})
	if result.Slots == nil {
		result.Slots = []model.CandidateSlot{}
	}
	result.Count = len(result.Slots)
	for _, w := range busy.Warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}
	result.Degraded = len(result.Warnings) > 0

	e.metrics.SlotsComputed(result.Count, result.Degraded, time.Since(started))
	e.logger.Debug("Slots computed",
		zap.Int64("worker_id", workerID),
		zap.Int("busy_intervals", len(busy.Intervals)),
		zap.Int("capacity_minutes", capacity),
		zap.Int("slots", result.Count),
		zap.Bool("degraded", result.Degraded))

	return result, nil
}

// workerCapacity returns the daily capacity of a worker. A failed read is
// logged and returned next to the default.
func (e *Engine) workerCapacity(ctx context.Context, workerID, orgID int64) (int, error) {
	minutes, err := e.capacities.GetWorkerCapacity(ctx, workerID, orgID)
	if err != nil {
		e.logger.Warn("Failed to read worker capacity, using default",
			zap.Int64("worker_id", workerID),
			zap.Error(err))
		return DefaultDailyCapacityMinutes, err
	}
	return EffectiveCapacity(minutes), nil
}

// ValidateSlot checks a slot that did not come from FindAvailableSlots
// against the same rules: clean grid, booking window, working day, business
// hours and the daily capacity of the worker. Conflicts with busy time are
// left to the caller.
func (e *Engine) ValidateSlot(ctx context.Context, orgID int64, slot model.CandidateSlot, policy *model.SchedulingPolicy) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	if policy == nil {
		p := e.ResolvePolicy(ctx, orgID)
		policy = &p
	}

	if err := CheckSlot(slot.StartTime, slot.EndTime, e.now(), policy, e.loc); err != nil {
		return err
	}
	return e.CheckCapacity(ctx, orgID, slot)
}

// CheckCapacity returns ErrCapacityExceeded when the slot does not fit the
// remaining capacity of the worker on the day the slot starts.
func (e *Engine) CheckCapacity(ctx context.Context, orgID int64, slot model.CandidateSlot) error {
	if err := validSlot(slot); err != nil {
		return err
	}

	day := StartOfDay(slot.StartTime, e.loc)
	busy := e.aggregator.Collect(ctx, slot.WorkerID, orgID, day, day.AddDate(0, 0, 1))
	capacity, _ := e.workerCapacity(ctx, slot.WorkerID, orgID)

	// partial minutes round up
	minutes := int((slot.EndTime.Sub(slot.StartTime) + time.Minute - 1) / time.Minute)
	if ExceedsCapacity(slot.StartTime, minutes, busy.Intervals, capacity, e.loc) {
		e.logger.Debug("Slot exceeds daily capacity",
			zap.Int64("worker_id", slot.WorkerID),
			zap.Duration("load", DailyLoad(day, busy.Intervals, e.loc)),
			zap.Int("capacity_minutes", capacity),
			zap.Int("requested_minutes", minutes))
		return fmt.Errorf("%w: worker %d on %s", ErrCapacityExceeded, slot.WorkerID, day.Format("02.01.2006"))
	}
	return nil
}

func validSlot(slot model.CandidateSlot) error {
	if slot.WorkerID <= 0 {
		return ErrInvalidWorker
	}
	if !slot.StartTime.Before(slot.EndTime) {
		return ErrInvalidInterval
	}
	return nil
}

// RescheduleCheck explains whether an existing event may move to a new range.
type RescheduleCheck struct {
	Allowed   bool                 `json:"allowed"`
	Conflicts []model.BusyInterval `json:"conflicts"`
	Degraded  bool                 `json:"degraded"`
	Warnings  []string             `json:"warnings,omitempty"`
}

// CheckReschedule tests moving the event eventID of a worker to
// [newStart, newEnd). The event itself is excluded from the busy set.
func (e *Engine) CheckReschedule(ctx context.Context, orgID, workerID int64, eventID string, newStart, newEnd time.Time) (*RescheduleCheck, error) {
	if workerID <= 0 {
		return nil, ErrInvalidWorker
	}
	if !newStart.Before(newEnd) {
		return nil, ErrInvalidInterval
	}

	policy := e.ResolvePolicy(ctx, orgID)
	busy := e.aggregator.Collect(ctx, workerID, orgID,
		newStart.Add(-policy.BufferAfter()), newEnd.Add(policy.BufferBefore()))

	check := &RescheduleCheck{
		Conflicts: ConflictingIntervals(newStart, newEnd, busy.Intervals, eventID, &policy),
		Degraded:  busy.Degraded(),
	}
	check.Allowed = len(check.Conflicts) == 0
	if check.Conflicts == nil {
		check.Conflicts = []model.BusyInterval{}
	}
	for _, w := range busy.Warnings {
		check.Warnings = append(check.Warnings, w.Error())
	}

	e.logger.Debug("Reschedule checked",
		zap.Int64("worker_id", workerID),
		zap.String("event_id", eventID),
		zap.Bool("allowed", check.Allowed),
		zap.Int("conflicts", len(check.Conflicts)))

	return check, nil
}

// Busy returns the merged busy set of a worker for [from, to).
func (e *Engine) Busy(ctx context.Context, orgID, workerID int64, from, to time.Time) Collection {
	return e.aggregator.Collect(ctx, workerID, orgID, from, to)
}
