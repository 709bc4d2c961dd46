package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/lock"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/notify"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore behaves like the calendar table: overlapping active entries of
// one worker are refused atomically.
type fakeStore struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*model.Commitment
	createErr error
	// beforeCreate runs inside Create before the overlap check.
	beforeCreate func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[uuid.UUID]*model.Commitment)}
}

func (f *fakeStore) Create(_ context.Context, c *model.Commitment) error {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, other := range f.items {
		if other.WorkerID == c.WorkerID && other.ApprovalState.Active() &&
			other.StartTime.Before(c.EndTime) && other.EndTime.After(c.StartTime) {
			return repository.ErrSlotTaken
		}
	}

	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	f.items[c.ID] = &stored
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.items[id]
	if !ok || c.OrgID != orgID {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) UpdateState(_ context.Context, orgID int64, id uuid.UUID, state model.ApprovalState, from ...model.ApprovalState) (*model.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.items[id]
	if !ok || c.OrgID != orgID || !containsState(from, c.ApprovalState) {
		return nil, repository.ErrStateChanged
	}
	c.ApprovalState = state
	copied := *c
	return &copied, nil
}

func (f *fakeStore) ListPending(_ context.Context, orgID int64) ([]*model.Commitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var list []*model.Commitment
	for _, c := range f.items {
		if c.OrgID == orgID && c.ApprovalState == model.ApprovalStatePending {
			copied := *c
			list = append(list, &copied)
		}
	}
	return list, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// fakeEngine reports the store's active commitments as calendar busy time.
// Slot rules are checked by a real engine reading the same busy time.
type fakeEngine struct {
	policy   model.SchedulingPolicy
	store    *fakeStore
	blind    bool
	capacity *int
	rules    *availability.Engine
}

// fridayNoon is the clock of the rule engine, a weekend before monday9.
var fridayNoon = time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

func newFakeEngine(policy model.SchedulingPolicy, store *fakeStore) *fakeEngine {
	e := &fakeEngine{policy: policy, store: store}
	e.rules = availability.NewEngine(e, e, []availability.EventSource{e}, availability.Options{
		Location: time.UTC,
		Clock:    func() time.Time { return fridayNoon },
	}, zap.NewNop())
	return e
}

// GetPolicy leaves the rule engine on defaults; the service passes its policy.
func (e *fakeEngine) GetPolicy(context.Context, int64) ([]byte, error) { return nil, nil }

func (e *fakeEngine) GetWorkerCapacity(context.Context, int64, int64) (*int, error) {
	return e.capacity, nil
}

func (e *fakeEngine) Kind() model.SourceKind { return model.SourceCalendar }

func (e *fakeEngine) BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error) {
	return e.Busy(ctx, orgID, workerID, from, to).Intervals, nil
}

func (e *fakeEngine) ValidateSlot(ctx context.Context, orgID int64, slot model.CandidateSlot, policy *model.SchedulingPolicy) error {
	return e.rules.ValidateSlot(ctx, orgID, slot, policy)
}

func (e *fakeEngine) CheckCapacity(ctx context.Context, orgID int64, slot model.CandidateSlot) error {
	return e.rules.CheckCapacity(ctx, orgID, slot)
}

func (e *fakeEngine) ResolvePolicy(context.Context, int64) model.SchedulingPolicy {
	return e.policy
}

func (e *fakeEngine) Busy(_ context.Context, _ int64, workerID int64, from, to time.Time) availability.Collection {
	if e.blind {
		return availability.Collection{}
	}

	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	var coll availability.Collection
	for _, c := range e.store.items {
		if c.WorkerID == workerID && c.ApprovalState.Active() && c.StartTime.Before(to) && c.EndTime.After(from) {
			coll.Intervals = append(coll.Intervals, model.BusyInterval{
				ID:       c.ID.String(),
				WorkerID: workerID,
				Start:    c.StartTime,
				End:      c.EndTime,
				Source:   model.SourceCalendar,
			})
		}
	}
	return coll
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *memoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (lock.Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, lock.ErrNotAcquired
	}
	l.held[key] = true

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingRecorder) Booking(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func selfSchedulingPolicy() model.SchedulingPolicy {
	p := availability.DefaultPolicy()
	p.EnableCustomerSelfScheduling = true
	return p
}

func testSlot(workerID int64, start time.Time, minutes int) model.CandidateSlot {
	return model.CandidateSlot{
		WorkerID:        workerID,
		StartTime:       start,
		EndTime:         start.Add(time.Duration(minutes) * time.Minute),
		DurationMinutes: minutes,
		OnCleanGrid:     true,
	}
}

var monday9 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *BookingService
	store    *fakeStore
	engine   *fakeEngine
	notifier *recordingNotifier
	metrics  *countingRecorder
}

func newFixture(policy model.SchedulingPolicy, locker Locker) *fixture {
	store := newFakeStore()
	engine := newFakeEngine(policy, store)
	notifier := &recordingNotifier{}
	metrics := &countingRecorder{}
	svc := NewBookingService(store, engine, locker, time.Second, notifier, metrics, zap.NewNop())
	return &fixture{svc: svc, store: store, engine: engine, notifier: notifier, metrics: metrics}
}

func TestInitialState(t *testing.T) {
	manual := availability.DefaultPolicy()
	auto := availability.DefaultPolicy()
	auto.AutoApproveCustomerSelections = true

	assert.Equal(t, model.ApprovalStateConfirmed, InitialState(model.RequesterStaff, manual))
	assert.Equal(t, model.ApprovalStateConfirmed, InitialState(model.RequesterStaff, auto))
	assert.Equal(t, model.ApprovalStatePending, InitialState(model.RequesterCustomer, manual))
	assert.Equal(t, model.ApprovalStateConfirmed, InitialState(model.RequesterCustomer, auto))
}

func TestCreateBookingStates(t *testing.T) {
	tests := []struct {
		name        string
		autoApprove bool
		kind        model.RequesterKind
		want        model.ApprovalState
	}{
		{"staff", false, model.RequesterStaff, model.ApprovalStateConfirmed},
		{"customer needs approval", false, model.RequesterCustomer, model.ApprovalStatePending},
		{"customer auto approved", true, model.RequesterCustomer, model.ApprovalStateConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := selfSchedulingPolicy()
			policy.AutoApproveCustomerSelections = tt.autoApprove
			f := newFixture(policy, nil)

			c, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: tt.kind, CustomerID: 42})
			require.NoError(t, err)

			assert.Equal(t, tt.want, c.ApprovalState)
			assert.Equal(t, tt.kind, c.RequestedBy)
			assert.NotEqual(t, uuid.Nil, c.ID)
			assert.Equal(t, int64(7), c.WorkerID)
			assert.Equal(t, 60, c.DurationMinutes())

			require.Len(t, f.notifier.events, 1)
			assert.Equal(t, notify.EventBookingCreated, f.notifier.events[0].Type)
			assert.Equal(t, 1, f.metrics.outcomes[string(tt.want)])
		})
	}
}

func TestCreateBookingRejectsInvalidInput(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	ctx := context.Background()
	staff := Requester{Kind: model.RequesterStaff, CustomerID: 1}

	_, err := f.svc.CreateBooking(ctx, 1, testSlot(0, monday9, 60), staff)
	assert.ErrorIs(t, err, availability.ErrValidation)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 0), staff)
	assert.ErrorIs(t, err, availability.ErrInvalidInterval)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), Requester{Kind: "robot"})
	assert.ErrorIs(t, err, ErrInvalidRequester)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterCustomer})
	assert.ErrorIs(t, err, ErrInvalidRequester, "customers must identify themselves")

	assert.Zero(t, f.store.count())
}

func TestCreateBookingSelfSchedulingDisabled(t *testing.T) {
	f := newFixture(availability.DefaultPolicy(), nil)

	_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterCustomer, CustomerID: 42})
	assert.ErrorIs(t, err, ErrSelfSchedulingDisabled)
	assert.Zero(t, f.store.count())

	_, err = f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterStaff, CustomerID: 42})
	assert.NoError(t, err, "staff can always book")
}

func TestCreateBookingEnforcesPolicyForCustomers(t *testing.T) {
	sunday := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		start   time.Time
		minutes int
		want    error
	}{
		{"sunday", sunday, 60, availability.ErrNotWorkingDay},
		{"odd minute", monday9.Add(7 * time.Minute), 60, availability.ErrOffGrid},
		{"before opening", monday9.Add(-3 * time.Hour), 60, availability.ErrOutsideBusinessHours},
		{"runs past closing", monday9.Add(7*time.Hour + 30*time.Minute), 60, availability.ErrOutsideBusinessHours},
		{"in the past", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), 60, availability.ErrOutsideBookingWindow},
		{"inside minimum notice", fridayNoon.Add(30 * time.Minute), 30, availability.ErrOutsideBookingWindow},
		{"beyond maximum advance", monday9.AddDate(0, 0, 31), 60, availability.ErrOutsideBookingWindow},
		{"odd start on a past sunday night", time.Date(2025, 1, 5, 3, 7, 0, 0, time.UTC), 700, availability.ErrOffGrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(selfSchedulingPolicy(), nil)

			_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, tt.start, tt.minutes), Requester{Kind: model.RequesterCustomer, CustomerID: 42})
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, availability.ErrValidation)
			assert.Zero(t, f.store.count())
			assert.Empty(t, f.notifier.events)
			assert.Equal(t, 1, f.metrics.outcomes["outside_policy"])
		})
	}
}

func TestCreateBookingStaffMayBookOutsidePolicy(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	staff := Requester{Kind: model.RequesterStaff}

	// urgent sunday call out at an odd minute
	c, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, time.Date(2026, 3, 1, 3, 7, 0, 0, time.UTC), 90), staff)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateConfirmed, c.ApprovalState)
	assert.Zero(t, c.CustomerID)
}

func TestCreateBookingDailyCapacity(t *testing.T) {
	for _, kind := range []model.RequesterKind{model.RequesterStaff, model.RequesterCustomer} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(selfSchedulingPolicy(), nil)
			capacity := 120
			f.engine.capacity = &capacity
			ctx := context.Background()
			req := Requester{Kind: kind, CustomerID: 42}

			_, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 90), req)
			require.NoError(t, err)

			_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.Add(3*time.Hour), 60), req)
			assert.ErrorIs(t, err, availability.ErrCapacityExceeded)
			assert.Equal(t, 1, f.metrics.outcomes["capacity"])

			_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.Add(3*time.Hour), 30), req)
			assert.NoError(t, err, "exactly filling the day is allowed")

			_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.AddDate(0, 0, 1), 120), req)
			assert.NoError(t, err, "capacity is per day")
			assert.Equal(t, 3, f.store.count())
		})
	}
}

func TestCreateBookingZeroCapacityWorker(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	zero := 0
	f.engine.capacity = &zero

	_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 15), Requester{Kind: model.RequesterStaff})
	assert.ErrorIs(t, err, availability.ErrCapacityExceeded)
	assert.Zero(t, f.store.count())
}

func TestCreateBookingRevalidatesWithBuffers(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	ctx := context.Background()
	staff := Requester{Kind: model.RequesterStaff, CustomerID: 42}

	_, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), staff)
	require.NoError(t, err)

	// 10:00 touches the booking but violates the 30 minute buffer.
	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.Add(time.Hour), 60), staff)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.Add(90*time.Minute), 60), staff)
	assert.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(8, monday9, 60), staff)
	assert.NoError(t, err, "other workers are not affected")

	assert.Equal(t, 1, f.metrics.outcomes["conflict"])
}

func TestCreateBookingStoreRefusesOverlap(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	f.engine.blind = true
	ctx := context.Background()
	staff := Requester{Kind: model.RequesterStaff, CustomerID: 42}

	_, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), staff)
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, 1, testSlot(7, monday9.Add(30*time.Minute), 60), staff)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, 1, f.store.count())
}

func TestCreateBookingPersistenceError(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	f.store.createErr = errors.New("connection reset")

	_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterStaff, CustomerID: 42})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
	assert.Empty(t, f.notifier.events)
}

func TestCreateBookingNotificationFailureKeepsBooking(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	f.notifier.err = errors.New("telegram unavailable")

	c, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterCustomer, CustomerID: 42})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatePending, c.ApprovalState)
	assert.Equal(t, 1, f.store.count())
}

func TestCreateBookingLockOutageFallsBackToStore(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), &memoryLocker{err: errors.New("redis: connection refused")})

	_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterStaff, CustomerID: 42})
	assert.NoError(t, err)
}

func TestCreateBookingConcurrentRequests(t *testing.T) {
	for _, withLock := range []bool{false, true} {
		name := "store only"
		if withLock {
			name = "with lock"
		}

		t.Run(name, func(t *testing.T) {
			var locker Locker
			if withLock {
				locker = &memoryLocker{}
			}
			f := newFixture(selfSchedulingPolicy(), locker)

			// Every request passes the busy check before any of them inserts.
			const n = 20
			var ready sync.WaitGroup
			ready.Add(n)
			f.engine.blind = true
			f.store.beforeCreate = func() {
				ready.Done()
				ready.Wait()
			}
			if withLock {
				// Only one request reaches the store when the lock works.
				f.store.beforeCreate = nil
			}

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				success int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(customer int64) {
					defer wg.Done()
					_, err := f.svc.CreateBooking(context.Background(), 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterStaff, CustomerID: customer})
					if err == nil {
						mu.Lock()
						success++
						mu.Unlock()
						return
					}
					if !errors.Is(err, ErrSlotTaken) && !errors.Is(err, ErrBookingInProgress) {
						t.Errorf("unexpected error: %v", err)
					}
				}(int64(i + 1))
			}
			wg.Wait()

			assert.Equal(t, 1, success)
			assert.Equal(t, 1, f.store.count())
		})
	}
}

func TestApproveBooking(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	ctx := context.Background()

	c, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterCustomer, CustomerID: 42})
	require.NoError(t, err)

	pending, err := f.svc.PendingBookings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := f.svc.ApproveBooking(ctx, 1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateConfirmed, approved.ApprovalState)

	stored, err := f.store.GetByID(ctx, 1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateConfirmed, stored.ApprovalState)

	pending, err = f.svc.PendingBookings(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.ApproveBooking(ctx, 1, c.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, notify.EventBookingApproved, f.notifier.events[1].Type)
}

func TestRejectAndCancelBooking(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	ctx := context.Background()
	customer := Requester{Kind: model.RequesterCustomer, CustomerID: 42}

	pending, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), customer)
	require.NoError(t, err)

	rejected, err := f.svc.RejectBooking(ctx, 1, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateRejected, rejected.ApprovalState)

	_, err = f.svc.CancelBooking(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "rejected is terminal")

	// The rejected booking no longer occupies the worker.
	confirmed, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterStaff, CustomerID: 43})
	require.NoError(t, err)

	_, err = f.svc.RejectBooking(ctx, 1, confirmed.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "only pending bookings can be rejected")

	cancelled, err := f.svc.CancelBooking(ctx, 1, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateCancelled, cancelled.ApprovalState)
}

func TestTransitionUnknownBooking(t *testing.T) {
	f := newFixture(selfSchedulingPolicy(), nil)
	ctx := context.Background()

	_, err := f.svc.ApproveBooking(ctx, 1, uuid.New())
	assert.ErrorIs(t, err, ErrBookingNotFound)

	c, err := f.svc.CreateBooking(ctx, 1, testSlot(7, monday9, 60), Requester{Kind: model.RequesterCustomer, CustomerID: 42})
	require.NoError(t, err)

	_, err = f.svc.ApproveBooking(ctx, 2, c.ID)
	assert.ErrorIs(t, err, ErrBookingNotFound, "bookings of other organizations are invisible")
}
