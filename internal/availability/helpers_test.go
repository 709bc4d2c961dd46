package availability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
)

// monday is 2026-03-02, a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, 2+day, hour, minute, 0, 0, time.UTC)
}

func busy(id string, start, end time.Time) model.BusyInterval {
	return model.BusyInterval{ID: id, WorkerID: 1, Start: start, End: end, Source: model.SourceCalendar}
}

func zeroBufferPolicy() model.SchedulingPolicy {
	p := DefaultPolicy()
	p.BufferBeforeMinutes = 0
	p.BufferAfterMinutes = 0
	return p
}

type fakePolicyStore struct {
	raw []byte
	err error
}

func (f *fakePolicyStore) GetPolicy(ctx context.Context, orgID int64) ([]byte, error) {
	return f.raw, f.err
}

type fakeCapacityStore struct {
	minutes map[int64]int
	err     error
}

func (f *fakeCapacityStore) GetWorkerCapacity(ctx context.Context, workerID, orgID int64) (*int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.minutes[workerID]; ok {
		return &m, nil
	}
	return nil, nil
}

// fakeSource serves intervals per worker and can be told to fail, block or
// panic for specific workers.
type fakeSource struct {
	kind      model.SourceKind
	intervals map[int64][]model.BusyInterval
	failFor   map[int64]bool
	blockFor  map[int64]bool
	panicFor  map[int64]bool

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Kind() model.SourceKind { return f.kind }

func (f *fakeSource) BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	switch {
	case f.failFor[workerID]:
		return nil, errors.New("source unavailable")
	case f.blockFor[workerID]:
		<-ctx.Done()
		return nil, ctx.Err()
	case f.panicFor[workerID]:
		panic("broken source")
	}
	return f.intervals[workerID], nil
}

func newTestEngine(policy []byte, capacities CapacityStore, now time.Time, sources ...EventSource) *Engine {
	if capacities == nil {
		capacities = &fakeCapacityStore{}
	}
	return NewEngine(
		&fakePolicyStore{raw: policy},
		capacities,
		sources,
		Options{
			Location:      time.UTC,
			SourceTimeout: 50 * time.Millisecond,
			Clock:         func() time.Time { return now },
		},
		zap.NewNop(),
	)
}
