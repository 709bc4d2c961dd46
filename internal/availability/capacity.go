package availability

import (
	"context"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

// CapacityStore returns the configured daily capacity of a worker in
// minutes, or nil when none is set.
type CapacityStore interface {
	GetWorkerCapacity(ctx context.Context, workerID, orgID int64) (*int, error)
}

// EffectiveCapacity substitutes the default for an unset capacity. A stored
// zero means the worker takes no work that day.
func EffectiveCapacity(minutes *int) int {
	if minutes == nil {
		return DefaultDailyCapacityMinutes
	}
	if *minutes < 0 {
		return 0
	}
	return *minutes
}

// StartOfDay returns local midnight of the calendar day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// DailyLoad sums the part of every busy interval that falls within the
// calendar day [dayStart, next midnight). Overlapping records each count.
func DailyLoad(dayStart time.Time, busy []model.BusyInterval, loc *time.Location) time.Duration {
	dayStart = StartOfDay(dayStart, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var total time.Duration
	for _, b := range busy {
		if !b.Valid() || !b.Start.Before(dayEnd) || !b.End.After(dayStart) {
			continue
		}
		s, e := b.Start, b.End
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(dayEnd) {
			e = dayEnd
		}
		total += e.Sub(s)
	}
	return total
}

// ExceedsCapacity reports whether booking durationMinutes starting at start
// would push the worker past capacityMinutes on the candidate's calendar day.
func ExceedsCapacity(start time.Time, durationMinutes int, busy []model.BusyInterval, capacityMinutes int, loc *time.Location) bool {
	load := DailyLoad(start, busy, loc)
	return exceeds(load, durationMinutes, capacityMinutes)
}

func exceeds(load time.Duration, durationMinutes, capacityMinutes int) bool {
	requested := time.Duration(durationMinutes) * time.Minute
	return load+requested > time.Duration(capacityMinutes)*time.Minute
}
