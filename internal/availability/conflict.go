package availability

import (
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

const minuteMillis = int64(time.Minute / time.Millisecond)

// Conflicts reports whether the half-open candidate [start, end) overlaps any
// busy interval once that interval is widened by the policy buffers.
// Touching intervals do not conflict. A malformed candidate always conflicts.
func Conflicts(start, end time.Time, busy []model.BusyInterval, policy *model.SchedulingPolicy) bool {
	return ConflictsExcluding(start, end, busy, "", policy)
}

// ConflictsExcluding is Conflicts with the interval identified by excludeID
// left out, which is how an existing event is checked against its own
// worker's calendar when it is moved.
func ConflictsExcluding(start, end time.Time, busy []model.BusyInterval, excludeID string, policy *model.SchedulingPolicy) bool {
	s, e := start.UnixMilli(), end.UnixMilli()
	if s >= e {
		return true
	}

	before, after := bufferMillis(policy)
	for _, b := range busy {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if overlapsBuffered(s, e, b, before, after) {
			return true
		}
	}
	return false
}

// ConflictingIntervals returns every busy interval the candidate collides
// with, in input order. It is used to explain a rejection.
func ConflictingIntervals(start, end time.Time, busy []model.BusyInterval, excludeID string, policy *model.SchedulingPolicy) []model.BusyInterval {
	s, e := start.UnixMilli(), end.UnixMilli()
	before, after := bufferMillis(policy)

	var hits []model.BusyInterval
	for _, b := range busy {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if s >= e || overlapsBuffered(s, e, b, before, after) {
			hits = append(hits, b)
		}
	}
	return hits
}

func bufferMillis(policy *model.SchedulingPolicy) (before, after int64) {
	if policy == nil {
		return 0, 0
	}
	return int64(policy.BufferBeforeMinutes) * minuteMillis, int64(policy.BufferAfterMinutes) * minuteMillis
}

func overlapsBuffered(s, e int64, b model.BusyInterval, before, after int64) bool {
	if !b.Valid() {
		return false
	}
	bufferedStart := b.Start.UnixMilli() - before
	bufferedEnd := b.End.UnixMilli() + after
	return s < bufferedEnd && e > bufferedStart
}
