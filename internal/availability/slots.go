package availability

import (
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

// GridStep is the spacing of offered start times. Customers never see
// irregular starts such as 9:07.
const GridStep = 15 * time.Minute

// SlotRequest is everything GenerateSlots needs for one worker.
type SlotRequest struct {
	WorkerID             int64
	DurationMinutes      int
	Window               model.Window
	Policy               *model.SchedulingPolicy
	Busy                 []model.BusyInterval
	DailyCapacityMinutes int
	Now                  time.Time
	Location             *time.Location
}

// EffectiveWindow intersects the requested window with the booking window
// [now+minAdvance, now+maxAdvance] of the policy.
func EffectiveWindow(now time.Time, requested model.Window, policy *model.SchedulingPolicy) model.Window {
	earliest := now.Add(time.Duration(policy.MinAdvanceBookingHours) * time.Hour)
	latest := now.AddDate(0, 0, policy.MaxAdvanceBookingDays)

	w := requested
	if w.From.Before(earliest) {
		w.From = earliest
	}
	if w.To.After(latest) {
		w.To = latest
	}
	return w
}

// AlignToGrid rounds t up to the next GridStep boundary of local wall time.
func AlignToGrid(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	step := int(GridStep / time.Minute)
	aligned := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute()/step*step, 0, 0, loc)
	if aligned.Before(t) {
		aligned = aligned.Add(GridStep)
	}
	return aligned
}

// CheckSlot applies the rules of GenerateSlots to a single slot chosen by a
// client: clean grid start, booking window, working day and business hours.
// Capacity and conflicts depend on busy time and are checked by the engine.
func CheckSlot(start, end, now time.Time, policy *model.SchedulingPolicy, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if !AlignToGrid(start, loc).Equal(start) {
		return ErrOffGrid
	}

	w := EffectiveWindow(now, model.Window{From: start, To: end}, policy)
	if !w.From.Equal(start) || !w.To.Equal(end) {
		return ErrOutsideBookingWindow
	}

	return withinBusinessHours(start, end, policy, loc)
}

func withinBusinessHours(start, end time.Time, policy *model.SchedulingPolicy, loc *time.Location) error {
	local := start.In(loc)
	if !policy.IsWorkingDay(local.Weekday()) {
		return ErrNotWorkingDay
	}
	if start.Before(policy.BusinessHoursStart.On(local, loc)) || end.After(policy.BusinessHoursEnd.On(local, loc)) {
		return ErrOutsideBusinessHours
	}
	return nil
}

// GenerateSlots enumerates every bookable start on the clean grid inside the
// effective window, in chronological order. A grid point survives when the
// whole appointment fits the window, falls on a working day within business
// hours, keeps the worker under daily capacity and does not collide with
// any buffered busy interval. There is no cap on the number of slots.
func GenerateSlots(req SlotRequest) []model.CandidateSlot {
	if req.DurationMinutes <= 0 || req.Policy == nil {
		return nil
	}
	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	policy := req.Policy

	window := EffectiveWindow(req.Now, req.Window, policy)
	if window.Empty() {
		return nil
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	loads := make(map[int64]time.Duration)

	var slots []model.CandidateSlot
	for start := AlignToGrid(window.From, loc); ; start = start.Add(GridStep) {
		end := start.Add(duration)
		if end.After(window.To) {
			break
		}

		if withinBusinessHours(start, end, policy, loc) != nil {
			continue
		}

		day := StartOfDay(start, loc)
		load, ok := loads[day.Unix()]
		if !ok {
			load = DailyLoad(day, req.Busy, loc)
			loads[day.Unix()] = load
		}
		if exceeds(load, req.DurationMinutes, req.DailyCapacityMinutes) {
			continue
		}

		if Conflicts(start, end, req.Busy, policy) {
			continue
		}

		slots = append(slots, model.CandidateSlot{
			WorkerID:            req.WorkerID,
			StartTime:           start,
			EndTime:             end,
			DurationMinutes:     req.DurationMinutes,
			BufferBeforeMinutes: policy.BufferBeforeMinutes,
			BufferAfterMinutes:  policy.BufferAfterMinutes,
			OnCleanGrid:         true,
		})
	}
	return slots
}
