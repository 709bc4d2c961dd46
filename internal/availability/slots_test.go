package availability

import (
	"testing"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotRequest(now time.Time, policy model.SchedulingPolicy, duration int, busyList ...model.BusyInterval) SlotRequest {
	return SlotRequest{
		WorkerID:             1,
		DurationMinutes:      duration,
		Window:               model.Window{From: now, To: now.AddDate(0, 0, 14)},
		Policy:               &policy,
		Busy:                 busyList,
		DailyCapacityMinutes: 480,
		Now:                  now,
		Location:             time.UTC,
	}
}

func startsOn(slots []model.CandidateSlot, day int) []string {
	var out []string
	for _, s := range slots {
		if StartOfDay(s.StartTime, time.UTC).Equal(at(day, 0, 0)) {
			out = append(out, s.StartTime.Format("15:04"))
		}
	}
	return out
}

func TestAlignToGrid(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{at(0, 9, 0), at(0, 9, 0)},
		{at(0, 9, 1), at(0, 9, 15)},
		{at(0, 9, 7), at(0, 9, 15)},
		{at(0, 9, 15), at(0, 9, 15)},
		{at(0, 9, 46), at(0, 10, 0)},
		{at(0, 23, 50), at(1, 0, 0)},
		{at(0, 9, 0).Add(time.Second), at(0, 9, 15)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignToGrid(tt.in, time.UTC), tt.in.Format(time.RFC3339Nano))
	}
}

func TestEffectiveWindow(t *testing.T) {
	now := at(0, 7, 5)
	policy := DefaultPolicy()
	policy.MaxAdvanceBookingDays = 3

	w := EffectiveWindow(now, model.Window{From: at(-1, 0, 0), To: at(10, 0, 0)}, &policy)
	assert.Equal(t, at(0, 8, 5), w.From)
	assert.Equal(t, at(3, 7, 5), w.To)

	w = EffectiveWindow(now, model.Window{From: at(1, 9, 0), To: at(1, 12, 0)}, &policy)
	assert.Equal(t, at(1, 9, 0), w.From)
	assert.Equal(t, at(1, 12, 0), w.To)

	w = EffectiveWindow(now, model.Window{From: at(5, 9, 0), To: at(6, 12, 0)}, &policy)
	assert.True(t, w.Empty())
}

func TestGenerateSlotsGridAndBookingWindow(t *testing.T) {
	now := at(0, 7, 5)
	policy := DefaultPolicy()
	policy.MaxAdvanceBookingDays = 9

	slots := GenerateSlots(slotRequest(now, policy, 45))
	require.NotEmpty(t, slots)

	earliest := now.Add(time.Hour)
	latest := now.AddDate(0, 0, 9)
	for i, s := range slots {
		assert.Contains(t, []int{0, 15, 30, 45}, s.StartTime.Minute())
		assert.Zero(t, s.StartTime.Second())
		assert.False(t, s.StartTime.Before(earliest), "slot %s before booking window", s.StartTime)
		assert.False(t, s.StartTime.After(latest), "slot %s after booking window", s.StartTime)
		assert.False(t, s.EndTime.After(latest))
		assert.True(t, s.OnCleanGrid)
		assert.Equal(t, 45, s.DurationMinutes)
		assert.Equal(t, s.StartTime.Add(45*time.Minute), s.EndTime)
		assert.Equal(t, 30, s.BufferBeforeMinutes)
		assert.Equal(t, 30, s.BufferAfterMinutes)
		if i > 0 {
			assert.True(t, slots[i-1].StartTime.Before(s.StartTime), "slots must be chronological")
		}
	}

	// 07:05 + 1h minimum notice rounds up to 08:15.
	assert.Equal(t, at(0, 8, 15), slots[0].StartTime)
}

func TestGenerateSlotsBusinessHoursAndWorkingDays(t *testing.T) {
	now := at(-1, 0, 0) // Sunday midnight
	policy := zeroBufferPolicy()
	policy.MinAdvanceBookingHours = 0

	slots := GenerateSlots(slotRequest(now, policy, 60))

	monday := startsOn(slots, 0)
	require.NotEmpty(t, monday)
	assert.Equal(t, "07:30", monday[0])
	assert.Equal(t, "16:00", monday[len(monday)-1])

	assert.Empty(t, startsOn(slots, -1), "sunday is not a working day")
	assert.Empty(t, startsOn(slots, 5), "saturday is not a working day")
	assert.NotEmpty(t, startsOn(slots, 4), "friday is a working day")
}

func TestGenerateSlotsReturnsEveryValidSlot(t *testing.T) {
	now := at(-1, 0, 0)
	policy := zeroBufferPolicy()
	policy.MinAdvanceBookingHours = 0

	req := slotRequest(now, policy, 60)
	req.Window = model.Window{From: now, To: at(5, 0, 0)}

	// 07:30 through 16:00 every 15 minutes is 35 starts per day, five days.
	assert.Len(t, GenerateSlots(req), 35*5)
}

func TestGenerateSlotsAroundBusyInterval(t *testing.T) {
	now := at(-1, 0, 0)
	existing := busy("job-1", at(0, 10, 0), at(0, 12, 0))

	t.Run("zero buffers allow touching slots", func(t *testing.T) {
		policy := zeroBufferPolicy()
		policy.MinAdvanceBookingHours = 0

		monday := startsOn(GenerateSlots(slotRequest(now, policy, 60, existing)), 0)
		assert.Contains(t, monday, "09:00")
		assert.NotContains(t, monday, "09:15")
		assert.NotContains(t, monday, "10:00")
		assert.NotContains(t, monday, "11:45")
		assert.Contains(t, monday, "12:00")
	})

	t.Run("buffers keep distance", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.MinAdvanceBookingHours = 0

		monday := startsOn(GenerateSlots(slotRequest(now, policy, 60, existing)), 0)
		assert.Contains(t, monday, "08:30")
		assert.NotContains(t, monday, "08:45")
		assert.NotContains(t, monday, "12:15")
		assert.Contains(t, monday, "12:30")
	})
}

func TestGenerateSlotsRespectsDailyCapacity(t *testing.T) {
	now := at(-1, 0, 0)
	policy := zeroBufferPolicy()
	policy.MinAdvanceBookingHours = 0

	// 450 minutes already booked on Monday; 16:00-17:00 is free but another
	// hour would exceed 480.
	long := busy("long", at(0, 7, 30), at(0, 15, 0))
	slots := GenerateSlots(slotRequest(now, policy, 60, long))

	assert.Empty(t, startsOn(slots, 0))
	assert.NotEmpty(t, startsOn(slots, 1))

	// 30 minutes still fit.
	monday := startsOn(GenerateSlots(slotRequest(now, policy, 30, long)), 0)
	assert.Contains(t, monday, "15:00")
	assert.Contains(t, monday, "16:30")
}

func TestGenerateSlotsCapacityBoundary(t *testing.T) {
	now := at(-1, 0, 0)
	policy := zeroBufferPolicy()
	policy.MinAdvanceBookingHours = 0
	policy.BusinessHoursStart = model.NewTimeOfDay(6, 0)
	policy.BusinessHoursEnd = model.NewTimeOfDay(20, 0)

	assert.NotEmpty(t, startsOn(GenerateSlots(slotRequest(now, policy, 480)), 0))
	assert.Empty(t, startsOn(GenerateSlots(slotRequest(now, policy, 481)), 0))
}

func TestGenerateSlotsEdgeCases(t *testing.T) {
	now := at(0, 7, 0)
	policy := DefaultPolicy()

	assert.Empty(t, GenerateSlots(slotRequest(now, policy, 0)), "non-positive duration")
	assert.Empty(t, GenerateSlots(slotRequest(now, policy, 600)), "longer than business hours")

	req := slotRequest(now, policy, 60)
	req.Window = model.Window{From: at(-3, 0, 0), To: at(0, 7, 30)}
	assert.Empty(t, GenerateSlots(req), "window ends before minimum notice")

	req = slotRequest(now, policy, 60)
	req.Policy = nil
	assert.Empty(t, GenerateSlots(req))
}

func TestGenerateSlotsBusyIntervalFromOtherWorkerSourceKinds(t *testing.T) {
	now := at(-1, 0, 0)
	policy := zeroBufferPolicy()
	policy.MinAdvanceBookingHours = 0

	timeOff := model.BusyInterval{ID: "to-1", Start: at(0, 0, 0), End: at(1, 0, 0), Source: model.SourceTimeOff}
	slots := GenerateSlots(slotRequest(now, policy, 60, timeOff))

	assert.Empty(t, startsOn(slots, 0))
	assert.NotEmpty(t, startsOn(slots, 1))
}

func TestCheckSlot(t *testing.T) {
	friday := at(-3, 12, 0)
	policy := DefaultPolicy()

	tests := []struct {
		name       string
		now        time.Time
		start, end time.Time
		want       error
	}{
		{"bookable", friday, at(0, 9, 0), at(0, 10, 0), nil},
		{"ends at closing time", friday, at(0, 16, 0), at(0, 17, 0), nil},
		{"off grid", friday, at(0, 9, 7), at(0, 10, 7), ErrOffGrid},
		{"one second off grid", friday, at(0, 9, 0).Add(time.Second), at(0, 10, 0), ErrOffGrid},
		{"odd start on sunday night", friday, at(-1, 3, 7), at(-1, 14, 47), ErrOffGrid},
		{"inside minimum notice", at(0, 8, 30), at(0, 9, 0), at(0, 10, 0), ErrOutsideBookingWindow},
		{"in the past", friday, at(-4, 9, 0), at(-4, 10, 0), ErrOutsideBookingWindow},
		{"beyond maximum advance", friday, at(38, 9, 0), at(38, 10, 0), ErrOutsideBookingWindow},
		{"sunday", friday, at(-1, 9, 0), at(-1, 10, 0), ErrNotWorkingDay},
		{"saturday", friday, at(5, 9, 0), at(5, 10, 0), ErrNotWorkingDay},
		{"before opening", friday, at(0, 7, 0), at(0, 8, 0), ErrOutsideBusinessHours},
		{"past closing", friday, at(0, 16, 30), at(0, 17, 30), ErrOutsideBusinessHours},
		{"longer than the day", friday, at(0, 7, 30), at(0, 19, 10), ErrOutsideBusinessHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSlot(tt.start, tt.end, tt.now, &policy, time.UTC)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestGeneratedSlotsPassCheckSlot(t *testing.T) {
	now := at(0, 7, 5)
	policy := DefaultPolicy()

	slots := GenerateSlots(slotRequest(now, policy, 45))
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.NoError(t, CheckSlot(s.StartTime, s.EndTime, now, &policy, time.UTC), s.StartTime.String())
	}
}
