package model

import (
	"fmt"
	"time"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at this time of day on the calendar date of day.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

type SchedulingPolicy struct {
	BufferBeforeMinutes           int                   `json:"buffer_before_minutes"`
	BufferAfterMinutes            int                   `json:"buffer_after_minutes"`
	BusinessHoursStart            TimeOfDay             `json:"business_hours_start"`
	BusinessHoursEnd              TimeOfDay             `json:"business_hours_end"`
	WorkingDays                   map[time.Weekday]bool `json:"working_days"`
	MinAdvanceBookingHours        int                   `json:"min_advance_booking_hours"`
	MaxAdvanceBookingDays         int                   `json:"max_advance_booking_days"`
	EnableCustomerSelfScheduling  bool                  `json:"enable_customer_self_scheduling"`
	AutoApproveCustomerSelections bool                  `json:"auto_approve_customer_selections"`
}

func (p *SchedulingPolicy) IsWorkingDay(d time.Weekday) bool {
	return p.WorkingDays[d]
}

func (p *SchedulingPolicy) BufferBefore() time.Duration {
	return time.Duration(p.BufferBeforeMinutes) * time.Minute
}

func (p *SchedulingPolicy) BufferAfter() time.Duration {
	return time.Duration(p.BufferAfterMinutes) * time.Minute
}
