package notify

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking.created"
	EventBookingApproved  EventType = "booking.approved"
	EventBookingRejected  EventType = "booking.rejected"
	EventBookingCancelled EventType = "booking.cancelled"
	EventPendingReminder  EventType = "booking.pending_reminder" // still waiting for approval
)

// Event is a change of a booked visit that staff or other systems care about.
type Event struct {
	Type       EventType         `json:"type"`
	Commitment *model.Commitment `json:"commitment"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func NewEvent(t EventType, c *model.Commitment) Event {
	return Event{Type: t, Commitment: c, OccurredAt: time.Now()}
}

// Notifier delivers booking events. Delivery failures are reported to the
// caller, which must not roll back the booking because of them.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi sends every event to all notifiers, even when some of them fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
