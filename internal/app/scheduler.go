package app

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/notify"
	"go.uber.org/zap"
)

const (
	DefaultReminderAfter = 2 * time.Hour
	reminderInterval     = 15 * time.Minute
)

// PendingLister finds bookings that have been waiting for approval since before cutoff
type PendingLister interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Commitment, error)
}

// Scheduler runs background jobs
type Scheduler struct {
	pending       PendingLister
	notifier      notify.Notifier
	reminderAfter time.Duration
	interval      time.Duration
	now           func() time.Time
	logger        *zap.Logger

	// bookings already reminded about, so staff hears about each one once
	reminded map[string]bool
	stopOnce sync.Once
	stopChan chan struct{}
}

func NewScheduler(pending PendingLister, notifier notify.Notifier, reminderAfter time.Duration, logger *zap.Logger) *Scheduler {
	if reminderAfter <= 0 {
		reminderAfter = DefaultReminderAfter
	}
	return &Scheduler{
		pending:       pending,
		notifier:      notifier,
		reminderAfter: reminderAfter,
		interval:      reminderInterval,
		now:           time.Now,
		logger:        logger,
		reminded:      make(map[string]bool),
		stopChan:      make(chan struct{}),
	}
}

// Start launches the background jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("reminder_after", s.reminderAfter))
	go s.runReminderTask(ctx)
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
}

func (s *Scheduler) runReminderTask(ctx context.Context) {
	s.remindPending(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.remindPending(ctx)
		case <-s.stopChan:
			s.logger.Info("Pending reminder task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Pending reminder task cancelled")
			return
		}
	}
}

// remindPending notifies staff about bookings pending for longer than
// reminderAfter. Returns the number of reminders sent.
func (s *Scheduler) remindPending(ctx context.Context) int {
	list, err := s.pending.ListPendingOlderThan(ctx, s.now().Add(-s.reminderAfter))
	if err != nil {
		s.logger.Error("Failed to list pending bookings", zap.Error(err))
		return 0
	}

	stillPending := make(map[string]bool, len(list))
	sent := 0
	for _, c := range list {
		id := c.ID.String()
		stillPending[id] = true
		if s.reminded[id] {
			continue
		}

		if err := s.notifier.Notify(ctx, notify.NewEvent(notify.EventPendingReminder, c)); err != nil {
			s.logger.Warn("Failed to send pending reminder", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		s.reminded[id] = true
		sent++
	}

	// approved or rejected bookings leave the list
	for id := range s.reminded {
		if !stillPending[id] {
			delete(s.reminded, id)
		}
	}

	if sent > 0 {
		s.logger.Info("Pending booking reminders sent", zap.Int("count", sent))
	}
	return sent
}
