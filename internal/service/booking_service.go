package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/lock"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/notify"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultBookingLockTTL = 10 * time.Second

// CommitmentStore persists booked visits.
type CommitmentStore interface {
	Create(ctx context.Context, c *model.Commitment) error
	GetByID(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
	UpdateState(ctx context.Context, orgID int64, id uuid.UUID, state model.ApprovalState, from ...model.ApprovalState) (*model.Commitment, error)
	ListPending(ctx context.Context, orgID int64) ([]*model.Commitment, error)
}

// Availability is the part of the engine the workflow re-checks slots with.
type Availability interface {
	ResolvePolicy(ctx context.Context, orgID int64) model.SchedulingPolicy
	Busy(ctx context.Context, orgID, workerID int64, from, to time.Time) availability.Collection
	ValidateSlot(ctx context.Context, orgID int64, slot model.CandidateSlot, policy *model.SchedulingPolicy) error
	CheckCapacity(ctx context.Context, orgID int64, slot model.CandidateSlot) error
}

// Locker serializes booking attempts for one worker across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Unlock, error)
}

type BookingRecorder interface {
	Booking(outcome string)
}

// Requester is who asks for the booking.
type Requester struct {
	Kind       model.RequesterKind
	CustomerID int64
	JobID      *int64
}

type BookingService struct {
	commitments CommitmentStore
	engine      Availability
	locker      Locker
	lockTTL     time.Duration
	notifier    notify.Notifier
	metrics     BookingRecorder
	logger      *zap.Logger
}

// NewBookingService builds the workflow. locker, notifier and metrics may be nil.
func NewBookingService(
	commitments CommitmentStore,
	engine Availability,
	locker Locker,
	lockTTL time.Duration,
	notifier notify.Notifier,
	metrics BookingRecorder,
	logger *zap.Logger,
) *BookingService {
	if lockTTL <= 0 {
		lockTTL = DefaultBookingLockTTL
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &BookingService{
		commitments: commitments,
		engine:      engine,
		locker:      locker,
		lockTTL:     lockTTL,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// InitialState decides the approval state of a new booking.
func InitialState(kind model.RequesterKind, policy model.SchedulingPolicy) model.ApprovalState {
	if kind == model.RequesterStaff || policy.AutoApproveCustomerSelections {
		return model.ApprovalStateConfirmed
	}
	return model.ApprovalStatePending
}

// CreateBooking turns a chosen slot into a commitment. A customer slot must
// satisfy every rule FindAvailableSlots applies; staff may book outside the
// policy but not past the daily capacity of the worker. The slot is then
// checked against the current busy time of the worker, and the store refuses
// it if another booking got there first.
func (s *BookingService) CreateBooking(ctx context.Context, orgID int64, slot model.CandidateSlot, req Requester) (*model.Commitment, error) {
	if slot.WorkerID <= 0 {
		return nil, availability.ErrInvalidWorker
	}
	if !slot.StartTime.Before(slot.EndTime) {
		return nil, availability.ErrInvalidInterval
	}
	if req.Kind != model.RequesterCustomer && req.Kind != model.RequesterStaff {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequester, req.Kind)
	}
	if req.Kind == model.RequesterCustomer && req.CustomerID <= 0 {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidRequester)
	}

	policy := s.engine.ResolvePolicy(ctx, orgID)
	if req.Kind == model.RequesterCustomer && !policy.EnableCustomerSelfScheduling {
		s.record("self_scheduling_disabled")
		return nil, ErrSelfSchedulingDisabled
	}

	if s.locker != nil {
		unlock, err := s.locker.Acquire(ctx, fmt.Sprintf("booking:worker:%d", slot.WorkerID), s.lockTTL)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			s.record("locked")
			return nil, ErrBookingInProgress
		case err != nil:
			// The store still refuses overlaps, so a lock outage only costs the fast path.
			s.logger.Warn("Booking lock unavailable", zap.Int64("worker_id", slot.WorkerID), zap.Error(err))
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("Failed to release booking lock", zap.Int64("worker_id", slot.WorkerID), zap.Error(err))
				}
			}()
		}
	}

	if err := s.checkRules(ctx, orgID, slot, req.Kind, &policy); err != nil {
		return nil, err
	}

	from := slot.StartTime.Add(-policy.BufferBefore())
	to := slot.EndTime.Add(policy.BufferAfter())
	busy := s.engine.Busy(ctx, orgID, slot.WorkerID, from, to)
	if availability.Conflicts(slot.StartTime, slot.EndTime, busy.Intervals, &policy) {
		s.record("conflict")
		return nil, ErrSlotTaken
	}

	c := &model.Commitment{
		OrgID:         orgID,
		WorkerID:      slot.WorkerID,
		CustomerID:    req.CustomerID,
		JobID:         req.JobID,
		StartTime:     slot.StartTime,
		EndTime:       slot.EndTime,
		ApprovalState: InitialState(req.Kind, policy),
		RequestedBy:   req.Kind,
	}

	if err := s.commitments.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			s.record("conflict")
			return nil, ErrSlotTaken
		}
		s.record("error")
		return nil, &PersistenceError{Op: "create", Err: err}
	}

	s.record(string(c.ApprovalState))
	s.logger.Info("Booking created",
		zap.String("booking_id", c.ID.String()),
		zap.Int64("org_id", orgID),
		zap.Int64("worker_id", c.WorkerID),
		zap.Int64("customer_id", c.CustomerID),
		zap.String("requested_by", string(req.Kind)),
		zap.String("state", string(c.ApprovalState)),
		zap.Bool("degraded_check", busy.Degraded()),
	)

	s.notify(ctx, notify.EventBookingCreated, c)
	return c, nil
}

func (s *BookingService) checkRules(ctx context.Context, orgID int64, slot model.CandidateSlot, kind model.RequesterKind, policy *model.SchedulingPolicy) error {
	var err error
	if kind == model.RequesterCustomer {
		err = s.engine.ValidateSlot(ctx, orgID, slot, policy)
	} else {
		err = s.engine.CheckCapacity(ctx, orgID, slot)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, availability.ErrCapacityExceeded):
		s.record("capacity")
	default:
		s.record("outside_policy")
	}
	s.logger.Info("Booking refused",
		zap.Int64("org_id", orgID),
		zap.Int64("worker_id", slot.WorkerID),
		zap.Time("start", slot.StartTime),
		zap.String("requested_by", string(kind)),
		zap.Error(err),
	)
	return err
}

// PendingBookings returns bookings of the organization waiting for approval
func (s *BookingService) PendingBookings(ctx context.Context, orgID int64) ([]*model.Commitment, error) {
	list, err := s.commitments.ListPending(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list pending bookings: %w", err)
	}
	return list, nil
}

// ApproveBooking confirms a booking waiting for approval
func (s *BookingService) ApproveBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error) {
	return s.transition(ctx, orgID, id, model.ApprovalStateConfirmed, notify.EventBookingApproved, model.ApprovalStatePending)
}

// RejectBooking declines a booking waiting for approval and frees its time
func (s *BookingService) RejectBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error) {
	return s.transition(ctx, orgID, id, model.ApprovalStateRejected, notify.EventBookingRejected, model.ApprovalStatePending)
}

// CancelBooking cancels a pending or confirmed booking and frees its time
func (s *BookingService) CancelBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error) {
	return s.transition(ctx, orgID, id, model.ApprovalStateCancelled, notify.EventBookingCancelled,
		model.ApprovalStatePending, model.ApprovalStateConfirmed)
}

func (s *BookingService) transition(
	ctx context.Context,
	orgID int64,
	id uuid.UUID,
	to model.ApprovalState,
	event notify.EventType,
	from ...model.ApprovalState,
) (*model.Commitment, error) {
	current, err := s.commitments.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if current == nil {
		return nil, ErrBookingNotFound
	}
	if !containsState(from, current.ApprovalState) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.ApprovalState, to)
	}

	updated, err := s.commitments.UpdateState(ctx, orgID, id, to, from...)
	if err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("%w: state changed concurrently", ErrInvalidTransition)
		}
		return nil, &PersistenceError{Op: "update", Err: err}
	}

	s.logger.Info("Booking state changed",
		zap.String("booking_id", id.String()),
		zap.Int64("org_id", orgID),
		zap.String("from", string(current.ApprovalState)),
		zap.String("to", string(to)),
	)

	s.notify(ctx, event, updated)
	return updated, nil
}

func (s *BookingService) notify(ctx context.Context, t notify.EventType, c *model.Commitment) {
	if err := s.notifier.Notify(ctx, notify.NewEvent(t, c)); err != nil {
		s.logger.Warn("Failed to deliver booking notification",
			zap.String("event", string(t)),
			zap.String("booking_id", c.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *BookingService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.Booking(outcome)
	}
}

func containsState(list []model.ApprovalState, state model.ApprovalState) bool {
	for _, s := range list {
		if s == state {
			return true
		}
	}
	return false
}
