package service

import (
	"errors"
	"fmt"
)

var (
	ErrSlotTaken              = errors.New("slot is no longer available")
	ErrBookingInProgress      = errors.New("another booking for this worker is in progress")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrInvalidTransition      = errors.New("booking cannot change to the requested state")
	ErrSelfSchedulingDisabled = errors.New("customer self-scheduling is disabled")
	ErrInvalidRequester       = errors.New("invalid requester")
)

// PersistenceError wraps a failed write of a booking. Nothing was stored.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s booking: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
