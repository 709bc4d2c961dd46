package availability

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
)

// ErrValidation is the parent of every input error the engine reports to
// callers. No slots are computed for a request that fails validation.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidDuration = fmt.Errorf("%w: duration must be positive", ErrValidation)
	ErrEmptyRoster     = fmt.Errorf("%w: worker roster is empty", ErrValidation)
	ErrInvalidInterval = fmt.Errorf("%w: start must be before end", ErrValidation)
	ErrInvalidWorker   = fmt.Errorf("%w: worker id must be positive", ErrValidation)

	ErrOffGrid              = fmt.Errorf("%w: start is not on the 15 minute grid", ErrValidation)
	ErrOutsideBookingWindow = fmt.Errorf("%w: slot is outside the booking window", ErrValidation)
	ErrNotWorkingDay        = fmt.Errorf("%w: not a working day", ErrValidation)
	ErrOutsideBusinessHours = fmt.Errorf("%w: slot is outside business hours", ErrValidation)
)

// ErrCapacityExceeded means the slot would push the worker past the daily
// capacity of its day.
var ErrCapacityExceeded = errors.New("worker daily capacity exceeded")

// ErrInvalidDocument means a stored settings document is not a JSON object.
var ErrInvalidDocument = errors.New("settings document is not a JSON object")

// ConfigurationError describes a stored policy that could not be read or
// parsed. It is never returned to callers; defaults are substituted.
type ConfigurationError struct {
	OrgID int64
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("scheduling policy for org %d: %v", e.OrgID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SourceQueryError reports a busy-interval source that failed or timed out.
// The source contributes no intervals and the result is marked degraded.
type SourceQueryError struct {
	Source   model.SourceKind
	WorkerID int64
	Err      error
}

func (e *SourceQueryError) Error() string {
	return fmt.Sprintf("query %s intervals for worker %d: %v", e.Source, e.WorkerID, e.Err)
}

func (e *SourceQueryError) Unwrap() error { return e.Err }
