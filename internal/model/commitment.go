package model

import (
	"time"

	"github.com/google/uuid"
)

type ApprovalState string

const (
	ApprovalStatePending   ApprovalState = "pending_approval" // waiting for staff approval
	ApprovalStateConfirmed ApprovalState = "confirmed"
	ApprovalStateRejected  ApprovalState = "rejected"  // rejected by staff
	ApprovalStateCancelled ApprovalState = "cancelled" // cancelled by customer or staff
)

// Active reports whether a commitment in this state still occupies the worker.
func (s ApprovalState) Active() bool {
	return s == ApprovalStatePending || s == ApprovalStateConfirmed
}

type RequesterKind string

const (
	RequesterCustomer RequesterKind = "customer"
	RequesterStaff    RequesterKind = "staff"
)

type Commitment struct {
	ID            uuid.UUID     `json:"id"`
	OrgID         int64         `json:"org_id"`
	WorkerID      int64         `json:"worker_id"`
	CustomerID    int64         `json:"customer_id"`
	JobID         *int64        `json:"job_id,omitempty"` // quote or work order the visit belongs to
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	ApprovalState ApprovalState `json:"approval_state"`
	RequestedBy   RequesterKind `json:"requested_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (c *Commitment) DurationMinutes() int {
	return int(c.EndTime.Sub(c.StartTime) / time.Minute)
}
