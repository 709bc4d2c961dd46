package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrSlotTaken is returned when another active entry of the worker overlaps the commitment.
	ErrSlotTaken = errors.New("slot is already taken")
	// ErrStateChanged is returned when the commitment left the expected state before the update.
	ErrStateChanged = errors.New("commitment state changed")
)

// CommitmentRepository stores booked visits as calendar entries, so the
// calendar source reports them as busy time of the worker.
type CommitmentRepository struct {
	*base.Repository
}

func NewCommitmentRepository(b *base.Repository) *CommitmentRepository {
	return &CommitmentRepository{Repository: b}
}

const commitmentColumns = `id, org_id, worker_id, COALESCE(customer_id, 0), job_id, start_time, end_time, approval_state, requested_by, created_at, updated_at`

func scanCommitment(row pgx.Row) (*model.Commitment, error) {
	var c model.Commitment
	err := row.Scan(
		&c.ID,
		&c.OrgID,
		&c.WorkerID,
		&c.CustomerID,
		&c.JobID,
		&c.StartTime,
		&c.EndTime,
		&c.ApprovalState,
		&c.RequestedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCommitments(rows pgx.Rows) ([]*model.Commitment, error) {
	defer rows.Close()

	var list []*model.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		list = append(list, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read commitments: %w", err)
	}
	return list, nil
}

// Create inserts the commitment unless an active calendar entry of the same
// worker overlaps it. Concurrent inserts for one worker are serialized with
// a transaction scoped advisory lock, so two overlapping requests can never
// both succeed.
func (r *CommitmentRepository) Create(ctx context.Context, c *model.Commitment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	return r.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, c.WorkerID); err != nil {
			return fmt.Errorf("lock worker calendar: %w", err)
		}

		overlap := `
			SELECT EXISTS (
				SELECT 1
				FROM calendar_events
				WHERE org_id = $1
				  AND (worker_id = $2 OR $2 = ANY(assignee_ids))
				  AND approval_state IN ('pending_approval', 'confirmed')
				  AND start_time < $4
				  AND end_time > $3
			)
		`
		var taken bool
		if err := tx.QueryRow(ctx, overlap, c.OrgID, c.WorkerID, c.StartTime, c.EndTime).Scan(&taken); err != nil {
			return fmt.Errorf("check overlapping entries: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		insert := `
			INSERT INTO calendar_events (id, org_id, worker_id, customer_id, job_id, title, start_time, end_time, approval_state, requested_by)
			VALUES ($1, $2, $3, NULLIF($4::bigint, 0), $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`
		title := commitmentTitle(c)
		err := tx.QueryRow(
			ctx, insert,
			c.ID,
			c.OrgID,
			c.WorkerID,
			c.CustomerID,
			c.JobID,
			title,
			c.StartTime,
			c.EndTime,
			c.ApprovalState,
			c.RequestedBy,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create commitment: %w", err)
		}

		return nil
	})
}

// GetByID returns a commitment of the organization, nil if not found
func (r *CommitmentRepository) GetByID(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM calendar_events WHERE id = $1 AND org_id = $2 AND worker_id IS NOT NULL`

	c, err := scanCommitment(r.QueryRow(ctx, query, id, orgID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get commitment by id: %w", err)
	}

	return c, nil
}

// UpdateState moves a commitment to state if it is currently in one of from.
// Returns ErrStateChanged when nothing matched.
func (r *CommitmentRepository) UpdateState(ctx context.Context, orgID int64, id uuid.UUID, state model.ApprovalState, from ...model.ApprovalState) (*model.Commitment, error) {
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	query := `
		UPDATE calendar_events
		SET approval_state = $1, updated_at = NOW()
		WHERE id = $2 AND org_id = $3 AND approval_state = ANY($4)
		RETURNING ` + commitmentColumns

	c, err := scanCommitment(r.QueryRow(ctx, query, state, id, orgID, expected))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, ErrStateChanged
		}
		return nil, fmt.Errorf("update commitment state: %w", err)
	}

	return c, nil
}

// ListPending returns commitments of the organization waiting for approval, oldest first
func (r *CommitmentRepository) ListPending(ctx context.Context, orgID int64) ([]*model.Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM calendar_events
		WHERE org_id = $1 AND approval_state = 'pending_approval' AND worker_id IS NOT NULL
		ORDER BY created_at
	`

	rows, err := r.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list pending commitments: %w", err)
	}
	return collectCommitments(rows)
}

// ListPendingOlderThan returns pending commitments of every organization
// created before cutoff
func (r *CommitmentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM calendar_events
		WHERE approval_state = 'pending_approval' AND worker_id IS NOT NULL AND created_at < $1
		ORDER BY created_at
	`

	rows, err := r.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale pending commitments: %w", err)
	}
	return collectCommitments(rows)
}

// commitmentTitle names the calendar entry. Staff holds carry no customer.
func commitmentTitle(c *model.Commitment) string {
	if c.CustomerID <= 0 {
		return "Internal hold"
	}
	return fmt.Sprintf("Visit for customer %d", c.CustomerID)
}
