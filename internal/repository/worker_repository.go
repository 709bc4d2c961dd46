package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type WorkerRepository struct {
	*base.Repository
}

func NewWorkerRepository(b *base.Repository) *WorkerRepository {
	return &WorkerRepository{Repository: b}
}

const workerColumns = `id, org_id, name, daily_capacity_minutes, telegram_chat_id, is_active, created_at`

func scanWorker(row pgx.Row) (*model.Worker, error) {
	var w model.Worker
	err := row.Scan(
		&w.ID,
		&w.OrgID,
		&w.Name,
		&w.DailyCapacityMinutes,
		&w.TelegramChatID,
		&w.IsActive,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetByID returns a worker of the organization, nil if not found
func (r *WorkerRepository) GetByID(ctx context.Context, workerID, orgID int64) (*model.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1 AND org_id = $2`

	w, err := scanWorker(r.QueryRow(ctx, query, workerID, orgID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get worker by id: %w", err)
	}

	return w, nil
}

// GetWorkerCapacity returns the configured daily capacity in minutes, nil when unset
func (r *WorkerRepository) GetWorkerCapacity(ctx context.Context, workerID, orgID int64) (*int, error) {
	query := `
		SELECT daily_capacity_minutes
		FROM workers
		WHERE id = $1 AND org_id = $2
	`

	var minutes *int
	err := r.QueryRow(ctx, query, workerID, orgID).Scan(&minutes)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get worker capacity: %w", err)
	}

	return minutes, nil
}

// ListActive returns all active workers of the organization ordered by id
func (r *WorkerRepository) ListActive(ctx context.Context, orgID int64) ([]*model.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE org_id = $1 AND is_active ORDER BY id`

	rows, err := r.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, w)
	}

	return workers, rows.Err()
}
