package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

// Work order states in which the assigned worker's time is consumed.
var busyWorkOrderStatuses = []string{"scheduled", "dispatched", "in_progress"}

// collectIntervals reads rows of (id, start, end, label)
func collectIntervals(rows pgx.Rows, kind model.SourceKind, workerID int64) ([]model.BusyInterval, error) {
	defer rows.Close()

	var intervals []model.BusyInterval
	for rows.Next() {
		b := model.BusyInterval{WorkerID: workerID, Source: kind}
		if err := rows.Scan(&b.ID, &b.Start, &b.End, &b.Label); err != nil {
			return nil, fmt.Errorf("scan %s interval: %w", kind, err)
		}
		intervals = append(intervals, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s intervals: %w", kind, err)
	}
	return intervals, nil
}

// CalendarSource reads calendar entries, including booked commitments that
// are not rejected or cancelled. An entry can name the worker directly or
// through its assignee list; both lookups are returned and the aggregator
// drops the duplicates.
type CalendarSource struct {
	*base.Repository
}

func NewCalendarSource(b *base.Repository) *CalendarSource {
	return &CalendarSource{Repository: b}
}

func (s *CalendarSource) Kind() model.SourceKind { return model.SourceCalendar }

func (s *CalendarSource) BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error) {
	direct := `
		SELECT id::text, start_time, end_time, title
		FROM calendar_events
		WHERE org_id = $1
		  AND worker_id = $2
		  AND approval_state IN ('pending_approval', 'confirmed')
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time
	`
	assignee := `
		SELECT id::text, start_time, end_time, title
		FROM calendar_events
		WHERE org_id = $1
		  AND $2 = ANY(assignee_ids)
		  AND approval_state IN ('pending_approval', 'confirmed')
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time
	`

	var intervals []model.BusyInterval
	for _, query := range []string{direct, assignee} {
		rows, err := s.Query(ctx, query, orgID, workerID, from, to)
		if err != nil {
			return nil, fmt.Errorf("query calendar events: %w", err)
		}
		list, err := collectIntervals(rows, model.SourceCalendar, workerID)
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, list...)
	}

	return intervals, nil
}

// AssignmentSource reads work orders assigned to the worker in a state that
// consumes their time.
type AssignmentSource struct {
	*base.Repository
}

func NewAssignmentSource(b *base.Repository) *AssignmentSource {
	return &AssignmentSource{Repository: b}
}

func (s *AssignmentSource) Kind() model.SourceKind { return model.SourceAssignment }

func (s *AssignmentSource) BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error) {
	query := `
		SELECT id::text, scheduled_start, scheduled_end, title
		FROM work_orders
		WHERE org_id = $1
		  AND assigned_worker_id = $2
		  AND status = ANY($5)
		  AND scheduled_start IS NOT NULL
		  AND scheduled_end IS NOT NULL
		  AND scheduled_start < $4
		  AND scheduled_end > $3
		ORDER BY scheduled_start
	`

	rows, err := s.Query(ctx, query, orgID, workerID, from, to, busyWorkOrderStatuses)
	if err != nil {
		return nil, fmt.Errorf("query work orders: %w", err)
	}
	return collectIntervals(rows, model.SourceAssignment, workerID)
}

// TimeOffSource reads approved time off of the worker.
type TimeOffSource struct {
	*base.Repository
}

func NewTimeOffSource(b *base.Repository) *TimeOffSource {
	return &TimeOffSource{Repository: b}
}

func (s *TimeOffSource) Kind() model.SourceKind { return model.SourceTimeOff }

func (s *TimeOffSource) BusyIntervals(ctx context.Context, workerID, orgID int64, from, to time.Time) ([]model.BusyInterval, error) {
	query := `
		SELECT id::text, start_time, end_time, reason
		FROM time_off
		WHERE org_id = $1
		  AND worker_id = $2
		  AND status = 'approved'
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time
	`

	rows, err := s.Query(ctx, query, orgID, workerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query time off: %w", err)
	}
	return collectIntervals(rows, model.SourceTimeOff, workerID)
}
