package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bankfeed/internal/models"
)

type ScheduleRepository struct {
	db *DB
}

func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, connection_id, frequency, preferred_time, timezone, is_active, next_run_at, created_at, updated_at`

// Upsert creates or replaces the single schedule of a connection. A changed
// schedule takes effect immediately: next_run_at is cleared so the next
// poll selects it.
func (r *ScheduleRepository) Upsert(ctx context.Context, connectionID int64, frequency models.Frequency, preferredTime, timezone string, isActive bool) (*models.Schedule, error) {
	query := `
		INSERT INTO schedules (connection_id, frequency, preferred_time, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			preferred_time = EXCLUDED.preferred_time,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			next_run_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + scheduleColumns

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, connectionID, frequency, preferredTime, timezone, isActive))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return schedule, nil
}

func (r *ScheduleRepository) GetByConnection(ctx context.Context, connectionID int64) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE connection_id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, connectionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return schedule, err
}

// UpdateNextRun advances the schedule after a dispatched run completes.
func (r *ScheduleRepository) UpdateNextRun(ctx context.Context, scheduleID int64, nextRunAt time.Time) error {
	query := `
		UPDATE schedules
		SET next_run_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, scheduleID, nextRunAt); err != nil {
		return fmt.Errorf("failed to update next run: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, connectionID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var schedule models.Schedule
	var nextRunAt sql.NullTime

	err := row.Scan(
		&schedule.ID, &schedule.ConnectionID, &schedule.Frequency, &schedule.PreferredTime,
		&schedule.Timezone, &schedule.IsActive, &nextRunAt, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}

	return &schedule, nil
}
