package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankfeed/internal/models"
)

type SyncRunRepository struct {
	db *DB
}

func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Append writes the terminal record of one run. Runs are append-only; a
// retry is a new run with a new id, never an update to an old row.
func (r *SyncRunRepository) Append(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, connection_id, status, started_at, finished_at, inserted, skipped, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.ConnectionID, run.Status, run.StartedAt, run.FinishedAt,
		run.Inserted, run.Skipped, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync run: %w", err)
	}
	return nil
}

func (r *SyncRunRepository) ListByConnection(ctx context.Context, connectionID int64, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, connection_id, status, started_at, finished_at, inserted, skipped, error_message
		FROM sync_runs
		WHERE connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var finishedAt sql.NullTime
		var errorMessage sql.NullString
		err := rows.Scan(
			&run.ID, &run.ConnectionID, &run.Status, &run.StartedAt, &finishedAt,
			&run.Inserted, &run.Skipped, &errorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		if errorMessage.Valid {
			run.ErrorMessage = &errorMessage.String
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
