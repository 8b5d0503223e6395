package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bankfeed/internal/models"
	"bankfeed/internal/scheduler"
)

type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, institution_slug, encrypted_username, encrypted_password,
	       encrypted_metadata, status, last_run_at, last_error, failure_count, account_mapping,
	       created_at, updated_at`

func (r *ConnectionRepository) Create(ctx context.Context, params models.CreateConnectionParams) (*models.Connection, error) {
	mapping, err := marshalMapping(params.AccountMapping)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO connections (user_id, institution_slug, encrypted_username, encrypted_password,
		                         encrypted_metadata, status, failure_count, account_mapping)
		VALUES ($1, $2, $3, $4, $5, 'idle', 0, $6)
		RETURNING ` + connectionColumns

	row := r.db.QueryRowContext(ctx, query,
		params.UserID, params.InstitutionSlug, params.EncryptedUsername, params.EncryptedPassword,
		params.EncryptedMetadata, mapping,
	)
	return scanConnection(row)
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conn, err
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// TransitionToRunning is the double-dispatch guard: the update only
// succeeds when no run is in flight, so exactly one concurrent caller wins.
func (r *ConnectionRepository) TransitionToRunning(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE connections
		SET status = 'running', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status != 'running'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to transition connection to running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkIdle records a successful run: error cleared, failure streak reset.
func (r *ConnectionRepository) MarkIdle(ctx context.Context, id int64, lastRunAt time.Time) error {
	query := `
		UPDATE connections
		SET status = 'idle', last_error = NULL, failure_count = 0,
		    last_run_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, lastRunAt); err != nil {
		return fmt.Errorf("failed to mark connection idle: %w", err)
	}
	return nil
}

// MarkFailure records a failed run. A tripped circuit breaker parks the
// connection in the error state, which the scheduling predicate excludes.
func (r *ConnectionRepository) MarkFailure(ctx context.Context, id int64, lastError string, lastRunAt time.Time, tripped bool) error {
	status := models.StatusIdle
	if tripped {
		status = models.StatusError
	}

	query := `
		UPDATE connections
		SET status = $2, last_error = $3, failure_count = failure_count + 1,
		    last_run_at = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, status, lastError, lastRunAt); err != nil {
		return fmt.Errorf("failed to mark connection failure: %w", err)
	}
	return nil
}

// SaveCredentials stores freshly encrypted credentials and resets the
// circuit breaker, returning a tripped connection to the scheduling pool.
func (r *ConnectionRepository) SaveCredentials(ctx context.Context, id int64, encryptedUsername, encryptedPassword string, encryptedMetadata *string) error {
	query := `
		UPDATE connections
		SET encrypted_username = $2, encrypted_password = $3, encrypted_metadata = $4,
		    status = 'idle', last_error = NULL, failure_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, encryptedUsername, encryptedPassword, encryptedMetadata); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Delete removes the connection; its schedule goes with it (FK cascade).
func (r *ConnectionRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// ReleaseStuck returns connections abandoned in the running state to idle.
// The running status is only ever held for the duration of one sync, so any
// connection still carrying it at startup was orphaned by a crash.
func (r *ConnectionRepository) ReleaseStuck(ctx context.Context) (int64, error) {
	query := `
		UPDATE connections
		SET status = 'idle', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck connections: %w", err)
	}
	return result.RowsAffected()
}

// ListDue implements the scheduler's polling predicate: active schedule,
// next_run_at null or in the past, and no run in flight. Connections in
// the error state stay parked until credentials are re-saved.
func (r *ConnectionRepository) ListDue(ctx context.Context, now time.Time) ([]scheduler.DueConnection, error) {
	query := `
		SELECT s.id, s.connection_id, s.frequency, s.preferred_time, s.timezone,
		       s.is_active, s.next_run_at, s.created_at, s.updated_at
		FROM schedules s
		JOIN connections c ON c.id = s.connection_id
		WHERE s.is_active
		  AND (s.next_run_at IS NULL OR s.next_run_at <= $1)
		  AND c.status = 'idle'
		ORDER BY s.next_run_at NULLS FIRST
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due connections: %w", err)
	}
	defer rows.Close()

	var due []scheduler.DueConnection
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, scheduler.DueConnection{Schedule: *schedule})
	}
	return due, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var conn models.Connection
	var lastRunAt sql.NullTime
	var lastError, metadata sql.NullString
	var mapping []byte

	err := row.Scan(
		&conn.ID, &conn.UserID, &conn.InstitutionSlug, &conn.EncryptedUsername, &conn.EncryptedPassword,
		&metadata, &conn.Status, &lastRunAt, &lastError, &conn.FailureCount, &mapping,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if metadata.Valid {
		conn.EncryptedMetadata = &metadata.String
	}
	if lastRunAt.Valid {
		conn.LastRunAt = &lastRunAt.Time
	}
	if lastError.Valid {
		conn.LastError = &lastError.String
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &conn.AccountMapping); err != nil {
			return nil, fmt.Errorf("failed to decode account mapping: %w", err)
		}
	}

	return &conn, nil
}

func marshalMapping(mapping map[string]int64) ([]byte, error) {
	if len(mapping) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account mapping: %w", err)
	}
	return data, nil
}
