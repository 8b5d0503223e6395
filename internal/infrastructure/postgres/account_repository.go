package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankfeed/internal/models"
)

type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, name, account_type, currency, remote_id, connection_id, created_at, updated_at`

func (r *AccountRepository) Create(ctx context.Context, params models.CreateAccountParams) (*models.Account, error) {
	currency := params.Currency
	if currency == "" {
		currency = "AUD"
	}

	query := `
		INSERT INTO accounts (user_id, name, account_type, currency, remote_id, connection_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns

	row := r.db.QueryRowContext(ctx, query,
		params.UserID, params.Name, params.AccountType, currency, params.RemoteID, params.ConnectionID,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

func (r *AccountRepository) FindByRemoteID(ctx context.Context, connectionID int64, remoteID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 AND remote_id = $2`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, connectionID, remoteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var remoteID sql.NullString
	var connectionID sql.NullInt64

	err := row.Scan(
		&account.ID, &account.UserID, &account.Name, &account.AccountType, &account.Currency,
		&remoteID, &connectionID, &account.CreatedAt, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if remoteID.Valid {
		account.RemoteID = &remoteID.String
	}
	if connectionID.Valid {
		account.ConnectionID = &connectionID.Int64
	}

	return &account, nil
}
