package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"bankfeed/internal/models"
	"bankfeed/internal/reconcile"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// InsertUnique inserts one transaction keyed on (account_id, provider_tx_id).
// The conflict target is the unique index, so a duplicate costs nothing and
// surfaces as reconcile.ErrDuplicateTransaction.
func (r *TransactionRepository) InsertUnique(ctx context.Context, params models.CreateTransactionParams) error {
	query := `
		INSERT INTO transactions (account_id, provider_tx_id, transaction_date, amount, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, provider_tx_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		params.AccountID, params.ProviderTxID, params.TransactionDate,
		params.Amount.String(), params.Description, params.Status,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return reconcile.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return reconcile.ErrDuplicateTransaction
	}
	return nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID int64, from, to time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT id, account_id, provider_tx_id, transaction_date, amount, description, status, created_at
		FROM transactions
		WHERE account_id = $1 AND transaction_date >= $2 AND transaction_date <= $3
		ORDER BY transaction_date DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		var txn models.Transaction
		var amount string
		err := rows.Scan(
			&txn.ID, &txn.AccountID, &txn.ProviderTxID, &txn.TransactionDate,
			&amount, &txn.Description, &txn.Status, &txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to decode amount: %w", err)
		}
		txns = append(txns, &txn)
	}
	return txns, rows.Err()
}
