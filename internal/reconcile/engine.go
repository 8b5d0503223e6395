// Package reconcile merges canonical statement transactions into local
// ledger accounts. The merge is idempotent: inserts are keyed on
// (account, provider transaction id), so re-importing overlapping statement
// windows never duplicates data.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bankfeed/internal/connector"
	"bankfeed/internal/models"
	"bankfeed/internal/statement"
)

// ErrDuplicateTransaction is returned by InsertUnique when a transaction
// with the same (account, provider transaction id) already exists.
var ErrDuplicateTransaction = errors.New("reconcile: transaction already exists")

// AccountRepository is the account persistence the engine needs.
type AccountRepository interface {
	// GetByID returns the account or nil when it does not exist.
	GetByID(ctx context.Context, id int64) (*models.Account, error)

	// FindByRemoteID returns the account already linked to the remote
	// account id for this connection, or nil when none is.
	FindByRemoteID(ctx context.Context, connectionID int64, remoteID string) (*models.Account, error)

	// Create creates an account. Used for placeholder accounts linked to
	// newly discovered remote accounts.
	Create(ctx context.Context, params models.CreateAccountParams) (*models.Account, error)
}

// TransactionRepository is the transaction persistence the engine needs.
type TransactionRepository interface {
	// InsertUnique inserts the transaction, or returns
	// ErrDuplicateTransaction when the (account, provider transaction id)
	// pair is already present. No write happens on conflict.
	InsertUnique(ctx context.Context, params models.CreateTransactionParams) error
}

// ReconciliationError marks an account whose local mapping could not be
// resolved. The account is skipped; sibling accounts in the same run
// proceed.
type ReconciliationError struct {
	RemoteID string
	Detail   string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile: account %s: %s", e.RemoteID, e.Detail)
}

// Batch is the canonical transactions exported for one remote account.
type Batch struct {
	Account      connector.AccountDescriptor
	Transactions []statement.CanonicalTransaction
}

// AccountResult is the per-account outcome of a reconciliation pass.
type AccountResult struct {
	RemoteID  string
	AccountID int64
	Inserted  int
	Skipped   int
}

// Result aggregates a whole reconciliation pass. Errors holds the
// per-account failures that did not stop sibling accounts.
type Result struct {
	Accounts []AccountResult
	Inserted int
	Skipped  int
	Errors   []string
}

// Engine resolves remote accounts to local ones and performs the idempotent
// transaction merge.
type Engine struct {
	accounts     AccountRepository
	transactions TransactionRepository
}

// NewEngine creates a reconciliation engine.
func NewEngine(accounts AccountRepository, transactions TransactionRepository) *Engine {
	return &Engine{accounts: accounts, transactions: transactions}
}

// Reconcile merges every batch into the ledger. Each account's batch is
// independently atomic: a failure on one account is recorded and the rest
// proceed.
func (e *Engine) Reconcile(ctx context.Context, conn *models.Connection, batches []Batch) (*Result, error) {
	result := &Result{}

	for _, batch := range batches {
		account, err := e.resolveAccount(ctx, conn, batch.Account)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			log.Printf("Connection %d: %v", conn.ID, err)
			continue
		}

		inserted, skipped, err := e.ReconcileAccount(ctx, account.ID, batch.Transactions)
		result.Inserted += inserted
		result.Skipped += skipped
		result.Accounts = append(result.Accounts, AccountResult{
			RemoteID:  batch.Account.RemoteID,
			AccountID: account.ID,
			Inserted:  inserted,
			Skipped:   skipped,
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			log.Printf("Connection %d: account %s: %v", conn.ID, batch.Account.RemoteID, err)
			continue
		}

		log.Printf("Connection %d: account %s reconciled - inserted: %d, duplicates skipped: %d",
			conn.ID, batch.Account.RemoteID, inserted, skipped)
	}

	return result, nil
}

// ReconcileAccount merges canonical transactions into one local account.
// It is also the entry point for manual statement imports, where the target
// account is already known.
func (e *Engine) ReconcileAccount(ctx context.Context, accountID int64, txns []statement.CanonicalTransaction) (inserted, skipped int, err error) {
	for _, txn := range txns {
		date, parseErr := time.Parse("2006-01-02", txn.Date)
		if parseErr != nil {
			return inserted, skipped, fmt.Errorf("reconcile: invalid canonical date %q: %w", txn.Date, parseErr)
		}

		insertErr := e.transactions.InsertUnique(ctx, models.CreateTransactionParams{
			AccountID:       accountID,
			ProviderTxID:    txn.ExternalID,
			TransactionDate: date,
			Amount:          txn.Amount,
			Description:     txn.Description,
			Status:          txn.StatusHint,
		})
		switch {
		case insertErr == nil:
			inserted++
		case errors.Is(insertErr, ErrDuplicateTransaction):
			skipped++
		default:
			return inserted, skipped, fmt.Errorf("reconcile: insert failed: %w", insertErr)
		}
	}
	return inserted, skipped, nil
}

// resolveAccount finds the local account for a discovered remote account.
// Priority: the connection's explicit mapping, then an account already
// linked to the remote id, then a new placeholder account.
func (e *Engine) resolveAccount(ctx context.Context, conn *models.Connection, desc connector.AccountDescriptor) (*models.Account, error) {
	if mappedID, ok := conn.AccountMapping[desc.RemoteID]; ok {
		account, err := e.accounts.GetByID(ctx, mappedID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: mapping lookup failed: %w", err)
		}
		if account == nil {
			return nil, &ReconciliationError{RemoteID: desc.RemoteID, Detail: fmt.Sprintf("mapped account %d does not exist", mappedID)}
		}
		return account, nil
	}

	account, err := e.accounts.FindByRemoteID(ctx, conn.ID, desc.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: remote id lookup failed: %w", err)
	}
	if account != nil {
		return account, nil
	}

	remoteID := desc.RemoteID
	name := desc.DisplayName
	if name == "" {
		name = remoteID
	}
	account, err = e.accounts.Create(ctx, models.CreateAccountParams{
		UserID:       conn.UserID,
		Name:         name,
		AccountType:  desc.Type,
		RemoteID:     &remoteID,
		ConnectionID: &conn.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: placeholder account creation failed: %w", err)
	}

	log.Printf("Connection %d: created placeholder account %d for remote account %s", conn.ID, account.ID, desc.RemoteID)
	return account, nil
}
