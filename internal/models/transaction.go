package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a canonical ledger record. The pair
// (AccountID, ProviderTxID) is unique: ProviderTxID is the
// institution-assigned transaction identifier (or a deterministic synthetic
// one for formats without ids), which is what makes re-importing an
// overlapping statement idempotent.
type Transaction struct {
	ID              int64           `json:"id"`
	AccountID       int64           `json:"accountId"`
	ProviderTxID    string          `json:"providerTxId"`
	TransactionDate time.Time       `json:"transactionDate"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CreateTransactionParams holds the fields required to insert a transaction.
type CreateTransactionParams struct {
	AccountID       int64
	ProviderTxID    string
	TransactionDate time.Time
	Amount          decimal.Decimal
	Description     string
	Status          string
}
