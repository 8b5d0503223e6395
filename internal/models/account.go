package models

import (
	"time"
)

// Account is a local ledger account. RemoteID links it to the account
// identifier discovered by a bank connector; accounts created manually and
// never linked have a nil RemoteID. Placeholder accounts are created during
// reconciliation when a discovered remote account matches nothing local.
type Account struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Name         string    `json:"name"`
	AccountType  string    `json:"accountType"`
	Currency     string    `json:"currency"`
	RemoteID     *string   `json:"remoteId,omitempty"`
	ConnectionID *int64    `json:"connectionId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateAccountParams holds the fields required to create an account.
type CreateAccountParams struct {
	UserID       int64
	Name         string
	AccountType  string
	Currency     string
	RemoteID     *string
	ConnectionID *int64
}
