package models

import (
	"time"
)

// ConnectionStatus tracks the lifecycle of a bank connection's sync state.
type ConnectionStatus string

const (
	// StatusIdle means the connection is not currently syncing and is
	// eligible for scheduling.
	StatusIdle ConnectionStatus = "idle"

	// StatusRunning means a sync run is in flight. At most one run may
	// hold this status per connection at any time.
	StatusRunning ConnectionStatus = "running"

	// StatusError means the circuit breaker tripped after repeated failed
	// runs. The connection is excluded from scheduling until the user
	// re-saves credentials.
	StatusError ConnectionStatus = "error"
)

// Connection represents a stored link to a bank institution: which
// institution to sync, the encrypted credentials to use, and the current
// sync state. Credentials are only ever stored in their encrypted form;
// decryption happens in-memory for the duration of a run.
type Connection struct {
	ID                int64            `json:"id"`
	UserID            int64            `json:"userId"`
	InstitutionSlug   string           `json:"institutionSlug"`
	EncryptedUsername string           `json:"-"`
	EncryptedPassword string           `json:"-"`
	EncryptedMetadata *string          `json:"-"`
	Status            ConnectionStatus `json:"status"`
	LastRunAt         *time.Time       `json:"lastRunAt,omitempty"`
	LastError         *string          `json:"lastError,omitempty"`
	FailureCount      int              `json:"failureCount"`
	AccountMapping    map[string]int64 `json:"accountMapping,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// CreateConnectionParams holds the fields required to create a connection.
// Username, password and metadata arrive already encrypted by the vault.
type CreateConnectionParams struct {
	UserID            int64
	InstitutionSlug   string
	EncryptedUsername string
	EncryptedPassword string
	EncryptedMetadata *string
	AccountMapping    map[string]int64
}
