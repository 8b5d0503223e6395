// Package connector defines the per-institution bank connector contract and
// the adapters implementing it. Each adapter encapsulates one institution's
// portal flow behind the same four operations; nothing outside this package
// depends on institution specifics.
package connector

import (
	"context"
	"time"

	"bankfeed/internal/browser"
	"bankfeed/internal/models"
	"bankfeed/internal/statement"
)

// Credentials are the decrypted secrets for one connection. They live in
// memory only for the duration of a sync run and are never logged.
type Credentials struct {
	Username string
	Password string
	Metadata models.InstitutionMetadata
}

// AccountDescriptor identifies a remote account discovered on the portal.
type AccountDescriptor struct {
	RemoteID    string
	DisplayName string
	Type        string
}

// Window is the date range an export should cover.
type Window struct {
	From time.Time
	To   time.Time
}

// ExportArtifact is the statement file a connector downloaded, plus the
// interchange format the institution exports in.
type ExportArtifact struct {
	Bytes  []byte
	Format statement.Format
}

// Connector is the contract every institution adapter implements.
type Connector interface {
	// Slug returns the institution identifier this connector serves.
	Slug() string

	// Authenticate logs in and returns a live session. Retry semantics for
	// transient UI states are handled inside the adapter: UnknownUIState
	// and Timeout are retried a bounded number of times with a page reload
	// in between, InvalidCredentials and MFARequired are never retried. On
	// failure no session escapes; the adapter has already closed it.
	Authenticate(ctx context.Context, creds Credentials) (browser.Session, error)

	// ListAccounts discovers the remote accounts visible to the session.
	ListAccounts(ctx context.Context, sess browser.Session) ([]AccountDescriptor, error)

	// ExportTransactions downloads a statement export for one account over
	// the given window. May fail with *TransientError (retryable) or
	// ErrUnsupportedOperation (the account has no exportable history).
	ExportTransactions(ctx context.Context, sess browser.Session, account AccountDescriptor, window Window) (ExportArtifact, error)

	// Release tears the session down. Every code path that obtained a
	// session from Authenticate must call it, including timeout paths.
	Release(sess browser.Session)
}
