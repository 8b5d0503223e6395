package connector

import (
	"errors"
	"fmt"
)

// AuthReason classifies why authentication failed.
type AuthReason string

const (
	// ReasonInvalidCredentials means the institution rejected the login.
	// Retrying cannot change the outcome.
	ReasonInvalidCredentials AuthReason = "invalid_credentials"

	// ReasonMFARequired means the portal demanded an interactive second
	// factor the automation cannot supply. Not retryable.
	ReasonMFARequired AuthReason = "mfa_required"

	// ReasonUnknownUIState means the portal showed a page the adapter does
	// not recognize. Usually automation flakiness; retryable.
	ReasonUnknownUIState AuthReason = "unknown_ui_state"

	// ReasonTimeout means the portal did not settle in time. Retryable.
	ReasonTimeout AuthReason = "timeout"
)

// AuthError is a classified authentication failure.
type AuthError struct {
	Reason AuthReason
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("connector: auth failed (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("connector: auth failed (%s)", e.Reason)
}

// Retryable reports whether another attempt after a page reload is worth
// making for this failure.
func (e *AuthError) Retryable() bool {
	return e.Reason == ReasonUnknownUIState || e.Reason == ReasonTimeout
}

// TransientError is a retryable network or page-state failure during
// account discovery or export.
type TransientError struct {
	Op     string
	Detail string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("connector: transient failure in %s: %s", e.Op, e.Detail)
}

// ErrUnsupportedOperation means the account cannot be exported at all, e.g.
// a virtual or derived account with no transaction history. Not retryable.
var ErrUnsupportedOperation = errors.New("connector: operation not supported for this account")

// ErrUnknownInstitution is returned by the registry for an unregistered slug.
var ErrUnknownInstitution = errors.New("connector: unknown institution")
