package connector

import (
	"context"
	"errors"
	"log"
	"time"

	"bankfeed/internal/browser"
)

const (
	// maxAuthAttempts bounds retries for flaky authentication outcomes
	// (unknown UI state, timeout). Credential and MFA failures are never
	// retried.
	maxAuthAttempts = 3

	// maxExportAttempts bounds retries for transient export failures.
	maxExportAttempts = 3

	// pollInterval is how often waitAny re-checks its candidate selectors.
	pollInterval = 250 * time.Millisecond
)

// authenticateWithRetry runs the adapter's login flow against a fresh
// session, reloading the page and retrying when the failure is transient
// automation flakiness. The session never escapes on failure.
func authenticateWithRetry(ctx context.Context, slug string, driver browser.Driver, login func(ctx context.Context, sess browser.Session) error) (browser.Session, error) {
	sess, err := driver.NewSession(ctx)
	if err != nil {
		return nil, &AuthError{Reason: ReasonTimeout, Detail: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAuthAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("Connector %s: retrying authentication (attempt %d/%d)", slug, attempt, maxAuthAttempts)
			if err := sess.Reload(ctx); err != nil {
				sess.Close()
				return nil, &AuthError{Reason: ReasonTimeout, Detail: err.Error()}
			}
		}

		err := login(ctx, sess)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		var authErr *AuthError
		if !errors.As(err, &authErr) || !authErr.Retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	sess.Close()
	return nil, lastErr
}

// exportWithRetry retries fn for transient failures only, reloading the
// page between attempts.
func exportWithRetry(ctx context.Context, slug string, sess browser.Session, fn func(ctx context.Context) (ExportArtifact, error)) (ExportArtifact, error) {
	var lastErr error
	for attempt := 1; attempt <= maxExportAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("Connector %s: retrying export (attempt %d/%d)", slug, attempt, maxExportAttempts)
			if err := sess.Reload(ctx); err != nil {
				return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
			}
		}

		artifact, err := fn(ctx)
		if err == nil {
			return artifact, nil
		}
		lastErr = err

		var transientErr *TransientError
		if !errors.As(err, &transientErr) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return ExportArtifact{}, lastErr
}

// waitAny polls until one of the candidate selectors appears, returning the
// selector that matched. It is how adapters branch on which page the portal
// actually landed on (dashboard, error banner, MFA challenge).
func waitAny(ctx context.Context, sess browser.Session, budget time.Duration, selectors ...string) (string, error) {
	deadline, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for {
		for _, sel := range selectors {
			check, checkCancel := context.WithTimeout(deadline, pollInterval)
			err := sess.WaitFor(check, sel)
			checkCancel()
			if err == nil {
				return sel, nil
			}
		}
		if deadline.Err() != nil {
			return "", browser.ErrNavTimeout
		}
	}
}
