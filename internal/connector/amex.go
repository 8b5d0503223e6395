package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankfeed/internal/browser"
	"bankfeed/internal/statement"
)

const amexSlug = "amex"

// American Express portal flow. Login is username and password only;
// statement exports are OFX.
const (
	amexLoginURL = "https://www.americanexpress.com/en-au/account/login"

	amexSelUsername     = "#eliloUserID"
	amexSelPassword     = "#eliloPassword"
	amexSelLoginButton  = "#loginSubmit"
	amexSelDashboard    = ".account-summary-panel"
	amexSelLoginError   = ".login-incorrect-message"
	amexSelMFAChallenge = ".two-step-verification"

	amexSelCardRow  = ".card-account"
	amexSelCardID   = ".card-account .card-number-suffix"
	amexSelCardName = ".card-account .card-product-name"

	amexSelExportFrom   = "#transaction-date-from"
	amexSelExportTo     = "#transaction-date-to"
	amexSelExportFormat = "#download-format-ofx"
	amexSelExportButton = "#download-transactions"

	amexSettleBudget = 30 * time.Second
)

// Amex is the American Express connector.
type Amex struct {
	driver browser.Driver
}

var _ Connector = (*Amex)(nil)

// NewAmex returns an American Express connector bound to the given driver.
func NewAmex(driver browser.Driver) *Amex {
	return &Amex{driver: driver}
}

func (c *Amex) Slug() string { return amexSlug }

func (c *Amex) Authenticate(ctx context.Context, creds Credentials) (browser.Session, error) {
	return authenticateWithRetry(ctx, amexSlug, c.driver, func(ctx context.Context, sess browser.Session) error {
		if err := sess.Navigate(ctx, amexLoginURL); err != nil {
			return &AuthError{Reason: ReasonTimeout, Detail: err.Error()}
		}
		if err := sess.Fill(ctx, amexSelUsername, creds.Username); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}
		if err := sess.Fill(ctx, amexSelPassword, creds.Password); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}
		if err := sess.Click(ctx, amexSelLoginButton); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}

		landed, err := waitAny(ctx, sess, amexSettleBudget, amexSelDashboard, amexSelLoginError, amexSelMFAChallenge)
		if err != nil {
			if errors.Is(err, browser.ErrNavTimeout) {
				return &AuthError{Reason: ReasonTimeout, Detail: "login did not settle"}
			}
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}

		switch landed {
		case amexSelDashboard:
			return nil
		case amexSelLoginError:
			return &AuthError{Reason: ReasonInvalidCredentials}
		case amexSelMFAChallenge:
			return &AuthError{Reason: ReasonMFARequired}
		default:
			return &AuthError{Reason: ReasonUnknownUIState, Detail: fmt.Sprintf("landed on %q", landed)}
		}
	})
}

func (c *Amex) ListAccounts(ctx context.Context, sess browser.Session) ([]AccountDescriptor, error) {
	if err := sess.WaitFor(ctx, amexSelCardRow); err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}

	ids, err := sess.TextAll(ctx, amexSelCardID)
	if err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}
	names, err := sess.TextAll(ctx, amexSelCardName)
	if err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}
	if len(names) != len(ids) {
		return nil, &TransientError{Op: "list accounts", Detail: "card panels rendered partially"}
	}

	accounts := make([]AccountDescriptor, 0, len(ids))
	for i, id := range ids {
		accounts = append(accounts, AccountDescriptor{
			RemoteID:    strings.TrimSpace(id),
			DisplayName: strings.TrimSpace(names[i]),
			Type:        "credit_card",
		})
	}
	return accounts, nil
}

func (c *Amex) ExportTransactions(ctx context.Context, sess browser.Session, account AccountDescriptor, window Window) (ExportArtifact, error) {
	exportURL := fmt.Sprintf("https://global.americanexpress.com/activity/download?account=%s", account.RemoteID)

	return exportWithRetry(ctx, amexSlug, sess, func(ctx context.Context) (ExportArtifact, error) {
		if err := sess.Navigate(ctx, exportURL); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Fill(ctx, amexSelExportFrom, window.From.Format("02/01/2006")); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Fill(ctx, amexSelExportTo, window.To.Format("02/01/2006")); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Click(ctx, amexSelExportFormat); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}

		data, err := sess.Download(ctx, amexSelExportButton)
		if err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		return ExportArtifact{Bytes: data, Format: statement.FormatOFX}, nil
	})
}

func (c *Amex) Release(sess browser.Session) {
	if sess != nil {
		sess.Close()
	}
}
