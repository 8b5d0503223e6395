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

const bomSlug = "bom"

// Bank of Melbourne portal flow. The internet banking login takes a
// customer number, a security number and a password; exports are QIF.
const (
	bomLoginURL = "https://ibanking.bankofmelbourne.com.au/ibank/loginPage.action"

	bomSelCustomerID   = "#access-number"
	bomSelSecurityNum  = "#securityNumber"
	bomSelPassword     = "#internet-password"
	bomSelLoginButton  = "#logonButton"
	bomSelDashboard    = ".accounts-summary"
	bomSelLoginError   = ".login-error-message"
	bomSelMFAChallenge = ".secure-code-challenge"

	bomSelAccountRow  = ".account-tile"
	bomSelAccountID   = ".account-tile .account-number"
	bomSelAccountName = ".account-tile .account-name"
	bomSelAccountType = ".account-tile .account-type"

	bomSelExportFrom   = "#DateRange_StartDate"
	bomSelExportTo     = "#DateRange_EndDate"
	bomSelExportFormat = "#File_Type_QIF"
	bomSelExportButton = "#Export_Submit"

	bomSettleBudget = 30 * time.Second
)

// BOM is the Bank of Melbourne connector.
type BOM struct {
	driver browser.Driver
}

var _ Connector = (*BOM)(nil)

// NewBOM returns a Bank of Melbourne connector bound to the given driver.
func NewBOM(driver browser.Driver) *BOM {
	return &BOM{driver: driver}
}

func (c *BOM) Slug() string { return bomSlug }

func (c *BOM) Authenticate(ctx context.Context, creds Credentials) (browser.Session, error) {
	if creds.Metadata.SecurityNumber == "" {
		return nil, &AuthError{Reason: ReasonInvalidCredentials, Detail: "security number is required"}
	}

	return authenticateWithRetry(ctx, bomSlug, c.driver, func(ctx context.Context, sess browser.Session) error {
		if err := sess.Navigate(ctx, bomLoginURL); err != nil {
			return &AuthError{Reason: ReasonTimeout, Detail: err.Error()}
		}
		if err := sess.Fill(ctx, bomSelCustomerID, creds.Username); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}
		if err := sess.Fill(ctx, bomSelSecurityNum, creds.Metadata.SecurityNumber); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}
		if err := sess.Fill(ctx, bomSelPassword, creds.Password); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}
		if err := sess.Click(ctx, bomSelLoginButton); err != nil {
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}

		landed, err := waitAny(ctx, sess, bomSettleBudget, bomSelDashboard, bomSelLoginError, bomSelMFAChallenge)
		if err != nil {
			if errors.Is(err, browser.ErrNavTimeout) {
				return &AuthError{Reason: ReasonTimeout, Detail: "login did not settle"}
			}
			return &AuthError{Reason: ReasonUnknownUIState, Detail: err.Error()}
		}

		switch landed {
		case bomSelDashboard:
			return nil
		case bomSelLoginError:
			return &AuthError{Reason: ReasonInvalidCredentials}
		case bomSelMFAChallenge:
			return &AuthError{Reason: ReasonMFARequired}
		default:
			return &AuthError{Reason: ReasonUnknownUIState, Detail: fmt.Sprintf("landed on %q", landed)}
		}
	})
}

func (c *BOM) ListAccounts(ctx context.Context, sess browser.Session) ([]AccountDescriptor, error) {
	if err := sess.WaitFor(ctx, bomSelAccountRow); err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}

	ids, err := sess.TextAll(ctx, bomSelAccountID)
	if err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}
	names, err := sess.TextAll(ctx, bomSelAccountName)
	if err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}
	types, err := sess.TextAll(ctx, bomSelAccountType)
	if err != nil {
		return nil, &TransientError{Op: "list accounts", Detail: err.Error()}
	}
	if len(names) != len(ids) || len(types) != len(ids) {
		return nil, &TransientError{Op: "list accounts", Detail: "account tiles rendered partially"}
	}

	accounts := make([]AccountDescriptor, 0, len(ids))
	for i, id := range ids {
		accounts = append(accounts, AccountDescriptor{
			RemoteID:    strings.TrimSpace(id),
			DisplayName: strings.TrimSpace(names[i]),
			Type:        strings.ToLower(strings.TrimSpace(types[i])),
		})
	}
	return accounts, nil
}

func (c *BOM) ExportTransactions(ctx context.Context, sess browser.Session, account AccountDescriptor, window Window) (ExportArtifact, error) {
	// Offset accounts are balance mirrors with no transaction history of
	// their own; the portal has no export page for them.
	if account.Type == "offset" {
		return ExportArtifact{}, fmt.Errorf("%w: account %s", ErrUnsupportedOperation, account.RemoteID)
	}

	exportURL := fmt.Sprintf("https://ibanking.bankofmelbourne.com.au/ibank/exportTransactions.action?account=%s", account.RemoteID)

	return exportWithRetry(ctx, bomSlug, sess, func(ctx context.Context) (ExportArtifact, error) {
		if err := sess.Navigate(ctx, exportURL); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Fill(ctx, bomSelExportFrom, window.From.Format("02/01/2006")); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Fill(ctx, bomSelExportTo, window.To.Format("02/01/2006")); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		if err := sess.Click(ctx, bomSelExportFormat); err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}

		data, err := sess.Download(ctx, bomSelExportButton)
		if err != nil {
			return ExportArtifact{}, &TransientError{Op: "export", Detail: err.Error()}
		}
		return ExportArtifact{Bytes: data, Format: statement.FormatQIF}, nil
	})
}

func (c *BOM) Release(sess browser.Session) {
	if sess != nil {
		sess.Close()
	}
}
