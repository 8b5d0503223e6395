// Package syncer orchestrates one synchronization run per connection:
// decrypt credentials, authenticate through the institution connector,
// export and parse statements, and reconcile them into the ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bankfeed/internal/browser"
	"bankfeed/internal/connector"
	"bankfeed/internal/models"
	"bankfeed/internal/reconcile"
	"bankfeed/internal/statement"
	"bankfeed/internal/vault"
)

var runTracer = otel.Tracer("bankfeed/syncer")

const (
	// DefaultRunTimeout bounds one whole sync run, browser session included.
	DefaultRunTimeout = 5 * time.Minute

	// DefaultBreakerLimit is how many consecutive failed runs trip the
	// circuit breaker into the persistent error state.
	DefaultBreakerLimit = 3

	// DefaultExportLookback is the date window requested from connectors.
	DefaultExportLookback = 90 * 24 * time.Hour
)

// ErrAlreadyRunning means another run for the same connection is in flight.
var ErrAlreadyRunning = errors.New("syncer: connection is already running")

// ErrConnectionNotFound means the connection id resolves to nothing.
var ErrConnectionNotFound = errors.New("syncer: connection not found")

// ConnectionRepository is the connection persistence the orchestrator needs.
type ConnectionRepository interface {
	// GetByID returns the connection or nil when it does not exist.
	GetByID(ctx context.Context, id int64) (*models.Connection, error)

	// TransitionToRunning atomically moves the connection to running,
	// failing when it is already running. This is the double-dispatch
	// guard: exactly one caller wins.
	TransitionToRunning(ctx context.Context, id int64) (bool, error)

	// MarkIdle records a successful run: status idle, error cleared,
	// failure streak reset.
	MarkIdle(ctx context.Context, id int64, lastRunAt time.Time) error

	// MarkFailure records a failed run. When tripped is true the
	// connection enters the error state and leaves the scheduling pool.
	MarkFailure(ctx context.Context, id int64, lastError string, lastRunAt time.Time, tripped bool) error
}

// SyncRunRepository persists the append-only run log.
type SyncRunRepository interface {
	Append(ctx context.Context, run *models.SyncRun) error
}

// Orchestrator sequences connector, parser and reconciliation for one run.
type Orchestrator struct {
	connections ConnectionRepository
	syncRuns    SyncRunRepository
	vault       *vault.Vault
	registry    *connector.Registry
	driver      browser.Driver
	engine      *reconcile.Engine

	runTimeout     time.Duration
	breakerLimit   int
	exportLookback time.Duration
	now            func() time.Time
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	RunTimeout     time.Duration
	BreakerLimit   int
	ExportLookback time.Duration
}

// New creates an orchestrator.
func New(connections ConnectionRepository, syncRuns SyncRunRepository, v *vault.Vault, registry *connector.Registry, driver browser.Driver, engine *reconcile.Engine, cfg Config) *Orchestrator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.BreakerLimit <= 0 {
		cfg.BreakerLimit = DefaultBreakerLimit
	}
	if cfg.ExportLookback <= 0 {
		cfg.ExportLookback = DefaultExportLookback
	}

	return &Orchestrator{
		connections:    connections,
		syncRuns:       syncRuns,
		vault:          v,
		registry:       registry,
		driver:         driver,
		engine:         engine,
		runTimeout:     cfg.RunTimeout,
		breakerLimit:   cfg.BreakerLimit,
		exportLookback: cfg.ExportLookback,
		now:            time.Now,
	}
}

// Run executes one sync for the connection. The returned SyncRun reflects
// the outcome; a non-nil error means the run could not even start (unknown
// connection, or another run already in flight).
//
// State machine: idle -> running -> idle on success, or error once the
// failure streak reaches the breaker limit. The transition into running is
// a compare-and-set at the repository so a concurrent dispatch loses.
func (o *Orchestrator) Run(ctx context.Context, connectionID int64) (*models.SyncRun, error) {
	conn, err := o.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("syncer: load connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: id %d", ErrConnectionNotFound, connectionID)
	}

	acquired, err := o.connections.TransitionToRunning(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("syncer: transition to running: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: id %d", ErrAlreadyRunning, connectionID)
	}

	run := &models.SyncRun{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Status:       models.SyncRunRunning,
		StartedAt:    o.now(),
	}

	ctx, span := runTracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.Int64("connection.id", connectionID),
		attribute.String("connection.institution", conn.InstitutionSlug),
		attribute.String("run.id", run.ID),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	result, runErr := o.execute(runCtx, conn)

	finished := o.now()
	run.FinishedAt = &finished
	if result != nil {
		run.Inserted = result.Inserted
		run.Skipped = result.Skipped
	}

	if runErr != nil {
		message := classify(runErr, runCtx, o.runTimeout)
		run.Status = models.SyncRunFailed
		run.ErrorMessage = &message
		span.RecordError(runErr)
		span.SetStatus(codes.Error, message)

		failures := conn.FailureCount + 1
		tripped := failures >= o.breakerLimit
		if markErr := o.connections.MarkFailure(ctx, connectionID, message, finished, tripped); markErr != nil {
			log.Printf("Connection %d: failed to record failure: %v", connectionID, markErr)
		}
		if tripped {
			log.Printf("Connection %d: circuit breaker tripped after %d consecutive failures", connectionID, failures)
		}
		log.Printf("Connection %d: sync failed: %s", connectionID, message)
	} else {
		run.Status = models.SyncRunSuccess
		if result != nil && len(result.Errors) > 0 {
			// Account-level errors (unsupported exports, unresolvable
			// mappings) do not fail the run or feed the breaker, but they
			// are surfaced in the run log.
			message := strings.Join(result.Errors, "; ")
			run.ErrorMessage = &message
		}
		if markErr := o.connections.MarkIdle(ctx, connectionID, finished); markErr != nil {
			log.Printf("Connection %d: failed to record success: %v", connectionID, markErr)
		}
		log.Printf("Connection %d: sync complete - inserted: %d, duplicates skipped: %d", connectionID, run.Inserted, run.Skipped)
	}

	if appendErr := o.syncRuns.Append(ctx, run); appendErr != nil {
		log.Printf("Connection %d: failed to append sync run record: %v", connectionID, appendErr)
	}

	return run, nil
}

// execute performs the connector-parser-reconciler pipeline. Credentials
// exist only within this call and are never logged or persisted.
func (o *Orchestrator) execute(ctx context.Context, conn *models.Connection) (*reconcile.Result, error) {
	creds, err := o.decryptCredentials(conn)
	if err != nil {
		return nil, err
	}

	c, err := o.registry.Lookup(conn.InstitutionSlug, o.driver)
	if err != nil {
		return nil, err
	}

	sess, err := c.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	// Release runs on every exit path, timeout expiry included: the
	// connector calls below return once the deadline cancels them, and the
	// deferred release then tears the session down.
	defer c.Release(sess)

	accounts, err := c.ListAccounts(ctx, sess)
	if err != nil {
		return nil, err
	}

	window := connector.Window{From: o.now().Add(-o.exportLookback), To: o.now()}

	var batches []reconcile.Batch
	var accountErrors []string
	for _, account := range accounts {
		artifact, err := c.ExportTransactions(ctx, sess, account, window)
		if err != nil {
			if errors.Is(err, connector.ErrUnsupportedOperation) {
				log.Printf("Connection %d: account %s has no exportable history, skipping", conn.ID, account.RemoteID)
				continue
			}
			if ctx.Err() != nil {
				return nil, err
			}
			accountErrors = append(accountErrors, fmt.Sprintf("account %s: export failed: %v", account.RemoteID, err))
			continue
		}

		txns, err := statement.Parse(artifact.Format, artifact.Bytes, account.RemoteID)
		if err != nil {
			// A corrupt statement aborts this account's import only.
			accountErrors = append(accountErrors, fmt.Sprintf("account %s: %v", account.RemoteID, err))
			continue
		}

		batches = append(batches, reconcile.Batch{Account: account, Transactions: txns})
	}

	result, err := o.engine.Reconcile(ctx, conn, batches)
	if err != nil {
		return nil, err
	}
	result.Errors = append(accountErrors, result.Errors...)
	return result, nil
}

func (o *Orchestrator) decryptCredentials(conn *models.Connection) (connector.Credentials, error) {
	username, err := o.vault.Decrypt(conn.EncryptedUsername)
	if err != nil {
		return connector.Credentials{}, fmt.Errorf("decrypt username: %w", err)
	}
	password, err := o.vault.Decrypt(conn.EncryptedPassword)
	if err != nil {
		return connector.Credentials{}, fmt.Errorf("decrypt password: %w", err)
	}

	var metadata models.InstitutionMetadata
	if conn.EncryptedMetadata != nil && *conn.EncryptedMetadata != "" {
		raw, err := o.vault.Decrypt(*conn.EncryptedMetadata)
		if err != nil {
			return connector.Credentials{}, fmt.Errorf("decrypt metadata: %w", err)
		}
		metadata, err = models.ParseInstitutionMetadata(conn.InstitutionSlug, []byte(raw))
		if err != nil {
			return connector.Credentials{}, err
		}
	}

	return connector.Credentials{Username: username, Password: password, Metadata: metadata}, nil
}

// ImportStatement is the manual ingestion path: a user-uploaded export file
// merged into a known account through the same parser and reconciliation
// engine the automated path uses.
func (o *Orchestrator) ImportStatement(ctx context.Context, accountID int64, data []byte) (inserted, skipped int, err error) {
	format, err := statement.Detect(data)
	if err != nil {
		return 0, 0, err
	}

	txns, err := statement.Parse(format, data, fmt.Sprintf("account-%d", accountID))
	if err != nil {
		return 0, 0, err
	}

	return o.engine.ReconcileAccount(ctx, accountID, txns)
}

// classify turns a run failure into the operator-facing last_error string.
func classify(err error, runCtx context.Context, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
		return fmt.Sprintf("timeout: sync run exceeded %s", timeout)
	}

	var authErr *connector.AuthError
	if errors.As(err, &authErr) {
		return authErr.Error()
	}
	var integrityErr *vault.IntegrityError
	if errors.As(err, &integrityErr) {
		return integrityErr.Error()
	}
	var transientErr *connector.TransientError
	if errors.As(err, &transientErr) {
		return transientErr.Error()
	}
	return err.Error()
}
