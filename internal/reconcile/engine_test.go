package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"bankfeed/internal/connector"
	"bankfeed/internal/models"
	"bankfeed/internal/statement"
)

type memAccountRepo struct {
	nextID   int64
	accounts map[int64]*models.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[int64]*models.Account)}
}

func (r *memAccountRepo) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.accounts[id], nil
}

func (r *memAccountRepo) FindByRemoteID(ctx context.Context, connectionID int64, remoteID string) (*models.Account, error) {
	for _, a := range r.accounts {
		if a.RemoteID != nil && *a.RemoteID == remoteID && a.ConnectionID != nil && *a.ConnectionID == connectionID {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) Create(ctx context.Context, params models.CreateAccountParams) (*models.Account, error) {
	r.nextID++
	account := &models.Account{
		ID:           r.nextID,
		UserID:       params.UserID,
		Name:         params.Name,
		AccountType:  params.AccountType,
		RemoteID:     params.RemoteID,
		ConnectionID: params.ConnectionID,
	}
	r.accounts[account.ID] = account
	return account, nil
}

type memTransactionRepo struct {
	rows      map[string]models.CreateTransactionParams
	insertErr error
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{rows: make(map[string]models.CreateTransactionParams)}
}

func (r *memTransactionRepo) InsertUnique(ctx context.Context, params models.CreateTransactionParams) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	key := fmt.Sprintf("%d|%s", params.AccountID, params.ProviderTxID)
	if _, exists := r.rows[key]; exists {
		return ErrDuplicateTransaction
	}
	r.rows[key] = params
	return nil
}

func testConnection() *models.Connection {
	return &models.Connection{ID: 7, UserID: 1, InstitutionSlug: "bom", Status: models.StatusIdle}
}

func canonicalTxns(n int) []statement.CanonicalTransaction {
	txns := make([]statement.CanonicalTransaction, 0, n)
	for i := 0; i < n; i++ {
		txns = append(txns, statement.CanonicalTransaction{
			ExternalID:  fmt.Sprintf("TX-%04d", i),
			Date:        "2023-09-15",
			Amount:      decimal.NewFromInt(int64(-10 - i)),
			Description: fmt.Sprintf("purchase %d", i),
		})
	}
	return txns
}

func TestReconcile_Idempotent(t *testing.T) {
	accounts := newMemAccountRepo()
	transactions := newMemTransactionRepo()
	engine := NewEngine(accounts, transactions)

	conn := testConnection()
	batches := []Batch{{
		Account:      connector.AccountDescriptor{RemoteID: "r-1", DisplayName: "Everyday", Type: "transaction"},
		Transactions: canonicalTxns(5),
	}}

	first, err := engine.Reconcile(context.Background(), conn, batches)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if first.Inserted != 5 || first.Skipped != 0 {
		t.Errorf("first pass: inserted=%d skipped=%d, want 5/0", first.Inserted, first.Skipped)
	}

	second, err := engine.Reconcile(context.Background(), conn, batches)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 5 {
		t.Errorf("second pass: inserted=%d skipped=%d, want 0/5", second.Inserted, second.Skipped)
	}

	if len(transactions.rows) != 5 {
		t.Errorf("stored %d transactions, want 5", len(transactions.rows))
	}
}

func TestReconcile_ImportedFileTwice(t *testing.T) {
	qif := "!Type:Bank\nD09/15/23\nT-42.50\nPCOLES\n^\nD09/16/23\nT-3.80\nPCAFE\n^\n"

	accounts := newMemAccountRepo()
	transactions := newMemTransactionRepo()
	engine := NewEngine(accounts, transactions)

	account, _ := accounts.Create(context.Background(), models.CreateAccountParams{UserID: 1, Name: "Everyday"})

	parse := func() []statement.CanonicalTransaction {
		txns, err := statement.ParseQIF([]byte(qif), fmt.Sprintf("account-%d", account.ID))
		if err != nil {
			t.Fatalf("ParseQIF() failed: %v", err)
		}
		return txns
	}

	inserted, skipped, err := engine.ReconcileAccount(context.Background(), account.ID, parse())
	if err != nil {
		t.Fatalf("ReconcileAccount() failed: %v", err)
	}
	if inserted != 2 || skipped != 0 {
		t.Errorf("first import: inserted=%d skipped=%d, want 2/0", inserted, skipped)
	}

	inserted, skipped, err = engine.ReconcileAccount(context.Background(), account.ID, parse())
	if err != nil {
		t.Fatalf("ReconcileAccount() failed: %v", err)
	}
	if inserted != 0 || skipped != 2 {
		t.Errorf("second import: inserted=%d skipped=%d, want 0/2", inserted, skipped)
	}
}

func TestReconcile_SyntheticIDCollision(t *testing.T) {
	// Two records identical in account, date, amount and description share
	// a synthetic id, so only one survives. Documented limitation of
	// formats without natural transaction ids.
	txn := statement.CanonicalTransaction{
		ExternalID:  "qif-feed00d1deadbeef",
		Date:        "2023-09-15",
		Amount:      decimal.NewFromFloat(-4.5),
		Description: "coffee",
	}

	accounts := newMemAccountRepo()
	transactions := newMemTransactionRepo()
	engine := NewEngine(accounts, transactions)

	inserted, skipped, err := engine.ReconcileAccount(context.Background(), 1, []statement.CanonicalTransaction{txn, txn})
	if err != nil {
		t.Fatalf("ReconcileAccount() failed: %v", err)
	}
	if inserted != 1 || skipped != 1 {
		t.Errorf("inserted=%d skipped=%d, want 1/1", inserted, skipped)
	}
	if len(transactions.rows) != 1 {
		t.Errorf("stored %d transactions, want exactly 1", len(transactions.rows))
	}
}

func TestReconcile_AccountResolutionPriority(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccountRepo()
	transactions := newMemTransactionRepo()
	engine := NewEngine(accounts, transactions)

	conn := testConnection()

	// Explicit mapping wins over a linked account.
	mapped, _ := accounts.Create(ctx, models.CreateAccountParams{UserID: 1, Name: "Mapped"})
	remoteID := "r-9"
	linked, _ := accounts.Create(ctx, models.CreateAccountParams{UserID: 1, Name: "Linked", RemoteID: &remoteID, ConnectionID: &conn.ID})
	conn.AccountMapping = map[string]int64{"r-9": mapped.ID}

	result, err := engine.Reconcile(ctx, conn, []Batch{{
		Account:      connector.AccountDescriptor{RemoteID: "r-9"},
		Transactions: canonicalTxns(1),
	}})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Accounts[0].AccountID != mapped.ID {
		t.Errorf("resolved account %d, want mapped account %d", result.Accounts[0].AccountID, mapped.ID)
	}

	// Without a mapping, the already-linked account wins.
	conn.AccountMapping = nil
	result, err = engine.Reconcile(ctx, conn, []Batch{{
		Account:      connector.AccountDescriptor{RemoteID: "r-9"},
		Transactions: canonicalTxns(1),
	}})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if result.Accounts[0].AccountID != linked.ID {
		t.Errorf("resolved account %d, want linked account %d", result.Accounts[0].AccountID, linked.ID)
	}

	// Unknown remote accounts get a placeholder.
	result, err = engine.Reconcile(ctx, conn, []Batch{{
		Account:      connector.AccountDescriptor{RemoteID: "r-new", DisplayName: "New Saver", Type: "savings"},
		Transactions: canonicalTxns(1),
	}})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	placeholder := accounts.accounts[result.Accounts[0].AccountID]
	if placeholder == nil || placeholder.RemoteID == nil || *placeholder.RemoteID != "r-new" {
		t.Errorf("placeholder not linked to remote account: %+v", placeholder)
	}
	if placeholder.Name != "New Saver" {
		t.Errorf("placeholder name = %q, want display name", placeholder.Name)
	}
}

func TestReconcile_MappedAccountMissing(t *testing.T) {
	accounts := newMemAccountRepo()
	transactions := newMemTransactionRepo()
	engine := NewEngine(accounts, transactions)

	conn := testConnection()
	conn.AccountMapping = map[string]int64{"r-1": 404}

	result, err := engine.Reconcile(context.Background(), conn, []Batch{
		{Account: connector.AccountDescriptor{RemoteID: "r-1"}, Transactions: canonicalTxns(2)},
		{Account: connector.AccountDescriptor{RemoteID: "r-2", DisplayName: "OK"}, Transactions: canonicalTxns(2)},
	})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}

	// The broken mapping is recorded; the sibling account still reconciles.
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", result.Errors)
	}
	if result.Inserted != 2 {
		t.Errorf("inserted = %d, want 2 from the healthy sibling", result.Inserted)
	}
}
