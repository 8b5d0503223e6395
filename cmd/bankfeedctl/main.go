package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bankfeed/internal/browser"
	"bankfeed/internal/config"
	"bankfeed/internal/connector"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/models"
	"bankfeed/internal/reconcile"
	"bankfeed/internal/syncer"
	"bankfeed/internal/vault"
)

const usage = `bankfeedctl - Management commands for the bankfeed daemon

Usage:
  bankfeedctl <command> [options]

Commands:
  add-connection   Store a bank connection with encrypted credentials
  import           Import an OFX or QIF statement file into an account
  sync             Trigger one sync run for a connection
  runs             List recent sync runs for a connection

Examples:
  # Add a connection with a daily 02:00 Sydney schedule
  bankfeedctl add-connection --user-id=1 --institution=bom \
    --username=alice --metadata='{"securityNumber":"123456"}'

  # Import a downloaded statement into account 42
  bankfeedctl import --account-id=42 --file=statement.ofx

  # Run a sync right now
  bankfeedctl sync --connection-id=7 --timeout=10m

  # Inspect the run log
  bankfeedctl runs --connection-id=7 --limit=10
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "add-connection":
		runAddConnection(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "runs":
		runListRuns(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
}

// openStack loads config and connects the database and vault. Every
// subcommand needs at least these three.
func openStack() (*config.Config, *postgres.DB, *vault.Vault) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	v, err := vault.New(cfg.Vault.MasterSecret)
	if err != nil {
		db.Close()
		log.Fatalf("Failed to open credential vault: %v", err)
	}

	return cfg, db, v
}

func runAddConnection(args []string) {
	fs := flag.NewFlagSet("add-connection", flag.ExitOnError)

	userID := fs.Int64("user-id", 0, "Owner user ID")
	institution := fs.String("institution", "", "Institution slug (e.g. bom, amex)")
	username := fs.String("username", "", "Portal username")
	password := fs.String("password", "", "Portal password (read from BANKFEED_PASSWORD if empty)")
	metadata := fs.String("metadata", "", "Institution metadata JSON (optional)")
	accountMap := fs.String("account-map", "", "Remote-to-local account mapping, e.g. 'ACC1=3,ACC2=5'")
	frequency := fs.String("frequency", "daily", "Sync frequency: daily, weekly or monthly")
	preferredTime := fs.String("time", "02:00", "Preferred sync time (HH:MM)")
	timezone := fs.String("timezone", "Australia/Sydney", "IANA timezone for the schedule")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userID == 0 || *institution == "" || *username == "" {
		fmt.Println("Error: --user-id, --institution and --username are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	registry := connector.DefaultRegistry()
	if _, err := registry.Lookup(*institution, nil); err != nil {
		log.Fatalf("Unknown institution %q (known: %s)", *institution, strings.Join(registry.Slugs(), ", "))
	}

	// Never take the password on the command line of a shared host if it can
	// be helped; the env var avoids it landing in shell history.
	if *password == "" {
		*password = os.Getenv("BANKFEED_PASSWORD")
	}
	if *password == "" {
		log.Fatal("Error: provide --password or set BANKFEED_PASSWORD")
	}

	if *metadata != "" {
		if _, err := models.ParseInstitutionMetadata(*institution, []byte(*metadata)); err != nil {
			log.Fatalf("Invalid metadata: %v", err)
		}
	}

	mapping, err := parseAccountMap(*accountMap)
	if err != nil {
		log.Fatalf("Invalid account map: %v", err)
	}

	_, db, v := openStack()
	defer db.Close()

	encryptedUsername, err := v.Encrypt(*username)
	if err != nil {
		log.Fatalf("Failed to encrypt username: %v", err)
	}
	encryptedPassword, err := v.Encrypt(*password)
	if err != nil {
		log.Fatalf("Failed to encrypt password: %v", err)
	}
	var encryptedMetadata *string
	if *metadata != "" {
		enc, err := v.Encrypt(*metadata)
		if err != nil {
			log.Fatalf("Failed to encrypt metadata: %v", err)
		}
		encryptedMetadata = &enc
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	connectionRepo := postgres.NewConnectionRepository(db)
	conn, err := connectionRepo.Create(ctx, models.CreateConnectionParams{
		UserID:            *userID,
		InstitutionSlug:   *institution,
		EncryptedUsername: encryptedUsername,
		EncryptedPassword: encryptedPassword,
		EncryptedMetadata: encryptedMetadata,
		AccountMapping:    mapping,
	})
	if err != nil {
		log.Fatalf("Failed to create connection: %v", err)
	}

	scheduleRepo := postgres.NewScheduleRepository(db)
	schedule, err := scheduleRepo.Upsert(ctx, conn.ID, models.Frequency(*frequency), *preferredTime, *timezone, true)
	if err != nil {
		log.Fatalf("Failed to create schedule: %v", err)
	}

	fmt.Printf("Created connection %d (%s) with %s schedule at %s %s\n",
		conn.ID, conn.InstitutionSlug, schedule.Frequency, schedule.PreferredTime, schedule.Timezone)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)

	accountID := fs.Int64("account-id", 0, "Target account ID")
	file := fs.String("file", "", "Path to the OFX or QIF statement file")
	timeoutStr := fs.String("timeout", "5m", "Timeout for the operation")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *accountID == 0 || *file == "" {
		fmt.Println("Error: --account-id and --file are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}

	cfg, db, v := openStack()
	defer db.Close()

	orchestrator := buildOrchestrator(cfg, db, v, nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	inserted, skipped, err := orchestrator.ImportStatement(ctx, *accountID, data)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	fmt.Printf("Imported %s into account %d - inserted: %d, duplicates skipped: %d\n",
		filepath.Base(*file), *accountID, inserted, skipped)
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	connectionID := fs.Int64("connection-id", 0, "Connection to sync")
	timeoutStr := fs.String("timeout", "10m", "Timeout for the operation")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *connectionID == 0 {
		fmt.Println("Error: --connection-id is required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db, v := openStack()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	workDir := filepath.Join(os.TempDir(), "bankfeed-downloads")
	driver, err := browser.NewChromeDriver(ctx, workDir)
	if err != nil {
		log.Fatalf("Failed to start browser driver: %v", err)
	}
	defer driver.Close()

	orchestrator := buildOrchestrator(cfg, db, v, driver)

	startTime := time.Now()
	run, err := orchestrator.Run(ctx, *connectionID)
	if err != nil {
		log.Fatalf("Sync failed to start: %v", err)
	}

	fmt.Printf("Run %s finished in %v: %s - inserted: %d, duplicates skipped: %d\n",
		run.ID, time.Since(startTime).Round(time.Millisecond), run.Status, run.Inserted, run.Skipped)
	if run.ErrorMessage != nil {
		fmt.Printf("  error: %s\n", *run.ErrorMessage)
	}
	if run.Status == models.SyncRunFailed {
		os.Exit(1)
	}
}

func runListRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)

	connectionID := fs.Int64("connection-id", 0, "Connection to inspect")
	limit := fs.Int("limit", 20, "Maximum number of runs to show")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *connectionID == 0 {
		fmt.Println("Error: --connection-id is required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	_, db, _ := openStack()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := postgres.NewSyncRunRepository(db).ListByConnection(ctx, *connectionID, *limit)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return
	}

	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%s  %-7s  %s  %-6s  inserted=%d skipped=%d\n",
			run.StartedAt.Format(time.RFC3339), run.Status, run.ID, duration, run.Inserted, run.Skipped)
		if run.ErrorMessage != nil {
			fmt.Printf("    error: %s\n", *run.ErrorMessage)
		}
	}
}

func buildOrchestrator(cfg *config.Config, db *postgres.DB, v *vault.Vault, driver browser.Driver) *syncer.Orchestrator {
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	syncRunRepo := postgres.NewSyncRunRepository(db)

	engine := reconcile.NewEngine(accountRepo, transactionRepo)
	return syncer.New(connectionRepo, syncRunRepo, v, connector.DefaultRegistry(), driver, engine, syncer.Config{
		RunTimeout:     cfg.Syncer.RunTimeout,
		BreakerLimit:   cfg.Syncer.BreakerLimit,
		ExportLookback: cfg.Syncer.ExportLookback,
	})
}

func parseAccountMap(s string) (map[string]int64, error) {
	if s == "" {
		return nil, nil
	}

	mapping := make(map[string]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		remote, local, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected remote=localID, got %q", pair)
		}
		id, err := strconv.ParseInt(local, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid local account id %q: %w", local, err)
		}
		mapping[remote] = id
	}

	return mapping, nil
}
