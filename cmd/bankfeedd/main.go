package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankfeed/internal/config"
	"bankfeed/internal/connector"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/reconcile"
	"bankfeed/internal/scheduler"
	"bankfeed/internal/shared/telemetry"
	"bankfeed/internal/syncer"
	"bankfeed/internal/vault"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  os.Getenv("ENVIRONMENT"),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		MetricsPort:  cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}()

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	log.Println("Connected to database")

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	syncRunRepo := postgres.NewSyncRunRepository(db)
	scheduleRepo := postgres.NewScheduleRepository(db)

	// Initialize the credential vault. Refuses to start without a master
	// secret; this is validated again here so a broken secret fails fast.
	credentialVault, err := vault.New(cfg.Vault.MasterSecret)
	if err != nil {
		return err
	}

	// Initialize the browser driver shared by all connectors
	driver, err := browserDriver(ctx)
	if err != nil {
		return err
	}
	defer driver.Close()

	// Initialize the sync pipeline
	registry := connector.DefaultRegistry()
	engine := reconcile.NewEngine(accountRepo, transactionRepo)
	orchestrator := syncer.New(connectionRepo, syncRunRepo, credentialVault, registry, driver, engine, syncer.Config{
		RunTimeout:     cfg.Syncer.RunTimeout,
		BreakerLimit:   cfg.Syncer.BreakerLimit,
		ExportLookback: cfg.Syncer.ExportLookback,
	})

	// Initialize scheduler (if enabled)
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Println("Initializing scheduler...")
		clock := scheduler.NewTickerClock(cfg.Scheduler.TickInterval)
		sched = scheduler.New(connectionRepo, scheduleRepo, orchestrator, clock, scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval,
			StaggerDelay: cfg.Scheduler.Stagger,
			WorkerCount:  cfg.Scheduler.WorkerCount,
			JobTimeout:   cfg.Syncer.RunTimeout + time.Minute,
			QueueSize:    cfg.Scheduler.QueueSize,
		})

		sched.Start()
		log.Printf("Scheduler started (tick=%s, workers=%d)", cfg.Scheduler.TickInterval, cfg.Scheduler.WorkerCount)
	} else {
		log.Println("Scheduler is disabled")
	}

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Shutdown scheduler if it was started; in-flight syncs get to finish
	if sched != nil {
		log.Println("Shutting down scheduler...")
		sched.Shutdown(30 * time.Second)
	}

	log.Println("Stopped")
	return nil
}
