package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database  DatabaseConfig
	Vault     VaultConfig
	Scheduler SchedulerConfig
	Syncer    SyncerConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type VaultConfig struct {
	MasterSecret string
}

type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
	WorkerCount  int
	Stagger      time.Duration
	QueueSize    int
}

type SyncerConfig struct {
	RunTimeout     time.Duration
	BreakerLimit   int
	ExportLookback time.Duration
}

type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTick, err := time.ParseDuration(getEnv("SCHEDULER_TICK_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TICK_INTERVAL: %w", err)
	}
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerStagger, err := time.ParseDuration(getEnv("SCHEDULER_STAGGER", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_STAGGER: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}

	runTimeout, err := time.ParseDuration(getEnv("SYNC_RUN_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_RUN_TIMEOUT: %w", err)
	}
	breakerLimit, err := strconv.Atoi(getEnv("SYNC_BREAKER_LIMIT", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BREAKER_LIMIT: %w", err)
	}
	exportLookback, err := time.ParseDuration(getEnv("SYNC_EXPORT_LOOKBACK", "2160h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_EXPORT_LOOKBACK: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "bankfeed"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bankfeed"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Vault: VaultConfig{
			MasterSecret: os.Getenv("BANKFEED_MASTER_SECRET"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      schedulerEnabled,
			TickInterval: schedulerTick,
			WorkerCount:  schedulerWorkers,
			Stagger:      schedulerStagger,
			QueueSize:    schedulerQueueSize,
		},
		Syncer: SyncerConfig{
			RunTimeout:     runTimeout,
			BreakerLimit:   breakerLimit,
			ExportLookback: exportLookback,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankfeed"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}

	// Validate required fields. The vault refuses to start without a master
	// secret; there is no built-in fallback key.
	if cfg.Vault.MasterSecret == "" {
		return nil, fmt.Errorf("BANKFEED_MASTER_SECRET is required")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
