package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("BANKFEED_MASTER_SECRET", "test-master-secret")
}

func TestLoad_Success(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Vault.MasterSecret != "test-master-secret" {
		t.Errorf("Vault.MasterSecret = %q, want %q", cfg.Vault.MasterSecret, "test-master-secret")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, 5432)
	}
	if cfg.Scheduler.TickInterval != time.Minute {
		t.Errorf("Scheduler.TickInterval = %v, want %v", cfg.Scheduler.TickInterval, time.Minute)
	}
	if cfg.Syncer.RunTimeout != 5*time.Minute {
		t.Errorf("Syncer.RunTimeout = %v, want %v", cfg.Syncer.RunTimeout, 5*time.Minute)
	}
	if cfg.Syncer.BreakerLimit != 3 {
		t.Errorf("Syncer.BreakerLimit = %d, want 3", cfg.Syncer.BreakerLimit)
	}
}

func TestLoad_MissingMasterSecret(t *testing.T) {
	t.Setenv("BANKFEED_MASTER_SECRET", "")
	os.Unsetenv("BANKFEED_MASTER_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error for missing BANKFEED_MASTER_SECRET, got nil")
	}
}

func TestLoad_InvalidDBPort(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("DB_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error for invalid DB_PORT, got nil")
	}
}

func TestLoad_InvalidRunTimeout(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SYNC_RUN_TIMEOUT", "five minutes")

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error for invalid SYNC_RUN_TIMEOUT, got nil")
	}
}

func TestLoad_SchedulerConfig(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_WORKERS", "10")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Scheduler.Enabled != false {
		t.Error("Scheduler.Enabled should be false")
	}
	if cfg.Scheduler.WorkerCount != 10 {
		t.Errorf("Scheduler.WorkerCount = %d, want 10", cfg.Scheduler.WorkerCount)
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("Scheduler.TickInterval = %v, want 30s", cfg.Scheduler.TickInterval)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		defVal   bool
		expected bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"invalid", true, true},   // returns default
		{"invalid", false, false}, // returns default
		{"", true, true},          // empty returns default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			key := "TEST_BOOL_ENV"
			if tt.value == "" {
				os.Unsetenv(key)
			} else {
				t.Setenv(key, tt.value)
			}

			got := getBoolEnv(key, tt.defVal)
			if got != tt.expected {
				t.Errorf("getBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defVal, got, tt.expected)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	got := cfg.ConnectionString()
	if got != expected {
		t.Errorf("ConnectionString() = %q, want %q", got, expected)
	}
}
