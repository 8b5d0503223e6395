package models

import (
	"time"
)

// SyncRunStatus is the terminal (or in-flight) state of one sync run.
type SyncRunStatus string

const (
	SyncRunRunning SyncRunStatus = "running"
	SyncRunSuccess SyncRunStatus = "success"
	SyncRunFailed  SyncRunStatus = "failed"
)

// SyncRun is the append-only record of one orchestrator execution. One row
// is written per run regardless of outcome; decrypted credentials are never
// part of it.
type SyncRun struct {
	ID           string        `json:"id"` // uuid
	ConnectionID int64         `json:"connectionId"`
	Status       SyncRunStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
	Inserted     int           `json:"inserted"`
	Skipped      int           `json:"skipped"`
	ErrorMessage *string       `json:"errorMessage,omitempty"`
}
