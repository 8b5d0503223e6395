package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bankfeed/internal/models"
	"bankfeed/internal/syncer"
)

// Job represents a unit of work executed by the worker pool. The scheduler
// submits one sync job per due connection; other job types (cleanup,
// notifications) can implement the same interface.
type Job interface {
	// Execute runs the job. Context should be respected for cancellation
	// and timeouts.
	Execute(ctx context.Context) error

	// ConnectionID returns the connection this job operates on, for
	// logging and in-flight tracking.
	ConnectionID() int64

	// Description returns a human-readable description of the job.
	Description() string
}

// Runner triggers one sync run for a connection. Implemented by
// syncer.Orchestrator.
type Runner interface {
	Run(ctx context.Context, connectionID int64) (*models.SyncRun, error)
}

// ScheduleStore advances a schedule after a run completes.
type ScheduleStore interface {
	UpdateNextRun(ctx context.Context, scheduleID int64, nextRunAt time.Time) error
}

// SyncJob runs one connection sync and then advances the connection's
// schedule. Dispatch is fire-and-forget with respect to the tick loop, but
// never actually forgotten: completion always lands here, where next_run_at
// is updated regardless of run outcome.
type SyncJob struct {
	schedule  models.Schedule
	runner    Runner
	schedules ScheduleStore
	onDone    func(connectionID int64)
}

// NewSyncJob creates a sync job for the connection the schedule belongs to.
func NewSyncJob(schedule models.Schedule, runner Runner, schedules ScheduleStore, onDone func(connectionID int64)) *SyncJob {
	return &SyncJob{schedule: schedule, runner: runner, schedules: schedules, onDone: onDone}
}

// Execute runs the sync and advances the schedule.
func (j *SyncJob) Execute(ctx context.Context) error {
	if j.onDone != nil {
		defer j.onDone(j.schedule.ConnectionID)
	}

	run, err := j.runner.Run(ctx, j.schedule.ConnectionID)
	if err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			// Another dispatch won the compare-and-set; that run's job
			// will advance the schedule when it finishes.
			log.Printf("Connection %d: sync already in flight, skipping", j.schedule.ConnectionID)
			return nil
		}
		return fmt.Errorf("sync dispatch failed: %w", err)
	}

	next, err := NextRun(time.Now(), j.schedule.Frequency, j.schedule.PreferredTime, j.schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule advance failed: %w", err)
	}
	if err := j.schedules.UpdateNextRun(ctx, j.schedule.ID, next); err != nil {
		return fmt.Errorf("schedule advance failed: %w", err)
	}

	if run.Status == models.SyncRunFailed {
		return fmt.Errorf("sync run %s failed", run.ID)
	}
	return nil
}

// ConnectionID returns the connection this job syncs.
func (j *SyncJob) ConnectionID() int64 {
	return j.schedule.ConnectionID
}

// Description returns a human-readable description of the job.
func (j *SyncJob) Description() string {
	return fmt.Sprintf("sync for connection %d", j.schedule.ConnectionID)
}
