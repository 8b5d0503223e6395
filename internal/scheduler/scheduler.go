// Package scheduler drives recurring connection syncs: a single-threaded
// polling loop selects due connections each tick and dispatches them to a
// bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"bankfeed/internal/models"
)

// ScheduleTime represents a preferred time of day in a schedule.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// NextRun computes when a schedule fires next after a run completed at
// "after": the preferred time of day in the schedule's timezone, one
// frequency interval ahead of the completion's calendar day.
func NextRun(after time.Time, freq models.Frequency, preferredTime, timezone string) (time.Time, error) {
	st, err := ParseScheduleTime(preferredTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse preferred time %q: %w", preferredTime, err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}

	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), st.Hour, st.Minute, 0, 0, loc)

	switch freq {
	case models.FrequencyDaily:
		next = next.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		next = next.AddDate(0, 0, 7)
	case models.FrequencyMonthly:
		next = next.AddDate(0, 1, 0)
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", freq)
	}

	return next, nil
}

// DueConnection is one connection the polling predicate selected, together
// with the schedule that made it due.
type DueConnection struct {
	Schedule models.Schedule
}

// ConnectionSource selects the connections due for a sync: schedule active,
// next_run_at null or in the past, connection status not running.
type ConnectionSource interface {
	ListDue(ctx context.Context, now time.Time) ([]DueConnection, error)

	// ReleaseStuck returns connections abandoned in the running state to
	// idle. A crash mid-run leaves the status set, and the polling
	// predicate would otherwise never select the connection again.
	ReleaseStuck(ctx context.Context) (int64, error)
}

// Clock is the injectable tick source. The real clock wraps a time.Ticker;
// tests drive Ticks manually for deterministic polling.
type Clock interface {
	Now() time.Time
	Ticks() <-chan time.Time
	Stop()
}

type tickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock returns a Clock backed by a real time.Ticker.
func NewTickerClock(interval time.Duration) Clock {
	return &tickerClock{ticker: time.NewTicker(interval)}
}

func (c *tickerClock) Now() time.Time          { return time.Now() }
func (c *tickerClock) Ticks() <-chan time.Time { return c.ticker.C }
func (c *tickerClock) Stop()                   { c.ticker.Stop() }

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is how often the polling predicate runs. Default 60s.
	TickInterval time.Duration

	// StaggerDelay spaces out dispatches within one tick so simultaneous
	// browser sessions do not spike together.
	StaggerDelay time.Duration

	WorkerCount int
	JobTimeout  time.Duration
	QueueSize   int
}

// Scheduler owns the polling loop. It has an explicit start/stop lifecycle
// and never blocks its tick on running syncs: dispatch is submission to the
// worker pool, and completion is observed through the job itself.
type Scheduler struct {
	source    ConnectionSource
	schedules ScheduleStore
	runner    Runner
	pool      *WorkerPool
	clock     Clock
	stagger   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// New creates a scheduler with its own worker pool.
func New(source ConnectionSource, schedules ScheduleStore, runner Runner, clock Clock, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 6 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		source:    source,
		schedules: schedules,
		runner:    runner,
		pool:      NewWorkerPool(cfg.WorkerCount, cfg.JobTimeout, cfg.QueueSize),
		clock:     clock,
		stagger:   cfg.StaggerDelay,
		ctx:       ctx,
		cancel:    cancel,
		inFlight:  make(map[int64]struct{}),
	}
}

// Start launches the worker pool and the polling loop. Connections left in
// the running state by a previous crash are released first, so they re-enter
// the polling pool instead of staying wedged.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	released, err := s.source.ReleaseStuck(ctx)
	cancel()
	if err != nil {
		log.Printf("Scheduler: failed to release stuck connections: %v", err)
	} else if released > 0 {
		log.Printf("Scheduler: released %d connections stuck in running state", released)
	}

	s.pool.Start()

	s.wg.Add(1)
	go s.loop()

	log.Println("Scheduler started")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler loop: shutting down")
			return
		case now := <-s.clock.Ticks():
			s.tick(now)
		}
	}
}

// tick runs the polling predicate once and dispatches every due
// connection. Failures here never crash the loop.
func (s *Scheduler) tick(now time.Time) {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	due, err := s.source.ListDue(ctx, now)
	if err != nil {
		log.Printf("Scheduler: failed to select due connections: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	log.Printf("Scheduler: %d connections due", len(due))

	dispatched := 0
	for _, d := range due {
		connectionID := d.Schedule.ConnectionID

		s.mu.Lock()
		if _, busy := s.inFlight[connectionID]; busy {
			s.mu.Unlock()
			continue
		}
		s.inFlight[connectionID] = struct{}{}
		s.mu.Unlock()

		if dispatched > 0 && s.stagger > 0 {
			// Space out browser session launches within one tick.
			select {
			case <-time.After(s.stagger):
			case <-s.ctx.Done():
				s.release(connectionID)
				return
			}
		}

		job := NewSyncJob(d.Schedule, s.runner, s.schedules, s.release)
		if err := s.pool.Submit(job); err != nil {
			log.Printf("Scheduler: failed to submit %s: %v", job.Description(), err)
			s.release(connectionID)
			continue
		}
		dispatched++
	}
}

func (s *Scheduler) release(connectionID int64) {
	s.mu.Lock()
	delete(s.inFlight, connectionID)
	s.mu.Unlock()
}

// Shutdown gracefully stops the polling loop and drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: initiating graceful shutdown...")

	s.cancel()
	s.clock.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Scheduler: loop did not stop within timeout")
	}

	s.pool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: shutdown complete")
}
