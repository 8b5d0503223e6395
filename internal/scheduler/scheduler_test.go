package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"bankfeed/internal/models"
)

func TestParseScheduleTime(t *testing.T) {
	valid := map[string]ScheduleTime{
		"02:00": {Hour: 2, Minute: 0},
		"23:59": {Hour: 23, Minute: 59},
		"5:30":  {Hour: 5, Minute: 30},
	}
	for in, want := range valid {
		got, err := ParseScheduleTime(in)
		if err != nil {
			t.Errorf("ParseScheduleTime(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseScheduleTime(%q) = %+v, want %+v", in, got, want)
		}
	}

	invalid := []string{"24:00", "12:60", "noon", ""}
	for _, in := range invalid {
		if _, err := ParseScheduleTime(in); err == nil {
			t.Errorf("ParseScheduleTime(%q) expected error, got nil", in)
		}
	}
}

func TestNextRun_DailySydney(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}

	// A run completing at 14:30 Sydney time on Sep 15 fires next at 02:00
	// Sydney time on Sep 16.
	after := time.Date(2023, 9, 15, 14, 30, 0, 0, sydney)
	next, err := NextRun(after, models.FrequencyDaily, "02:00", "Australia/Sydney")
	if err != nil {
		t.Fatalf("NextRun() failed: %v", err)
	}

	local := next.In(sydney)
	if local.Year() != 2023 || local.Month() != time.September || local.Day() != 16 {
		t.Errorf("next run date = %v, want 2023-09-16", local)
	}
	if local.Hour() != 2 || local.Minute() != 0 {
		t.Errorf("next run time = %02d:%02d, want 02:00", local.Hour(), local.Minute())
	}

	// A run completing just after midnight still lands on the following
	// calendar day.
	after = time.Date(2023, 9, 15, 0, 10, 0, 0, sydney)
	next, err = NextRun(after, models.FrequencyDaily, "02:00", "Australia/Sydney")
	if err != nil {
		t.Fatalf("NextRun() failed: %v", err)
	}
	if next.In(sydney).Day() != 16 {
		t.Errorf("next run day = %d, want 16", next.In(sydney).Day())
	}
}

func TestNextRun_CompletionInOtherZone(t *testing.T) {
	sydney, _ := time.LoadLocation("Australia/Sydney")

	// Completion timestamps arrive in server time; the schedule's timezone
	// governs the result. 04:30 UTC on Sep 15 is 14:30 Sydney time.
	after := time.Date(2023, 9, 15, 4, 30, 0, 0, time.UTC)
	next, err := NextRun(after, models.FrequencyDaily, "02:00", "Australia/Sydney")
	if err != nil {
		t.Fatalf("NextRun() failed: %v", err)
	}

	local := next.In(sydney)
	if local.Day() != 16 || local.Hour() != 2 {
		t.Errorf("next run = %v, want Sep 16 02:00 Sydney", local)
	}
}

func TestNextRun_WeeklyAndMonthly(t *testing.T) {
	after := time.Date(2023, 9, 15, 12, 0, 0, 0, time.UTC)

	next, err := NextRun(after, models.FrequencyWeekly, "06:00", "UTC")
	if err != nil {
		t.Fatalf("NextRun(weekly) failed: %v", err)
	}
	if next.Day() != 22 || next.Hour() != 6 {
		t.Errorf("weekly next = %v, want Sep 22 06:00", next)
	}

	next, err = NextRun(after, models.FrequencyMonthly, "06:00", "UTC")
	if err != nil {
		t.Fatalf("NextRun(monthly) failed: %v", err)
	}
	if next.Month() != time.October || next.Day() != 15 {
		t.Errorf("monthly next = %v, want Oct 15", next)
	}

	if _, err := NextRun(after, "fortnightly", "06:00", "UTC"); err == nil {
		t.Error("NextRun(unknown frequency) expected error, got nil")
	}
}

// --- fakes ---

type fakeSource struct {
	mu       sync.Mutex
	due      []DueConnection
	stuck    int64
	released int64
}

func (s *fakeSource) ListDue(ctx context.Context, now time.Time) ([]DueConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DueConnection, len(s.due))
	copy(out, s.due)
	return out, nil
}

func (s *fakeSource) ReleaseStuck(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := s.stuck
	s.released += released
	s.stuck = 0
	return released, nil
}

func (s *fakeSource) releasedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeScheduleStore struct {
	mu      sync.Mutex
	updates map[int64]time.Time
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{updates: make(map[int64]time.Time)}
}

func (s *fakeScheduleStore) UpdateNextRun(ctx context.Context, scheduleID int64, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[scheduleID] = nextRunAt
	return nil
}

func (s *fakeScheduleStore) nextRunFor(scheduleID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.updates[scheduleID]
	return next, ok
}

// blockingRunner blocks each Run until the test releases it, and counts
// invocations.
type blockingRunner struct {
	started chan int64
	release chan struct{}

	mu   sync.Mutex
	runs int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan int64, 10),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, connectionID int64) (*models.SyncRun, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	r.started <- connectionID

	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &models.SyncRun{ID: "run", ConnectionID: connectionID, Status: models.SyncRunSuccess}, nil
}

func (r *blockingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type manualClock struct {
	ticks chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ticks: make(chan time.Time)}
}

func (c *manualClock) Now() time.Time          { return time.Now() }
func (c *manualClock) Ticks() <-chan time.Time { return c.ticks }
func (c *manualClock) Stop()                   {}

func testSchedule() models.Schedule {
	return models.Schedule{
		ID:            5,
		ConnectionID:  42,
		Frequency:     models.FrequencyDaily,
		PreferredTime: "02:00",
		Timezone:      "Australia/Sydney",
		IsActive:      true,
	}
}

// --- tests ---

func TestTick_SelectsDueConnectionOnce(t *testing.T) {
	source := &fakeSource{due: []DueConnection{{Schedule: testSchedule()}}}
	schedules := newFakeScheduleStore()
	runner := newBlockingRunner()
	clock := newManualClock()

	s := New(source, schedules, runner, clock, Config{WorkerCount: 2, StaggerDelay: 0})
	s.pool.Start()
	defer s.Shutdown(time.Second)

	s.tick(clock.Now())

	select {
	case id := <-runner.started:
		if id != 42 {
			t.Errorf("started connection %d, want 42", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync job never started")
	}

	// A second tick while the run is in flight must not dispatch again.
	s.tick(clock.Now())
	time.Sleep(50 * time.Millisecond)
	if got := runner.runCount(); got != 1 {
		t.Fatalf("run count = %d, want 1 while first run is in flight", got)
	}

	close(runner.release)

	// Completion advances the schedule and clears the in-flight guard.
	waitFor(t, func() bool {
		_, ok := schedules.nextRunFor(5)
		return ok
	}, "next_run_at was never advanced")

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, busy := s.inFlight[42]
		return !busy
	}, "in-flight guard never cleared")

	s.tick(clock.Now())
	waitFor(t, func() bool { return runner.runCount() == 2 }, "connection not reselected after completion")
}

func TestScheduler_LoopDispatchesOnTick(t *testing.T) {
	source := &fakeSource{due: []DueConnection{{Schedule: testSchedule()}}}
	schedules := newFakeScheduleStore()
	runner := newBlockingRunner()
	close(runner.release) // runs complete immediately
	clock := newManualClock()

	s := New(source, schedules, runner, clock, Config{WorkerCount: 1})
	s.Start()
	defer s.Shutdown(time.Second)

	clock.ticks <- time.Now()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not dispatch a sync job")
	}
}

func TestStart_ReleasesStuckConnections(t *testing.T) {
	// A crash mid-run leaves connections in the running state, which the
	// polling predicate skips. Start must return them to the pool.
	source := &fakeSource{stuck: 2}
	schedules := newFakeScheduleStore()
	runner := newBlockingRunner()
	close(runner.release)
	clock := newManualClock()

	s := New(source, schedules, runner, clock, Config{WorkerCount: 1})
	s.Start()
	defer s.Shutdown(time.Second)

	if got := source.releasedCount(); got != 2 {
		t.Errorf("released %d stuck connections on start, want 2", got)
	}
}

func TestNextRunAdvance_AfterSuccessfulRun(t *testing.T) {
	schedules := newFakeScheduleStore()
	runner := newBlockingRunner()
	close(runner.release)

	job := NewSyncJob(testSchedule(), runner, schedules, nil)
	if err := job.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	next, ok := schedules.nextRunFor(5)
	if !ok {
		t.Fatal("next_run_at was not updated")
	}

	sydney, _ := time.LoadLocation("Australia/Sydney")
	local := next.In(sydney)
	if local.Hour() != 2 || local.Minute() != 0 {
		t.Errorf("next run time = %02d:%02d Sydney, want 02:00", local.Hour(), local.Minute())
	}
	wantDay := time.Now().In(sydney).AddDate(0, 0, 1).Day()
	if local.Day() != wantDay {
		t.Errorf("next run day = %d, want following calendar day %d", local.Day(), wantDay)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
