package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressfleet/pressfleet/pkg/fleet"
	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

// fakeOrch records scheduled batch creations.
type fakeOrch struct {
	mu       sync.Mutex
	requests []orchestrator.CreateBatchRequest
	active   map[string]bool
	err      error
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{active: make(map[string]bool)}
}

func (f *fakeOrch) CreateBatch(req orchestrator.CreateBatchRequest) (orchestrator.BatchView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return orchestrator.BatchView{}, f.err
	}
	f.requests = append(f.requests, req)
	return orchestrator.BatchView{ID: "batch-" + req.ScheduleID, Status: orchestrator.BatchRunning}, nil
}

func (f *fakeOrch) HasActiveBatchForSchedule(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeOrch) created() []orchestrator.CreateBatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.CreateBatchRequest(nil), f.requests...)
}

func dailySchedule(id string) Schedule {
	return Schedule{
		ID:             id,
		OperationID:    "update_plugins",
		Selector:       fleet.Selector{All: true},
		CronExpression: "0 2 * * *",
		Window:         MaintenanceWindow{Start: TimeOfDay{Hour: 1}, End: TimeOfDay{Hour: 4}},
		Enabled:        true,
	}
}

func newTestScheduler(orch Orchestrator, at time.Time) *Scheduler {
	s := New(orch, nil, Config{}, nil)
	s.nowFn = func() time.Time { return at }
	return s
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "01:00", want: TimeOfDay{Hour: 1}},
		{in: "23:59", want: TimeOfDay{Hour: 23, Minute: 59}},
		{in: "00:00", want: TimeOfDay{}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMaintenanceWindowContains(t *testing.T) {
	day := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	}

	normal := MaintenanceWindow{Start: TimeOfDay{Hour: 1}, End: TimeOfDay{Hour: 4}}
	assert.False(t, normal.Contains(day(0, 59)))
	assert.True(t, normal.Contains(day(1, 0)))
	assert.True(t, normal.Contains(day(3, 59)))
	assert.False(t, normal.Contains(day(4, 0)))

	// Overnight window wraps midnight.
	overnight := MaintenanceWindow{Start: TimeOfDay{Hour: 22}, End: TimeOfDay{Hour: 2}}
	assert.True(t, overnight.Contains(day(23, 0)))
	assert.True(t, overnight.Contains(day(1, 30)))
	assert.False(t, overnight.Contains(day(12, 0)))

	// Zero window admits everything.
	assert.True(t, MaintenanceWindow{}.Contains(day(12, 0)))
}

func TestDailyRunInsideWindow(t *testing.T) {
	// Tick at 02:00 on day N: exactly one batch, next run day N+1 02:00.
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	orch := newFakeOrch()
	s := newTestScheduler(orch, now.Add(-time.Hour))

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)

	s.tick(now)

	reqs := orch.created()
	require.Len(t, reqs, 1)
	assert.Equal(t, "update_plugins", reqs[0].OperationID)
	assert.Equal(t, orchestrator.TriggerScheduled, reqs[0].Trigger)
	assert.Equal(t, "nightly", reqs[0].ScheduleID)

	view, err := s.Get("nightly")
	require.NoError(t, err)
	require.NotNil(t, view.NextRunAt)
	assert.Equal(t, now.AddDate(0, 0, 1), *view.NextRunAt)
	assert.Equal(t, 1, view.RunCount)

	// A second tick at the same instant fires nothing.
	s.tick(now)
	assert.Len(t, orch.created(), 1)
}

func TestDueOutsideWindowDefersNotSkips(t *testing.T) {
	orch := newFakeOrch()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(orch, now)

	sched := dailySchedule("offhours")
	sched.CronExpression = "0 12 * * *" // due at noon, window 01:00-04:00
	_, err := s.Create(sched)
	require.NoError(t, err)

	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.tick(noon)
	assert.Empty(t, orch.created(), "run outside the window must not fire")

	view, err := s.Get("offhours")
	require.NoError(t, err)
	require.NotNil(t, view.NextRunAt)
	nextOpen := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, nextOpen, *view.NextRunAt, "deferred to the next window opening")

	// The deferred run fires once the window opens.
	s.tick(nextOpen)
	assert.Len(t, orch.created(), 1)
}

func TestPausedScheduleProducesNothing(t *testing.T) {
	orch := newFakeOrch()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(orch, start)

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)

	view, err := s.Pause("nightly")
	require.NoError(t, err)
	assert.False(t, view.Enabled)
	assert.Nil(t, view.NextRunAt)

	// Several due times pass while paused.
	s.tick(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC))
	s.tick(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC))
	assert.Empty(t, orch.created())
}

func TestResumeSkipsBacklog(t *testing.T) {
	orch := newFakeOrch()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(orch, start)

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)
	_, err = s.Pause("nightly")
	require.NoError(t, err)

	// Resume three days later at 03:00: next run is strictly after resume
	// time, the three missed 02:00 occurrences are not caught up.
	resumeAt := time.Date(2026, 3, 13, 3, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return resumeAt }

	view, err := s.Resume("nightly")
	require.NoError(t, err)
	require.NotNil(t, view.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC), *view.NextRunAt)

	s.tick(resumeAt)
	assert.Empty(t, orch.created(), "no catch-up batch on resume")
}

func TestDeleteDeferredWhileBatchActive(t *testing.T) {
	orch := newFakeOrch()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(orch, start)

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)

	orch.mu.Lock()
	orch.active["nightly"] = true
	orch.mu.Unlock()

	require.NoError(t, s.Delete("nightly"))

	// Gone from the API surface immediately, but still listed as deleting.
	_, err = s.Get("nightly")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	views := s.List()
	require.Len(t, views, 1)
	assert.True(t, views[0].Deleting)

	// Produces no further runs while the deletion is pending.
	s.tick(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC))
	assert.Empty(t, orch.created())

	// Once the in-flight batch drains, the next tick sweeps the record.
	orch.mu.Lock()
	orch.active["nightly"] = false
	orch.mu.Unlock()
	s.tick(time.Date(2026, 3, 10, 2, 1, 0, 0, time.UTC))
	assert.Empty(t, s.List())
}

func TestDeleteImmediateWhenIdle(t *testing.T) {
	orch := newFakeOrch()
	s := newTestScheduler(orch, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)
	require.NoError(t, s.Delete("nightly"))
	assert.Empty(t, s.List())

	err = s.Delete("nightly")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCreateValidation(t *testing.T) {
	orch := newFakeOrch()
	s := newTestScheduler(orch, time.Now().UTC())

	tests := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{name: "missing id", mutate: func(s *Schedule) { s.ID = "" }},
		{name: "missing operation", mutate: func(s *Schedule) { s.OperationID = "" }},
		{name: "bad cron", mutate: func(s *Schedule) { s.CronExpression = "once a day" }},
		{name: "six fields", mutate: func(s *Schedule) { s.CronExpression = "0 0 2 * * *" }},
		{name: "zero-length window", mutate: func(s *Schedule) {
			s.Window = MaintenanceWindow{Start: TimeOfDay{Hour: 2}, End: TimeOfDay{Hour: 2}}
		}},
		{name: "empty selector", mutate: func(s *Schedule) { s.Selector = fleet.Selector{} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sched := dailySchedule("bad")
			tc.mutate(&sched)
			_, err := s.Create(sched)
			assert.Error(t, err)
		})
	}
}

func TestCreateDuplicateID(t *testing.T) {
	orch := newFakeOrch()
	s := newTestScheduler(orch, time.Now().UTC())

	_, err := s.Create(dailySchedule("nightly"))
	require.NoError(t, err)
	_, err = s.Create(dailySchedule("nightly"))
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestMultipleSchedulesFireInDueOrder(t *testing.T) {
	orch := newFakeOrch()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := newTestScheduler(orch, start)

	early := dailySchedule("early")
	early.CronExpression = "0 1 * * *"
	early.Window = MaintenanceWindow{}
	late := dailySchedule("late")
	late.CronExpression = "0 3 * * *"
	late.Window = MaintenanceWindow{}

	_, err := s.Create(late)
	require.NoError(t, err)
	_, err = s.Create(early)
	require.NoError(t, err)

	s.tick(time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC))

	reqs := orch.created()
	require.Len(t, reqs, 2)
	assert.Equal(t, "early", reqs[0].ScheduleID)
	assert.Equal(t, "late", reqs[1].ScheduleID)
}
