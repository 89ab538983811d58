package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(db.NewTestStore(t), nil)
}

func TestNextAfter(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	last := time.Date(2025, 3, 9, 6, 30, 0, 0, time.UTC)
	longAgo := time.Date(2025, 1, 1, 6, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		def     Definition
		want    time.Time
		wantNil bool
		wantErr bool
	}{
		{
			name:    "manual has no due time",
			def:     Definition{Frequency: FreqManual, Enabled: true},
			wantNil: true,
		},
		{
			name:    "disabled has no due time",
			def:     Definition{Frequency: FreqDaily, Enabled: false},
			wantNil: true,
		},
		{
			name: "daily keeps time of day and lands after ref",
			def:  Definition{Frequency: FreqDaily, Enabled: true, LastRunAt: &last},
			want: time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "weekly from last run",
			def:  Definition{Frequency: FreqWeekly, Enabled: true, LastRunAt: &last},
			want: time.Date(2025, 3, 16, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "monthly from last run",
			def:  Definition{Frequency: FreqMonthly, Enabled: true, LastRunAt: &last},
			want: time.Date(2025, 4, 9, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "daily without last run starts one period out",
			def:  Definition{Frequency: FreqDaily, Enabled: true},
			want: time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "long overdue rolls forward past ref",
			def:  Definition{Frequency: FreqDaily, Enabled: true, LastRunAt: &longAgo},
			want: time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "custom cron",
			def:  Definition{Frequency: FreqCustom, CronExpr: "0 3 * * *", Enabled: true},
			want: time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC),
		},
		{
			name:    "custom with bad expression",
			def:     Definition{Frequency: FreqCustom, CronExpr: "not cron", Enabled: true},
			wantErr: true,
		},
		{
			name:    "unknown frequency",
			def:     Definition{Frequency: "hourly-ish", Enabled: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextAfter(&tt.def, ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeScheduleInvalid, errors.AsCuratorError(err).Code)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.Equal(tt.want), "next = %v, want %v", got, tt.want)
		})
	}
}

func TestStore_CreateComputesNextRun(t *testing.T) {
	s := testStore(t)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	def := &Definition{
		Name:      "nightly",
		Frequency: FreqDaily,
		Enabled:   true,
		Prefs:     config.RunPreferences{RunMode: config.RunModeFull, SkipReadme: true},
	}
	require.NoError(t, s.Create(def))
	require.NotEmpty(t, def.ID)
	require.NotNil(t, def.NextRunAt)
	assert.True(t, def.NextRunAt.Equal(now.AddDate(0, 0, 1)))

	got, err := s.Get(def.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, FreqDaily, got.Frequency)
	assert.True(t, got.Enabled)
	assert.Equal(t, config.RunModeFull, got.Prefs.RunMode)
	assert.True(t, got.Prefs.SkipReadme, "preferences should survive the round trip")
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(*def.NextRunAt))
}

func TestStore_ValidationErrors(t *testing.T) {
	s := testStore(t)

	bad := []*Definition{
		{Name: "", Frequency: FreqDaily},
		{Name: "odd", Frequency: "fortnightly"},
		{Name: "broken-cron", Frequency: FreqCustom, CronExpr: "* * *"},
	}
	for _, def := range bad {
		err := s.Create(def)
		require.Error(t, err, "definition %+v should be rejected", def)
		assert.Equal(t, errors.CodeScheduleInvalid, errors.AsCuratorError(err).Code)
	}
}

func TestStore_MissingSchedule(t *testing.T) {
	s := testStore(t)

	_, err := s.Get("nope")
	require.Error(t, err)
	assert.Equal(t, errors.CodeScheduleNotFound, errors.AsCuratorError(err).Code)

	err = s.Update(&Definition{ID: "nope", Name: "x", Frequency: FreqManual})
	require.Error(t, err)
	assert.Equal(t, errors.CodeScheduleNotFound, errors.AsCuratorError(err).Code)

	err = s.Delete("nope")
	require.Error(t, err)
	assert.Equal(t, errors.CodeScheduleNotFound, errors.AsCuratorError(err).Code)
}

func TestStore_SetEnabled(t *testing.T) {
	s := testStore(t)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	def := &Definition{Name: "weekly-sweep", Frequency: FreqWeekly, Enabled: true}
	require.NoError(t, s.Create(def))

	require.NoError(t, s.SetEnabled(def.ID, false))
	got, err := s.Get(def.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRunAt, "disabling clears the due time")

	require.NoError(t, s.SetEnabled(def.ID, true))
	got, err = s.Get(def.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(now))
}

func TestStore_DeleteRemovesSchedule(t *testing.T) {
	s := testStore(t)

	def := &Definition{Name: "doomed", Frequency: FreqManual}
	require.NoError(t, s.Create(def))
	require.NoError(t, s.Delete(def.ID))

	_, err := s.Get(def.ID)
	require.Error(t, err)

	defs, err := s.List(false)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestStore_EnsureConfigured(t *testing.T) {
	s := testStore(t)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	configured := []config.ScheduleConfig{{
		Name:        "nightly",
		Cron:        "0 3 * * *",
		Enabled:     true,
		Preferences: config.RunPreferences{RunMode: config.RunModeFull},
	}}
	require.NoError(t, s.EnsureConfigured(configured))

	defs, err := s.List(false)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, FreqCustom, defs[0].Frequency)
	assert.Equal(t, "0 3 * * *", defs[0].CronExpr)
	assert.True(t, defs[0].Enabled)

	// A second pass updates by name instead of duplicating.
	configured[0].Enabled = false
	require.NoError(t, s.EnsureConfigured(configured))

	defs, err = s.List(false)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.False(t, defs[0].Enabled)
}

type fakeStarter struct {
	mu       sync.Mutex
	calls    []config.RunPreferences
	attempts int
	id       string
	err      error
}

func (f *fakeStarter) Start(prefs config.RunPreferences) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, prefs)
	if f.id != "" {
		return f.id, nil
	}
	return fmt.Sprintf("task-%d", len(f.calls)), nil
}

func (f *fakeStarter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeStarter) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStarter) tried() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// dueSchedule creates a daily definition and a runner whose clock sits
// one day past the creation time, so the definition is due.
func dueSchedule(t *testing.T, s *Store, starter Starter, bus events.Publisher, opts ...RunnerOption) (*Definition, *Runner) {
	t.Helper()
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	def := &Definition{
		Name:      "nightly",
		Frequency: FreqDaily,
		Enabled:   true,
		Prefs:     config.RunPreferences{RunMode: config.RunModeFull},
	}
	require.NoError(t, s.Create(def))

	r := NewRunner(s, starter, bus, nil, opts...)
	r.now = func() time.Time { return base.AddDate(0, 0, 1).Add(time.Minute) }
	return def, r
}

func TestRunner_SweepFiresDueSchedule(t *testing.T) {
	s := testStore(t)
	starter := &fakeStarter{id: "task-1"}
	pub := events.NewMemoryPublisher(events.WithBufferSize(16))
	defer pub.Close()
	evCh := pub.Subscribe(events.GlobalTaskID)

	def, r := dueSchedule(t, s, starter, pub)

	assert.Equal(t, 1, r.sweep())
	assert.Equal(t, 1, starter.started())

	got, err := s.Get(def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(r.now()))

	runs, err := s.History(def.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "task-1", runs[0].TaskID)
	assert.Equal(t, "started", runs[0].Status)

	var triggered bool
	for _, ev := range drainEvents(evCh) {
		if ev.Type == events.EventScheduleTriggered {
			data, ok := ev.Data.(events.ScheduleTriggered)
			require.True(t, ok)
			assert.Equal(t, def.ID, data.ScheduleID)
			assert.Equal(t, "nightly", data.Name)
			triggered = true
		}
	}
	assert.True(t, triggered, "schedule_triggered should be published")

	// The advanced due time keeps the next sweep quiet.
	assert.Equal(t, 0, r.sweep())
	assert.Equal(t, 1, starter.started())
}

func TestRunner_BusyLeavesScheduleDue(t *testing.T) {
	s := testStore(t)
	starter := &fakeStarter{err: errors.ErrAgentBusy("other-task")}

	def, r := dueSchedule(t, s, starter, nil)
	before, err := s.Get(def.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, r.sweep())
	assert.Equal(t, 1, starter.tried())

	after, err := s.Get(def.ID)
	require.NoError(t, err)
	require.NotNil(t, after.NextRunAt)
	assert.True(t, after.NextRunAt.Equal(*before.NextRunAt), "busy skip must not advance the schedule")

	runs, err := s.History(def.ID)
	require.NoError(t, err)
	assert.Empty(t, runs, "busy skips are not history entries")

	// Once the agent frees up, the still-due schedule fires.
	starter.setErr(nil)
	assert.Equal(t, 1, r.sweep())
	assert.Equal(t, 1, starter.started())
}

func TestRunner_StartErrorAdvancesSchedule(t *testing.T) {
	s := testStore(t)
	starter := &fakeStarter{err: errors.ErrConfigInvalid("models.synthesis", "no route")}

	def, r := dueSchedule(t, s, starter, nil)

	assert.Equal(t, 0, r.sweep())

	runs, err := s.History(def.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, strings.HasPrefix(runs[0].Status, "error: "), "status = %q", runs[0].Status)

	got, err := s.Get(def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(r.now()), "a failing schedule must not hot-loop")

	assert.Equal(t, 0, r.sweep())
	assert.Equal(t, 1, starter.tried())
}

func TestRunner_MarksCompletionFromBus(t *testing.T) {
	s := testStore(t)
	starter := &fakeStarter{id: "task-9"}
	pub := events.NewMemoryPublisher(events.WithBufferSize(16))
	defer pub.Close()

	def, r := dueSchedule(t, s, starter, pub, WithInterval(10*time.Millisecond))

	r.Start(context.Background())
	defer r.Close()

	require.Eventually(t, func() bool {
		runs, err := s.History(def.ID)
		return err == nil && len(runs) == 1 && runs[0].Status == "started"
	}, 2*time.Second, 10*time.Millisecond, "runner should fire the due schedule")

	helper := events.NewPublishHelper(pub)
	helper.RunCompleted("task-9", false, time.Second, nil, errors.ErrRunCancelled("run"))

	require.Eventually(t, func() bool {
		runs, err := s.History(def.ID)
		return err == nil && len(runs) == 1 && strings.HasPrefix(runs[0].Status, "failed")
	}, 2*time.Second, 10*time.Millisecond, "completion should update the history entry")
}
