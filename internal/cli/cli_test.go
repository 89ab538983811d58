package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/schedule"
	"github.com/curator-ai/curator/internal/task"
)

func TestPrefsFromFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Set("mode", "synthesis_only"))
	require.NoError(t, cmd.Flags().Set("items", "a,b"))
	require.NoError(t, cmd.Flags().Set("force-llm", "true"))
	require.NoError(t, cmd.Flags().Set("skip-git-sync", "true"))
	require.NoError(t, cmd.Flags().Set("model", "kb_generation=openai/gpt-4o"))

	prefs, err := prefsFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, config.RunModeSynthesisOnly, prefs.RunMode)
	assert.Equal(t, []string{"a", "b"}, prefs.ItemIDs)
	assert.True(t, prefs.ForceReprocessLLM)
	assert.False(t, prefs.ForceRecacheItems)
	assert.True(t, prefs.SkipGitSync)
	assert.Equal(t, config.ModelRef{Provider: "openai", Model: "gpt-4o"},
		prefs.ModelsOverride["kb_generation"])
}

func TestPrefsFromFlags_RejectsUnknownMode(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Set("mode", "sideways"))

	_, err := prefsFromFlags(cmd)
	require.Error(t, err)
	var ce *errors.CuratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errors.CodeConfigInvalid, ce.Code)
}

func TestParseModelOverride(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		purpose string
		ref     config.ModelRef
		wantErr bool
	}{
		{
			name:    "valid",
			input:   "synthesis=anthropic/claude-sonnet-4-5",
			purpose: "synthesis",
			ref:     config.ModelRef{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		},
		{
			name:    "model with slashes",
			input:   "embedding=ollama/library/nomic-embed",
			purpose: "embedding",
			ref:     config.ModelRef{Provider: "ollama", Model: "library/nomic-embed"},
		},
		{name: "missing equals", input: "anthropic/claude", wantErr: true},
		{name: "missing slash", input: "synthesis=claude", wantErr: true},
		{name: "empty provider", input: "synthesis=/claude", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purpose, ref, err := parseModelOverride(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.purpose, purpose)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestStageDots(t *testing.T) {
	tests := []struct {
		name string
		item db.Item
		want string
	}{
		{name: "untouched", item: db.Item{}, want: "○○○○○"},
		{
			name: "half done",
			item: db.Item{CacheComplete: true, MediaProcessed: true},
			want: "●●○○○",
		},
		{
			name: "llm error",
			item: db.Item{CacheComplete: true, MediaProcessed: true, LLMError: "timeout"},
			want: "●●✗○○",
		},
		{
			name: "all done",
			item: db.Item{
				CacheComplete: true, MediaProcessed: true, CategoriesProcessed: true,
				KBItemCreated: true, DBSynced: true,
			},
			want: "●●●●●",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stageDots(&tt.item))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "toolon...", truncate("toolongvalue", 9))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1a2b3c4d", shortID("1a2b3c4d-0000-0000-0000-000000000000"))
	assert.Equal(t, "tiny", shortID("tiny"))
}

func TestTimeOrDash(t *testing.T) {
	assert.Equal(t, "-", timeOrDash(nil))
	var zero time.Time
	assert.Equal(t, "-", timeOrDash(&zero))
	ts := time.Date(2025, 6, 1, 8, 30, 0, 0, time.Local)
	assert.Equal(t, "2025-06-01 08:30", timeOrDash(&ts))
}

func TestStatusIcon_UnknownPassesThrough(t *testing.T) {
	assert.Equal(t, "WEIRD", statusIcon("WEIRD"))
	assert.Contains(t, statusIcon(string(task.StatusRunning)), "running")
}

func TestRunError(t *testing.T) {
	ok := events.NewEvent(events.EventRunCompleted, "t1", events.RunCompleted{Success: true})
	assert.NoError(t, runError(ok))

	failed := events.NewEvent(events.EventRunCompleted, "t1", events.RunCompleted{
		Success: false,
		Error:   "synthesis exploded",
	})
	err := runError(failed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis exploded")

	other := events.NewEvent(events.EventLog, "t1", events.LogMessage{Message: "hi"})
	assert.NoError(t, runError(other))
}

func TestFindSchedule(t *testing.T) {
	dbs := db.NewTestStore(t)
	store := schedule.NewStore(dbs, nil)

	def := &schedule.Definition{Name: "nightly", Frequency: schedule.FreqDaily, Enabled: true}
	require.NoError(t, store.Create(def))

	byName, err := findSchedule(store, "nightly")
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)

	byID, err := findSchedule(store, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", byID.Name)

	_, err = findSchedule(store, "missing")
	var ce *errors.CuratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errors.CodeScheduleNotFound, ce.Code)
}

func TestCollectStatus(t *testing.T) {
	dbs := db.NewTestStore(t)

	started := time.Now().Add(-10 * time.Minute).UTC()
	require.NoError(t, dbs.SaveAgentState(&db.AgentState{
		Running:       true,
		CurrentTaskID: "run-1",
		StartedAt:     &started,
		UpdatedAt:     time.Now().UTC(),
	}))
	require.NoError(t, dbs.SaveTask(&db.Task{
		ID: "run-1", Queue: "priority", Kind: "agent_run",
		Status: string(task.StatusRunning), Phase: "content_fetching",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, dbs.SaveItem(&db.Item{
		ItemID: "i1", Source: "twitter", CacheComplete: true, KBItemCreated: true,
	}))
	require.NoError(t, dbs.SaveItem(&db.Item{
		ItemID: "i2", Source: "twitter", LLMError: "rate limited",
	}))

	report, currentTask, err := collectStatus(dbs)
	require.NoError(t, err)

	assert.True(t, report.Agent.Running)
	assert.Equal(t, "run-1", report.Agent.CurrentTaskID)
	assert.Equal(t, "content_fetching", report.Agent.CurrentPhase)
	require.NotNil(t, currentTask)

	assert.Equal(t, 2, report.Items.Total)
	assert.Equal(t, 1, report.Items.InKB)
	assert.Equal(t, 1, report.Items.WithErrors)
	assert.Equal(t, int64(1), report.Tasks[string(task.StatusRunning)])
}

func TestRootCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"init", "run", "status", "stop", "items", "tasks",
		"schedules", "doctor", "version",
	} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
