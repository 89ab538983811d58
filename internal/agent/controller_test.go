package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/model/backends/mock"
	"github.com/curator-ai/curator/internal/task"
)

// agentConfig routes every inference phase to the mock backend and
// points all filesystem state at a temp dir.
func agentConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Sources.Provider = "" // tests seed records directly
	cfg.Sources.CacheDir = filepath.Join(dir, "cache")
	cfg.KB.Root = filepath.Join(dir, "kb")
	cfg.KB.SynthesisDir = filepath.Join(dir, "kb", "syntheses")
	cfg.KB.ReadmePath = filepath.Join(dir, "kb", "README.md")
	cfg.Agent.PIDFile = filepath.Join(dir, "agent.pid")
	cfg.Agent.ShutdownGrace = 5 * time.Second

	route := config.PhaseModelConfig{Provider: "mock", Model: "mock-small"}
	cfg.Models = config.ModelsConfig{
		Vision:           route,
		KBGeneration:     route,
		Synthesis:        route,
		Chat:             route,
		ReadmeGeneration: route,
		Embedding:        route,
	}

	cfg.Pipeline.BatchSize = 5
	cfg.Pipeline.MaxConcurrent = 2
	cfg.Pipeline.SynthesisMinItems = 1
	cfg.Retry.MaxRetries = 1
	cfg.Retry.BaseDelay = time.Hour
	cfg.Retry.Jitter = false
	cfg.Runtime.HeartbeatInterval = 50 * time.Millisecond
	cfg.Runtime.ProgressCoalesce = time.Millisecond
	return cfg
}

// agentBackend answers schema calls with a categorization and
// everything else with a short markdown body.
func agentBackend(opts ...mock.Option) *mock.Backend {
	var n atomic.Int64
	script := func(_ context.Context, req model.Request) (*model.Response, error) {
		if req.JSONOnly {
			text := fmt.Sprintf(
				`{"main_category":"databases","sub_category":"sqlite","item_name":"note-%d","tags":["go"]}`,
				n.Add(1))
			return &model.Response{Text: text, StopReason: "end_turn"}, nil
		}
		return &model.Response{Text: "# Note\n\nWorth keeping.", StopReason: "end_turn"}, nil
	}
	all := append([]mock.Option{mock.WithCompleteFunc(script)}, opts...)
	return mock.New(all...)
}

type controllerEnv struct {
	ctrl *Controller
	svc  *Services
	cfg  *config.Config
}

func newControllerEnv(t *testing.T, cfg *config.Config, backend model.Backend) *controllerEnv {
	t.Helper()

	svc, err := Build(context.Background(), cfg, nil,
		WithStore(db.NewTestStore(t)),
		WithBackends(map[string]model.Backend{"mock": backend}))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Close)

	ctrl, err := NewController(svc)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	return &controllerEnv{ctrl: ctrl, svc: svc, cfg: cfg}
}

func seedAgentItem(t *testing.T, svc *Services, id string) {
	t.Helper()
	raw := fmt.Sprintf(`{"id_str":%q,"full_text":"agent test item","user":{"screen_name":"kbfan"}}`, id)
	_, err := svc.Items.Upsert(id, item.Patch{
		Source:     item.StringPtr("twitter"),
		RawContent: item.StringPtr(raw),
	})
	require.NoError(t, err)
}

func waitIdle(t *testing.T, ctrl *Controller) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := ctrl.Status()
		return !st.Running && st.QueuedRuns == 0
	}, 10*time.Second, 20*time.Millisecond, "run should finish")
}

func TestController_StartRunsToCompletion(t *testing.T) {
	cfg := agentConfig(t)
	env := newControllerEnv(t, cfg, agentBackend())
	seedAgentItem(t, env.svc, "item-1")

	evCh := env.svc.Bus.Subscribe(events.GlobalTaskID)
	defer env.svc.Bus.Unsubscribe(events.GlobalTaskID, evCh)

	id, err := env.ctrl.Start(config.RunPreferences{RunMode: config.RunModeFull})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, env.ctrl.Status().Running)

	waitIdle(t, env.ctrl)

	st := env.ctrl.Status()
	assert.False(t, st.Running)
	assert.True(t, st.LastSuccess)
	require.NotNil(t, st.LastCompletedAt)
	assert.WithinDuration(t, time.Now(), *st.LastCompletedAt, time.Minute)

	row, err := env.svc.DB.LoadAgentState()
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.Running)
	assert.True(t, row.LastSuccess)

	var completed *events.RunCompleted
	deadline := time.After(2 * time.Second)
	for completed == nil {
		select {
		case ev := <-evCh:
			if ev.Type == events.EventRunCompleted && ev.TaskID == id {
				rc, ok := ev.Data.(events.RunCompleted)
				require.True(t, ok)
				completed = &rc
			}
		case <-deadline:
			t.Fatal("no run_completed event observed")
		}
	}
	assert.True(t, completed.Success)
	assert.Empty(t, completed.Error)

	require.Eventually(t, func() bool {
		tk, err := env.svc.Runtime.Status(id)
		return err == nil && tk.Status == task.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond, "run task should be recorded as successful")

	// The controller is reusable once idle.
	id2, err := env.ctrl.Start(config.RunPreferences{RunMode: config.RunModeReadmeOnly})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	waitIdle(t, env.ctrl)
}

func TestController_BusyRejectsSecondStart(t *testing.T) {
	cfg := agentConfig(t)
	env := newControllerEnv(t, cfg, agentBackend(mock.WithLatency(400*time.Millisecond)))
	seedAgentItem(t, env.svc, "item-1")

	_, err := env.ctrl.Start(config.RunPreferences{})
	require.NoError(t, err)

	_, err = env.ctrl.Start(config.RunPreferences{})
	require.Error(t, err)
	cerr := errors.AsCuratorError(err)
	require.NotNil(t, cerr)
	assert.Equal(t, errors.CodeAgentBusy, cerr.Code)

	waitIdle(t, env.ctrl)
}

func TestController_StopCancelsActiveRun(t *testing.T) {
	cfg := agentConfig(t)
	env := newControllerEnv(t, cfg, agentBackend(mock.WithLatency(2*time.Second)))
	seedAgentItem(t, env.svc, "item-1")

	_, err := env.ctrl.Start(config.RunPreferences{})
	require.NoError(t, err)

	// The status mirror picks up phase starts from the bus.
	require.Eventually(t, func() bool {
		msg := env.ctrl.Status().PhaseMessage
		return msg != "" && msg != "starting"
	}, 3*time.Second, 10*time.Millisecond, "mirror should reflect the running phase")

	require.True(t, env.ctrl.Stop(""))
	assert.True(t, env.ctrl.Status().StopRequested)

	waitIdle(t, env.ctrl)

	st := env.ctrl.Status()
	assert.False(t, st.Running)
	assert.False(t, st.StopRequested)
	assert.False(t, st.LastSuccess)
}

func TestController_StopWithoutRunReturnsFalse(t *testing.T) {
	env := newControllerEnv(t, agentConfig(t), agentBackend())

	assert.False(t, env.ctrl.Stop(""))
	assert.False(t, env.ctrl.Stop("no-such-task"))
}

func TestController_QueueRunsChainsRuns(t *testing.T) {
	cfg := agentConfig(t)
	cfg.Agent.QueueRuns = true
	env := newControllerEnv(t, cfg, agentBackend(mock.WithLatency(300*time.Millisecond)))
	seedAgentItem(t, env.svc, "item-1")

	id1, err := env.ctrl.Start(config.RunPreferences{})
	require.NoError(t, err)
	id2, err := env.ctrl.Start(config.RunPreferences{RunMode: config.RunModeReadmeOnly})
	require.NoError(t, err)
	require.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 1, env.ctrl.Status().QueuedRuns)

	waitIdle(t, env.ctrl)

	// The queued run executed under the id handed out at enqueue time.
	require.Eventually(t, func() bool {
		tk, err := env.svc.Runtime.Status(id2)
		return err == nil && tk.Status == task.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond, "queued run should have executed")
}

func TestController_StopRemovesQueuedRun(t *testing.T) {
	cfg := agentConfig(t)
	cfg.Agent.QueueRuns = true
	env := newControllerEnv(t, cfg, agentBackend(mock.WithLatency(600*time.Millisecond)))
	seedAgentItem(t, env.svc, "item-1")

	_, err := env.ctrl.Start(config.RunPreferences{})
	require.NoError(t, err)
	id2, err := env.ctrl.Start(config.RunPreferences{})
	require.NoError(t, err)

	assert.True(t, env.ctrl.Stop(id2))
	assert.Equal(t, 0, env.ctrl.Status().QueuedRuns)
	assert.False(t, env.ctrl.Stop(id2))

	waitIdle(t, env.ctrl)
}

func TestController_ProgressPatch(t *testing.T) {
	env := newControllerEnv(t, agentConfig(t), agentBackend())

	err := env.ctrl.Progress("nope", StatusPatch{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeTaskNotFound, errors.AsCuratorError(err).Code)

	// Pose as a running controller so the patch path can be exercised
	// without racing the event mirror of a live run.
	env.ctrl.mu.Lock()
	env.ctrl.running = true
	env.ctrl.taskID = "t-1"
	env.ctrl.startedAt = time.Now().UTC()
	env.ctrl.mu.Unlock()

	msg := "reprocessing media"
	overflow := 1.5
	require.NoError(t, env.ctrl.Progress("t-1", StatusPatch{PhaseMessage: &msg, Progress: &overflow}))

	st := env.ctrl.Status()
	assert.Equal(t, msg, st.PhaseMessage)
	assert.Equal(t, 1.0, st.Progress, "progress should clamp to [0,1]")

	assert.Error(t, env.ctrl.Progress("other", StatusPatch{PhaseMessage: &msg}))

	env.ctrl.mu.Lock()
	env.ctrl.running = false
	env.ctrl.taskID = ""
	env.ctrl.mu.Unlock()
}

func TestController_GuardBlocksSecondController(t *testing.T) {
	cfg := agentConfig(t)
	env := newControllerEnv(t, cfg, agentBackend())

	_, err := NewController(env.svc)
	require.Error(t, err)
	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, os.Getpid(), already.PID)
}

func TestRunDescription(t *testing.T) {
	assert.Equal(t, "pipeline run", runDescription(config.RunPreferences{}))
	assert.Equal(t, "pipeline run (2 items)",
		runDescription(config.RunPreferences{ItemIDs: []string{"a", "b"}}))
	assert.Equal(t, "synthesis rebuild",
		runDescription(config.RunPreferences{RunMode: config.RunModeSynthesisOnly}))
	assert.Equal(t, "embedding rebuild",
		runDescription(config.RunPreferences{RunMode: config.RunModeEmbeddingOnly}))
	assert.Equal(t, "readme rebuild",
		runDescription(config.RunPreferences{RunMode: config.RunModeReadmeOnly}))
}
