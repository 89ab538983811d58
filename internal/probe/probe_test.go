package probe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/model/backends/mock"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/retry"
)

func proberFixture(t *testing.T, backend model.Backend) (*config.Config, *db.Store, *model.Router, *orchestrator.Runtime) {
	t.Helper()

	cfg := config.Default()
	dbs := db.NewTestStore(t)
	route := config.PhaseModelConfig{Provider: "mock", Model: "mock-small"}
	router := model.NewRouter(config.ModelsConfig{KBGeneration: route},
		map[string]model.Backend{"mock": backend}, nil)

	runtime, err := orchestrator.NewRuntime(orchestrator.Options{
		Config: cfg.Runtime,
		Store:  dbs,
		Retry:  retry.NewManager(cfg.Retry, nil),
	})
	require.NoError(t, err)

	return cfg, dbs, router, runtime
}

func byComponent(results []ComponentHealth) map[string]ComponentHealth {
	out := make(map[string]ComponentHealth, len(results))
	for _, r := range results {
		out[r.Component] = r
	}
	return out
}

func TestProber_AllHealthy(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg, dbs, router, runtime := proberFixture(t, mock.New())
	cfg.Events.Redis.Enabled = true
	cfg.Events.Redis.Addr = srv.Addr()

	p := New(cfg, dbs, router, runtime)
	results := p.Run(context.Background())

	require.Len(t, results, 4)
	assert.Equal(t, "storage", results[0].Component)
	assert.Equal(t, "backend:mock", results[1].Component)
	assert.Equal(t, "redis", results[2].Component)
	assert.Equal(t, "queues", results[3].Component)

	for _, r := range results {
		assert.True(t, r.Healthy, "%s should be healthy: %s", r.Component, r.Detail)
	}
	assert.True(t, Healthy(results))
}

func TestProber_BackendFailureReported(t *testing.T) {
	cfg, dbs, router, runtime := proberFixture(t,
		mock.New(mock.WithPingError(fmt.Errorf("invalid api key"))))

	p := New(cfg, dbs, router, runtime)
	results := p.Run(context.Background())

	health := byComponent(results)
	backend, ok := health["backend:mock"]
	require.True(t, ok)
	assert.False(t, backend.Healthy)
	assert.Contains(t, backend.Detail, "invalid api key")

	assert.True(t, health["storage"].Healthy)
	assert.True(t, health["queues"].Healthy)
	assert.False(t, Healthy(results))
}

func TestProber_RedisDown(t *testing.T) {
	cfg, dbs, router, runtime := proberFixture(t, mock.New())
	cfg.Events.Redis.Enabled = true
	cfg.Events.Redis.Addr = "127.0.0.1:1"

	p := New(cfg, dbs, router, runtime, WithTimeout(300*time.Millisecond))
	results := p.Run(context.Background())

	health := byComponent(results)
	rd, ok := health["redis"]
	require.True(t, ok)
	assert.False(t, rd.Healthy)
	assert.NotEmpty(t, rd.Detail)
}

func TestProber_NATSDown(t *testing.T) {
	cfg, dbs, router, runtime := proberFixture(t, mock.New())
	cfg.Events.NATS.Enabled = true
	cfg.Events.NATS.URL = "nats://127.0.0.1:1"

	p := New(cfg, dbs, router, runtime, WithTimeout(300*time.Millisecond))
	results := p.Run(context.Background())

	health := byComponent(results)
	nc, ok := health["nats"]
	require.True(t, ok)
	assert.False(t, nc.Healthy)
	assert.NotEmpty(t, nc.Detail)
}

func TestProber_SkipsMissingCollaborators(t *testing.T) {
	p := New(nil, nil, nil, nil)
	results := p.Run(context.Background())
	assert.Empty(t, results)
	assert.True(t, Healthy(results), "no checks means nothing failed")
}

func TestHealthy(t *testing.T) {
	assert.True(t, Healthy(nil))
	assert.True(t, Healthy([]ComponentHealth{{Healthy: true}, {Healthy: true}}))
	assert.False(t, Healthy([]ComponentHealth{{Healthy: true}, {Healthy: false}}))
}
