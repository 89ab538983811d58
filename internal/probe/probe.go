// Package probe runs in-process health checks over the agent's
// dependencies: storage, AI backends, event brokers, and the task
// queues. The doctor command and the telemetry emitter consume the
// results.
package probe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/orchestrator"
)

// ComponentHealth is one check's outcome.
type ComponentHealth struct {
	Component string        `json:"component"`
	Healthy   bool          `json:"healthy"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency"`
}

const defaultCheckTimeout = 5 * time.Second

// Prober runs the component checks. Nil collaborators are skipped, so
// a partially wired process can still probe what it has.
type Prober struct {
	cfg     *config.Config
	db      *db.Store
	router  *model.Router
	runtime *orchestrator.Runtime
	timeout time.Duration
}

// Option adjusts prober construction.
type Option func(*Prober)

// WithTimeout bounds each individual check.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New builds a prober over the given collaborators.
func New(cfg *config.Config, dbs *db.Store, router *model.Router, runtime *orchestrator.Runtime, opts ...Option) *Prober {
	p := &Prober{
		cfg:     cfg,
		db:      dbs,
		router:  router,
		runtime: runtime,
		timeout: defaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes every applicable check. Results come back in a stable
// order: storage, backends by name, brokers, queues.
func (p *Prober) Run(ctx context.Context) []ComponentHealth {
	var out []ComponentHealth
	if p.db != nil {
		out = append(out, p.checkStorage(ctx))
	}
	if p.router != nil {
		out = append(out, p.checkBackends(ctx)...)
	}
	if p.cfg != nil && p.cfg.Events.Redis.Enabled {
		out = append(out, p.checkRedis(ctx))
	}
	if p.cfg != nil && p.cfg.Events.NATS.Enabled {
		out = append(out, p.checkNATS(ctx))
	}
	if p.runtime != nil {
		out = append(out, p.checkQueues())
	}
	return out
}

// Healthy reports whether every check in results passed.
func Healthy(results []ComponentHealth) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

func (p *Prober) checkStorage(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.db.Ping(ctx)
	h := ComponentHealth{Component: "storage", Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	h.Healthy = true
	h.Detail = "reachable"
	return h
}

func (p *Prober) checkBackends(ctx context.Context) []ComponentHealth {
	caps := p.router.Backends()
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		backend, ok := p.router.Backend(name)
		if !ok {
			continue
		}
		bctx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err := backend.Ping(bctx)
		cancel()

		h := ComponentHealth{Component: "backend:" + name, Latency: time.Since(start)}
		if err != nil {
			h.Detail = err.Error()
		} else {
			h.Healthy = true
			h.Detail = "reachable"
		}
		out = append(out, h)
	}
	return out
}

func (p *Prober) checkRedis(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: p.cfg.Events.Redis.Addr})
	defer func() { _ = client.Close() }()

	start := time.Now()
	err := client.Ping(ctx).Err()
	h := ComponentHealth{Component: "redis", Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	h.Healthy = true
	h.Detail = "reachable at " + p.cfg.Events.Redis.Addr
	return h
}

func (p *Prober) checkNATS(ctx context.Context) ComponentHealth {
	_ = ctx // nats.Connect takes its timeout as an option

	start := time.Now()
	conn, err := nats.Connect(p.cfg.Events.NATS.URL,
		nats.Name("curator-doctor"),
		nats.Timeout(p.timeout),
		nats.RetryOnFailedConnect(false))
	h := ComponentHealth{Component: "nats", Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	defer conn.Close()
	h.Healthy = true
	h.Detail = "connected to " + conn.ConnectedUrl()
	return h
}

func (p *Prober) checkQueues() ComponentHealth {
	start := time.Now()
	stats, err := p.runtime.Statistics()
	h := ComponentHealth{Component: "queues", Latency: time.Since(start)}
	if err != nil {
		h.Detail = err.Error()
		return h
	}

	var pending, running int
	for _, q := range stats.Queues {
		pending += q.Pending
		running += q.Running
	}
	h.Healthy = true
	h.Detail = fmt.Sprintf("%d pending, %d running", pending, running)
	return h
}
