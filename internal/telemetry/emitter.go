package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/probe"
)

const defaultSampleInterval = 15 * time.Second

// busDrops is satisfied by publishers that count events lost to full
// subscriber buffers.
type busDrops interface {
	DroppedCount() int
}

// Emitter folds bus events into the metric set and samples the slower
// collaborators (task table, probes) on a ticker. Health snapshots go
// back out on the bus as system_health_update events.
type Emitter struct {
	metrics *Metrics
	bus     events.Publisher
	helper  *events.PublishHelper
	prober  *probe.Prober
	runtime *orchestrator.Runtime
	logger  *slog.Logger

	interval time.Duration
	listen   string
	addr     string

	// phaseStarts maps taskID/phaseID to the started event time. Only
	// the emitter goroutine touches it.
	phaseStarts map[string]time.Time

	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// EmitterOption adjusts emitter construction.
type EmitterOption func(*Emitter)

// WithInterval overrides the sampling cadence.
func WithInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithListen enables the /metrics listener on the given address.
func WithListen(addr string) EmitterOption {
	return func(e *Emitter) {
		e.listen = addr
	}
}

// NewEmitter wires the metric set to its sources. Nil collaborators
// disable the corresponding samples.
func NewEmitter(m *Metrics, bus events.Publisher, prober *probe.Prober, runtime *orchestrator.Runtime, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		metrics:     m,
		bus:         bus,
		helper:      events.NewPublishHelper(bus),
		prober:      prober,
		runtime:     runtime,
		logger:      logger.With("component", "telemetry"),
		interval:    defaultSampleInterval,
		phaseStarts: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the sampling loop and, when configured, the metrics
// listener. It returns once the loop is running.
func (e *Emitter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	if e.listen != "" {
		ln, err := net.Listen("tcp", e.listen)
		if err != nil {
			cancel()
			return fmt.Errorf("telemetry listen on %s: %w", e.listen, err)
		}
		e.addr = ln.Addr().String()
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.metrics.Handler())
		e.server = &http.Server{Handler: mux}
		go func() {
			if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics listener stopped", "error", err)
			}
		}()
		e.logger.Info("metrics exposed", "addr", e.addr)
	}

	var evCh <-chan events.Event
	if e.bus != nil {
		evCh = e.bus.Subscribe(events.GlobalTaskID)
	}

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		e.sample(runCtx)
		for {
			select {
			case <-runCtx.Done():
				if evCh != nil {
					e.bus.Unsubscribe(events.GlobalTaskID, evCh)
				}
				return
			case <-ticker.C:
				e.sample(runCtx)
			case ev, ok := <-evCh:
				if !ok {
					evCh = nil
					continue
				}
				e.fold(ev)
			}
		}
	}()
	return nil
}

// Addr reports the bound listener address, empty when exposition is off.
func (e *Emitter) Addr() string {
	return e.addr
}

// Close stops the sampling loop and shuts the listener down.
func (e *Emitter) Close() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	if e.server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return e.server.Shutdown(sctx)
	}
	return nil
}

// sample refreshes the gauge-style series and publishes health snapshots.
func (e *Emitter) sample(ctx context.Context) {
	if e.runtime != nil {
		stats, err := e.runtime.Statistics()
		if err != nil {
			e.logger.Debug("task statistics unavailable", "error", err)
		} else {
			for status, n := range stats.ByStatus {
				e.metrics.TasksByStatus.WithLabelValues(string(status)).Set(float64(n))
			}
		}
	}
	if d, ok := e.bus.(busDrops); ok {
		e.metrics.EventsDropped.Set(float64(d.DroppedCount()))
	}
	if e.prober != nil {
		for _, res := range e.prober.Run(ctx) {
			e.helper.SystemHealth(res.Component, res.Healthy, res.Detail)
		}
	}
}

// fold projects one bus event onto the metric set.
func (e *Emitter) fold(ev events.Event) {
	switch ev.Type {
	case events.EventPhase:
		pu, ok := ev.Data.(events.PhaseUpdate)
		if !ok {
			return
		}
		key := ev.TaskID + "/" + pu.PhaseID
		switch pu.Status {
		case events.PhaseStarted:
			e.phaseStarts[key] = ev.Time
		case events.PhaseCompleted, events.PhaseFailed:
			if start, ok := e.phaseStarts[key]; ok {
				e.metrics.PhaseDuration.WithLabelValues(pu.PhaseID).Observe(ev.Time.Sub(start).Seconds())
				delete(e.phaseStarts, key)
			}
		case events.PhaseSkipped, events.PhaseCancelled:
			delete(e.phaseStarts, key)
		}
	case events.EventRunCompleted:
		rc, ok := ev.Data.(events.RunCompleted)
		if !ok {
			return
		}
		outcome := "success"
		if !rc.Success {
			outcome = "failure"
		}
		e.metrics.RunsTotal.WithLabelValues(outcome).Inc()
		e.foldResults(rc.Results)
	case events.EventRetryScheduled:
		e.metrics.RetriesScheduled.Inc()
	}
}

// foldResults turns the run-completed per-phase counters into item
// counters. Top-level scalar entries such as items_ingested are not
// per-phase and are skipped.
func (e *Emitter) foldResults(results map[string]any) {
	for phase, v := range results {
		counts, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for _, status := range []string{"succeeded", "failed", "skipped"} {
			if n := toFloat(counts[status]); n > 0 {
				e.metrics.ItemsProcessed.WithLabelValues(phase, status).Add(n)
			}
		}
	}
}

// toFloat accepts the numeric types a results map can carry, including
// float64 after a JSON round trip through a broker bridge.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
