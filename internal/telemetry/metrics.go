// Package telemetry keeps the process metrics registry and publishes
// periodic system health snapshots onto the event bus. Exposition is
// optional: the doctor command dumps the text format directly, and a
// loopback /metrics listener can be enabled in config.
package telemetry

import (
	"bytes"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the process-wide metric set. It owns a private registry
// so parallel tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	// ItemsProcessed counts per-item phase outcomes, labelled by phase
	// and status (succeeded, failed, skipped).
	ItemsProcessed *prometheus.CounterVec

	// TasksByStatus mirrors the task table row counts.
	TasksByStatus *prometheus.GaugeVec

	// PhaseDuration observes wall time per completed or failed phase.
	PhaseDuration *prometheus.HistogramVec

	// RunsTotal counts finished pipeline runs by outcome.
	RunsTotal *prometheus.CounterVec

	// RetriesScheduled counts item retries booked by the retry manager.
	RetriesScheduled prometheus.Counter

	// EventsDropped tracks bus events lost to full subscriber buffers.
	EventsDropped prometheus.Gauge
}

// New builds and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ItemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "items_processed_total",
			Help:      "Items processed per phase and outcome.",
		}, []string{"phase", "status"}),
		TasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "curator",
			Subsystem: "tasks",
			Name:      "by_status",
			Help:      "Task rows per status.",
		}, []string{"status"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Wall time per finished phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "curator",
			Subsystem: "pipeline",
			Name:      "retries_scheduled_total",
			Help:      "Item retries booked for a later attempt.",
		}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "curator",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Bus events lost to full subscriber buffers since start.",
		}),
	}
	reg.MustRegister(m.ItemsProcessed, m.TasksByStatus, m.PhaseDuration,
		m.RunsTotal, m.RetriesScheduled, m.EventsDropped)
	return m
}

// Registry exposes the underlying registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Dump renders the registry in text exposition format.
func (m *Metrics) Dump() (string, error) {
	fams, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, fam := range fams {
		if _, err := expfmt.MetricFamilyToText(&buf, fam); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
