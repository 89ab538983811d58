// Package estimate computes best-estimate completion timestamps for
// pipeline phases in progress. Each active phase keeps a bounded ring
// of recent per-item durations; the rolling median guards the estimate
// against single-item outliers, and historical phase averages seed the
// estimate before live samples exist.
package estimate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/store"
)

const (
	// defaultWindowSize bounds the per-phase sample ring.
	defaultWindowSize = 50

	// minSample and maxSample bracket plausible per-item durations.
	// Samples outside the range are dropped as noise.
	minSample = 100 * time.Millisecond
	maxSample = time.Hour
)

// History provides historical per-phase aggregates. *store.StatsStore
// satisfies it.
type History interface {
	Get(phase string) (*store.PhaseStats, error)
	Record(phase string, items int, duration time.Duration) error
}

// Snapshot is a point-in-time view of one phase's estimate.
type Snapshot struct {
	Total     int
	Processed int

	// AvgPerItem is the current per-item duration estimate: the median
	// of the sample ring, else the historical average, else zero.
	AvgPerItem time.Duration

	// EstimatedCompletion is nil until an average exists.
	EstimatedCompletion *time.Time
}

type phaseEstimate struct {
	total         int
	processed     int
	window        int
	startTime     time.Time
	lastAdvance   time.Time
	itemTimes     []time.Duration
	historicalAvg time.Duration
	currentAvg    time.Duration
	completion    *time.Time
}

// Estimator tracks estimates for phases in progress. Finalize folds a
// finished phase back into the history so future runs start seeded.
type Estimator struct {
	mu      sync.Mutex
	history History
	phases  map[string]*phaseEstimate
	window  int
	seeds   map[string]time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithWindowSize sets the per-phase sample ring capacity.
func WithWindowSize(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithSeeds provides expected per-item durations used before any
// history exists for a phase.
func WithSeeds(seeds map[string]time.Duration) Option {
	return func(e *Estimator) {
		e.seeds = seeds
	}
}

// NewEstimator builds an estimator over the given history source.
func NewEstimator(history History, logger *slog.Logger, opts ...Option) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Estimator{
		history: history,
		phases:  make(map[string]*phaseEstimate),
		window:  defaultWindowSize,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init registers a phase with its item count. When history holds an
// average for the phase, the completion estimate is seeded immediately;
// a configured seed duration fills in for phases with no history yet,
// and otherwise the estimate stays unset until live samples arrive.
// Re-initializing a phase replaces any previous entry.
func (e *Estimator) Init(phase string, totalItems int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	entry := &phaseEstimate{
		total:       totalItems,
		window:      e.window,
		startTime:   now,
		lastAdvance: now,
	}
	if e.history != nil {
		stats, err := e.history.Get(phase)
		if err != nil {
			e.logger.Warn("historical stats unavailable", "phase", phase, "error", err)
		} else if stats != nil && stats.AvgDuration > 0 {
			entry.historicalAvg = stats.AvgDuration
		}
	}
	if entry.historicalAvg == 0 {
		entry.historicalAvg = e.seeds[phase]
	}
	if entry.historicalAvg > 0 {
		entry.currentAvg = entry.historicalAvg
		completion := now.Add(time.Duration(totalItems) * entry.historicalAvg)
		entry.completion = &completion
	}
	e.phases[phase] = entry
}

// Update advances a phase's progress. When itemDuration is positive it
// is appended as one sample; otherwise, if processedItems advanced, the
// elapsed time since the last advance is split evenly across the new
// items and appended per item. Samples outside [minSample, maxSample]
// are discarded. When nothing advanced the ring is left untouched.
func (e *Estimator) Update(phase string, processedItems int, itemDuration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.phases[phase]
	if !ok {
		e.logger.Debug("update for untracked phase", "phase", phase)
		return
	}

	now := e.now()
	delta := processedItems - entry.processed

	switch {
	case itemDuration > 0:
		entry.appendSample(itemDuration)
		if delta > 0 {
			entry.processed = processedItems
			entry.lastAdvance = now
		}
	case delta > 0:
		per := now.Sub(entry.lastAdvance) / time.Duration(delta)
		for i := 0; i < delta; i++ {
			entry.appendSample(per)
		}
		entry.processed = processedItems
		entry.lastAdvance = now
	default:
		// Nothing advanced and no explicit sample: leave the ring alone.
		return
	}

	entry.recompute(now)
}

// Estimate returns the current snapshot for a phase.
func (e *Estimator) Estimate(phase string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.phases[phase]
	if !ok {
		return Snapshot{}, false
	}
	return entry.snapshot(), true
}

// Active returns snapshots for every phase in progress.
func (e *Estimator) Active() map[string]Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Snapshot, len(e.phases))
	for phase, entry := range e.phases {
		out[phase] = entry.snapshot()
	}
	return out
}

// Finalize folds the phase's run into history and drops the entry.
// Finalizing an untracked phase is a no-op.
func (e *Estimator) Finalize(phase string) error {
	e.mu.Lock()
	entry, ok := e.phases[phase]
	if ok {
		delete(e.phases, phase)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	if e.history == nil {
		return nil
	}
	elapsed := e.now().Sub(entry.startTime)
	return e.history.Record(phase, entry.processed, elapsed)
}

func (p *phaseEstimate) appendSample(d time.Duration) {
	if d < minSample || d > maxSample {
		return
	}
	if len(p.itemTimes) == p.window {
		copy(p.itemTimes, p.itemTimes[1:])
		p.itemTimes = p.itemTimes[:p.window-1]
	}
	p.itemTimes = append(p.itemTimes, d)
}

func (p *phaseEstimate) recompute(now time.Time) {
	if len(p.itemTimes) > 0 {
		p.currentAvg = median(p.itemTimes)
	} else {
		p.currentAvg = p.historicalAvg
	}
	if p.currentAvg <= 0 {
		return
	}
	remaining := p.total - p.processed
	if remaining < 0 {
		remaining = 0
	}
	completion := now.Add(time.Duration(remaining) * p.currentAvg)
	p.completion = &completion
}

func (p *phaseEstimate) snapshot() Snapshot {
	s := Snapshot{
		Total:      p.total,
		Processed:  p.processed,
		AvgPerItem: p.currentAvg,
	}
	if p.completion != nil {
		completion := *p.completion
		s.EstimatedCompletion = &completion
	}
	return s
}

func median(samples []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
