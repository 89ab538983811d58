// Package retry decides whether, when, and how failed pipeline items are
// retried. Failures are classified into types that pick the backoff
// baseline, delays follow the configured strategy with optional jitter,
// and a per-item circuit breaker suspends items that keep failing. All
// retry metadata lives on the item record itself so a restart resumes
// schedules where they left off.
package retry

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/item"
)

// Backoff strategies. Exponential grows base*factor^(n-1), linear grows
// base*n, immediate retries with no delay, and none disables retries
// entirely.
const (
	StrategyExponential = "exponential"
	StrategyLinear      = "linear"
	StrategyImmediate   = "immediate"
	StrategyNone        = "none"
)

// Manager makes retry decisions for item-level failures. Decisions read
// the item record; the only state the manager keeps itself is the breaker
// table and counters for Stats. Safe for concurrent use.
type Manager struct {
	cfg    config.RetryConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]time.Time // item id -> open until
	seen     map[FailureType]int  // classifications recorded via ScheduleRetry
	attempts map[string]int       // item id -> last scheduled retry count
	rng      *rand.Rand

	now func() time.Time
}

// NewManager builds a manager from config. Zero or missing config values
// fall back to the documented defaults.
func NewManager(cfg config.RetryConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExponential
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 300 * time.Second
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2.0
	}
	if cfg.RateLimitMultiplier < 1 {
		cfg.RateLimitMultiplier = 10
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker.Cooldown = time.Hour
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]time.Time),
		seen:     make(map[FailureType]int),
		attempts: make(map[string]int),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// ShouldRetry reports whether the item may be retried. An open breaker
// blocks regardless of any other state. A nil cause bases the decision on
// the stored record alone; a non-nil cause is classified and permanent
// failures are refused.
func (m *Manager) ShouldRetry(itemID string, rec *item.Record, cause error) bool {
	if m.breakerOpen(itemID) {
		return false
	}
	if m.cfg.Strategy == StrategyNone {
		return false
	}
	if rec != nil {
		if rec.RetryCount >= m.cfg.MaxRetries {
			return false
		}
		if FailureType(rec.FailureType) == FailurePermanent {
			return false
		}
	}
	if cause != nil && Classify(cause) == FailurePermanent {
		return false
	}
	return true
}

// ScheduleRetry records a failed attempt on the record: bumps the retry
// count, stamps the failure type, computes the next retry time, and
// appends to the bounded retry history. The record is updated in place and
// the returned patch carries the same changes for persistence. The breaker
// trips when the retry count reaches the configured threshold.
func (m *Manager) ScheduleRetry(itemID string, rec *item.Record, phase item.Phase, cause error) item.Patch {
	ftype := Classify(cause)
	now := m.now().UTC()
	attempt := 1
	if rec != nil {
		attempt = rec.RetryCount + 1
	}
	delay := m.Delay(ftype, attempt)
	next := now.Add(delay)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var history []item.RetryAttempt
	if rec != nil {
		history = append(history, rec.RetryHistory...)
	}
	history = append(history, item.RetryAttempt{
		Attempt:     attempt,
		Phase:       phase,
		FailureType: string(ftype),
		Error:       msg,
		FailedAt:    now,
		NextRetryAt: next,
	})
	if len(history) > item.RetryHistoryCap {
		history = history[len(history)-item.RetryHistoryCap:]
	}

	ftypeStr := string(ftype)
	patch := item.Patch{
		RetryCount:       &attempt,
		LastRetryAttempt: &now,
		NextRetryAfter:   &next,
		FailureType:      &ftypeStr,
		RetryHistory:     &history,
	}
	if rec != nil {
		patch.Apply(rec)
	}

	m.mu.Lock()
	m.seen[ftype]++
	m.attempts[itemID] = attempt
	tripped := false
	if attempt >= m.cfg.Breaker.FailureThreshold {
		m.breakers[itemID] = now.Add(m.cfg.Breaker.Cooldown)
		tripped = true
	}
	m.mu.Unlock()

	m.logger.Warn("retry scheduled",
		"item", itemID,
		"phase", phase,
		"attempt", attempt,
		"failure_type", ftype,
		"delay", delay,
	)
	if tripped {
		m.logger.Warn("circuit breaker tripped",
			"item", itemID,
			"failures", attempt,
			"cooldown", m.cfg.Breaker.Cooldown,
		)
	}
	return patch
}

// GetRetryable filters records down to the item ids worth re-enqueueing:
// an error annotation is present, the item is still eligible, and its next
// retry time has passed. Items that were never scheduled count as due.
// The result is sorted for deterministic dispatch.
func (m *Manager) GetRetryable(records map[string]*item.Record) []string {
	now := m.now()
	var ids []string
	for id, rec := range records {
		if rec == nil || !rec.HasAnyError() {
			continue
		}
		if !m.ShouldRetry(id, rec, nil) {
			continue
		}
		if rec.NextRetryAfter != nil && rec.NextRetryAfter.After(now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear wipes the record's retry metadata and every phase error annotation
// after a successful attempt, and closes the item's breaker. The record is
// updated in place and the returned patch carries the same changes.
func (m *Manager) Clear(itemID string, rec *item.Record) item.Patch {
	m.mu.Lock()
	delete(m.breakers, itemID)
	delete(m.attempts, itemID)
	m.mu.Unlock()

	empty := ""
	patch := item.Patch{
		ClearRetryState: true,
		CacheError:      &empty,
		MediaError:      &empty,
		LLMError:        &empty,
		KBItemError:     &empty,
		DBSyncError:     &empty,
	}
	if rec != nil {
		patch.Apply(rec)
	}
	return patch
}

// OpenBreaker trips the item's breaker manually. A non-positive duration
// uses the configured cooldown.
func (m *Manager) OpenBreaker(itemID string, d time.Duration) {
	if d <= 0 {
		d = m.cfg.Breaker.Cooldown
	}
	until := m.now().Add(d)
	m.mu.Lock()
	m.breakers[itemID] = until
	m.mu.Unlock()
	m.logger.Warn("circuit breaker opened", "item", itemID, "until", until)
}

// Delay computes the backoff before attempt n (1-based) for a failure
// type. Rate-limit failures scale the base delay before the strategy
// applies. The result is clamped to the max delay and then jittered by a
// uniform factor in [0.8, 1.2] when jitter is enabled.
func (m *Manager) Delay(ftype FailureType, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(m.cfg.BaseDelay)
	if ftype == FailureRateLimit {
		base *= m.cfg.RateLimitMultiplier
	}

	var d float64
	switch m.cfg.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyLinear:
		d = base * float64(attempt)
	default:
		d = base * math.Pow(m.cfg.Factor, float64(attempt-1))
	}
	if d > float64(m.cfg.MaxDelay) || d < 0 {
		d = float64(m.cfg.MaxDelay)
	}
	if m.cfg.Jitter {
		m.mu.Lock()
		factor := 0.8 + 0.4*m.rng.Float64()
		m.mu.Unlock()
		d *= factor
	}
	return time.Duration(d)
}

// Stats summarizes retry activity since the manager was built.
type Stats struct {
	// FailureTypes counts classifications recorded by ScheduleRetry.
	FailureTypes map[FailureType]int `json:"failure_types"`

	// ActiveBreakers is the number of breakers currently open.
	ActiveBreakers int `json:"active_breakers"`

	// AverageRetries averages the retry count across items that have at
	// least one scheduled retry outstanding.
	AverageRetries float64 `json:"average_retries"`

	// RetryHistogram maps retry count to the number of items at it.
	RetryHistogram map[int]int `json:"retry_histogram"`
}

// Stats returns a snapshot of retry activity. Expired breakers are pruned
// on the way.
func (m *Manager) Stats() Stats {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		FailureTypes:   make(map[FailureType]int, len(m.seen)),
		RetryHistogram: make(map[int]int),
	}
	for ftype, n := range m.seen {
		st.FailureTypes[ftype] = n
	}
	for id, until := range m.breakers {
		if now.After(until) {
			delete(m.breakers, id)
			continue
		}
		st.ActiveBreakers++
	}
	total := 0
	for _, n := range m.attempts {
		st.RetryHistogram[n]++
		total += n
	}
	if len(m.attempts) > 0 {
		st.AverageRetries = float64(total) / float64(len(m.attempts))
	}
	return st
}

// breakerOpen reports whether the item's breaker is open, dropping it once
// expired.
func (m *Manager) breakerOpen(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.breakers[itemID]
	if !ok {
		return false
	}
	if m.now().After(until) {
		delete(m.breakers, itemID)
		return false
	}
	return true
}
