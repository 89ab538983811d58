package store

import (
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
)

// PhaseStats is the accumulated processing history of one pipeline phase,
// carried across runs. The estimator seeds its per-item duration guess
// from AvgDuration.
type PhaseStats struct {
	Phase         string
	TotalItems    int64
	TotalDuration time.Duration
	AvgDuration   time.Duration
	LastRunAt     *time.Time
}

// StatsStore maintains monotonically accumulating per-phase aggregates.
// Record is an atomic read-modify-write: the row update runs in one
// transaction, and a store-level mutex serializes in-process writers so
// two concurrent phase completions cannot interleave their read and
// write halves.
type StatsStore struct {
	db *db.Store
	mu sync.Mutex
}

// NewStatsStore creates a stats store over the given database.
func NewStatsStore(store *db.Store) *StatsStore {
	return &StatsStore{db: store}
}

// Load returns the stats for every phase that has ever recorded a run.
func (s *StatsStore) Load() (map[string]PhaseStats, error) {
	rows, err := s.db.LoadPhaseStats()
	if err != nil {
		return nil, errors.ErrStorageFailed("load phase stats", err)
	}
	stats := make(map[string]PhaseStats, len(rows))
	for phase, row := range rows {
		stats[phase] = statsFromRow(row)
	}
	return stats, nil
}

// Get returns the stats for one phase, or (nil, nil) when the phase has
// never recorded a run.
func (s *StatsStore) Get(phase string) (*PhaseStats, error) {
	row, err := s.db.GetPhaseStats(phase)
	if err != nil {
		return nil, errors.ErrStorageFailed("get phase stats "+phase, err)
	}
	if row == nil {
		return nil, nil
	}
	st := statsFromRow(row)
	return &st, nil
}

// Record folds one phase run into the accumulated totals and recomputes
// the average. A run with items ≤ 0 is a no-op: empty runs must not skew
// the averages the estimator seeds from.
func (s *StatsStore) Record(phase string, items int, duration time.Duration) error {
	if items <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.RecordPhaseRun(phase, items, duration); err != nil {
		return errors.ErrStorageFailed("record phase run "+phase, err)
	}
	return nil
}

func statsFromRow(row *db.PhaseStats) PhaseStats {
	return PhaseStats{
		Phase:         row.Phase,
		TotalItems:    int64(row.TotalItems),
		TotalDuration: time.Duration(row.TotalDurationMs) * time.Millisecond,
		AvgDuration:   row.AvgDuration(),
		LastRunAt:     row.LastRunAt,
	}
}
