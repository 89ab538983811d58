package estimate

import (
	"errors"
	"testing"
	"time"

	"github.com/curator-ai/curator/internal/store"
)

// fakeHistory implements History in memory.
type fakeHistory struct {
	stats    map[string]*store.PhaseStats
	getErr   error
	recorded []recordedRun
}

type recordedRun struct {
	phase    string
	items    int
	duration time.Duration
}

func (f *fakeHistory) Get(phase string) (*store.PhaseStats, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stats[phase], nil
}

func (f *fakeHistory) Record(phase string, items int, duration time.Duration) error {
	f.recorded = append(f.recorded, recordedRun{phase, items, duration})
	return nil
}

// testEstimator returns an estimator with a controllable clock.
func testEstimator(history History) (*Estimator, *time.Time) {
	e := NewEstimator(history, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestInit_SeedsFromHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{stats: map[string]*store.PhaseStats{
		"media_analysis": {Phase: "media_analysis", AvgDuration: 5 * time.Second},
	}}
	e, now := testEstimator(history)

	e.Init("media_analysis", 10)

	snap, ok := e.Estimate("media_analysis")
	if !ok {
		t.Fatal("phase should be tracked")
	}
	if snap.AvgPerItem != 5*time.Second {
		t.Errorf("AvgPerItem = %v, want 5s", snap.AvgPerItem)
	}
	want := now.Add(50 * time.Second)
	if snap.EstimatedCompletion == nil || !snap.EstimatedCompletion.Equal(want) {
		t.Errorf("EstimatedCompletion = %v, want %v", snap.EstimatedCompletion, want)
	}
}

func TestInit_NoHistory(t *testing.T) {
	t.Parallel()

	e, _ := testEstimator(&fakeHistory{})
	e.Init("media_analysis", 10)

	snap, ok := e.Estimate("media_analysis")
	if !ok {
		t.Fatal("phase should be tracked")
	}
	if snap.EstimatedCompletion != nil {
		t.Errorf("EstimatedCompletion = %v, want nil before samples", snap.EstimatedCompletion)
	}
	if snap.AvgPerItem != 0 {
		t.Errorf("AvgPerItem = %v, want 0", snap.AvgPerItem)
	}
}

func TestInit_HistoryErrorIsNonFatal(t *testing.T) {
	t.Parallel()

	e, _ := testEstimator(&fakeHistory{getErr: errors.New("db closed")})
	e.Init("media_analysis", 3)

	if _, ok := e.Estimate("media_analysis"); !ok {
		t.Fatal("phase should be tracked despite history failure")
	}
}

func TestUpdate_ExplicitDurations(t *testing.T) {
	t.Parallel()

	e, now := testEstimator(&fakeHistory{})
	e.Init("content_understanding", 4)

	e.Update("content_understanding", 1, 2*time.Second)
	e.Update("content_understanding", 2, 4*time.Second)

	snap, _ := e.Estimate("content_understanding")
	if snap.Processed != 2 {
		t.Errorf("Processed = %d, want 2", snap.Processed)
	}
	if snap.AvgPerItem != 3*time.Second {
		t.Errorf("AvgPerItem = %v, want 3s (median of 2s,4s)", snap.AvgPerItem)
	}
	want := now.Add(2 * 3 * time.Second)
	if snap.EstimatedCompletion == nil || !snap.EstimatedCompletion.Equal(want) {
		t.Errorf("EstimatedCompletion = %v, want %v", snap.EstimatedCompletion, want)
	}
}

func TestUpdate_DerivesSamplesFromElapsed(t *testing.T) {
	t.Parallel()

	e, now := testEstimator(&fakeHistory{})
	e.Init("media_analysis", 10)

	// Two items complete over four seconds: two 2s samples.
	*now = now.Add(4 * time.Second)
	e.Update("media_analysis", 2, 0)

	snap, _ := e.Estimate("media_analysis")
	if snap.AvgPerItem != 2*time.Second {
		t.Errorf("AvgPerItem = %v, want 2s", snap.AvgPerItem)
	}
}

func TestUpdate_NoDeltaLeavesRingUntouched(t *testing.T) {
	t.Parallel()

	e, now := testEstimator(&fakeHistory{})
	e.Init("media_analysis", 10)
	*now = now.Add(2 * time.Second)
	e.Update("media_analysis", 1, 0)
	before, _ := e.Estimate("media_analysis")

	// Time passes with no progress; the average must not drift.
	*now = now.Add(30 * time.Second)
	e.Update("media_analysis", 1, 0)
	after, _ := e.Estimate("media_analysis")

	if after.AvgPerItem != before.AvgPerItem {
		t.Errorf("AvgPerItem drifted from %v to %v with no progress", before.AvgPerItem, after.AvgPerItem)
	}
}

func TestUpdate_FiltersNoiseSamples(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{stats: map[string]*store.PhaseStats{
		"media_analysis": {Phase: "media_analysis", AvgDuration: 7 * time.Second},
	}}
	e, _ := testEstimator(history)
	e.Init("media_analysis", 10)

	// Both samples are outside [0.1s, 3600s] and must be dropped, so
	// the average stays the historical seed.
	e.Update("media_analysis", 1, 50*time.Millisecond)
	e.Update("media_analysis", 2, 2*time.Hour)

	snap, _ := e.Estimate("media_analysis")
	if snap.AvgPerItem != 7*time.Second {
		t.Errorf("AvgPerItem = %v, want the 7s historical seed", snap.AvgPerItem)
	}
	if snap.Processed != 2 {
		t.Errorf("Processed = %d, want 2 (progress still advances)", snap.Processed)
	}
}

func TestMedian_ResistsOutliers(t *testing.T) {
	t.Parallel()

	e, now := testEstimator(&fakeHistory{})
	e.Init("kb_item_generation", 20)

	for i := 1; i <= 9; i++ {
		e.Update("kb_item_generation", i, 1*time.Second)
	}
	e.Update("kb_item_generation", 10, 600*time.Second)

	snap, _ := e.Estimate("kb_item_generation")
	if snap.AvgPerItem != 1*time.Second {
		t.Errorf("AvgPerItem = %v, want 1s despite the 600s outlier", snap.AvgPerItem)
	}
	want := now.Add(10 * time.Second)
	if snap.EstimatedCompletion == nil || !snap.EstimatedCompletion.Equal(want) {
		t.Errorf("EstimatedCompletion = %v, want %v", snap.EstimatedCompletion, want)
	}
}

func TestRing_BoundedAtCapacity(t *testing.T) {
	t.Parallel()

	e, _ := testEstimator(&fakeHistory{})
	e.Init("media_analysis", 200)

	// Fill the ring with 1s samples, then push a full window more at
	// 3s. The old samples must age out entirely.
	for i := 1; i <= defaultWindowSize; i++ {
		e.Update("media_analysis", i, 1*time.Second)
	}
	for i := defaultWindowSize + 1; i <= 2*defaultWindowSize; i++ {
		e.Update("media_analysis", i, 3*time.Second)
	}

	snap, _ := e.Estimate("media_analysis")
	if snap.AvgPerItem != 3*time.Second {
		t.Errorf("AvgPerItem = %v, want 3s after the ring turned over", snap.AvgPerItem)
	}
}

func TestRing_WindowSizeOption(t *testing.T) {
	t.Parallel()

	e := NewEstimator(&fakeHistory{}, nil, WithWindowSize(2))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	e.Init("media_analysis", 10)

	e.Update("media_analysis", 1, 10*time.Second)
	e.Update("media_analysis", 2, 1*time.Second)
	e.Update("media_analysis", 3, 1*time.Second)

	// Window 2: the 10s sample has aged out.
	snap, _ := e.Estimate("media_analysis")
	if snap.AvgPerItem != 1*time.Second {
		t.Errorf("AvgPerItem = %v, want 1s with window 2", snap.AvgPerItem)
	}
}

func TestInit_SeedWithoutHistory(t *testing.T) {
	t.Parallel()

	e := NewEstimator(&fakeHistory{}, nil, WithSeeds(map[string]time.Duration{
		"media_analysis": 4 * time.Second,
	}))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	e.Init("media_analysis", 5)
	snap, ok := e.Estimate("media_analysis")
	if !ok {
		t.Fatal("no snapshot after Init")
	}
	if snap.AvgPerItem != 4*time.Second {
		t.Errorf("AvgPerItem = %v, want the configured seed", snap.AvgPerItem)
	}
	want := now.Add(20 * time.Second)
	if snap.EstimatedCompletion == nil || !snap.EstimatedCompletion.Equal(want) {
		t.Errorf("EstimatedCompletion = %v, want %v", snap.EstimatedCompletion, want)
	}

	// History, when present, wins over the seed.
	withHistory := NewEstimator(&fakeHistory{stats: map[string]*store.PhaseStats{
		"media_analysis": {AvgDuration: 2 * time.Second},
	}}, nil, WithSeeds(map[string]time.Duration{"media_analysis": 4 * time.Second}))
	withHistory.now = func() time.Time { return now }
	withHistory.Init("media_analysis", 5)
	snap, _ = withHistory.Estimate("media_analysis")
	if snap.AvgPerItem != 2*time.Second {
		t.Errorf("AvgPerItem = %v, want the historical average", snap.AvgPerItem)
	}
}

func TestFinalize_RecordsAndDrops(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{}
	e, now := testEstimator(history)
	e.Init("media_analysis", 5)

	for i := 1; i <= 5; i++ {
		e.Update("media_analysis", i, 2*time.Second)
	}
	*now = now.Add(10 * time.Second)

	if err := e.Finalize("media_analysis"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(history.recorded) != 1 {
		t.Fatalf("recorded runs = %d, want 1", len(history.recorded))
	}
	run := history.recorded[0]
	if run.phase != "media_analysis" || run.items != 5 || run.duration != 10*time.Second {
		t.Errorf("recorded = %+v", run)
	}
	if _, ok := e.Estimate("media_analysis"); ok {
		t.Error("entry should be dropped after Finalize")
	}

	// Finalizing again is a no-op.
	if err := e.Finalize("media_analysis"); err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}
	if len(history.recorded) != 1 {
		t.Errorf("recorded runs = %d after double finalize, want 1", len(history.recorded))
	}
}

func TestUpdate_UntrackedPhase(t *testing.T) {
	t.Parallel()

	e, _ := testEstimator(&fakeHistory{})
	e.Update("never_initialized", 3, time.Second)
	if _, ok := e.Estimate("never_initialized"); ok {
		t.Error("update must not create entries")
	}
}

func TestActive_ListsAllPhases(t *testing.T) {
	t.Parallel()

	e, _ := testEstimator(&fakeHistory{})
	e.Init("media_analysis", 5)
	e.Init("content_understanding", 7)

	active := e.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active["content_understanding"].Total != 7 {
		t.Errorf("total = %d, want 7", active["content_understanding"].Total)
	}
}
