package events

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// Buffer flushes when it reaches this size
	defaultBatchSize = 10
	// Buffer flushes automatically at this interval
	defaultFlushInterval = 5 * time.Second
)

// EventRow is the persisted form of an event.
type EventRow struct {
	ID         int64
	TaskID     string
	Phase      *string
	EventType  string
	Data       any
	Source     string
	CreatedAt  time.Time
	DurationMs *int64
}

// EventSink stores event rows in batches. The db layer implements it.
type EventSink interface {
	SaveEvents(rows []*EventRow) error
}

// PersistentPublisher wraps MemoryPublisher and adds database persistence.
// Live fan-out behavior is unchanged; events are additionally batched into
// the event_log table.
type PersistentPublisher struct {
	inner       *MemoryPublisher
	sink        EventSink
	source      string
	batchSize   int
	buffer      []*EventRow
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	phaseStarts map[string]time.Time // key: "taskID:phase"
	startsMu    sync.Mutex
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// PersistentOption configures a PersistentPublisher.
type PersistentOption func(*PersistentPublisher)

// WithBatchSize sets the flush threshold.
func WithBatchSize(n int) PersistentOption {
	return func(p *PersistentPublisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets the automatic flush interval.
func WithFlushInterval(d time.Duration) PersistentOption {
	return func(p *PersistentPublisher) {
		if d > 0 {
			p.flushTicker.Reset(d)
		}
	}
}

// NewPersistentPublisher creates a new persistent event publisher.
// The source parameter identifies where events originate (e.g., "pipeline", "scheduler").
func NewPersistentPublisher(sink EventSink, source string, logger *slog.Logger, opts ...PersistentOption) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:       NewMemoryPublisher(WithLogger(logger)),
		sink:        sink,
		source:      source,
		batchSize:   defaultBatchSize,
		phaseStarts: make(map[string]time.Time),
		logger:      logger,
		stopCh:      make(chan struct{}),
		flushTicker: time.NewTicker(defaultFlushInterval),
	}
	p.buffer = make([]*EventRow, 0, p.batchSize)
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish sends an event to subscribers and persists it to the database.
func (p *PersistentPublisher) Publish(event Event) {
	// Broadcast first so live subscribers see events immediately.
	p.inner.Publish(event)

	// Skip persistence if sink is nil (testing scenarios)
	if p.sink == nil {
		return
	}

	row := p.eventToRow(event)

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, row)
	shouldFlush := len(p.buffer) >= p.batchSize
	p.bufferMu.Unlock()

	if shouldFlush {
		p.flush()
	}

	p.trackPhaseStart(event)

	// Flush on phase completion so durations land promptly.
	if isPhaseCompletion(event) {
		p.flush()
	}
}

// Subscribe returns a channel that receives events for the given task.
func (p *PersistentPublisher) Subscribe(taskID string) <-chan Event {
	return p.inner.Subscribe(taskID)
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.inner.Unsubscribe(taskID, ch)
}

// DroppedCount reports events lost to full subscriber buffers.
func (p *PersistentPublisher) DroppedCount() int {
	return p.inner.DroppedCount()
}

// Close shuts down the publisher, flushes remaining events, and releases
// resources. Close is idempotent.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.flushTicker.Stop()
		p.wg.Wait()
		p.flush()
		p.inner.Close()
	})
}

// flushLoop runs in the background and flushes the buffer periodically.
func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

// flush writes buffered events to the database in a single batch.
func (p *PersistentPublisher) flush() {
	p.bufferMu.Lock()
	if len(p.buffer) == 0 {
		p.bufferMu.Unlock()
		return
	}

	toFlush := p.buffer
	p.buffer = make([]*EventRow, 0, p.batchSize)
	p.bufferMu.Unlock()

	// Write to database outside the lock
	if err := p.sink.SaveEvents(toFlush); err != nil {
		p.logger.Error("failed to persist events", "error", err, "count", len(toFlush))
		// Don't retry - just log and continue to prevent memory buildup
	}
}

// eventToRow converts an Event to an EventRow for database storage.
func (p *PersistentPublisher) eventToRow(e Event) *EventRow {
	var phase *string
	var durationMs *int64

	switch data := e.Data.(type) {
	case PhaseUpdate:
		phase = &data.PhaseID

		if data.Status == PhaseCompleted {
			if start := p.takePhaseStart(e.TaskID, data.PhaseID); start != nil {
				ms := e.Time.Sub(*start).Milliseconds()
				durationMs = &ms
			}
		}

	case ProgressUpdate:
		phase = &data.Phase

	case RetryScheduled:
		phase = &data.Phase
	}

	return &EventRow{
		TaskID:     e.TaskID,
		Phase:      phase,
		EventType:  string(e.Type),
		Data:       e.Data,
		Source:     p.source,
		CreatedAt:  e.Time,
		DurationMs: durationMs,
	}
}

// trackPhaseStart records when a phase starts for duration calculation.
func (p *PersistentPublisher) trackPhaseStart(e Event) {
	update, ok := e.Data.(PhaseUpdate)
	if !ok || (update.Status != PhaseStarted && update.Status != PhaseRunning) {
		return
	}
	key := e.TaskID + ":" + update.PhaseID
	p.startsMu.Lock()
	if _, exists := p.phaseStarts[key]; !exists {
		p.phaseStarts[key] = e.Time
	}
	p.startsMu.Unlock()
}

// takePhaseStart retrieves the start time for a phase and cleans it up.
func (p *PersistentPublisher) takePhaseStart(taskID, phase string) *time.Time {
	key := taskID + ":" + phase
	p.startsMu.Lock()
	defer p.startsMu.Unlock()

	if t, ok := p.phaseStarts[key]; ok {
		delete(p.phaseStarts, key)
		return &t
	}
	return nil
}

// isPhaseCompletion returns true if this event marks phase completion.
func isPhaseCompletion(e Event) bool {
	update, ok := e.Data.(PhaseUpdate)
	return ok && update.Status == PhaseCompleted
}
