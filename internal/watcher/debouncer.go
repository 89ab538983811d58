package watcher

import (
	"os"
	"sync"
	"time"
)

// debounceEntry tracks a pending change notification.
type debounceEntry struct {
	timer *time.Timer
	kind  FileKind
}

// deleteEntry tracks a pending delete verification.
type deleteEntry struct {
	timer *time.Timer
}

// Debouncer coalesces rapid change events per path and verifies
// removals after a short delay, so editor rename-and-replace saves and
// atomic writes do not read as deletions.
type Debouncer struct {
	mu             sync.Mutex
	pending        map[string]*debounceEntry
	pendingDeletes map[string]*deleteEntry
	interval       time.Duration
	deleteInterval time.Duration
	callback       func(path string, kind FileKind)
	deleteCallback func(path string)
	stopped        bool
}

// NewDebouncer creates a debouncer firing callback after the quiet
// period.
func NewDebouncer(interval time.Duration, callback func(path string, kind FileKind)) *Debouncer {
	return &Debouncer{
		pending:        make(map[string]*debounceEntry),
		pendingDeletes: make(map[string]*deleteEntry),
		interval:       interval,
		deleteInterval: 100 * time.Millisecond,
		callback:       callback,
	}
}

// SetDeleteCallback sets the callback for verified removals.
func (d *Debouncer) SetDeleteCallback(callback func(path string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteCallback = callback
}

// Trigger registers a change for path, restarting its quiet period.
func (d *Debouncer) Trigger(path string, kind FileKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if entry, ok := d.pending[path]; ok {
		entry.timer.Stop()
		entry.kind = kind
		entry.timer = time.AfterFunc(d.interval, func() { d.fire(path) })
		return
	}
	d.pending[path] = &debounceEntry{
		kind:  kind,
		timer: time.AfterFunc(d.interval, func() { d.fire(path) }),
	}
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	entry, ok := d.pending[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	kind := entry.kind
	delete(d.pending, path)
	d.mu.Unlock()

	// Callback runs outside the lock.
	d.callback(path, kind)
}

// TriggerDelete schedules removal verification for path. The callback
// only fires if the file is still gone after the delay; renames and
// atomic saves put it back first.
func (d *Debouncer) TriggerDelete(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if entry, ok := d.pendingDeletes[path]; ok {
		entry.timer.Stop()
		entry.timer = time.AfterFunc(d.deleteInterval, func() { d.fireDelete(path) })
		return
	}
	d.pendingDeletes[path] = &deleteEntry{
		timer: time.AfterFunc(d.deleteInterval, func() { d.fireDelete(path) }),
	}
}

// CancelDelete drops a pending removal verification, called when the
// path reappears.
func (d *Debouncer) CancelDelete(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pendingDeletes[path]; ok {
		entry.timer.Stop()
		delete(d.pendingDeletes, path)
	}
}

func (d *Debouncer) fireDelete(path string) {
	d.mu.Lock()
	_, ok := d.pendingDeletes[path]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	callback := d.deleteCallback
	delete(d.pendingDeletes, path)
	d.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		// Still there, so the remove was a rename or atomic save.
		return
	}
	if callback != nil {
		callback(path)
	}
}

// Stop cancels all pending timers and rejects new events.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for path, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, path)
	}
	for path, entry := range d.pendingDeletes {
		entry.timer.Stop()
		delete(d.pendingDeletes, path)
	}
}

// PendingCount reports pending change notifications.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
