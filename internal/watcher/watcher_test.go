package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/kb"
)

// testPublisher captures published events for testing (thread-safe).
type testPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *testPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *testPublisher) Subscribe(taskID string) <-chan events.Event {
	return make(chan events.Event)
}

func (p *testPublisher) Unsubscribe(taskID string, ch <-chan events.Event) {}

func (p *testPublisher) Close() {}

// messages returns the log_message payload texts seen so far.
func (p *testPublisher) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.Type != events.EventLog {
			continue
		}
		if lm, ok := ev.Data.(events.LogMessage); ok {
			out = append(out, lm.Message)
		}
	}
	return out
}

func testLayout(t *testing.T) (kb.Layout, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "kb")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return kb.NewLayout(config.KBConfig{Root: root}), root
}

func startWatcher(t *testing.T, pub *testPublisher, layout kb.Layout) *Watcher {
	t.Helper()
	w, err := New(&Config{
		Layout:    layout,
		Publisher: pub,
		Debounce:  50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitForMessage(t *testing.T, pub *testPublisher, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, msg := range pub.messages() {
			if strings.Contains(msg, want) {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "no event containing %q", want)
}

func TestNew(t *testing.T) {
	t.Run("creates watcher with valid config", func(t *testing.T) {
		layout, _ := testLayout(t)
		w, err := New(&Config{Layout: layout, Publisher: &testPublisher{}})
		require.NoError(t, err)
		assert.NotNil(t, w.debouncer)
		require.NoError(t, w.Close())
	})

	t.Run("rejects nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("rejects missing publisher", func(t *testing.T) {
		layout, _ := testLayout(t)
		_, err := New(&Config{Layout: layout})
		assert.Error(t, err)
	})

	t.Run("rejects empty root", func(t *testing.T) {
		_, err := New(&Config{Publisher: &testPublisher{}})
		assert.Error(t, err)
	})
}

func TestWatcher_Classify(t *testing.T) {
	layout := kb.NewLayout(config.KBConfig{Root: filepath.FromSlash("/kb")})
	w := &Watcher{layout: layout}

	tests := []struct {
		path string
		want FileKind
	}{
		{"/kb/databases/sqlite/wal_notes/README.md", KindDocument},
		{"/kb/databases/sqlite/wal_notes/media/photo.jpg", KindMedia},
		{"/kb/synthesis/databases.md", KindDigest},
		{"/kb/README.md", KindIndex},
		{"/kb/databases/sqlite/wal_notes/.tmp-123", KindUnknown},
		{"/kb/synthesis/.tmp-456", KindUnknown},
		{"/kb/databases/notes.md", KindUnknown},
		{"/elsewhere/README.md", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.classify(filepath.FromSlash(tt.path)))
		})
	}
}

func TestWatcher_ReportsModifiedDocument(t *testing.T) {
	pub := &testPublisher{}
	layout, root := testLayout(t)

	docPath := filepath.Join(root, "databases", "sqlite", "wal_notes", "README.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))
	require.NoError(t, os.WriteFile(docPath, []byte("# WAL notes\n"), 0o644))

	startWatcher(t, pub, layout)

	// Existing content is primed, so an edit reads as a modification.
	require.NoError(t, os.WriteFile(docPath, []byte("# WAL notes\n\nUpdated.\n"), 0o644))
	waitForMessage(t, pub, "document modified: "+
		filepath.Join("databases", "sqlite", "wal_notes", "README.md"))
}

func TestWatcher_SuppressesUnchangedSaves(t *testing.T) {
	pub := &testPublisher{}
	layout, root := testLayout(t)

	docPath := filepath.Join(root, "databases", "sqlite", "wal_notes", "README.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))
	content := []byte("# WAL notes\n")
	require.NoError(t, os.WriteFile(docPath, content, 0o644))

	startWatcher(t, pub, layout)

	// Rewriting identical bytes must stay quiet.
	require.NoError(t, os.WriteFile(docPath, content, 0o644))
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, pub.messages())
}

func TestWatcher_ReportsNewDocument(t *testing.T) {
	pub := &testPublisher{}
	layout, root := testLayout(t)
	startWatcher(t, pub, layout)

	docPath := filepath.Join(root, "languages", "go", "errgroup_tricks", "README.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))

	// Retry the write until the recursive watch has caught the new
	// directories; fsnotify delivers dir creation asynchronously.
	assert.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(docPath, []byte("# errgroup\n"), 0o644))
		for _, msg := range pub.messages() {
			if strings.Contains(msg, "document created") {
				return true
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcher_ReportsRemovedDocument(t *testing.T) {
	pub := &testPublisher{}
	layout, root := testLayout(t)

	docPath := filepath.Join(root, "databases", "sqlite", "wal_notes", "README.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))
	require.NoError(t, os.WriteFile(docPath, []byte("# WAL notes\n"), 0o644))

	startWatcher(t, pub, layout)

	require.NoError(t, os.Remove(docPath))
	waitForMessage(t, pub, "document removed: "+
		filepath.Join("databases", "sqlite", "wal_notes", "README.md"))
}

func TestWatcher_ReportsDigestAndIndexEdits(t *testing.T) {
	pub := &testPublisher{}
	layout, root := testLayout(t)

	require.NoError(t, os.MkdirAll(layout.SynthesisDir, 0o755))
	digest := filepath.Join(layout.SynthesisDir, "databases.md")
	require.NoError(t, os.WriteFile(digest, []byte("# Databases\n"), 0o644))
	index := filepath.Join(root, "README.md")
	require.NoError(t, os.WriteFile(index, []byte("# Knowledge Base\n"), 0o644))

	startWatcher(t, pub, layout)

	require.NoError(t, os.WriteFile(digest, []byte("# Databases\n\nMore.\n"), 0o644))
	require.NoError(t, os.WriteFile(index, []byte("# Knowledge Base\n\nMore.\n"), 0o644))

	waitForMessage(t, pub, "synthesis digest modified")
	waitForMessage(t, pub, "index modified")
}

func TestDebouncer(t *testing.T) {
	t.Run("fires once per quiet period", func(t *testing.T) {
		var mu sync.Mutex
		var fired []string

		d := NewDebouncer(50*time.Millisecond, func(path string, kind FileKind) {
			mu.Lock()
			defer mu.Unlock()
			fired = append(fired, path)
		})
		defer d.Stop()

		d.Trigger("a.md", KindDocument)
		d.Trigger("a.md", KindDocument)
		d.Trigger("a.md", KindDocument)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(fired) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("paths debounce independently", func(t *testing.T) {
		var mu sync.Mutex
		fired := map[string]int{}

		d := NewDebouncer(50*time.Millisecond, func(path string, kind FileKind) {
			mu.Lock()
			defer mu.Unlock()
			fired[path]++
		})
		defer d.Stop()

		d.Trigger("a.md", KindDocument)
		d.Trigger("b.md", KindDigest)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return fired["a.md"] == 1 && fired["b.md"] == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("stop cancels pending timers", func(t *testing.T) {
		var mu sync.Mutex
		called := false

		d := NewDebouncer(50*time.Millisecond, func(path string, kind FileKind) {
			mu.Lock()
			defer mu.Unlock()
			called = true
		})

		d.Trigger("a.md", KindDocument)
		d.Stop()
		time.Sleep(120 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.False(t, called)
	})

	t.Run("verified removals fire the delete callback", func(t *testing.T) {
		var mu sync.Mutex
		var removed []string

		d := NewDebouncer(50*time.Millisecond, func(string, FileKind) {})
		d.SetDeleteCallback(func(path string) {
			mu.Lock()
			defer mu.Unlock()
			removed = append(removed, path)
		})
		defer d.Stop()

		d.TriggerDelete(filepath.Join(t.TempDir(), "never-existed.md"))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(removed) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("surviving files suppress the delete callback", func(t *testing.T) {
		var mu sync.Mutex
		var removed []string

		path := filepath.Join(t.TempDir(), "kept.md")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		d := NewDebouncer(50*time.Millisecond, func(string, FileKind) {})
		d.SetDeleteCallback(func(p string) {
			mu.Lock()
			defer mu.Unlock()
			removed = append(removed, p)
		})
		defer d.Stop()

		// The file is there at verification time, so the remove event
		// was an atomic save.
		d.TriggerDelete(path)
		time.Sleep(250 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Empty(t, removed)
	})

	t.Run("cancel drops a pending removal", func(t *testing.T) {
		var mu sync.Mutex
		var removed []string

		d := NewDebouncer(50*time.Millisecond, func(string, FileKind) {})
		d.SetDeleteCallback(func(p string) {
			mu.Lock()
			defer mu.Unlock()
			removed = append(removed, p)
		})
		defer d.Stop()

		d.TriggerDelete("a.md")
		d.CancelDelete("a.md")
		time.Sleep(250 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Empty(t, removed)
	})
}
