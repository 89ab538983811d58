// Package watcher mirrors knowledge-base file changes onto the event
// bus. It watches the kb tree with fsnotify, debounces write bursts,
// and hashes content so touch-only saves stay quiet; consumers get
// log_message events naming the document that changed, which lets UIs
// refresh after edits made outside a pipeline run.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/kb"
)

// FileKind classifies a path within the knowledge-base tree.
type FileKind int

const (
	KindDocument FileKind = iota
	KindDigest
	KindIndex
	KindMedia
	KindUnknown
)

// String returns the kind name used in event messages.
func (k FileKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindDigest:
		return "synthesis digest"
	case KindIndex:
		return "index"
	case KindMedia:
		return "media file"
	default:
		return "unknown"
	}
}

// Config configures the knowledge-base watcher.
type Config struct {
	Layout    kb.Layout
	Publisher events.Publisher
	Logger    *slog.Logger
	Debounce  time.Duration // default 500ms
}

// Watcher monitors the knowledge-base root for file changes.
type Watcher struct {
	layout kb.Layout
	helper *events.PublishHelper
	logger *slog.Logger

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	// hashes keeps the last seen content per path so repeated saves of
	// identical bytes do not produce events.
	hashes   map[string]string
	hashesMu sync.RWMutex

	done chan struct{}
}

// New creates a knowledge-base watcher.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil || cfg.Publisher == nil {
		return nil, errors.ErrConfigMissing("watcher publisher")
	}
	if cfg.Layout.Root == "" {
		return nil, errors.ErrConfigInvalid("kb.root", "watcher needs a knowledge-base root")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		layout:    cfg.Layout,
		helper:    events.NewPublishHelper(cfg.Publisher),
		logger:    logger.With("component", "watcher"),
		fsWatcher: fsWatcher,
		hashes:    make(map[string]string),
	}
	w.debouncer = NewDebouncer(debounce, w.handleChanged)
	w.debouncer.SetDeleteCallback(w.handleRemoved)
	return w, nil
}

// Start begins watching and returns once the event loop is running.
// Cancel ctx or call Close to stop.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the parent so a root created later is picked up.
	parent := filepath.Dir(w.layout.Root)
	if err := w.fsWatcher.Add(parent); err != nil {
		w.logger.Warn("cannot watch knowledge-base parent", "path", parent, "error", err)
	}

	if _, err := os.Stat(w.layout.Root); err == nil {
		if err := w.addWatchRecursive(w.layout.Root); err != nil {
			w.logger.Warn("initial knowledge-base watches incomplete", "error", err)
		}
		w.primeHashes(w.layout.Root)
	} else {
		w.logger.Debug("knowledge-base root absent, watching for creation", "root", w.layout.Root)
	}

	// A synthesis dir configured outside the root needs its own watch.
	if !within(w.layout.Root, w.layout.SynthesisDir) && w.layout.SynthesisDir != w.layout.Root {
		if _, err := os.Stat(w.layout.SynthesisDir); err == nil {
			if err := w.addWatchRecursive(w.layout.SynthesisDir); err != nil {
				w.logger.Warn("cannot watch synthesis dir", "error", err)
			}
			w.primeHashes(w.layout.SynthesisDir)
		}
	}

	w.logger.Info("knowledge-base watcher started", "root", w.layout.Root)
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	err := w.fsWatcher.Close()
	if w.done != nil {
		<-w.done
	}
	w.logger.Info("knowledge-base watcher stopped")
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// addWatchRecursive adds the directory and all subdirectories to the
// watch list.
func (w *Watcher) addWatchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				w.logger.Debug("cannot watch directory", "path", path, "error", err)
				return nil
			}
		}
		return nil
	})
}

// primeHashes records the content of existing files so the first edit
// after startup reads as a modification, not a creation.
func (w *Watcher) primeHashes(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.classify(path) == KindUnknown {
			return nil
		}
		if _, err := w.contentChanged(path); err != nil {
			w.logger.Debug("prime hash", "path", path, "error", err)
		}
		return nil
	})
}

// handleFSEvent processes one raw fsnotify event.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if path == w.layout.Root {
			w.logger.Info("knowledge-base root created, adding watches")
			if err := w.addWatchRecursive(path); err != nil {
				w.logger.Warn("cannot watch knowledge-base root", "error", err)
			}
			return
		}
		// New directories get a recursive add: MkdirAll only surfaces
		// the outermost level as an event, the walk finds the rest.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if within(w.layout.Root, path) || within(w.layout.SynthesisDir, path) {
				if err := w.addWatchRecursive(path); err != nil {
					w.logger.Debug("cannot watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}

	kind := w.classify(path)
	if kind == KindUnknown {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.removeHash(path)
		w.debouncer.TriggerDelete(path)
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		// A create right after a remove is a rename or atomic save, not
		// a deletion.
		w.debouncer.CancelDelete(path)
		w.debouncer.Trigger(path, kind)
	}
}

// handleChanged runs after the quiet period for a changed path.
func (w *Watcher) handleChanged(path string, kind FileKind) {
	known := w.hasHash(path)
	changed, err := w.contentChanged(path)
	if err != nil {
		w.logger.Debug("cannot check content change", "path", path, "error", err)
		return
	}
	if !changed {
		return
	}
	verb := "modified"
	if !known {
		verb = "created"
	}
	w.publishEdit(kind, path, verb)
}

// handleRemoved runs after a removal survived delete verification.
func (w *Watcher) handleRemoved(path string) {
	w.publishEdit(w.classify(path), path, "removed")
}

func (w *Watcher) publishEdit(kind FileKind, path, verb string) {
	rel := w.relPath(path)
	w.logger.Info("knowledge base changed", "kind", kind.String(), "path", rel, "change", verb)
	w.helper.Log(events.GlobalTaskID, "info", "watcher",
		fmt.Sprintf("%s %s: %s", kind, verb, rel))
}

// relPath renders the path relative to the root for messages.
func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.layout.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// classify determines what a path is within the tree. Anything that is
// not a known document shape, including atomic-write temp files, maps
// to KindUnknown and is ignored.
func (w *Watcher) classify(path string) FileKind {
	if path == w.layout.ReadmePath {
		return KindIndex
	}
	if within(w.layout.SynthesisDir, path) {
		if filepath.Ext(path) == ".md" {
			return KindDigest
		}
		return KindUnknown
	}
	rel, err := filepath.Rel(w.layout.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return KindUnknown
	}
	parts := strings.Split(rel, string(filepath.Separator))
	// category/subcategory/item/README.md
	if len(parts) == 4 && parts[3] == kb.ItemDocName {
		return KindDocument
	}
	// category/subcategory/item/media/<file>
	if len(parts) == 5 && parts[3] == kb.MediaDirName {
		return KindMedia
	}
	return KindUnknown
}

// within reports whether path sits under dir.
func within(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// contentChanged checks whether the file content differs from the last
// seen hash and records the new one.
func (w *Watcher) contentChanged(path string) (bool, error) {
	newHash, err := w.hashFile(path)
	if err != nil {
		return false, err
	}

	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()

	if old, ok := w.hashes[path]; ok && old == newHash {
		return false, nil
	}
	w.hashes[path] = newHash
	return true, nil
}

func (w *Watcher) hasHash(path string) bool {
	w.hashesMu.RLock()
	defer w.hashesMu.RUnlock()
	_, ok := w.hashes[path]
	return ok
}

func (w *Watcher) removeHash(path string) {
	w.hashesMu.Lock()
	defer w.hashesMu.Unlock()
	delete(w.hashes, path)
}

func (w *Watcher) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
