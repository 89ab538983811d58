// Package ingest turns bookmark exports into item records. A Source yields
// raw bookmark payloads; the payload parser lifts the fields the pipeline
// needs (text, title, media, thread) out of the opaque JSON without ever
// binding the rest of the system to one source's schema.
package ingest

import (
	"context"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
)

// Bookmark is one entry from a bookmark source: the external item id, the
// id of the bookmark entry that referenced it, and the source's raw JSON
// payload kept verbatim for the item record.
type Bookmark struct {
	ItemID           string
	BookmarkedItemID string
	RawJSON          string
}

// Source yields bookmarks for the fetch phase. Implementations are read
// only; writing records is the pipeline's job.
type Source interface {
	// Name tags records created from this source.
	Name() string

	// Fetch returns bookmarks in export order. A positive limit caps the
	// result; zero means everything.
	Fetch(ctx context.Context, limit int) ([]Bookmark, error)
}

// BuildSource constructs the configured bookmark source. Both providers
// currently read an export file; the provider name still reaches the
// record's source tag so downstream filters keep working when a live
// twitter client lands.
func BuildSource(cfg config.SourcesConfig) (Source, error) {
	switch cfg.Provider {
	case "twitter", "file":
		if cfg.BookmarksFile == "" {
			return nil, errors.ErrConfigMissing("sources.bookmarks_file")
		}
		return NewFileSource(cfg.Provider, cfg.BookmarksFile), nil
	default:
		return nil, errors.ErrConfigInvalid("sources.provider", "unknown provider "+cfg.Provider)
	}
}
