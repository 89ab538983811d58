package ingest

import (
	"context"
	"os"

	"github.com/tidwall/gjson"

	"github.com/curator-ai/curator/internal/errors"
)

// FileSource reads a bookmarks export file. Two layouts are accepted: a
// bare JSON array of item payloads, or an object whose "bookmarks" array
// holds either payloads directly or wrapper objects with the payload under
// "tweet" or "item". Entries with no recognizable id are skipped.
type FileSource struct {
	name string
	path string
}

// NewFileSource creates a source over the given export file. The name tags
// the records it produces.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return s.name }

// Fetch implements Source. The whole export is read in one call; bookmark
// exports are small enough that streaming buys nothing.
func (s *FileSource) Fetch(ctx context.Context, limit int) ([]Bookmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.ErrStorageFailed("read bookmarks export "+s.path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.ErrDataInvalid("bookmarks export "+s.path, nil)
	}

	root := gjson.ParseBytes(data)
	entries := root
	if root.IsObject() {
		entries = root.Get("bookmarks")
	}
	if !entries.IsArray() {
		return nil, errors.ErrDataInvalid("bookmarks export "+s.path, nil)
	}

	var out []Bookmark
	entries.ForEach(func(_, entry gjson.Result) bool {
		payload := entry
		bookmarkID := ""
		if wrapped := entry.Get("tweet"); wrapped.IsObject() {
			payload = wrapped
			bookmarkID = entry.Get("id").String()
		} else if wrapped := entry.Get("item"); wrapped.IsObject() {
			payload = wrapped
			bookmarkID = entry.Get("id").String()
		}

		id := PayloadID(payload)
		if id == "" {
			return true
		}
		if bookmarkID == "" {
			bookmarkID = id
		}
		out = append(out, Bookmark{
			ItemID:           id,
			BookmarkedItemID: bookmarkID,
			RawJSON:          payload.Raw,
		})
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}
