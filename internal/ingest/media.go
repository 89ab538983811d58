package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/util"
)

// maxMediaBytes caps a single cached media file. Anything larger is a
// broken export pointer, not an attachment worth describing.
const maxMediaBytes = 64 << 20

// MediaCache downloads an item's media refs into the cache directory so
// the media-analysis phase reads local files only.
type MediaCache struct {
	dir    string
	client *http.Client
}

// NewMediaCache creates a cache rooted at dir. A nil client gets a default
// with a 60s overall timeout.
func NewMediaCache(dir string, client *http.Client) *MediaCache {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaCache{dir: dir, client: client}
}

// CacheAll downloads every ref that has no local path yet and fills in
// MediaRef.LocalPath in place. Refs already cached on disk are kept. The
// first failure aborts; the refs filled so far keep their paths, so a
// retry resumes where it stopped.
func (c *MediaCache) CacheAll(ctx context.Context, itemID string, refs []item.MediaRef) error {
	for i := range refs {
		if refs[i].LocalPath != "" {
			if _, err := os.Stat(refs[i].LocalPath); err == nil {
				continue
			}
			refs[i].LocalPath = ""
		}
		local, err := c.fetch(ctx, itemID, i, refs[i].URL)
		if err != nil {
			return err
		}
		refs[i].LocalPath = local
	}
	return nil
}

// fetch downloads one media URL to its deterministic cache path.
func (c *MediaCache) fetch(ctx context.Context, itemID string, index int, mediaURL string) (string, error) {
	target := c.localPath(itemID, index, mediaURL)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", errors.ErrDataInvalid("media url "+mediaURL, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.ErrBackendNetwork("media fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.ErrBackendNetwork("media fetch", fmt.Errorf("%s returned %d", mediaURL, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return "", errors.ErrBackendNetwork("media fetch", err)
	}
	if len(data) > maxMediaBytes {
		return "", errors.ErrDataInvalid("media "+mediaURL, fmt.Errorf("larger than %d bytes", maxMediaBytes))
	}

	if err := util.AtomicWriteFile(target, data, 0o644); err != nil {
		return "", errors.ErrStorageFailed("cache media "+mediaURL, err)
	}
	return target, nil
}

// localPath derives the deterministic on-disk location for one ref. The
// index keeps source order stable even when two refs share a basename.
func (c *MediaCache) localPath(itemID string, index int, mediaURL string) string {
	base := "media"
	if u, err := url.Parse(mediaURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	base = sanitizeFilename(base)
	return filepath.Join(c.dir, sanitizeFilename(itemID), fmt.Sprintf("%02d_%s", index, base))
}

// sanitizeFilename keeps cache paths portable across filesystems.
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
