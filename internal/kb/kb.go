// Package kb owns the knowledge-base tree on disk: item documents with
// YAML front matter, per-category synthesis digests, and the generated
// root index. Layout is root/category/subcategory/item_name/README.md
// with cached media copied beside each document. All writes are atomic.
package kb

import (
	"path/filepath"
	"strings"

	"github.com/curator-ai/curator/internal/config"
)

// ItemDocName is the document filename inside every item directory.
const ItemDocName = "README.md"

// MediaDirName is the per-item media subdirectory.
const MediaDirName = "media"

// Layout resolves knowledge-base paths from configuration. Item paths are
// handled relative to the root so records and the vector index stay valid
// when the tree moves.
type Layout struct {
	Root         string
	SynthesisDir string
	ReadmePath   string
}

// NewLayout builds a layout from config. The synthesis dir and readme
// path are taken relative to the root unless absolute.
func NewLayout(cfg config.KBConfig) Layout {
	l := Layout{
		Root:         cfg.Root,
		SynthesisDir: cfg.SynthesisDir,
		ReadmePath:   cfg.ReadmePath,
	}
	if l.SynthesisDir == "" {
		l.SynthesisDir = "synthesis"
	}
	if l.ReadmePath == "" {
		l.ReadmePath = "README.md"
	}
	if !filepath.IsAbs(l.SynthesisDir) {
		l.SynthesisDir = filepath.Join(l.Root, l.SynthesisDir)
	}
	if !filepath.IsAbs(l.ReadmePath) {
		l.ReadmePath = filepath.Join(l.Root, l.ReadmePath)
	}
	return l
}

// ItemDir returns the item directory path, relative to the root.
func (l Layout) ItemDir(mainCategory, subCategory, itemName string) string {
	return filepath.Join(Slug(mainCategory), Slug(subCategory), Slug(itemName))
}

// ItemDoc returns the item document path, relative to the root.
func (l Layout) ItemDoc(mainCategory, subCategory, itemName string) string {
	return filepath.Join(l.ItemDir(mainCategory, subCategory, itemName), ItemDocName)
}

// Abs joins a root-relative path onto the root.
func (l Layout) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, rel)
}

// SynthesisDoc returns the absolute path of one category's digest.
func (l Layout) SynthesisDoc(category string) string {
	return filepath.Join(l.SynthesisDir, Slug(category)+".md")
}

// Slug converts a display name into a stable directory name: lowercase,
// non-alphanumerics collapsed to single underscores. Empty input maps to
// "uncategorized" so a half-categorized item still lands somewhere
// findable.
func Slug(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "uncategorized"
	}
	return out
}
