package kb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/util"
)

// IndexEntry is one item document found by a tree scan.
type IndexEntry struct {
	Path         string
	Title        string
	MainCategory string
	SubCategory  string
	ItemName     string
	Tags         []string
}

// ScanItems walks the tree for item documents and parses their front
// matter. Documents that fail to parse are skipped with a warning;
// an out-of-band edit must not sink readme generation.
func (w *Writer) ScanItems() ([]IndexEntry, error) {
	if _, err := os.Stat(w.layout.Root); os.IsNotExist(err) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(w.layout.Root), "*/*/*/"+ItemDocName)
	if err != nil {
		return nil, errors.ErrStorageFailed("scan knowledge base", err)
	}
	sort.Strings(matches)

	var entries []IndexEntry
	for _, rel := range matches {
		rel = filepath.FromSlash(rel)
		fm, _, err := w.ReadDocument(rel)
		if err != nil {
			w.logger.Warn("skipping unparseable kb document", "path", rel, "error", err)
			continue
		}
		entries = append(entries, IndexEntry{
			Path:         rel,
			Title:        fm.Title,
			MainCategory: fm.MainCategory,
			SubCategory:  fm.SubCategory,
			ItemName:     fm.ItemName,
			Tags:         fm.Tags,
		})
	}
	return entries, nil
}

// RenderIndex produces the deterministic tree section of the root index:
// categories, subcategories, and item links in sorted order. An
// AI-written overview, when present, goes above it.
func RenderIndex(entries []IndexEntry, overview string, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Knowledge Base\n\n")
	if overview = strings.TrimSpace(overview); overview != "" {
		b.WriteString(overview)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d items. Generated %s.\n", len(entries), generatedAt.UTC().Format("2006-01-02 15:04 UTC"))

	byCategory := make(map[string]map[string][]IndexEntry)
	for _, e := range entries {
		main := e.MainCategory
		if main == "" {
			main = "uncategorized"
		}
		if byCategory[main] == nil {
			byCategory[main] = make(map[string][]IndexEntry)
		}
		byCategory[main][e.SubCategory] = append(byCategory[main][e.SubCategory], e)
	}

	for _, main := range sortedKeys(byCategory) {
		fmt.Fprintf(&b, "\n## %s\n", main)
		subs := byCategory[main]
		for _, sub := range sortedKeys(subs) {
			if sub != "" {
				fmt.Fprintf(&b, "\n### %s\n", sub)
			} else {
				b.WriteString("\n")
			}
			items := subs[sub]
			sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
			for _, e := range items {
				title := e.Title
				if title == "" {
					title = e.ItemName
				}
				fmt.Fprintf(&b, "- [%s](%s)\n", title, filepath.ToSlash(e.Path))
			}
		}
	}
	b.WriteString("\n")
	return b.String()
}

// WriteReadme writes the root index, skipping identical content.
func (w *Writer) WriteReadme(content string) (bool, error) {
	changed, err := util.WriteFileIfChanged(w.layout.ReadmePath, []byte(content), 0o644)
	if err != nil {
		return false, errors.ErrStorageFailed("write readme", err)
	}
	if changed {
		w.logger.Debug("readme written", "path", w.layout.ReadmePath)
	}
	return changed, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
