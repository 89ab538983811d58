package kb

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/item"
	"github.com/curator-ai/curator/internal/util"
)

// FrontMatter is the machine-readable header of every item document.
type FrontMatter struct {
	ItemID       string    `yaml:"item_id"`
	Source       string    `yaml:"source"`
	Title        string    `yaml:"title"`
	MainCategory string    `yaml:"main_category"`
	SubCategory  string    `yaml:"sub_category"`
	ItemName     string    `yaml:"item_name"`
	Tags         []string  `yaml:"tags,omitempty"`
	Media        []string  `yaml:"media,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

// WrittenItem reports what one WriteItem call produced. Paths are
// relative to the knowledge-base root.
type WrittenItem struct {
	DocPath    string
	MediaPaths []string
}

// Writer materializes knowledge-base documents. One writer is shared by
// the kb-item, synthesis, and readme phases; it holds no per-item state.
type Writer struct {
	layout Layout
	conv   converter
	logger *slog.Logger
}

type converter interface {
	ConvertString(s string) (string, error)
}

// NewWriter creates a writer over the configured tree.
func NewWriter(cfg config.KBConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		layout: NewLayout(cfg),
		conv:   newConverter(),
		logger: logger,
	}
}

// Layout exposes the resolved path layout.
func (w *Writer) Layout() Layout { return w.layout }

// WriteItem renders the item document and copies its cached media into
// the item directory. The record must be categorized; body is the
// generated document content, markdown or HTML.
func (w *Writer) WriteItem(rec *item.Record, body string) (*WrittenItem, error) {
	if rec.MainCategory == "" || rec.ItemNameSuggestion == "" {
		return nil, errors.ErrDataInvalid("kb item "+rec.ItemID, fmt.Errorf("record not categorized"))
	}

	relDir := w.layout.ItemDir(rec.MainCategory, rec.SubCategory, rec.ItemNameSuggestion)
	absDir := w.layout.Abs(relDir)

	mediaRel, err := w.copyMedia(absDir, relDir, rec.MediaRefs)
	if err != nil {
		return nil, err
	}

	body, err = w.NormalizeBody(body)
	if err != nil {
		return nil, errors.ErrDataInvalid("kb item "+rec.ItemID, err)
	}

	fm := FrontMatter{
		ItemID:       rec.ItemID,
		Source:       rec.Source,
		Title:        rec.DisplayTitle,
		MainCategory: rec.MainCategory,
		SubCategory:  rec.SubCategory,
		ItemName:     rec.ItemNameSuggestion,
		Media:        mediaDocRefs(mediaRel),
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if rec.Categories != nil {
		fm.Tags = rec.Categories.Tags
	}

	doc, err := renderDocument(fm, body)
	if err != nil {
		return nil, errors.ErrDataInvalid("kb item "+rec.ItemID, err)
	}

	relDoc := filepath.Join(relDir, ItemDocName)
	if err := util.AtomicWriteFile(w.layout.Abs(relDoc), doc, 0o644); err != nil {
		return nil, errors.ErrStorageFailed("write kb item "+rec.ItemID, err)
	}

	w.logger.Debug("kb item written", "item_id", rec.ItemID, "path", relDoc, "media", len(mediaRel))
	return &WrittenItem{DocPath: relDoc, MediaPaths: mediaRel}, nil
}

// copyMedia copies cached media files into the item's media dir and
// returns their root-relative paths. Refs without a local path are
// skipped; the vision phase already described them from cache.
func (w *Writer) copyMedia(absDir, relDir string, refs []item.MediaRef) ([]string, error) {
	var out []string
	for _, ref := range refs {
		if ref.LocalPath == "" {
			continue
		}
		rel := filepath.Join(relDir, MediaDirName, filepath.Base(ref.LocalPath))
		if err := copyFile(ref.LocalPath, w.layout.Abs(rel)); err != nil {
			return nil, errors.ErrStorageFailed("copy media "+ref.LocalPath, err)
		}
		out = append(out, rel)
	}
	return out, nil
}

// mediaDocRefs converts root-relative media paths to doc-relative ones
// for the front matter, so links survive a tree move.
func mediaDocRefs(rootRel []string) []string {
	if len(rootRel) == 0 {
		return nil
	}
	out := make([]string, len(rootRel))
	for i, p := range rootRel {
		out[i] = filepath.Join(MediaDirName, filepath.Base(p))
	}
	return out
}

// renderDocument serializes front matter and body into one markdown file.
func renderDocument(fm FrontMatter, body string) ([]byte, error) {
	var b strings.Builder
	b.WriteString("---\n")
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	b.WriteString("---\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// ParseDocument splits an item document into front matter and body.
func ParseDocument(data []byte) (*FrontMatter, string, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, "", fmt.Errorf("document has no front matter")
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, "", fmt.Errorf("document front matter is unterminated")
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, "", fmt.Errorf("parse front matter: %w", err)
	}

	body := rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	return &fm, strings.TrimSpace(body), nil
}

// ReadDocument loads and parses an item document by root-relative path.
func (w *Writer) ReadDocument(relPath string) (*FrontMatter, string, error) {
	data, err := os.ReadFile(w.layout.Abs(relPath))
	if err != nil {
		return nil, "", errors.ErrStorageFailed("read kb document "+relPath, err)
	}
	fm, body, err := ParseDocument(data)
	if err != nil {
		return nil, "", errors.ErrDataInvalid("kb document "+relPath, err)
	}
	return fm, body, nil
}

// copyFile copies src to dst atomically. Media files are small enough to
// buffer whole.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(dst, data, 0o644)
}
