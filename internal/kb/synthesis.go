package kb

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/util"
)

// SynthesisMeta is the header of a per-category digest document.
type SynthesisMeta struct {
	Category    string    `yaml:"category"`
	ItemCount   int       `yaml:"item_count"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

// WriteSynthesis writes one category's digest. Identical content is left
// untouched so unchanged categories do not churn the tree; the returned
// bool reports whether a write happened.
func (w *Writer) WriteSynthesis(category, body string, itemCount int) (string, bool, error) {
	body, err := w.NormalizeBody(body)
	if err != nil {
		return "", false, errors.ErrDataInvalid("synthesis "+category, err)
	}

	meta := SynthesisMeta{
		Category:    category,
		ItemCount:   itemCount,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
	}
	doc, err := renderSynthesis(meta, body)
	if err != nil {
		return "", false, errors.ErrDataInvalid("synthesis "+category, err)
	}

	path := w.layout.SynthesisDoc(category)
	changed, err := writeSynthesisIfChanged(path, doc)
	if err != nil {
		return "", false, errors.ErrStorageFailed("write synthesis "+category, err)
	}
	if changed {
		w.logger.Debug("synthesis written", "category", category, "path", path, "items", itemCount)
	}
	return path, changed, nil
}

// renderSynthesis serializes the digest document.
func renderSynthesis(meta SynthesisMeta, body string) ([]byte, error) {
	var b strings.Builder
	b.WriteString("---\n")
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
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

// writeSynthesisIfChanged compares everything below the front matter, so
// a fresh generated_at alone never rewrites the file.
func writeSynthesisIfChanged(path string, doc []byte) (bool, error) {
	if data, err := os.ReadFile(path); err == nil {
		if _, oldBody, err2 := ParseSynthesis(data); err2 == nil {
			if _, newBody, err3 := ParseSynthesis(doc); err3 == nil && oldBody == newBody {
				return false, nil
			}
		}
	}
	return true, util.AtomicWriteFile(path, doc, 0o644)
}

// ParseSynthesis splits a digest document into meta and body.
func ParseSynthesis(data []byte) (*SynthesisMeta, string, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, "", fmt.Errorf("synthesis document has no front matter")
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, "", fmt.Errorf("synthesis front matter is unterminated")
	}
	var meta SynthesisMeta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, "", fmt.Errorf("parse synthesis front matter: %w", err)
	}
	body := rest[end+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	return &meta, strings.TrimSpace(body), nil
}
