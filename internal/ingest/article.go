package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/curator-ai/curator/internal/errors"
)

// articleTextCap bounds extracted article text so a long read does not
// blow up the model context downstream.
const articleTextCap = 8000

// Article is the readable core of a linked page.
type Article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	SiteName string `json:"site_name,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Text     string `json:"text"`
}

// ArticleExtractor fetches linked pages and strips them down to readable
// text for the cache phase. It only ever runs against URLs a bookmark
// payload referenced; failures degrade the item, never the run.
type ArticleExtractor struct {
	client *http.Client
}

// NewArticleExtractor creates an extractor. A nil client gets a default
// with a 30s overall timeout.
func NewArticleExtractor(client *http.Client) *ArticleExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ArticleExtractor{client: client}
}

// Extract fetches the page and runs readability extraction over it.
func (e *ArticleExtractor) Extract(ctx context.Context, pageURL string) (*Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, errors.ErrDataInvalid("article url "+pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.ErrDataInvalid("article url "+pageURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.ErrBackendNetwork("article fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.ErrBackendNetwork("article fetch", fmt.Errorf("%s returned %d", pageURL, resp.StatusCode))
	}

	art, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return nil, errors.ErrDataInvalid("article content "+pageURL, err)
	}

	return &Article{
		URL:      pageURL,
		Title:    strings.TrimSpace(art.Title),
		SiteName: strings.TrimSpace(art.SiteName),
		Excerpt:  strings.TrimSpace(art.Excerpt),
		Text:     capRunes(strings.TrimSpace(art.TextContent), articleTextCap),
	}, nil
}

// capRunes truncates s to at most n runes, marking the cut.
func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "\n[truncated]"
}
