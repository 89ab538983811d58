package kb

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var (
	htmlTagRe       = regexp.MustCompile(`(?i)<(p|div|br|h[1-6]|ul|ol|li|a|img|blockquote|pre|code|table)\b[^>]*>`)
	excessBlanksRe  = regexp.MustCompile(`\n{3,}`)
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
)

// newConverter builds the shared HTML-to-markdown converter with GitHub
// flavored extensions (tables, strikethrough, task lists).
func newConverter() *md.Converter {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return conv
}

// NormalizeBody returns document-ready markdown. HTML input is converted;
// markdown passes through with whitespace cleanup only. Detection is by
// structural tags, so inline angle brackets in prose do not trigger a
// conversion.
func (w *Writer) NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if looksLikeHTML(body) {
		converted, err := w.conv.ConvertString(body)
		if err != nil {
			return "", err
		}
		body = converted
	}
	return tidyMarkdown(body), nil
}

// looksLikeHTML reports whether the text carries structural HTML tags.
func looksLikeHTML(s string) bool {
	return htmlTagRe.MatchString(s)
}

// tidyMarkdown trims trailing spaces and collapses runs of blank lines.
func tidyMarkdown(s string) string {
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = excessBlanksRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
