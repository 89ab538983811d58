package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/curator-ai/curator/internal/item"
)

// titleRunes caps the derived display title length.
const titleRunes = 80

// Payload is the normalized view of one raw bookmark payload.
type Payload struct {
	ItemID   string
	Author   string
	FullText string
	Media    []item.MediaRef
	LinkURLs []string
	Thread   []item.ThreadItem
}

// IsThread reports whether the payload carried sibling entries.
func (p *Payload) IsThread() bool { return len(p.Thread) > 0 }

// DisplayTitle derives a short title: the author handle when known, then
// the first line of text truncated on a rune boundary.
func (p *Payload) DisplayTitle() string {
	text := p.FullText
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > titleRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:titleRunes])) + "..."
	}
	if p.Author != "" {
		if text == "" {
			return "@" + p.Author
		}
		return "@" + p.Author + ": " + text
	}
	return text
}

// MergedText returns the full text with thread siblings appended in order,
// separated by blank lines.
func (p *Payload) MergedText() string {
	if len(p.Thread) == 0 {
		return p.FullText
	}
	parts := make([]string, 0, len(p.Thread)+1)
	if p.FullText != "" {
		parts = append(parts, p.FullText)
	}
	for _, t := range p.Thread {
		if t.FullText != "" {
			parts = append(parts, t.FullText)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Patch converts the payload into the cache-phase record patch. The caller
// supplies the raw JSON so the record keeps the source's exact bytes.
func (p *Payload) Patch(raw string) item.Patch {
	media := p.Media
	thread := p.Thread
	return item.Patch{
		RawContent:   item.StringPtr(raw),
		DisplayTitle: item.StringPtr(p.DisplayTitle()),
		FullText:     item.StringPtr(p.MergedText()),
		MediaRefs:    &media,
		IsThread:     item.BoolPtr(p.IsThread()),
		ThreadItems:  &thread,
	}
}

// ParsePayload extracts the fields the pipeline needs from a raw bookmark
// payload. Field locations vary across export generations, so every lookup
// walks a fallback chain of gjson paths; missing fields stay empty rather
// than erroring, per gjson's tolerant semantics.
func ParsePayload(raw string) *Payload {
	root := gjson.Parse(raw)
	p := &Payload{
		ItemID:   PayloadID(root),
		Author:   firstString(root, "user.screen_name", "core.user_results.result.legacy.screen_name", "author.username"),
		FullText: firstString(root, "full_text", "legacy.full_text", "text"),
		Media:    parseMedia(root),
		LinkURLs: parseLinks(root),
	}

	root.Get("thread").ForEach(func(_, entry gjson.Result) bool {
		id := PayloadID(entry)
		if id == "" {
			return true
		}
		p.Thread = append(p.Thread, item.ThreadItem{
			ItemID:   id,
			FullText: firstString(entry, "full_text", "legacy.full_text", "text"),
			Media:    parseMedia(entry),
		})
		return true
	})
	return p
}

// PayloadID extracts the external id from a payload in any of the layouts
// the exports use. Empty when none is present.
func PayloadID(v gjson.Result) string {
	return firstString(v, "id_str", "rest_id", "legacy.id_str", "id")
}

// firstString returns the first non-empty string value among the paths.
func firstString(v gjson.Result, paths ...string) string {
	for _, path := range paths {
		if r := v.Get(path); r.Exists() {
			if s := r.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseMedia reads the media list, preferring extended_entities which
// carries the full set when a payload has more than one attachment.
func parseMedia(v gjson.Result) []item.MediaRef {
	list := v.Get("extended_entities.media")
	if !list.IsArray() {
		list = v.Get("entities.media")
	}
	if !list.IsArray() {
		list = v.Get("media")
	}

	var refs []item.MediaRef
	list.ForEach(func(_, m gjson.Result) bool {
		url := firstString(m, "media_url_https", "media_url", "url")
		if url == "" {
			return true
		}
		mType := m.Get("type").String()
		if mType == "" {
			mType = "photo"
		}
		// Videos list variants; pick the direct file over the preview image.
		if mType == "video" || mType == "animated_gif" {
			if variant := bestVideoVariant(m); variant != "" {
				url = variant
			}
		}
		refs = append(refs, item.MediaRef{
			Type:    mType,
			URL:     url,
			AltText: firstString(m, "ext_alt_text", "alt_text"),
		})
		return true
	})
	return refs
}

// bestVideoVariant picks the highest-bitrate mp4 variant, if any.
func bestVideoVariant(m gjson.Result) string {
	best := ""
	bestRate := int64(-1)
	m.Get("video_info.variants").ForEach(func(_, v gjson.Result) bool {
		if v.Get("content_type").String() != "video/mp4" {
			return true
		}
		if rate := v.Get("bitrate").Int(); rate > bestRate {
			bestRate = rate
			best = v.Get("url").String()
		}
		return true
	})
	return best
}

// parseLinks collects expanded URLs the payload references, skipping media
// shortlinks which the media list already covers.
func parseLinks(v gjson.Result) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, path := range []string{"entities.urls", "legacy.entities.urls", "urls"} {
		v.Get(path).ForEach(func(_, u gjson.Result) bool {
			link := firstString(u, "expanded_url", "url")
			if link != "" && !seen[link] {
				seen[link] = true
				urls = append(urls, link)
			}
			return true
		})
		if len(urls) > 0 {
			break
		}
	}
	return urls
}
