package kb

import "strings"

// Defaults for embedding chunking. Sized for embedding-model context
// windows, not for retrieval granularity tuning.
const (
	DefaultChunkRunes   = 1200
	DefaultChunkOverlap = 150
)

// ChunkText splits a document into chunks for embedding, preferring
// paragraph boundaries. A paragraph longer than the chunk size is cut
// mid-text, with overlap runes carried into the next chunk so no
// statement loses its context at a cut. Empty input yields no chunks.
func ChunkText(text string, maxRunes, overlap int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}
	if overlap < 0 || overlap >= maxRunes {
		overlap = maxRunes / 8
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current []rune
	fresh := false

	// flush emits the accumulated chunk and seeds the next one with the
	// overlap tail. Without fresh content since the last flush there is
	// nothing new to emit.
	flush := func() {
		if fresh {
			if chunk := strings.TrimSpace(string(current)); chunk != "" {
				chunks = append(chunks, chunk)
			}
		}
		if overlap > 0 && len(current) > overlap {
			current = append([]rune(nil), current[len(current)-overlap:]...)
		} else {
			current = current[:0]
		}
		fresh = false
	}

	for _, para := range strings.Split(text, "\n\n") {
		runes := []rune(strings.TrimSpace(para))
		if len(runes) == 0 {
			continue
		}

		if len(runes) <= maxRunes {
			if len(current)+len(runes)+2 > maxRunes {
				flush()
				// Drop the overlap seed rather than overshoot the cap.
				if len(current)+len(runes)+2 > maxRunes {
					current = current[:0]
				}
			}
			if len(current) > 0 {
				current = append(current, '\n', '\n')
			}
			current = append(current, runes...)
			fresh = true
			continue
		}

		// Oversized paragraph: emit what we have, then hard-cut it.
		flush()
		for len(runes) > 0 {
			room := maxRunes - len(current)
			if room > len(runes) {
				room = len(runes)
			}
			current = append(current, runes[:room]...)
			runes = runes[room:]
			fresh = true
			if len(current) >= maxRunes {
				flush()
			}
		}
	}

	if fresh {
		if chunk := strings.TrimSpace(string(current)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
