package parser

import (
	"strings"

	"study-rag/internal/models"
)

const (
	DefaultChunkSize    = 800 // characters
	DefaultChunkOverlap = 100 // characters
)

// ChunkOptions tunes the sliding window. Sizes are counted in characters (runes).
type ChunkOptions struct {
	Size    int
	Overlap int
}

func (o ChunkOptions) normalized() ChunkOptions {
	if o.Size <= 0 {
		o.Size = DefaultChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	return o
}

// ChunkExtraction chunks every page of an extraction. When no page yields a
// chunk but the document has text, the whole text becomes a single page 1
// chunk. A document without any text fails with models.ErrEmptyDocument.
func ChunkExtraction(ex *models.Extraction, opts ChunkOptions) ([]string, error) {
	if ex == nil {
		return nil, models.ErrEmptyDocument
	}
	chunks := ChunkPages(ex.Pages, opts)
	if len(chunks) > 0 {
		return chunks, nil
	}
	text := strings.TrimSpace(ex.Text)
	if text == "" {
		return nil, models.ErrEmptyDocument
	}
	return []string{models.PageMarker(1) + text}, nil
}

// ChunkPages splits each page independently; a chunk never spans two pages.
// Every chunk starts with the "[Page N] " marker of its page.
func ChunkPages(pages []models.Page, opts ChunkOptions) []string {
	opts = opts.normalized()
	var chunks []string
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		chunks = append(chunks, chunkPage(page.Number, page.Text, opts.Size, opts.Overlap)...)
	}
	return chunks
}

func chunkPage(number int, text string, size, overlap int) []string {
	runes := []rune(text)
	n := len(runes)
	marker := models.PageMarker(number)

	var chunks []string
	start := 0
	for start < n {
		end := min(start+size, n)

		// prefer ending on a sentence or line break, unless that leaves less than half a window
		if end < n {
			if bp := lastBreak(runes[start:end]); bp > size/2 {
				end = start + bp + 1
			}
		}

		if body := strings.TrimSpace(string(runes[start:end])); body != "" {
			chunks = append(chunks, marker+body)
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastBreak returns the index of the last '.' or '\n' in window, or -1.
func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
