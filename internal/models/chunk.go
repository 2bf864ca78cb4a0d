package models

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// Page is the extracted text of one physical page. Number is 1-based.
type Page struct {
	Number int    `json:"page_number"`
	Text   string `json:"text"`
}

// Extraction is the result of reading a whole file.
type Extraction struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
	Pages     []Page `json:"pages"`
}

// Chunk is a page-tagged span of document text together with its embedding.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
}

var pageMarkerRe = regexp.MustCompile(PageMarkerRegex)

// PageMarker returns the literal marker for a 1-based page number.
func PageMarker(page int) string {
	return fmt.Sprintf(PageMarkerFormat, page)
}

// PageOf parses the leading page marker of a chunk's content.
// It returns nil when the content carries no well-formed marker.
func PageOf(content string) *int {
	m := pageMarkerRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	page, err := strconv.Atoi(m[1])
	if err != nil || page < 1 {
		return nil
	}
	return &page
}

// NewChunks pairs chunk contents with their vectors and assigns contiguous
// indices starting at 0.
func NewChunks(documentID string, contents []string, vectors [][]float32) ([]Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: missing document id", ErrInvalidChunk)
	}
	if len(contents) != len(vectors) {
		return nil, fmt.Errorf("%w: %d contents but %d vectors", ErrInvalidChunk, len(contents), len(vectors))
	}
	dim := 0
	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		if PageOf(content) == nil {
			return nil, fmt.Errorf("%w: chunk %d has no page marker", ErrInvalidChunk, i)
		}
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: chunk %d has an empty embedding", ErrInvalidChunk, i)
		}
		if dim == 0 {
			dim = len(vectors[i])
		} else if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, want %d", ErrInvalidChunk, i, len(vectors[i]), dim)
		}
		chunks[i] = Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    content,
			Embedding:  vectors[i],
		}
	}
	return chunks, nil
}

// Strategy names the retrieval path that produced a result.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyPageLookup  Strategy = "page_lookup"
	StrategyFullContext Strategy = "full_context"
	StrategySimilarity  Strategy = "similarity"
)

// ScoredChunk is a chunk tagged with its retrieval similarity.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

type RetrievalResult struct {
	Strategy  Strategy      `json:"strategy"`
	Threshold float64       `json:"threshold,omitempty"`
	Chunks    []ScoredChunk `json:"chunks"`
}

func (r RetrievalResult) Empty() bool { return len(r.Chunks) == 0 }

// Source is one citation returned next to a generated answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
	Page       *int    `json:"page"`
	Text       string  `json:"text"`
}
