package rag

import (
	"fmt"
	"strings"

	"study-rag/internal/models"
)

type DocumentSummary struct {
	Title   string
	Summary string
}

// Context is the prompt context for one question and the citations
// that go back to the caller with the answer.
type Context struct {
	Text    string
	Sources []models.Source
}

// Assemble puts summaries first, then chunk bodies in result order.
// Blank summaries are skipped. With nothing left it returns ErrNoContextFound.
func Assemble(summaries []DocumentSummary, result models.RetrievalResult) (*Context, error) {
	var parts []string

	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if strings.TrimSpace(s.Summary) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf(models.SummaryLine, s.Title, s.Summary))
	}
	if len(lines) > 0 {
		parts = append(parts, models.SummariesHeader+"\n"+strings.Join(lines, models.ContextSeparator))
	}

	sources := make([]models.Source, 0, len(result.Chunks))
	if !result.Empty() {
		bodies := make([]string, len(result.Chunks))
		for i, c := range result.Chunks {
			bodies[i] = c.Content
			sources = append(sources, models.Source{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Similarity: c.Similarity,
				Page:       models.PageOf(c.Content),
				Text:       c.Content,
			})
		}
		parts = append(parts, models.ChunksHeader+"\n"+strings.Join(bodies, models.ContextSeparator))
	}

	if len(parts) == 0 {
		return nil, models.ErrNoContextFound
	}
	return &Context{Text: strings.Join(parts, models.ContextSeparator), Sources: sources}, nil
}
