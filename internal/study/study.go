// Package study generates quizzes and study notes from the opening chunks
// of a ready document.
package study

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/helper"
	"study-rag/internal/models"
	"study-rag/internal/store"
)

const (
	SourceChunks   = 8
	SourceMaxChars = 15000
)

// Completer is the subset of llmservice.Client used here.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts ...llms.CallOption) (string, error)
}

type Service struct {
	docs   store.DocumentStore
	chunks store.ChunkStore
	llm    Completer
}

func New(docs store.DocumentStore, chunks store.ChunkStore, llm Completer) *Service {
	return &Service{docs: docs, chunks: chunks, llm: llm}
}

// source joins the first SourceChunks chunks of a ready document owned by
// userID, cut to SourceMaxChars characters.
func (s *Service) source(ctx context.Context, documentID, userID string) (*models.Document, string, error) {
	doc, err := s.docs.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status != models.StatusReady {
		return nil, "", fmt.Errorf("%w: status %s", models.ErrDocumentNotReady, doc.Status)
	}

	chunks, err := s.chunks.ListChunks(ctx, []string{doc.ID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) > SourceChunks {
		chunks = chunks[:SourceChunks]
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil, "", models.ErrEmptyDocument
	}

	log.Debug().Str("document_id", doc.ID).Int("chunks", len(chunks)).Msg("Loaded study source")
	return doc, helper.Truncate(text, SourceMaxChars), nil
}
