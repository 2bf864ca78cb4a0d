package study

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/models"
	"study-rag/internal/rag"
)

const (
	notesTemperature = 0.7
	generalTopic     = "General Overview"
)

type NotesRequest struct {
	UserID     string `json:"-"`
	DocumentID string `json:"document_id"`
	Topic      string `json:"topic"`
}

type Notes struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHTML string    `json:"content_html,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerateNotes writes Markdown study notes, optionally focused on a topic.
func (s *Service) GenerateNotes(ctx context.Context, req NotesRequest) (*Notes, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: document_id is required", models.ErrInvalidRequest)
	}
	topic := strings.TrimSpace(req.Topic)

	doc, text, err := s.source(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return nil, err
	}

	focus, title := generalTopic, "Study Notes"
	if topic != "" {
		focus, title = topic, "Notes on "+topic
	}
	prompt := fmt.Sprintf(models.NotesPromptTemplate, focus, text)
	content, err := s.llm.Complete(ctx, models.NotesSystemPrompt, prompt, llms.WithTemperature(notesTemperature))
	if err != nil {
		return nil, fmt.Errorf("failed to generate notes: %w", err)
	}

	notes := &Notes{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Title:      title,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if html, err := rag.RenderMarkdown(content); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to render notes")
	} else {
		notes.ContentHTML = html
	}
	log.Info().Str("document_id", doc.ID).Str("title", title).Msg("Notes generated")
	return notes, nil
}
