package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/helper"
	"study-rag/internal/models"
)

const (
	DefaultMaxChars = 15000
	temperature     = 0.5
)

// Completer is the subset of llmservice.Client used here.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts ...llms.CallOption) (string, error)
}

type Service struct {
	llm      Completer
	maxChars int
}

func New(llm Completer, maxChars int) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Service{llm: llm, maxChars: maxChars}
}

// Summarize condenses the first maxChars characters of a document's text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.ErrEmptyDocument
	}
	input := helper.Truncate(text, s.maxChars)
	if len(input) < len(text) {
		log.Debug().Int("max_chars", s.maxChars).Msg("Document text truncated for summary")
	}

	prompt := fmt.Sprintf(models.SummaryPromptTemplate, input)
	summary, err := s.llm.Complete(ctx, models.SummarySystemPrompt, prompt, llms.WithTemperature(temperature))
	if err != nil {
		return "", fmt.Errorf("failed to summarize document: %w", err)
	}
	return summary, nil
}
