package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/models"
)

const (
	DefaultQuestions  = 5
	MaxQuestions      = 20
	DefaultDifficulty = "medium"
	quizTemperature   = 0.5
)

var ErrMalformedQuiz = errors.New("model returned no usable quiz questions")

var difficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

type QuizRequest struct {
	UserID       string `json:"-"`
	DocumentID   string `json:"document_id"`
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

type Quiz struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Difficulty string     `json:"difficulty"`
	Questions  []Question `json:"questions"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (r *QuizRequest) normalize() error {
	if r.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required", models.ErrInvalidRequest)
	}
	if r.NumQuestions == 0 {
		r.NumQuestions = DefaultQuestions
	}
	if r.NumQuestions < 0 || r.NumQuestions > MaxQuestions {
		return fmt.Errorf("%w: num_questions must be between 1 and %d", models.ErrInvalidRequest, MaxQuestions)
	}
	r.Difficulty = strings.ToLower(strings.TrimSpace(r.Difficulty))
	if r.Difficulty == "" {
		r.Difficulty = DefaultDifficulty
	}
	if !difficulties[r.Difficulty] {
		return fmt.Errorf("%w: unknown difficulty %q", models.ErrInvalidRequest, r.Difficulty)
	}
	return nil
}

// GenerateQuiz asks the model for multiple choice questions in JSON mode.
// Questions without options or with an out of range answer are dropped.
func (s *Service) GenerateQuiz(ctx context.Context, req QuizRequest) (*Quiz, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	doc, text, err := s.source(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(models.QuizPromptTemplate, req.NumQuestions, req.Difficulty, text)
	raw, err := s.llm.Complete(ctx, models.QuizSystemPrompt, prompt,
		llms.WithTemperature(quizTemperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate quiz: %w", err)
	}

	questions, err := parseQuestions(raw)
	if err != nil {
		return nil, err
	}
	log.Info().Str("document_id", doc.ID).Int("questions", len(questions)).Str("difficulty", req.Difficulty).Msg("Quiz generated")
	return &Quiz{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Difficulty: req.Difficulty,
		Questions:  questions,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func parseQuestions(raw string) ([]Question, error) {
	var out struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuiz, err)
	}

	questions := out.Questions[:0]
	for i, q := range out.Questions {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 ||
			q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			log.Warn().Int("index", i).Msg("Dropping malformed quiz question")
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, ErrMalformedQuiz
	}
	return questions, nil
}

// stripFences removes a ```json ... ``` wrapper some models add anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
