package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"study-rag/internal/helper"
	"study-rag/internal/models"
	"study-rag/internal/store"
)

const sessionTitleLen = 50

var ErrEmptyMessage = errors.New("message must not be empty")

// Completer is the subset of llmservice.Client used to answer questions.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts ...llms.CallOption) (string, error)
}

type Request struct {
	UserID    string `json:"-"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	// DocumentIDs restricts the question to these documents. Empty means
	// every ready document of the user.
	DocumentIDs []string `json:"document_ids"`
}

type Response struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message"`
	HTML      string          `json:"html,omitempty"`
	Strategy  models.Strategy `json:"strategy"`
	Sources   []models.Source `json:"sources"`
}

// Service answers questions about uploaded documents and keeps chat history.
type Service struct {
	docs      store.DocumentStore
	chats     store.ChatStore
	retriever *Retriever
	llm       Completer
	now       func() time.Time
}

func NewService(docs store.DocumentStore, chats store.ChatStore, retriever *Retriever, llm Completer) *Service {
	return &Service{docs: docs, chats: chats, retriever: retriever, llm: llm, now: time.Now}
}

func (s *Service) Ask(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, ErrEmptyMessage
	}
	asked := s.now()

	sessionID, err := s.session(ctx, req.UserID, req.SessionID, question)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("session_id", sessionID).Str("user_id", req.UserID).Logger()

	scope, summaries := s.candidates(ctx, req.UserID, req.DocumentIDs)
	logger.Debug().Strs("documents", scope.DocumentIDs).Int("pages", scope.TotalPages).Msg("Resolved candidate documents")

	result, err := s.retriever.Retrieve(ctx, question, scope)
	if err != nil {
		logger.Error().Err(err).Msg("Retrieval failed")
		return nil, err
	}

	assembled, err := Assemble(summaries, result)
	if errors.Is(err, models.ErrNoContextFound) {
		logger.Warn().Msg("No context found")
		return &Response{
			SessionID: sessionID,
			Message:   models.NoContextMessage,
			Strategy:  models.StrategyNone,
			Sources:   []models.Source{},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("strategy", string(result.Strategy)).Int("sources", len(assembled.Sources)).Msg("Requesting completion")
	answer, err := s.llm.Complete(ctx, models.AnswerSystemPrompt, fmt.Sprintf(models.AnswerPromptTemplate, assembled.Text, question))
	if err != nil {
		logger.Error().Err(err).Msg("Completion failed")
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	html, err := RenderMarkdown(answer)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to render answer")
	}

	s.saveHistory(ctx, sessionID, []models.ChatMessage{
		{ID: uuid.NewString(), Role: models.RoleUser, Content: question, CreatedAt: asked},
		{ID: uuid.NewString(), Role: models.RoleAssistant, Content: answer, Sources: assembled.Sources, CreatedAt: s.now()},
	})

	return &Response{
		SessionID: sessionID,
		Message:   answer,
		HTML:      html,
		Strategy:  result.Strategy,
		Sources:   assembled.Sources,
	}, nil
}

// session returns the caller's session id, creating a session when none is
// given. If creation fails a throwaway id is used and history is not kept.
func (s *Service) session(ctx context.Context, userID, sessionID, question string) (string, error) {
	if sessionID != "" {
		if _, _, err := s.chats.GetSession(ctx, sessionID, userID); err != nil {
			return "", err
		}
		return sessionID, nil
	}

	session := &models.ChatSession{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  helper.Truncate(question, sessionTitleLen),
	}
	if err := s.chats.CreateSession(ctx, session); err != nil {
		id := uuid.NewString()
		log.Warn().Err(err).Str("session_id", id).Msg("Failed to create session, using a temporary id")
		return id, nil
	}
	return session.ID, nil
}

// candidates resolves the ready documents owned by the user. Repeated ids
// count once. Lookup errors are logged and leave the scope empty.
func (s *Service) candidates(ctx context.Context, userID string, ids []string) (Scope, []DocumentSummary) {
	var (
		docs []models.Document
		err  error
	)
	if len(ids) == 0 {
		docs, err = s.docs.ListDocuments(ctx, userID)
	} else {
		docs, err = s.docs.GetDocuments(ctx, uniqueIDs(ids))
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load candidate documents")
		return Scope{}, nil
	}

	var (
		scope     Scope
		summaries []DocumentSummary
		seen      = make(map[string]bool, len(docs))
	)
	for _, d := range docs {
		if d.UserID != userID || d.Status != models.StatusReady || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		scope.DocumentIDs = append(scope.DocumentIDs, d.ID)
		scope.TotalPages += d.PageCount
		if d.Summary != "" {
			summaries = append(summaries, DocumentSummary{Title: d.Title, Summary: d.Summary})
		}
	}
	return scope, summaries
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) saveHistory(ctx context.Context, sessionID string, messages []models.ChatMessage) {
	if err := s.chats.AppendMessages(ctx, sessionID, messages...); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to save chat history")
	}
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.chats.ListSessions(ctx, userID)
}

// SessionDetail is a session with its messages in the order they were written.
type SessionDetail struct {
	models.ChatSession
	Messages []models.ChatMessage `json:"messages"`
}

func (s *Service) GetSession(ctx context.Context, id, userID string) (*SessionDetail, error) {
	session, messages, err := s.chats.GetSession(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return &SessionDetail{ChatSession: *session, Messages: messages}, nil
}
