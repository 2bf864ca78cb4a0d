package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"study-rag/internal/models"
)

func (s *Store) CreateSession(ctx context.Context, session *models.ChatSession) error {
	row := &ChatSession{ID: session.ID, UserID: session.UserID, Title: session.Title}
	if _, err := s.db.NewInsert().Model(row).Returning("created_at, updated_at").Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.CreatedAt, session.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

// AppendMessages stores the messages and bumps the session in one transaction.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, messages ...models.ChatMessage) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*ChatSession)(nil)).
			Set("updated_at = current_timestamp").
			Where("id = ?", sessionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return models.ErrSessionNotFound
		}
		if len(messages) == 0 {
			return nil
		}

		rows := make([]ChatMessage, len(messages))
		for i, m := range messages {
			rows[i] = ChatMessage{
				ID:        m.ID,
				SessionID: sessionID,
				Role:      m.Role,
				Content:   m.Content,
				Sources:   m.Sources,
				CreatedAt: m.CreatedAt,
			}
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	var rows []ChatSession
	err := s.db.NewSelect().Model(&rows).
		Where("s.user_id = ?", userID).
		Order("s.updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]models.ChatSession, len(rows))
	for i := range rows {
		sessions[i] = rows[i].toModel()
	}
	return sessions, nil
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (*models.ChatSession, []models.ChatMessage, error) {
	row := new(ChatSession)
	err := s.db.NewSelect().Model(row).
		Where("s.id = ?", id).
		Where("s.user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	var rows []ChatMessage
	err = s.db.NewSelect().Model(&rows).
		Where("m.session_id = ?", id).
		Order("m.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}

	session := row.toModel()
	messages := make([]models.ChatMessage, len(rows))
	for i := range rows {
		messages[i] = rows[i].toModel()
	}
	return &session, messages, nil
}
