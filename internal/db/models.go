package db

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"study-rag/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        string    `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull"`
	Title     string    `bun:"title,notnull"`
	FilePath  string    `bun:"file_path,notnull"`
	FileSize  int64     `bun:"file_size,notnull"`
	PageCount int       `bun:"page_count,notnull"`
	Status    string    `bun:"status,notnull,default:'processing'"`
	Summary   string    `bun:"summary,nullzero"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Chunk stores the embedding next to the text; the column type is fixed to
// vector(N) by InitDB.
type Chunk struct {
	bun.BaseModel `bun:"table:document_chunks,alias:c"`

	ID         string          `bun:"id,pk,type:uuid"`
	DocumentID string          `bun:"document_id,notnull,type:uuid"`
	ChunkIndex int             `bun:"chunk_index,notnull"`
	Content    string          `bun:"content,notnull"`
	Embedding  pgvector.Vector `bun:"embedding,type:vector"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type scoredChunk struct {
	Chunk      `bun:",extend"`
	Similarity float64 `bun:"similarity"`
}

type ChatSession struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:s"`

	ID        string    `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull"`
	Title     string    `bun:"title,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages,alias:m"`

	ID        string          `bun:"id,pk,type:uuid"`
	SessionID string          `bun:"session_id,notnull,type:uuid"`
	Role      string          `bun:"role,notnull"`
	Content   string          `bun:"content,notnull"`
	Sources   []models.Source `bun:"sources,type:jsonb"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func documentFromModel(d *models.Document) *Document {
	return &Document{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		FilePath:  d.FilePath,
		FileSize:  d.FileSize,
		PageCount: d.PageCount,
		Status:    string(d.Status),
		Summary:   d.Summary,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (d *Document) toModel() models.Document {
	return models.Document{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		FilePath:  d.FilePath,
		FileSize:  d.FileSize,
		PageCount: d.PageCount,
		Status:    models.Status(d.Status),
		Summary:   d.Summary,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func chunkFromModel(c models.Chunk) Chunk {
	return Chunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Embedding:  pgvector.NewVector(c.Embedding),
	}
}

func (c *Chunk) toModel() models.Chunk {
	return models.Chunk{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Embedding:  c.Embedding.Slice(),
	}
}

func (s *ChatSession) toModel() models.ChatSession {
	return models.ChatSession{
		ID:        s.ID,
		UserID:    s.UserID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (m *ChatMessage) toModel() models.ChatMessage {
	return models.ChatMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		Sources:   m.Sources,
		CreatedAt: m.CreatedAt,
	}
}
