// Package store declares the persistence collaborators of the ingestion and
// query paths. Implementations live in store/memory, db, chromemdb and qdrantdb.
package store

import (
	"context"
	"sort"

	"study-rag/internal/models"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns models.ErrDocumentNotFound unless the document exists and belongs to userID.
	GetDocument(ctx context.Context, id, userID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	// GetDocuments returns the documents that exist, in the order of ids.
	GetDocuments(ctx context.Context, ids []string) ([]models.Document, error)
	SetPageCount(ctx context.Context, id string, pages int) error
	SetSummary(ctx context.Context, id, summary string) error
	// SetStatus fails with models.ErrInvalidTransition unless the move is allowed by Status.CanTransition.
	SetStatus(ctx context.Context, id string, status models.Status) error
	DeleteDocument(ctx context.Context, id string) error
}

type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	// ListChunks returns every chunk of the documents ordered by document then chunk index.
	ListChunks(ctx context.Context, documentIDs []string) ([]models.Chunk, error)
	// FindChunksContaining is a literal substring match on chunk content.
	FindChunksContaining(ctx context.Context, documentIDs []string, needle string) ([]models.Chunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

// MatchQuery asks for chunks whose cosine similarity to Vector is strictly
// greater than Threshold, best first, at most Limit of them.
type MatchQuery struct {
	Vector      []float32
	Threshold   float64
	Limit       int
	DocumentIDs []string
}

type SimilarityIndex interface {
	IndexChunks(ctx context.Context, chunks []models.Chunk) error
	Match(ctx context.Context, q MatchQuery) ([]models.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type ChatStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	AppendMessages(ctx context.Context, sessionID string, messages ...models.ChatMessage) error
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	// GetSession returns models.ErrSessionNotFound unless the session belongs to userID.
	GetSession(ctx context.Context, id, userID string) (*models.ChatSession, []models.ChatMessage, error)
}

// SortByDocuments orders chunks by the position of their document in
// documentIDs, then by chunk index. Unknown documents go last.
func SortByDocuments(chunks []models.Chunk, documentIDs []string) {
	rank := make(map[string]int, len(documentIDs))
	for i, id := range documentIDs {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	pos := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(documentIDs)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		pi, pj := pos(chunks[i].DocumentID), pos(chunks[j].DocumentID)
		if pi != pj {
			return pi < pj
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}
