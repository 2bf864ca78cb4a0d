// Package memory keeps documents, chunks, vectors and chat history in process
// memory. Similarity is brute-force cosine.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"study-rag/internal/models"
	"study-rag/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	order     []string
	chunks    map[string][]models.Chunk
	sessions  map[string]*models.ChatSession
	messages  map[string][]models.ChatMessage
	now       func() time.Time
}

var (
	_ store.DocumentStore   = (*Store)(nil)
	_ store.ChunkStore      = (*Store)(nil)
	_ store.SimilarityIndex = (*Store)(nil)
	_ store.ChatStore       = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		documents: map[string]*models.Document{},
		chunks:    map[string][]models.Chunk{},
		sessions:  map[string]*models.ChatSession{},
		messages:  map[string][]models.ChatMessage{},
		now:       time.Now,
	}
}

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.documents[doc.ID] = &cp
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *Store) GetDocument(_ context.Context, id, userID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok || doc.UserID != userID {
		return nil, models.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *Store) ListDocuments(_ context.Context, userID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []models.Document
	for i := len(s.order) - 1; i >= 0; i-- {
		if doc := s.documents[s.order[i]]; doc.UserID == userID {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (s *Store) GetDocuments(_ context.Context, ids []string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (s *Store) SetPageCount(_ context.Context, id string, pages int) error {
	return s.update(id, func(doc *models.Document) error {
		doc.PageCount = pages
		return nil
	})
}

func (s *Store) SetSummary(_ context.Context, id, summary string) error {
	return s.update(id, func(doc *models.Document) error {
		doc.Summary = summary
		return nil
	})
}

func (s *Store) SetStatus(_ context.Context, id string, status models.Status) error {
	return s.update(id, func(doc *models.Document) error {
		if !doc.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, doc.Status, status)
		}
		doc.Status = status
		return nil
	})
}

func (s *Store) update(id string, fn func(*models.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = s.now()
	return nil
}

// DeleteDocument removes the record and, like the database cascade, its
// chunks. Deleting a missing document is a no-op.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return nil
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, ok := s.documents[c.DocumentID]; !ok {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, c.DocumentID)
		}
	}
	for _, c := range chunks {
		s.chunks[c.DocumentID] = append(s.chunks[c.DocumentID], c)
	}
	return nil
}

func (s *Store) ListChunks(_ context.Context, documentIDs []string) ([]models.Chunk, error) {
	return s.collect(documentIDs, func(models.Chunk) bool { return true }), nil
}

func (s *Store) FindChunksContaining(_ context.Context, documentIDs []string, needle string) ([]models.Chunk, error) {
	return s.collect(documentIDs, func(c models.Chunk) bool { return strings.Contains(c.Content, needle) }), nil
}

func (s *Store) collect(documentIDs []string, keep func(models.Chunk) bool) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chunk
	seen := map[string]bool{}
	for _, id := range documentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range s.chunks[id] {
			if keep(c) {
				out = append(out, c)
			}
		}
	}
	store.SortByDocuments(out, documentIDs)
	return out
}

func (s *Store) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

func (s *Store) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

// IndexChunks is a no-op: chunk rows already carry their vectors.
func (s *Store) IndexChunks(context.Context, []models.Chunk) error { return nil }

func (s *Store) Match(_ context.Context, q store.MatchQuery) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []models.ScoredChunk
	for _, id := range q.DocumentIDs {
		for _, c := range s.chunks[id] {
			if len(c.Embedding) != len(q.Vector) {
				continue
			}
			if sim := cosine(c.Embedding, q.Vector); sim > q.Threshold {
				results = append(results, models.ScoredChunk{Chunk: c, Similarity: sim})
			}
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *Store) CreateSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	session.CreatedAt, session.UpdatedAt = now, now
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) AppendMessages(_ context.Context, sessionID string, messages ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	now := s.now()
	for _, m := range messages {
		m.SessionID = sessionID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.messages[sessionID] = append(s.messages[sessionID], m)
	}
	session.UpdatedAt = now
	return nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *Store) ListSessions(_ context.Context, userID string) ([]models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []models.ChatSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (s *Store) GetSession(_ context.Context, id, userID string) (*models.ChatSession, []models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, nil, models.ErrSessionNotFound
	}
	cp := *sess
	msgs := append([]models.ChatMessage(nil), s.messages[id]...)
	return &cp, msgs, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
