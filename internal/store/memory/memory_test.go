package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"study-rag/internal/models"
	"study-rag/internal/store"
)

func seed(t *testing.T, s *Store, docID, userID string, chunks ...models.Chunk) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateDocument(ctx, &models.Document{ID: docID, UserID: userID, Title: docID, Status: models.StatusProcessing}); err != nil {
		t.Fatal(err)
	}
	for i := range chunks {
		chunks[i].DocumentID = docID
	}
	if err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, "d1", "alice")
	seed(t, s, "d2", "alice")
	seed(t, s, "d3", "bob")

	if _, err := s.GetDocument(ctx, "d3", "alice"); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("GetDocument(other user) error = %v, want ErrDocumentNotFound", err)
	}

	docs, _ := s.ListDocuments(ctx, "alice")
	if len(docs) != 2 || docs[0].ID != "d2" {
		t.Errorf("ListDocuments() = %+v, want newest first", docs)
	}

	got, _ := s.GetDocuments(ctx, []string{"d3", "missing", "d1"})
	if len(got) != 2 || got[0].ID != "d3" || got[1].ID != "d1" {
		t.Errorf("GetDocuments() = %+v", got)
	}

	if err := s.SetStatus(ctx, "d1", models.StatusReady); err != nil {
		t.Fatalf("SetStatus(ready) error = %v", err)
	}
	if err := s.SetStatus(ctx, "d1", models.StatusFailed); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("SetStatus(ready->failed) error = %v, want ErrInvalidTransition", err)
	}
	if err := s.SetStatus(ctx, "nope", models.StatusReady); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("SetStatus(missing) error = %v", err)
	}

	s.SetPageCount(ctx, "d1", 7)
	s.SetSummary(ctx, "d1", "About cells.")
	doc, _ := s.GetDocument(ctx, "d1", "alice")
	if doc.PageCount != 7 || doc.Summary != "About cells." || doc.Status != models.StatusReady {
		t.Errorf("GetDocument() = %+v", doc)
	}
}

func TestChunks(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, "a", "u",
		models.Chunk{ID: "a1", ChunkIndex: 1, Content: "[Page 2] beta"},
		models.Chunk{ID: "a0", ChunkIndex: 0, Content: "[Page 1] alpha"},
	)
	seed(t, s, "b", "u", models.Chunk{ID: "b0", ChunkIndex: 0, Content: "[Page 12] gamma"})

	all, _ := s.ListChunks(ctx, []string{"b", "a"})
	want := []string{"b0", "a0", "a1"}
	if len(all) != len(want) {
		t.Fatalf("ListChunks() returned %d chunks", len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("ListChunks()[%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	found, _ := s.FindChunksContaining(ctx, []string{"a", "b"}, "[Page 1]")
	if len(found) != 2 || found[0].ID != "a0" || found[1].ID != "b0" {
		t.Errorf("FindChunksContaining([Page 1]) = %+v, want literal substring matches", found)
	}

	if n, _ := s.CountChunks(ctx, "a"); n != 2 {
		t.Errorf("CountChunks(a) = %d, want 2", n)
	}

	if err := s.InsertChunks(ctx, []models.Chunk{{DocumentID: "ghost"}}); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("InsertChunks(unknown document) error = %v", err)
	}

	s.DeleteDocument(ctx, "a")
	if n, _ := s.CountChunks(ctx, "a"); n != 0 {
		t.Errorf("chunks survived document deletion: %d", n)
	}
	if err := s.DeleteDocument(ctx, "a"); err != nil {
		t.Errorf("second DeleteDocument() error = %v", err)
	}
}

func TestMatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, "a", "u",
		models.Chunk{ID: "same", ChunkIndex: 0, Content: "[Page 1] x", Embedding: []float32{1, 0}},
		models.Chunk{ID: "diag", ChunkIndex: 1, Content: "[Page 1] y", Embedding: []float32{1, 1}},
		models.Chunk{ID: "orth", ChunkIndex: 2, Content: "[Page 2] z", Embedding: []float32{0, 1}},
	)
	seed(t, s, "other", "u", models.Chunk{ID: "out", Content: "[Page 1] w", Embedding: []float32{1, 0}})

	tests := []struct {
		name      string
		threshold float64
		limit     int
		want      []string
	}{
		{"strictly greater than threshold", 0.5, 10, []string{"same", "diag"}},
		{"limit", 0, 1, []string{"same"}},
		{"exact score excluded", 1, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Match(ctx, store.MatchQuery{Vector: []float32{2, 0}, Threshold: tt.threshold, Limit: tt.limit, DocumentIDs: []string{"a"}})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Match() = %+v, want %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("Match()[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	got, _ := s.Match(ctx, store.MatchQuery{Vector: []float32{1, 1}, Threshold: 0.1, Limit: 5, DocumentIDs: []string{"a"}})
	if math.Abs(got[0].Similarity-1) > 1e-9 {
		t.Errorf("similarity of identical direction = %v, want 1", got[0].Similarity)
	}
}

func TestChatSessions(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	s.CreateSession(ctx, &models.ChatSession{ID: "s1", UserID: "u", Title: "first"})
	s.CreateSession(ctx, &models.ChatSession{ID: "s2", UserID: "u", Title: "second"})
	s.CreateSession(ctx, &models.ChatSession{ID: "s3", UserID: "v", Title: "other"})

	page := 3
	err := s.AppendMessages(ctx, "s1",
		models.ChatMessage{ID: "m1", Role: models.RoleUser, Content: "q"},
		models.ChatMessage{ID: "m2", Role: models.RoleAssistant, Content: "a", Sources: []models.Source{{ChunkID: "c", Page: &page}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessages(ctx, "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("AppendMessages(missing) error = %v", err)
	}

	sessions, _ := s.ListSessions(ctx, "u")
	if len(sessions) != 2 || sessions[0].ID != "s1" {
		t.Errorf("ListSessions() = %+v, want s1 first after its update", sessions)
	}

	sess, msgs, err := s.GetSession(ctx, "s1", "u")
	if err != nil || sess.Title != "first" || len(msgs) != 2 || msgs[1].SessionID != "s1" || *msgs[1].Sources[0].Page != 3 {
		t.Errorf("GetSession() = %+v, %+v, %v", sess, msgs, err)
	}
	if _, _, err := s.GetSession(ctx, "s3", "u"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("GetSession(other user) error = %v", err)
	}
}
