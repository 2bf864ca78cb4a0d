package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"study-rag/internal/models"
	"study-rag/internal/store"
	"study-rag/internal/store/memory"
)

type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, &models.EmbeddingError{Err: s.err}
	}
	return []float32{1, 0}, nil
}

// tieredIndex answers Match from a per-threshold table and records every call.
type tieredIndex struct {
	results map[float64][]models.ScoredChunk
	errs    map[float64]error
	calls   []float64
}

func (t *tieredIndex) IndexChunks(context.Context, []models.Chunk) error { return nil }
func (t *tieredIndex) DeleteDocument(context.Context, string) error      { return nil }

func (t *tieredIndex) Match(_ context.Context, q store.MatchQuery) ([]models.ScoredChunk, error) {
	t.calls = append(t.calls, q.Threshold)
	if err := t.errs[q.Threshold]; err != nil {
		return nil, err
	}
	return t.results[q.Threshold], nil
}

// seedPages stores one chunk per page for a document.
func seedPages(t *testing.T, mem *memory.Store, docID string, pages int) {
	t.Helper()
	ctx := context.Background()
	if err := mem.CreateDocument(ctx, &models.Document{ID: docID, UserID: "u", Title: docID, PageCount: pages, Status: models.StatusProcessing}); err != nil {
		t.Fatal(err)
	}
	contents := make([]string, pages)
	vectors := make([][]float32, pages)
	for i := range contents {
		contents[i] = fmt.Sprintf("%sPage %d of %s.", models.PageMarker(i+1), i+1, docID)
		vectors[i] = []float32{1, float32(i)}
	}
	chunks, err := models.NewChunks(docID, contents, vectors)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.InsertChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestRetrieve_PageReferenceWinsOverFullContext(t *testing.T) {
	mem := memory.NewStore()
	seedPages(t, mem, "doc", 8)
	emb := &stubEmbedder{}
	r := NewRetriever(mem, &tieredIndex{}, emb, RetrieverOptions{})

	got, err := r.Retrieve(context.Background(), "What does page 7 say about enzymes?", Scope{DocumentIDs: []string{"doc"}, TotalPages: 8})
	if err != nil {
		t.Fatal(err)
	}
	if got.Strategy != models.StrategyPageLookup {
		t.Fatalf("Strategy = %s, want %s", got.Strategy, models.StrategyPageLookup)
	}
	if len(got.Chunks) != 1 || *models.PageOf(got.Chunks[0].Content) != 7 || got.Chunks[0].Similarity != 1 {
		t.Errorf("Chunks = %+v, want only page 7", got.Chunks)
	}
	if emb.calls != 0 {
		t.Errorf("question embedded %d times, want 0", emb.calls)
	}
}

func TestRetrieve_Strategies(t *testing.T) {
	tests := []struct {
		name         string
		question     string
		pages        int
		wantStrategy models.Strategy
		wantChunks   int
		wantEmbed    int
	}{
		{"several pages named", "compare pg. 2 and Page 4, then page 2 again", 30, models.StrategyPageLookup, 2, 0},
		{"missing page falls back to full context", "summarize page 99", 8, models.StrategyFullContext, 8, 0},
		{"short material uses full context", "what is osmosis?", 10, models.StrategyFullContext, 10, 0},
		{"long material uses similarity", "what is osmosis?", 11, models.StrategySimilarity, 1, 1},
		{"page zero is not a page reference", "page 0", 30, models.StrategySimilarity, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewStore()
			seedPages(t, mem, "doc", tt.pages)
			idx := &tieredIndex{results: map[float64][]models.ScoredChunk{
				0.4: {{Chunk: models.Chunk{ID: "hit", DocumentID: "doc", Content: "[Page 3] hit"}, Similarity: 0.8}},
			}}
			emb := &stubEmbedder{}
			r := NewRetriever(mem, idx, emb, RetrieverOptions{})

			got, err := r.Retrieve(context.Background(), tt.question, Scope{DocumentIDs: []string{"doc"}, TotalPages: tt.pages})
			if err != nil {
				t.Fatal(err)
			}
			if got.Strategy != tt.wantStrategy || len(got.Chunks) != tt.wantChunks {
				t.Errorf("Retrieve() = %s with %d chunks, want %s with %d", got.Strategy, len(got.Chunks), tt.wantStrategy, tt.wantChunks)
			}
			if emb.calls != tt.wantEmbed {
				t.Errorf("embed calls = %d, want %d", emb.calls, tt.wantEmbed)
			}
		})
	}
}

func TestRetrieve_RelaxesThresholdUntilFound(t *testing.T) {
	hit := models.ScoredChunk{Chunk: models.Chunk{ID: "c1", DocumentID: "doc", Content: "[Page 12] weak match"}, Similarity: 0.15}
	idx := &tieredIndex{results: map[float64][]models.ScoredChunk{
		0.4: nil,
		0.2: {},
		0.1: {hit},
	}}
	r := NewRetriever(memory.NewStore(), idx, &stubEmbedder{}, RetrieverOptions{Thresholds: []float64{0.4, 0.2, 0.1, 0.05}})

	got, err := r.Retrieve(context.Background(), "explain the krebs cycle", Scope{DocumentIDs: []string{"doc"}, TotalPages: 40})
	if err != nil {
		t.Fatal(err)
	}
	if got.Strategy != models.StrategySimilarity || got.Threshold != 0.1 || len(got.Chunks) != 1 || got.Chunks[0].ID != "c1" {
		t.Errorf("Retrieve() = %+v, want the 0.1 tier", got)
	}
	want := []float64{0.4, 0.2, 0.1}
	if fmt.Sprint(idx.calls) != fmt.Sprint(want) {
		t.Errorf("Match thresholds = %v, want %v", idx.calls, want)
	}
}

func TestRetrieve_IndexErrorTriesNextTier(t *testing.T) {
	idx := &tieredIndex{
		errs: map[float64]error{0.4: errors.New("timeout")},
		results: map[float64][]models.ScoredChunk{
			0.2: {{Chunk: models.Chunk{ID: "c2", DocumentID: "doc", Content: "[Page 1] x"}, Similarity: 0.3}},
		},
	}
	r := NewRetriever(memory.NewStore(), idx, &stubEmbedder{}, RetrieverOptions{})

	got, err := r.Retrieve(context.Background(), "anything", Scope{DocumentIDs: []string{"doc"}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Threshold != 0.2 || len(got.Chunks) != 1 {
		t.Errorf("Retrieve() = %+v, want the 0.2 tier", got)
	}
}

func TestRetrieve_NothingFound(t *testing.T) {
	idx := &tieredIndex{}
	r := NewRetriever(memory.NewStore(), idx, &stubEmbedder{}, RetrieverOptions{})

	got, err := r.Retrieve(context.Background(), "anything", Scope{DocumentIDs: []string{"doc"}, TotalPages: 50})
	if err != nil {
		t.Fatal(err)
	}
	if got.Strategy != models.StrategyNone || !got.Empty() || len(idx.calls) != 3 {
		t.Errorf("Retrieve() = %+v after %d calls", got, len(idx.calls))
	}

	emb := &stubEmbedder{}
	r = NewRetriever(memory.NewStore(), idx, emb, RetrieverOptions{})
	if got, _ := r.Retrieve(context.Background(), "anything", Scope{}); !got.Empty() || emb.calls != 0 {
		t.Errorf("empty scope: result %+v, %d embed calls", got, emb.calls)
	}
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	r := NewRetriever(memory.NewStore(), &tieredIndex{}, &stubEmbedder{err: errors.New("401")}, RetrieverOptions{})

	_, err := r.Retrieve(context.Background(), "anything", Scope{DocumentIDs: []string{"doc"}, TotalPages: 50})
	if !errors.Is(err, models.ErrQuestionNotProcessed) {
		t.Errorf("error = %v, want ErrQuestionNotProcessed", err)
	}
	var embErr *models.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Errorf("error = %v, want the EmbeddingError kept in the chain", err)
	}
}
