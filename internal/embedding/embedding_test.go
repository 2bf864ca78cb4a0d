package embedding

import (
	"context"
	"errors"
	"testing"

	"study-rag/internal/config"
	"study-rag/internal/models"
)

type stubEmbedder struct {
	docs    [][]float32
	query   []float32
	err     error
	gotDocs []string
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.gotDocs = texts
	return s.docs, s.err
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return s.query, s.err
}

func TestEmbedChunks(t *testing.T) {
	tests := []struct {
		name    string
		stub    *stubEmbedder
		chunks  []string
		wantErr bool
	}{
		{
			name:   "one vector per chunk",
			stub:   &stubEmbedder{docs: [][]float32{{1, 0}, {0, 1}}},
			chunks: []string{"[Page 1] a", "[Page 2] b"},
		},
		{
			name:    "provider error",
			stub:    &stubEmbedder{err: errors.New("rate limited")},
			chunks:  []string{"[Page 1] a"},
			wantErr: true,
		},
		{
			name:    "count mismatch",
			stub:    &stubEmbedder{docs: [][]float32{{1, 0}}},
			chunks:  []string{"[Page 1] a", "[Page 2] b"},
			wantErr: true,
		},
		{
			name:    "dimension mismatch",
			stub:    &stubEmbedder{docs: [][]float32{{1, 0}, {0, 1, 0}}},
			chunks:  []string{"[Page 1] a", "[Page 2] b"},
			wantErr: true,
		},
		{
			name:    "empty vector",
			stub:    &stubEmbedder{docs: [][]float32{{}}},
			chunks:  []string{"[Page 1] a"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.stub, "test-model")
			got, err := svc.EmbedChunks(context.Background(), tt.chunks)
			if tt.wantErr {
				var embErr *models.EmbeddingError
				if !errors.As(err, &embErr) {
					t.Fatalf("EmbedChunks() error = %v, want *EmbeddingError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EmbedChunks() error = %v", err)
			}
			if len(got) != len(tt.chunks) {
				t.Errorf("EmbedChunks() returned %d vectors, want %d", len(got), len(tt.chunks))
			}
			if len(tt.stub.gotDocs) != len(tt.chunks) || tt.stub.gotDocs[0] != tt.chunks[0] {
				t.Errorf("chunks passed to provider = %q", tt.stub.gotDocs)
			}
		})
	}
}

func TestEmbedChunks_NoInput(t *testing.T) {
	stub := &stubEmbedder{err: errors.New("must not be called")}
	got, err := NewService(stub, "m").EmbedChunks(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedChunks(nil) = %v, %v", got, err)
	}
}

func TestEmbedQuery(t *testing.T) {
	svc := NewService(&stubEmbedder{query: []float32{0.5, 0.5}}, "m")
	vec, err := svc.EmbedQuery(context.Background(), "what is osmosis?")
	if err != nil || len(vec) != 2 {
		t.Errorf("EmbedQuery() = %v, %v", vec, err)
	}

	svc = NewService(&stubEmbedder{err: errors.New("down")}, "m")
	_, err = svc.EmbedQuery(context.Background(), "q")
	var embErr *models.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Errorf("EmbedQuery() error = %v, want *EmbeddingError", err)
	}

	svc = NewService(&stubEmbedder{query: nil}, "m")
	if _, err := svc.EmbedQuery(context.Background(), "q"); err == nil {
		t.Error("EmbedQuery() with empty vector should fail")
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		cfg config.LLMConfig
	}{
		{config.LLMConfig{Provider: config.ProviderOpenAI, BaseURL: "http://localhost:1", Key: "Bearer sk-test", Model: "text-embedding-3-small"}},
		{config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "nomic-embed-text"}},
	}
	for _, tt := range tests {
		svc, err := New(&tt.cfg)
		if err != nil {
			t.Fatalf("New(%s) error = %v", tt.cfg.Provider, err)
		}
		if svc.Model() != tt.cfg.Model {
			t.Errorf("Model() = %q, want %q", svc.Model(), tt.cfg.Model)
		}
	}
}
