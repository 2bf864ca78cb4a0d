package models

import (
	"errors"
	"testing"
)

func TestPageOf(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		ok      bool
	}{
		{"single digit", "[Page 3] Photosynthesis converts light.", 3, true},
		{"multi digit", "[Page 120] Appendix", 120, true},
		{"no marker", "Photosynthesis converts light.", 0, false},
		{"marker not leading", "see [Page 3] for details", 0, false},
		{"missing space", "[Page 3]text", 0, false},
		{"page zero", "[Page 0] text", 0, false},
		{"lowercase", "[page 3] text", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PageOf(tt.content)
			if !tt.ok {
				if got != nil {
					t.Errorf("PageOf(%q) = %d, want nil", tt.content, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("PageOf(%q) = %v, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestPageMarker(t *testing.T) {
	if got := PageMarker(7); got != "[Page 7] " {
		t.Errorf("PageMarker(7) = %q, want %q", got, "[Page 7] ")
	}
}

func TestNewChunks(t *testing.T) {
	contents := []string{"[Page 1] a", "[Page 1] b", "[Page 2] c"}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}

	chunks, err := NewChunks("doc-1", contents, vectors)
	if err != nil {
		t.Fatalf("NewChunks() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	seen := map[string]bool{}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunks[%d].ChunkIndex = %d", i, c.ChunkIndex)
		}
		if c.DocumentID != "doc-1" {
			t.Errorf("chunks[%d].DocumentID = %q", i, c.DocumentID)
		}
		if c.ID == "" || seen[c.ID] {
			t.Errorf("chunks[%d].ID = %q is empty or duplicated", i, c.ID)
		}
		seen[c.ID] = true
	}
}

func TestNewChunks_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		docID    string
		contents []string
		vectors  [][]float32
	}{
		{"no document", "", []string{"[Page 1] a"}, [][]float32{{1}}},
		{"count mismatch", "d", []string{"[Page 1] a", "[Page 1] b"}, [][]float32{{1}}},
		{"no marker", "d", []string{"a"}, [][]float32{{1}}},
		{"empty vector", "d", []string{"[Page 1] a"}, [][]float32{{}}},
		{"dimension mismatch", "d", []string{"[Page 1] a", "[Page 1] b"}, [][]float32{{1, 2}, {1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunks(tt.docID, tt.contents, tt.vectors)
			if !errors.Is(err, ErrInvalidChunk) {
				t.Errorf("NewChunks() error = %v, want ErrInvalidChunk", err)
			}
		})
	}
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusProcessing, false},
		{StatusReady, StatusFailed, false},
		{StatusReady, StatusProcessing, false},
		{StatusFailed, StatusReady, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	if !errors.Is(&ExtractionError{Err: base}, base) {
		t.Error("ExtractionError should unwrap")
	}
	if !errors.Is(&EmbeddingError{Err: base}, base) {
		t.Error("EmbeddingError should unwrap")
	}
	var re *RetrievalError
	if !errors.As(error(&RetrievalError{Threshold: 0.4, Err: base}), &re) || re.Threshold != 0.4 {
		t.Error("RetrievalError should be matchable with errors.As")
	}
}
