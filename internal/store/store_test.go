package store

import (
	"testing"

	"study-rag/internal/models"
)

func TestSortByDocuments(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "x1", DocumentID: "x", ChunkIndex: 1},
		{ID: "b1", DocumentID: "b", ChunkIndex: 1},
		{ID: "a2", DocumentID: "a", ChunkIndex: 2},
		{ID: "b0", DocumentID: "b", ChunkIndex: 0},
		{ID: "a0", DocumentID: "a", ChunkIndex: 0},
	}
	SortByDocuments(chunks, []string{"b", "a"})

	want := []string{"b0", "b1", "a0", "a2", "x1"}
	for i, id := range want {
		if chunks[i].ID != id {
			t.Errorf("chunks[%d] = %s, want %s", i, chunks[i].ID, id)
		}
	}
}
