package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"study-rag/internal/models"
	"study-rag/internal/store"
)

// Index answers similarity queries from the embedding column of the chunk
// table using pgvector's cosine distance operator.
type Index struct {
	db *bun.DB
}

var _ store.SimilarityIndex = (*Index)(nil)

func NewIndex(db *bun.DB) *Index {
	return &Index{db: db}
}

// IndexChunks is a no-op: InsertChunks already wrote the vectors.
func (i *Index) IndexChunks(context.Context, []models.Chunk) error { return nil }

func (i *Index) Match(ctx context.Context, q store.MatchQuery) ([]models.ScoredChunk, error) {
	if len(q.DocumentIDs) == 0 || len(q.Vector) == 0 {
		return nil, nil
	}
	var rows []scoredChunk
	if err := matchQuery(i.db, q, &rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to match chunks: %w", err)
	}
	results := make([]models.ScoredChunk, len(rows))
	for n := range rows {
		results[n] = models.ScoredChunk{Chunk: rows[n].Chunk.toModel(), Similarity: rows[n].Similarity}
	}
	return results, nil
}

func matchQuery(db bun.IDB, q store.MatchQuery, dest *[]scoredChunk) *bun.SelectQuery {
	vec := pgvector.NewVector(q.Vector)
	query := db.NewSelect().
		Model(dest).
		ColumnExpr("c.*").
		ColumnExpr("1 - (c.embedding <=> ?) AS similarity", vec).
		Where("c.document_id IN (?)", bun.In(q.DocumentIDs)).
		Where("1 - (c.embedding <=> ?) > ?", vec, q.Threshold).
		OrderExpr("c.embedding <=> ?", vec)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

// DeleteDocument drops the vectors of a document by deleting its chunk rows.
func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := i.db.NewDelete().Model((*Chunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete chunk vectors: %w", err)
	}
	return nil
}
