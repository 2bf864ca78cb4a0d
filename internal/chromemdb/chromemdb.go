package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"study-rag/internal/config"
	"study-rag/internal/models"
	"study-rag/internal/store"
)

const (
	metaDocumentID = "document_id"
	metaChunkIndex = "chunk_index"
)

// Index keeps chunk vectors in an embedded chromem-go collection. Chunk
// text and order still live in the chunk store; this is a mirror for
// similarity queries only.
type Index struct {
	db            *chromem.DB
	collection    *chromem.Collection
	inMemory      bool
	compress      bool
	encryptionKey string
	filePath      string
}

var _ store.SimilarityIndex = (*Index)(nil)

// NewIndex opens a persistent database at cfg.Path, or an in-memory one
// that is loaded from and saved to a single export file.
func NewIndex(cfg *config.ChromemConfig) (*Index, error) {
	idx := &Index{
		inMemory:      cfg.InMemory,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      exportPath(cfg),
	}

	var err error
	if cfg.InMemory {
		idx.db = chromem.NewDB()
	} else {
		idx.db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	if cfg.InMemory && cfg.Path != "" {
		if _, statErr := os.Stat(idx.filePath); statErr == nil {
			if err := idx.db.ImportFromFile(idx.filePath, cfg.EncryptionKey, cfg.Collection); err != nil {
				return nil, fmt.Errorf("failed to import %s: %w", idx.filePath, err)
			}
			log.Info().Str("file", idx.filePath).Msg("Imported vector collection")
		}
	}

	idx.collection, err = idx.db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return idx, nil
}

func exportPath(cfg *config.ChromemConfig) string {
	if cfg.Path == "" {
		return ""
	}
	ext := ".gob"
	if cfg.Compress {
		ext += ".gz"
	}
	if cfg.EncryptionKey != "" {
		ext += ".enc"
	}
	return filepath.Join(cfg.Path, cfg.Collection+ext)
}

func (i *Index) IndexChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for n, c := range chunks {
		docs[n] = chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				metaDocumentID: c.DocumentID,
				metaChunkIndex: strconv.Itoa(c.ChunkIndex),
			},
			Embedding: c.Embedding,
		}
	}
	if err := i.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Match runs one query per document, since chromem filters on exact
// metadata equality only, then merges the results by similarity.
func (i *Index) Match(ctx context.Context, q store.MatchQuery) ([]models.ScoredChunk, error) {
	count := i.collection.Count()
	if count == 0 || len(q.Vector) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 || limit > count {
		limit = count
	}

	var results []models.ScoredChunk
	seen := map[string]bool{}
	for _, docID := range q.DocumentIDs {
		if seen[docID] {
			continue
		}
		seen[docID] = true

		found, err := i.collection.QueryWithOptions(ctx, chromem.QueryOptions{
			QueryEmbedding: q.Vector,
			NResults:       limit,
			Where:          map[string]string{metaDocumentID: docID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		for _, r := range found {
			if float64(r.Similarity) <= q.Threshold {
				continue
			}
			results = append(results, toScored(r))
		}
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Similarity > results[b].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func toScored(r chromem.Result) models.ScoredChunk {
	idx, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
	return models.ScoredChunk{
		Chunk: models.Chunk{
			ID:         r.ID,
			DocumentID: r.Metadata[metaDocumentID],
			ChunkIndex: idx,
			Content:    r.Content,
			Embedding:  r.Embedding,
		},
		Similarity: float64(r.Similarity),
	}
}

func (i *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if err := i.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

// Export writes the collection to the export file.
func (i *Index) Export() error {
	if i.filePath == "" {
		return errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(i.filePath), 0o755); err != nil {
		return err
	}
	log.Debug().Str("collection", i.collection.Name).Str("file", i.filePath).Bool("compress", i.compress).Msg("Exporting vector collection")
	if err := i.db.ExportToFile(i.filePath, i.compress, i.encryptionKey, i.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Close saves an in-memory collection; a persistent one is already on disk.
func (i *Index) Close() error {
	if !i.inMemory || i.filePath == "" {
		return nil
	}
	return i.Export()
}
