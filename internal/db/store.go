package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"study-rag/internal/models"
	"study-rag/internal/store"
)

// Store keeps documents, chunks and chat history in Postgres.
type Store struct {
	db *bun.DB
}

var (
	_ store.DocumentStore = (*Store)(nil)
	_ store.ChunkStore    = (*Store)(nil)
	_ store.ChatStore     = (*Store)(nil)
)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	row := documentFromModel(doc)
	if _, err := s.db.NewInsert().Model(row).Returning("created_at, updated_at").Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	doc.CreatedAt, doc.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id, userID string) (*models.Document, error) {
	row := new(Document)
	err := s.db.NewSelect().Model(row).
		Where("d.id = ?", id).
		Where("d.user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc := row.toModel()
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	var rows []Document
	err := s.db.NewSelect().Model(&rows).
		Where("d.user_id = ?", userID).
		Order("d.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	docs := make([]models.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toModel()
	}
	return docs, nil
}

func (s *Store) GetDocuments(ctx context.Context, ids []string) ([]models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Document
	if err := s.db.NewSelect().Model(&rows).Where("d.id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	byID := make(map[string]*Document, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	docs := make([]models.Document, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			docs = append(docs, row.toModel())
			delete(byID, id)
		}
	}
	return docs, nil
}

func (s *Store) SetPageCount(ctx context.Context, id string, pages int) error {
	return s.updateDocument(ctx, s.db.NewUpdate().Model((*Document)(nil)).
		Set("page_count = ?", pages).
		Where("id = ?", id))
}

func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	return s.updateDocument(ctx, s.db.NewUpdate().Model((*Document)(nil)).
		Set("summary = ?", summary).
		Where("id = ?", id))
}

// SetStatus only moves documents that are still processing.
func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	if !models.StatusProcessing.CanTransition(status) {
		return fmt.Errorf("%w: -> %s", models.ErrInvalidTransition, status)
	}
	err := s.updateDocument(ctx, setStatusQuery(s.db, id, status))
	if !errors.Is(err, models.ErrDocumentNotFound) {
		return err
	}
	exists, existsErr := s.db.NewSelect().Model((*Document)(nil)).Where("d.id = ?", id).Exists(ctx)
	if existsErr != nil {
		return fmt.Errorf("failed to check document: %w", existsErr)
	}
	if exists {
		return fmt.Errorf("%w: document %s is no longer processing", models.ErrInvalidTransition, id)
	}
	return models.ErrDocumentNotFound
}

func setStatusQuery(db bun.IDB, id string, status models.Status) *bun.UpdateQuery {
	return db.NewUpdate().Model((*Document)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", id).
		Where("status = ?", string(models.StatusProcessing))
}

func (s *Store) updateDocument(ctx context.Context, q *bun.UpdateQuery) error {
	res, err := q.Set("updated_at = current_timestamp").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument removes the record; chunks go with it through ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkFromModel(c)
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert %d chunks: %w", len(rows), err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, documentIDs []string) ([]models.Chunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	return s.scanChunks(ctx, listChunksQuery(s.db, documentIDs), documentIDs)
}

func (s *Store) FindChunksContaining(ctx context.Context, documentIDs []string, needle string) ([]models.Chunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	return s.scanChunks(ctx, listChunksQuery(s.db, documentIDs).Where("strpos(c.content, ?) > 0", needle), documentIDs)
}

func listChunksQuery(db bun.IDB, documentIDs []string) *bun.SelectQuery {
	return db.NewSelect().
		Model((*Chunk)(nil)).
		Where("c.document_id IN (?)", bun.In(documentIDs)).
		OrderExpr("c.document_id, c.chunk_index")
}

func (s *Store) scanChunks(ctx context.Context, q *bun.SelectQuery, documentIDs []string) ([]models.Chunk, error) {
	var rows []Chunk
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	chunks := make([]models.Chunk, len(rows))
	for i := range rows {
		chunks[i] = rows[i].toModel()
	}
	store.SortByDocuments(chunks, documentIDs)
	return chunks, nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	n, err := s.db.NewSelect().Model((*Chunk)(nil)).Where("c.document_id = ?", documentID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.NewDelete().Model((*Chunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
