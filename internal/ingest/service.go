package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"study-rag/internal/blob"
	"study-rag/internal/models"
	"study-rag/internal/parser"
	"study-rag/internal/store"
)

type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Options struct {
	MaxUploadSize     int64
	AllowedExtensions []string
	Chunk             parser.ChunkOptions
	InsertBatchSize   int
}

// Service owns the document lifecycle: upload, background ingestion,
// status and deletion.
type Service struct {
	docs       store.DocumentStore
	chunks     store.ChunkStore
	index      store.SimilarityIndex
	blobs      blob.Store
	embedder   Embedder
	summarizer Summarizer
	pool       *Pool
	opts       Options
}

type Deps struct {
	Documents  store.DocumentStore
	Chunks     store.ChunkStore
	Index      store.SimilarityIndex
	Blobs      blob.Store
	Embedder   Embedder
	Summarizer Summarizer
	Pool       *Pool
}

func NewService(deps Deps, opts Options) *Service {
	if opts.InsertBatchSize <= 0 {
		opts.InsertBatchSize = 50
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{".pdf"}
	}
	return &Service{
		docs:       deps.Documents,
		chunks:     deps.Chunks,
		index:      deps.Index,
		blobs:      deps.Blobs,
		embedder:   deps.Embedder,
		summarizer: deps.Summarizer,
		pool:       deps.Pool,
		opts:       opts,
	}
}

// Upload stores the file, creates a processing record and queues ingestion.
// It returns as soon as the record exists.
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	doc, err := s.create(ctx, userID, filename, data)
	if err != nil {
		return nil, err
	}
	queued := *doc
	err = s.pool.Submit("ingest:"+doc.ID, func(ctx context.Context) {
		_ = s.Process(ctx, &queued)
	}, func(cause error) {
		s.markFailed(ctx, queued.ID, cause)
	})
	if err != nil {
		s.markFailed(ctx, doc.ID, err)
		return nil, fmt.Errorf("failed to queue ingestion: %w", err)
	}
	return doc, nil
}

// Ingest is Upload followed by an inline Process.
func (s *Service) Ingest(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	doc, err := s.create(ctx, userID, filename, data)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, doc); err != nil {
		return doc, err
	}
	return s.docs.GetDocument(ctx, doc.ID, userID)
}

func (s *Service) create(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.allowed(ext) {
		return nil, fmt.Errorf("%w: %q, allowed: %s", models.ErrUnsupportedFile, ext, strings.Join(s.opts.AllowedExtensions, ", "))
	}
	if s.opts.MaxUploadSize > 0 && int64(len(data)) > s.opts.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", models.ErrFileTooLarge, len(data), s.opts.MaxUploadSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", models.ErrEmptyDocument)
	}

	id := uuid.NewString()
	doc := &models.Document{
		ID:       id,
		UserID:   userID,
		Title:    filepath.Base(filename),
		FilePath: fmt.Sprintf("%s/%s%s", userID, id, ext),
		FileSize: int64(len(data)),
		Status:   models.StatusProcessing,
	}
	if err := s.blobs.Upload(ctx, doc.FilePath, data); err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(ctx, doc.FilePath); delErr != nil {
			log.Warn().Err(delErr).Str("path", doc.FilePath).Msg("Failed to remove orphan upload")
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	log.Info().Str("document_id", doc.ID).Str("user_id", userID).Str("title", doc.Title).Int64("size", doc.FileSize).Msg("Document uploaded")
	return doc, nil
}

func (s *Service) allowed(ext string) bool {
	for _, a := range s.opts.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// Process runs the ingestion steps in order. Any hard failure marks the
// document failed; chunks inserted before the failure are left behind.
func (s *Service) Process(ctx context.Context, doc *models.Document) error {
	logger := log.With().Str("document_id", doc.ID).Logger()
	logger.Info().Msg("Starting document processing")

	if err := s.process(ctx, doc); err != nil {
		s.markFailed(ctx, doc.ID, err)
		return err
	}
	if err := s.docs.SetStatus(ctx, doc.ID, models.StatusReady); err != nil {
		logger.Error().Err(err).Msg("Failed to mark document ready")
		return err
	}
	logger.Info().Msg("Document ready")
	return nil
}

func (s *Service) process(ctx context.Context, doc *models.Document) error {
	logger := log.With().Str("document_id", doc.ID).Logger()

	data, err := s.blobs.Download(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	ex, err := parser.Extract(doc.FilePath, data)
	if err != nil {
		return err
	}
	if err := s.docs.SetPageCount(ctx, doc.ID, ex.PageCount); err != nil {
		return fmt.Errorf("failed to save page count: %w", err)
	}
	logger.Debug().Int("pages", ex.PageCount).Msg("Extracted text")

	contents, err := parser.ChunkExtraction(ex, s.opts.Chunk)
	if err != nil {
		return err
	}

	vectors, err := s.embedder.EmbedChunks(ctx, contents)
	if err != nil {
		return err
	}
	chunks, err := models.NewChunks(doc.ID, contents, vectors)
	if err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += s.opts.InsertBatchSize {
		end := min(start+s.opts.InsertBatchSize, len(chunks))
		if err := s.chunks.InsertChunks(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("failed to insert chunks %d-%d: %w", start, end-1, err)
		}
	}
	if err := s.index.IndexChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	logger.Info().Int("chunks", len(chunks)).Msg("Chunks stored")

	s.summarize(ctx, doc.ID, ex.Text)
	return nil
}

// summarize is best-effort: failures are logged and never fail ingestion.
func (s *Service) summarize(ctx context.Context, docID, text string) {
	if s.summarizer == nil {
		return
	}
	summary, err := s.summarizer.Summarize(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("document_id", docID).Msg("Summary generation failed")
		return
	}
	if err := s.docs.SetSummary(ctx, docID, summary); err != nil {
		log.Warn().Err(err).Str("document_id", docID).Msg("Failed to save summary")
	}
}

// markFailed records the failure even when ctx is already cancelled, so a
// shutdown or request timeout never leaves a document in processing.
func (s *Service) markFailed(ctx context.Context, docID string, cause error) {
	log.Error().Err(cause).Str("document_id", docID).Msg("Document processing failed")
	if err := s.docs.SetStatus(context.WithoutCancel(ctx), docID, models.StatusFailed); err != nil {
		log.Error().Err(err).Str("document_id", docID).Msg("Failed to mark document failed")
	}
}

func (s *Service) List(ctx context.Context, userID string) ([]models.Document, error) {
	return s.docs.ListDocuments(ctx, userID)
}

func (s *Service) Get(ctx context.Context, id, userID string) (*models.Document, error) {
	return s.docs.GetDocument(ctx, id, userID)
}

// Status reports progress. The chunk count is best-effort and reads 0 on error.
func (s *Service) Status(ctx context.Context, id, userID string) (*models.DocumentStatus, error) {
	doc, err := s.docs.GetDocument(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.chunks.CountChunks(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("document_id", id).Msg("Failed to count chunks")
		count = 0
	}
	return &models.DocumentStatus{
		ID:            doc.ID,
		Status:        doc.Status,
		PageCount:     doc.PageCount,
		ChunksCreated: count,
		IsReady:       doc.Status == models.StatusReady,
	}, nil
}

// Delete removes the stored file, index entries, chunks and the record.
// A missing file is logged and does not stop the deletion.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	doc, err := s.docs.GetDocument(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.FilePath); err != nil {
		log.Warn().Err(err).Str("document_id", id).Msg("Failed to delete stored file")
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete index entries: %w", err)
	}
	if err := s.chunks.DeleteChunks(ctx, id); err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}
	log.Info().Str("document_id", id).Msg("Document deleted")
	return nil
}
