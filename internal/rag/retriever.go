package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"study-rag/internal/models"
	"study-rag/internal/store"
)

var pageQueryRe = regexp.MustCompile(models.PageQueryRegex)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type RetrieverOptions struct {
	TopK                int
	Thresholds          []float64
	FullContextMaxPages int
}

// Scope is the set of ready documents a question is asked against.
type Scope struct {
	DocumentIDs []string
	TotalPages  int
}

// Retriever picks the chunks used as answer context. Strategies are tried
// in order: explicit page reference, full context for short material,
// then similarity search with a relaxing threshold.
type Retriever struct {
	chunks   store.ChunkStore
	index    store.SimilarityIndex
	embedder QueryEmbedder
	opts     RetrieverOptions
}

func NewRetriever(chunks store.ChunkStore, index store.SimilarityIndex, embedder QueryEmbedder, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if len(opts.Thresholds) == 0 {
		opts.Thresholds = []float64{0.4, 0.2, 0.1}
	}
	if opts.FullContextMaxPages <= 0 {
		opts.FullContextMaxPages = 10
	}
	return &Retriever{chunks: chunks, index: index, embedder: embedder, opts: opts}
}

// Retrieve returns an empty result, not an error, when nothing matches.
// The only error is a failed query embedding.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope Scope) (models.RetrievalResult, error) {
	none := models.RetrievalResult{Strategy: models.StrategyNone}
	if len(scope.DocumentIDs) == 0 {
		return none, nil
	}

	if pages := requestedPages(question); len(pages) > 0 {
		if res := r.byPage(ctx, scope, pages); !res.Empty() {
			return res, nil
		}
	}

	if scope.TotalPages > 0 && scope.TotalPages <= r.opts.FullContextMaxPages {
		if res := r.fullContext(ctx, scope); !res.Empty() {
			return res, nil
		}
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return none, fmt.Errorf("%w: %w", models.ErrQuestionNotProcessed, err)
	}
	return r.similarity(ctx, scope, vector), nil
}

// requestedPages returns the distinct page numbers named in the question, in order.
func requestedPages(question string) []int {
	var pages []int
	seen := map[int]bool{}
	for _, m := range pageQueryRe.FindAllStringSubmatch(question, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || seen[n] {
			continue
		}
		seen[n] = true
		pages = append(pages, n)
	}
	return pages
}

func (r *Retriever) byPage(ctx context.Context, scope Scope, pages []int) models.RetrievalResult {
	var found []models.Chunk
	seen := map[string]bool{}
	for _, page := range pages {
		needle := strings.TrimSpace(models.PageMarker(page))
		chunks, err := r.chunks.FindChunksContaining(ctx, scope.DocumentIDs, needle)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("Page lookup failed")
			continue
		}
		for _, c := range chunks {
			if !seen[c.ID] {
				seen[c.ID] = true
				found = append(found, c)
			}
		}
	}
	store.SortByDocuments(found, scope.DocumentIDs)
	log.Debug().Ints("pages", pages).Int("chunks", len(found)).Msg("Page lookup")
	return models.RetrievalResult{Strategy: models.StrategyPageLookup, Chunks: exact(found)}
}

func (r *Retriever) fullContext(ctx context.Context, scope Scope) models.RetrievalResult {
	chunks, err := r.chunks.ListChunks(ctx, scope.DocumentIDs)
	if err != nil {
		log.Warn().Err(err).Msg("Full context fetch failed")
		return models.RetrievalResult{Strategy: models.StrategyFullContext}
	}
	log.Debug().Int("pages", scope.TotalPages).Int("chunks", len(chunks)).Msg("Using full document context")
	return models.RetrievalResult{Strategy: models.StrategyFullContext, Chunks: exact(chunks)}
}

func (r *Retriever) similarity(ctx context.Context, scope Scope, vector []float32) models.RetrievalResult {
	for _, threshold := range r.opts.Thresholds {
		matches, err := r.index.Match(ctx, store.MatchQuery{
			Vector:      vector,
			Threshold:   threshold,
			Limit:       r.opts.TopK,
			DocumentIDs: scope.DocumentIDs,
		})
		if err != nil {
			var rerr error = &models.RetrievalError{Threshold: threshold, Err: err}
			if errors.Is(err, context.Canceled) {
				log.Warn().Err(rerr).Msg("Similarity search cancelled")
				break
			}
			log.Warn().Err(rerr).Msg("Similarity search failed, relaxing threshold")
			continue
		}
		if len(matches) > 0 {
			log.Debug().Float64("threshold", threshold).Int("chunks", len(matches)).Msg("Similarity search")
			return models.RetrievalResult{Strategy: models.StrategySimilarity, Threshold: threshold, Chunks: matches}
		}
	}
	return models.RetrievalResult{Strategy: models.StrategyNone}
}

func exact(chunks []models.Chunk) []models.ScoredChunk {
	out := make([]models.ScoredChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.ScoredChunk{Chunk: c, Similarity: 1}
	}
	return out
}
