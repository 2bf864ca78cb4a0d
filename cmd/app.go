package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"study-rag/internal/blob"
	"study-rag/internal/chromemdb"
	"study-rag/internal/config"
	"study-rag/internal/db"
	"study-rag/internal/embedding"
	"study-rag/internal/ingest"
	"study-rag/internal/llmservice"
	"study-rag/internal/parser"
	"study-rag/internal/qdrantdb"
	"study-rag/internal/rag"
	"study-rag/internal/store"
	"study-rag/internal/store/memory"
	"study-rag/internal/study"
	"study-rag/internal/summary"
)

// app holds every long-lived client. It is built once and closed on exit.
type app struct {
	cfg    *config.Config
	bunDB  *bun.DB
	pool   *ingest.Pool
	ingest *ingest.Service
	chat   *rag.Service
	study  *study.Service

	closers []func() error
}

type stores struct {
	docs   store.DocumentStore
	chunks store.ChunkStore
	chats  store.ChatStore
	index  store.SimilarityIndex
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	for _, l := range []config.LLMConfig{cfg.EmbedLLM, cfg.InferenceLLM} {
		if l.Provider != config.ProviderOllama {
			continue
		}
		if err := llmservice.CheckOllama(ctx, l.BaseURL, l.Model); err != nil {
			return nil, err
		}
	}

	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	llm, err := llmservice.New(&cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}

	st, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := blob.NewFileStore(cfg.Storage.BlobDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	a.pool = ingest.NewPool(cfg.RAG.Workers)
	a.ingest = ingest.NewService(ingest.Deps{
		Documents:  st.docs,
		Chunks:     st.chunks,
		Index:      st.index,
		Blobs:      blobs,
		Embedder:   embedder,
		Summarizer: summary.New(llm.Uncapped(), cfg.RAG.SummaryMaxChars),
		Pool:       a.pool,
	}, ingest.Options{
		MaxUploadSize:     cfg.Server.MaxUploadSize,
		AllowedExtensions: cfg.Server.AllowedExtensions,
		Chunk:             parser.ChunkOptions{Size: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap},
		InsertBatchSize:   cfg.RAG.InsertBatchSize,
	})

	retriever := rag.NewRetriever(st.chunks, st.index, embedder, rag.RetrieverOptions{
		TopK:                cfg.RAG.TopK,
		Thresholds:          cfg.RAG.Thresholds,
		FullContextMaxPages: cfg.RAG.FullContextMaxPages,
	})
	a.chat = rag.NewService(st.docs, st.chats, retriever, llm)
	a.study = study.New(st.docs, st.chunks, llm.Uncapped())

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("index", cfg.Index.Backend).
		Str("embedding_model", embedder.Model()).
		Str("inference_model", llm.Model()).
		Msg("Application ready")
	return a, nil
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	cfg := a.cfg
	st := &stores{}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		a.closers = append(a.closers, a.bunDB.Close)
		if err := db.InitDB(ctx, a.bunDB, cfg.Database.VectorSize); err != nil {
			return nil, err
		}
		pg := db.NewStore(a.bunDB)
		st.docs, st.chunks, st.chats = pg, pg, pg
	default:
		mem := memory.NewStore()
		st.docs, st.chunks, st.chats, st.index = mem, mem, mem, mem
	}

	switch cfg.Index.Backend {
	case config.BackendPostgres:
		st.index = db.NewIndex(a.bunDB)
	case config.BackendChromem:
		idx, err := chromemdb.NewIndex(&cfg.Index.Chromem)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		st.index = idx
	case config.BackendQdrant:
		idx, err := qdrantdb.Connect(ctx, &cfg.Index.Qdrant, cfg.Database.VectorSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		st.index = idx
	}
	return st, nil
}

// Close drains the ingestion pool, then closes clients in reverse order.
func (a *app) Close() {
	if a.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSecs)*time.Second)
		if err := a.pool.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Ingestion jobs still running at shutdown")
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}
