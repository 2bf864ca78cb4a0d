package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"study-rag/internal/config"
)

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the pool with the configured driver. Nothing is dialed
// until the first query.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	dsn := cfg.DSN
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	switch cfg.Driver {
	case config.DriverPq:
		return sql.Open("postgres", dsn)
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

var tableModels = []any{
	(*Document)(nil),
	(*Chunk)(nil),
	(*ChatSession)(nil),
	(*ChatMessage)(nil),
}

// InitDB creates the pgvector extension, all tables, and the cosine HNSW
// index on chunk embeddings of the given dimension.
func InitDB(ctx context.Context, db *bun.DB, vectorSize int) error {
	if vectorSize <= 0 {
		return fmt.Errorf("invalid vector size %d", vectorSize)
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := createChunksTable(db).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*ChatSession)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chat sessions table: %w", err)
	}
	if _, err := createMessagesTable(db).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chat messages table: %w", err)
	}

	for _, stmt := range schemaStatements(vectorSize) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}
	log.Info().Int("vector_size", vectorSize).Msg("Database schema ready")
	return nil
}

func createChunksTable(db *bun.DB) *bun.CreateTableQuery {
	return db.NewCreateTable().
		Model((*Chunk)(nil)).
		IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`)
}

func createMessagesTable(db *bun.DB) *bun.CreateTableQuery {
	return db.NewCreateTable().
		Model((*ChatMessage)(nil)).
		IfNotExists().
		ForeignKey(`("session_id") REFERENCES "chat_sessions" ("id") ON DELETE CASCADE`)
}

func schemaStatements(vectorSize int) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)", vectorSize),
		"CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx ON document_chunks USING hnsw (embedding vector_cosine_ops)",
		"CREATE INDEX IF NOT EXISTS document_chunks_document_idx ON document_chunks (document_id, chunk_index)",
		"CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (user_id)",
		"CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at)",
	}
}

// DropTables removes every table InitDB creates.
func DropTables(ctx context.Context, db *bun.DB) error {
	for i := len(tableModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tableModels[i]).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
