// Package memory restores the original's agent long-term-memory retrieval
// feature that the distilled pipeline dropped: a vector store the agent
// consults before each LLM call, folding the closest-matching memory in as
// leading context. Grounded on the pack's Postgres/pgvector memory store,
// narrowed from its three-layer (session/semantic/graph) architecture down
// to the single flat semantic index this domain needs.
package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// EmbeddingProvider turns text into the vector representation VectorDB
// indexes and searches against.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieved memory, ordered by ascending Distance (closest
// match first).
type Result struct {
	Content  string
	Distance float64
}

// VectorDB is the read/write contract SimpleAgent consults before calling
// the LLM. It also satisfies orchestrator.VectorMemory so Conversation.Terminate
// can release it without depending on this package's concrete type.
type VectorDB interface {
	Store(ctx context.Context, content string) error
	Query(ctx context.Context, query string, topK int) ([]Result, error)
	TearDown(ctx context.Context) error
}

// PostgresVectorDB is a jackc/pgx/v5 + pgvector/pgvector-go backed VectorDB.
// All methods are safe for concurrent use.
type PostgresVectorDB struct {
	pool     *pgxpool.Pool
	embedder EmbeddingProvider
}

// NewPostgresVectorDB connects to dsn, registers pgvector types on every
// connection, and ensures the memories table and its HNSW index exist.
// dimensions must match embedder's output width.
func NewPostgresVectorDB(ctx context.Context, dsn string, dimensions int, embedder EmbeddingProvider) (*PostgresVectorDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vector db: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector db: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector db: ping: %w", err)
	}
	if err := migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vector db: migrate: %w", err)
	}

	return &PostgresVectorDB{pool: pool, embedder: embedder}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id         BIGSERIAL    PRIMARY KEY,
    content    TEXT         NOT NULL,
    embedding  vector(%d)   NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, dimensions)
	_, err := pool.Exec(ctx, ddl)
	return err
}

// Store embeds content and appends it to the index.
func (v *PostgresVectorDB) Store(ctx context.Context, content string) error {
	embedding, err := v.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("vector db: embed: %w", err)
	}
	_, err = v.pool.Exec(ctx,
		`INSERT INTO memories (content, embedding) VALUES ($1, $2)`,
		content, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("vector db: store: %w", err)
	}
	return nil
}

// Query embeds query and returns the topK closest memories by cosine
// distance, most similar first.
func (v *PostgresVectorDB) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	embedding, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector db: embed query: %w", err)
	}

	rows, err := v.pool.Query(ctx,
		`SELECT content, embedding <=> $1 AS distance
		 FROM memories
		 ORDER BY distance
		 LIMIT $2`,
		pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("vector db: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var r Result
		err := row.Scan(&r.Content, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("vector db: scan rows: %w", err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// TearDown releases the connection pool. Conversation.Terminate calls this
// immediately before terminating the agent, mirroring the original's
// "Terminating vector db" shutdown step.
func (v *PostgresVectorDB) TearDown(ctx context.Context) error {
	v.pool.Close()
	return nil
}

var _ orchestrator.VectorMemory = (*PostgresVectorDB)(nil)

// ResultToMessage folds the single closest memory into a leading user-role
// context message, the same shape the original's
// vector_db_result_to_openai_chat_message gives the chat history. Returns
// false when results is empty, so callers can skip prepending anything.
func ResultToMessage(results []Result) (orchestrator.Message, bool) {
	if len(results) == 0 {
		return orchestrator.Message{}, false
	}
	return orchestrator.Message{
		Role:    "user",
		Content: fmt.Sprintf("Relevant context from memory: %s", results[0].Content),
	}, true
}
