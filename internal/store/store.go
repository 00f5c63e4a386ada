// Package store provides the PostgreSQL transcript archive.
//
// It persists conversation sessions and their transcript entries so past
// conversations can be searched after the live session is gone. Entries carry
// an optional pgvector embedding; when present, semantic search over past
// utterances is available alongside full-text search.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := store.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.CreateSession(ctx, sessionID, "assistant")
//	_ = st.WriteEntry(ctx, store.Entry{SessionID: sessionID, Role: "user", Content: text})
//	hits, _ := st.SearchText(ctx, "grocery list", store.SearchOpts{})
//
// The archive is optional: when no DSN is configured the server runs without
// one, and callers treat write failures as warnings rather than pipeline
// errors. All methods are safe for concurrent use.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store is the PostgreSQL-backed transcript archive. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for OpenAI text-embedding-3-small). Changing it
// after the first migration requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that the embedding
	// column can be inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
