package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// defaultSearchLimit caps search results when the caller does not set a limit.
const defaultSearchLimit = 20

// Entry is one transcript line in the archive.
type Entry struct {
	// ID is the database-assigned entry ID. Zero until written.
	ID int64

	// SessionID is the session this entry belongs to.
	SessionID string

	// Role is who produced the line ("user" or "assistant").
	Role string

	// Content is the transcript text.
	Content string

	// Embedding is the optional vector representation of Content. Nil when no
	// embedding provider is configured. Write-only: reads leave it nil.
	Embedding []float32

	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time
}

// SearchOpts narrows a full-text search. All non-zero fields are applied as
// AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// Empty searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	Before time.Time

	// Limit caps the number of results. Zero applies defaultSearchLimit.
	Limit int
}

// SearchResult pairs a matched entry with its full-text relevance rank.
// Higher Rank means a better match.
type SearchResult struct {
	Entry Entry
	Rank  float64
}

// SemanticResult pairs a matched entry with its cosine distance to the query
// embedding. Lower Distance means higher similarity.
type SemanticResult struct {
	Entry    Entry
	Distance float64
}

// WriteEntry appends a transcript entry. A nil or empty Embedding is stored
// as NULL, which excludes the entry from semantic search but not from
// full-text search.
func (s *Store) WriteEntry(ctx context.Context, entry Entry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, role, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	var vec any
	if len(entry.Embedding) > 0 {
		vec = pgvector.NewVector(entry.Embedding)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q, entry.SessionID, entry.Role, entry.Content, vec, createdAt)
	if err != nil {
		return fmt.Errorf("store: write entry: %w", err)
	}
	return nil
}

// RecentEntries returns the last limit entries for sessionID in chronological
// order (oldest first). A limit of 0 applies defaultSearchLimit.
func (s *Store) RecentEntries(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	// Select the newest N, then flip back to chronological order.
	const q = `
		SELECT id, session_id, role, content, created_at
		FROM (
		    SELECT id, session_id, role, content, created_at
		    FROM   transcript_entries
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC, id DESC
		    LIMIT  $2
		) newest
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// SearchText performs a PostgreSQL full-text search over entry content,
// ranked by relevance (best match first). The query is passed to
// plainto_tsquery so no special operator syntax is required.
func (s *Store) SearchText(ctx context.Context, query string, opts SearchOpts) ([]SearchResult, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', content) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := "SELECT id, session_id, role, content, created_at,\n" +
		"       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY rank DESC, created_at DESC\n" +
		"LIMIT  " + limitArg

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search text: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		if err := row.Scan(
			&r.Entry.ID,
			&r.Entry.SessionID,
			&r.Entry.Role,
			&r.Entry.Content,
			&r.Entry.CreatedAt,
			&r.Rank,
		); err != nil {
			return SearchResult{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan rows: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// SearchSemantic finds the topK entries whose embeddings are closest (cosine
// distance) to the query embedding, most similar first. Entries written
// without an embedding are never returned. sessionID restricts the search to
// one session; empty searches all sessions.
//
// The embedding must match the dimensionality the schema was migrated with.
func (s *Store) SearchSemantic(ctx context.Context, embedding []float32, topK int, sessionID string) ([]SemanticResult, error) {
	if topK <= 0 {
		topK = defaultSearchLimit
	}

	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	conditions := []string{"embedding IS NOT NULL"}
	if sessionID != "" {
		args = append(args, sessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT id, session_id, role, content, created_at,
		       embedding <=> $1 AS distance
		FROM   transcript_entries
		WHERE  %s
		ORDER  BY distance
		LIMIT  $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search semantic: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SemanticResult, error) {
		var r SemanticResult
		if err := row.Scan(
			&r.Entry.ID,
			&r.Entry.SessionID,
			&r.Entry.Role,
			&r.Entry.Content,
			&r.Entry.CreatedAt,
			&r.Distance,
		); err != nil {
			return SemanticResult{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan rows: %w", err)
	}
	if results == nil {
		results = []SemanticResult{}
	}
	return results, nil
}

// scanEntry scans one transcript row (without embedding or score columns).
func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}
