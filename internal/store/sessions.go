package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Session is one conversation session's archive record.
type Session struct {
	// ID is the unique session identifier assigned at connection time.
	ID string

	// StartedAt is when the session was opened.
	StartedAt time.Time

	// EndedAt is when the session was closed. Nil while the session is live.
	EndedAt *time.Time

	// Mode is the conversation mode the session started in
	// ("assistant" or "transcription").
	Mode string

	// Summary is the LLM-generated session summary, set on close.
	// Empty when no summary was produced.
	Summary string
}

// CreateSession records the start of a session. Creating a session whose ID
// already exists is a no-op, so a reconnect reusing its ID does not fail.
func (s *Store) CreateSession(ctx context.Context, id, mode string) error {
	const q = `
		INSERT INTO sessions (id, mode)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, id, mode); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// CloseSession marks the session as ended and stores its summary.
// Closing an unknown session is not an error.
func (s *Store) CloseSession(ctx context.Context, id, summary string) error {
	const q = `
		UPDATE sessions
		SET    ended_at = now(), summary = $2
		WHERE  id = $1`

	if _, err := s.pool.Exec(ctx, q, id, summary); err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	return nil
}

// Session retrieves a session by ID. Returns (nil, nil) when no session with
// that ID exists.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, started_at, ended_at, mode, summary
		FROM   sessions
		WHERE  id = $1`

	var sess Session
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.Mode,
		&sess.Summary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}
