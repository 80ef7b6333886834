// Package logs keeps the append-only conversation log keyed by session id.
package logs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one logged conversation turn.
type Entry struct {
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store appends and reads conversation turns.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the conversation log at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS conversation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_log_session ON conversation_log(session_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one turn. Empty session ids are ignored so anonymous
// widget sessions cost nothing.
func (s *Store) Append(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_log (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`, sessionID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// Session returns the turns logged for a session, oldest first.
func (s *Store) Session(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, created_at
		FROM conversation_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
