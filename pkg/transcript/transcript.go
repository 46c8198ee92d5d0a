// Package transcript records what happened in a chat session: the operator's
// prompts, the tool calls the agent made, and the answers it gave. Entries are
// kept in a SQLite database so a session can be reviewed after the process
// exits.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Kind classifies an entry.
type Kind string

const (
	KindPrompt     Kind = "prompt"
	KindResult     Kind = "result"
	KindError      Kind = "error"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrEmptySession is returned when an entry has no session id.
var ErrEmptySession = errors.New("transcript: session id is required")

// Entry is one recorded event.
type Entry struct {
	ID        string
	SessionID string
	Kind      Kind
	Agent     string
	Tool      string
	Content   string
	IsError   bool
	CreatedAt time.Time
}

// Session summarises one recorded session.
type Session struct {
	ID      string
	Entries int
	Started time.Time
	Updated time.Time
}

// Recorder is the write side of a Store.
type Recorder interface {
	Append(ctx context.Context, e Entry) (Entry, error)
}

// Store is a SQLite-backed transcript. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the transcript database at path. Parent
// directories are created.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transcript")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // transcript directory is operator-chosen
			return nil, fmt.Errorf("transcript: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}

	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: create schema: %w", err)
	}

	logger.Debug("transcript opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		tool TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		is_error INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_session
		ON entries(session_id, seq);
`

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores e. A missing ID or CreatedAt is filled in; the stored entry
// is returned.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.SessionID == "" {
		return Entry{}, ErrEmptySession
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, session_id, kind, agent, tool, content, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.SessionID,
		string(e.Kind),
		e.Agent,
		e.Tool,
		e.Content,
		e.IsError,
		e.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("transcript: insert: %w", err)
	}

	s.logger.Debug("entry recorded", "session", e.SessionID, "kind", e.Kind)

	return e, nil
}

// Entries returns a session's entries oldest first. A positive limit keeps
// only the most recent limit entries.
func (s *Store) Entries(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, session_id, kind, agent, tool, content, is_error, created_at
		FROM entries
		WHERE session_id = ?
		ORDER BY seq ASC`
	args := []any{sessionID}

	if limit > 0 {
		query = `
			SELECT id, session_id, kind, agent, tool, content, is_error, created_at
			FROM (
				SELECT seq, id, session_id, kind, agent, tool, content, is_error, created_at
				FROM entries
				WHERE session_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Agent, &e.Tool, &e.Content, &e.IsError, &created); err != nil {
			return nil, fmt.Errorf("transcript: scan entry: %w", err)
		}
		e.Kind = Kind(kind)
		if e.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
			return nil, fmt.Errorf("transcript: entry %s: bad timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read entries: %w", err)
	}

	return entries, nil
}

// Sessions lists recorded sessions, most recently updated first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at), MAX(seq) AS last
		FROM entries
		GROUP BY session_id
		ORDER BY last DESC`)
	if err != nil {
		return nil, fmt.Errorf("transcript: query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var (
			sess           Session
			started, ended string
			last           int64
		)
		if err := rows.Scan(&sess.ID, &sess.Entries, &started, &ended, &last); err != nil {
			return nil, fmt.Errorf("transcript: scan session: %w", err)
		}
		if sess.Started, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("transcript: session %s: bad timestamp: %w", sess.ID, err)
		}
		if sess.Updated, err = time.Parse(timeFormat, ended); err != nil {
			return nil, fmt.Errorf("transcript: session %s: bad timestamp: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read sessions: %w", err)
	}

	return sessions, nil
}
