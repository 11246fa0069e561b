// Package state persists chat sessions, their histories and token usage in
// SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HexSleeves/parley/internal/llm"
	"github.com/HexSleeves/parley/internal/turns"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the state directory.
const FileName = "parley.db"

// Session statuses.
const (
	StatusActive = "active"
	StatusDone   = "done"
	StatusFailed = "failed"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// DB is the SQLite-backed session store.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database in dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	dbPath := filepath.Join(dir, FileName)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Single connection for writes, WAL allows concurrent reads
	db.SetMaxOpenConns(2)

	s := &DB{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *DB) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		provider    TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id   TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL DEFAULT '',
		tool_calls   TEXT,
		tool_call_id TEXT,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS usage (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd      REAL NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage(session_id);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		type        TEXT NOT NULL,
		data        TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// Fixed width so timestamps sort as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// --- Session operations ---

type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Messages  int    `json:"messages"`
}

func (s *DB) CreateSession(ctx context.Context, id, title, provider, model string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, provider, model, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, title, provider, model, StatusActive, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

const sessionColumns = `s.id, s.title, s.provider, s.model, s.status, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)`

func (s *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	si, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return si, err
}

// ListSessions returns sessions, most recently updated first. limit <= 0
// means no limit.
func (s *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.updated_at DESC, s.id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		si, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *si)
	}
	return out, rows.Err()
}

func (s *DB) UpdateSessionStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, now(), id,
	)
	if err != nil {
		return err
	}
	return mustAffect(res, id)
}

// DeleteSession removes a session with its messages, usage and events.
func (s *DB) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM usage WHERE session_id = ?`,
		`DELETE FROM events WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := mustAffect(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- History ---

// SaveHistory replaces the stored messages of a session with h.
func (s *DB) SaveHistory(ctx context.Context, sessionID string, h turns.History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now(), sessionID)
	if err != nil {
		return err
	}
	if err := mustAffect(res, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range h {
		var calls, callID sql.NullString
		if m.HasToolCalls() {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			calls = sql.NullString{String: string(b), Valid: true}
		}
		if m.ToolCallID != "" {
			callID = sql.NullString{String: m.ToolCallID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sessionID, i, string(m.Role), m.Content, calls, callID); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadHistory returns the stored messages of a session in order. An unknown
// session yields ErrSessionNotFound.
func (s *DB) LoadHistory(ctx context.Context, sessionID string) (turns.History, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := turns.History{}
	for rows.Next() {
		var (
			m             turns.Message
			role          string
			calls, callID sql.NullString
		)
		if err := rows.Scan(&role, &m.Content, &calls, &callID); err != nil {
			return nil, err
		}
		m.Role = turns.Role(role)
		m.ToolCallID = callID.String
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("message %d tool calls: %w", len(h), err)
			}
		}
		h = append(h, m)
	}
	return h, rows.Err()
}

// --- Usage ---

// RecordUsage stores the tokens and cost of one model call.
func (s *DB) RecordUsage(ctx context.Context, sessionID, model string, u llm.Usage, costUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage (session_id, model, input_tokens, output_tokens, cost_usd, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, model, u.InputTokens, u.OutputTokens, costUSD, now(),
	)
	return err
}

// Cost sums the usage rows of a session.
type Cost struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

func (s *DB) SessionCost(ctx context.Context, sessionID string) (Cost, error) {
	var c Cost
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage WHERE session_id = ?`, sessionID,
	).Scan(&c.Calls, &c.InputTokens, &c.OutputTokens, &c.USD)
	return c, err
}

// --- Event log (append-only) ---

func (s *DB) AppendEvent(ctx context.Context, sessionID, eventType string, data any) (int64, error) {
	var dataStr string
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return 0, err
		}
		dataStr = string(b)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, type, data, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, eventType, dataStr, now(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// EventCounts returns how many events of each type a session logged.
func (s *DB) EventCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events WHERE session_id = ? GROUP BY type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// --- Lifecycle ---

func (s *DB) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *DB) Path() string {
	return s.path
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var si Session
	err := row.Scan(&si.ID, &si.Title, &si.Provider, &si.Model, &si.Status, &si.CreatedAt, &si.UpdatedAt, &si.Messages)
	if err != nil {
		return nil, err
	}
	return &si, nil
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
