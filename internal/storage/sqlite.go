package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"marketchat/internal/api"
	"marketchat/internal/chat"
)

// Mirror 基于 SQLite (WAL 模式) 的本地会话镜像
// Mirror is a local SQLite (WAL mode) cache of the server-side session
// directory and transcripts. The server stays authoritative; the mirror
// only serves offline listing and inspection.
type Mirror struct {
	db   *sql.DB
	path string
}

// NewMirror creates and initializes the mirror database under baseDir.
func NewMirror(baseDir string) (*Mirror, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, fmt.Errorf("storage base dir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", baseDir, err)
	}
	dbPath := filepath.Join(baseDir, "marketchat.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	m := &Mirror{db: db, path: dbPath}
	if err := m.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return m, nil
}

func (m *Mirror) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (m *Mirror) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// RecordSessions upserts the directory list as last seen from the server.
func (m *Mirror) RecordSessions(sessions []api.Session) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO sessions (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range sessions {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		updated := strings.TrimSpace(s.UpdatedAt)
		if updated == "" {
			updated = nowUTC()
		}
		if _, err := stmt.Exec(id, s.Name, updated); err != nil {
			return fmt.Errorf("upsert session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListSessions returns the cached directory, most recently updated first.
func (m *Mirror) ListSessions() ([]api.Session, error) {
	rows, err := m.db.Query(`
		SELECT id, name, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []api.Session
	for rows.Next() {
		var s api.Session
		if err := rows.Scan(&s.ID, &s.Name, &s.UpdatedAt); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SaveTranscript replaces the mirrored transcript of one session.
func (m *Mirror) SaveTranscript(sessionID string, messages []chat.Message) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return fmt.Errorf("session id is empty")
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUTC()
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, name, updated_at) VALUES (?, '', ?)
		ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at`, id, now); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id=?", id); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		if _, err := stmt.Exec(id, i, msg.Role, msg.Content, now); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadTranscript returns the mirrored transcript of one session.
func (m *Mirror) LoadTranscript(sessionID string) ([]chat.Message, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	rows, err := m.db.Query(`
		SELECT role, content FROM messages WHERE session_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
