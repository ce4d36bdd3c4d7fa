// Package store provides the central SQLite database for ClawGate. A single
// clawgate.db file holds channels, channel users, sessions, the message log,
// workspaces, tasks, artifacts, access policies, pairing codes and scheduler
// jobs. The database is the durable source of truth: the router's in-memory
// routing state is always reconstructible from the rows here.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Configured chat platform connections.
CREATE TABLE IF NOT EXISTS channels (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    enabled    INTEGER NOT NULL DEFAULT 1,
    status     TEXT NOT NULL DEFAULT 'disconnected',
    bot_id     TEXT DEFAULT '',
    bot_name   TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Platform sender identities.
CREATE TABLE IF NOT EXISTS channel_users (
    id           TEXT PRIMARY KEY,
    channel_id   TEXT NOT NULL,
    platform_id  TEXT NOT NULL,
    display_name TEXT DEFAULT '',
    paired       INTEGER NOT NULL DEFAULT 0,
    last_seen_at TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    UNIQUE(channel_id, platform_id)
);

-- One conversation session per (channel, chat).
CREATE TABLE IF NOT EXISTS channel_sessions (
    id           TEXT PRIMARY KEY,
    channel_id   TEXT NOT NULL,
    chat_id      TEXT NOT NULL,
    workspace_id TEXT DEFAULT '',
    task_id      TEXT DEFAULT '',
    context      TEXT NOT NULL DEFAULT '{}',
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    UNIQUE(channel_id, chat_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON channel_sessions(channel_id);

-- Immutable message log (audit + transcripts).
CREATE TABLE IF NOT EXISTS channel_messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    direction   TEXT NOT NULL,
    sender      TEXT DEFAULT '',
    sender_name TEXT DEFAULT '',
    content     TEXT NOT NULL,
    attachments TEXT NOT NULL DEFAULT '[]',
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON channel_messages(session_id, id);

-- Filesystem-backed project contexts.
CREATE TABLE IF NOT EXISTS workspaces (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    path       TEXT NOT NULL,
    temporary  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

-- Agent tasks. Status is advanced only by the engine.
CREATE TABLE IF NOT EXISTS tasks (
    id             TEXT PRIMARY KEY,
    workspace_id   TEXT NOT NULL,
    title          TEXT NOT NULL,
    prompt         TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending',
    parent_task_id TEXT DEFAULT '',
    agent_config   TEXT NOT NULL DEFAULT '{}',
    error          TEXT DEFAULT '',
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);

-- Files produced by tasks.
CREATE TABLE IF NOT EXISTS artifacts (
    id         TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL,
    path       TEXT NOT NULL,
    mime_type  TEXT DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts(task_id);

-- Per (channel, context) authorization policy.
CREATE TABLE IF NOT EXISTS access_policies (
    channel_id        TEXT NOT NULL,
    context_type      TEXT NOT NULL,
    require_pairing   INTEGER NOT NULL DEFAULT 1,
    tool_restrictions TEXT NOT NULL DEFAULT '[]',
    updated_at        TEXT NOT NULL,
    PRIMARY KEY (channel_id, context_type)
);

-- Pairing codes (argon2id-hashed, single use).
CREATE TABLE IF NOT EXISTS pairing_codes (
    id         TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    code_hash  TEXT NOT NULL,
    salt       TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    created_at TEXT NOT NULL
);

-- Scheduler jobs (briefs, recurring prompts).
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    schedule    TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT 'cron',
    command     TEXT NOT NULL,
    channel     TEXT DEFAULT '',
    chat_id     TEXT DEFAULT '',
    enabled     INTEGER DEFAULT 1,
    created_by  TEXT DEFAULT '',
    created_at  TEXT NOT NULL,
    last_run_at TEXT,
    last_error  TEXT DEFAULT '',
    run_count   INTEGER DEFAULT 0
);
`

// Store wraps the shared database handle. All repository methods hang off it.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) clawgate.db at the given path, enables WAL mode
// and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./data/clawgate.db"
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// DB exposes the raw handle for subsystems that share the database
// (scheduler job storage).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
