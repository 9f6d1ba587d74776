// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Open connects to the database and verifies the connection. SQLite is
// limited to a single connection so writers serialize instead of failing
// with SQLITE_BUSY.
func Open(dbType, url string) (*sql.DB, error) {
	switch dbType {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	conn, err := sql.Open(dbType, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == SQLite {
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
		if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return conn, nil
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(conn *sql.DB, dbType string) error {
	schema := postgresSchema
	if dbType == SQLite {
		schema = sqliteSchema
	}

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const postgresSchema = `
-- Polls
CREATE TABLE IF NOT EXISTS votes (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    due_date TIMESTAMPTZ NOT NULL,
    options JSONB NOT NULL,
    votes_count INTEGER NOT NULL DEFAULT 0,
    tally_rev BIGINT NOT NULL DEFAULT 0,
    is_public BOOLEAN NOT NULL DEFAULT TRUE,
    allow_multiple BOOLEAN NOT NULL DEFAULT FALSE,
    allow_comments BOOLEAN NOT NULL DEFAULT TRUE,
    tags JSONB,
    image_url TEXT,
    category_id TEXT,
    created_by TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE votes ADD COLUMN IF NOT EXISTS tally_rev BIGINT NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_votes_created_by ON votes(created_by);
CREATE INDEX IF NOT EXISTS idx_votes_due_date ON votes(due_date);

-- Ballots
CREATE TABLE IF NOT EXISTS user_poll_votes (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    vote_id TEXT NOT NULL REFERENCES votes(id) ON DELETE CASCADE,
    selected_option_index INTEGER NOT NULL,
    selected_option_indices JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, vote_id)
);

CREATE INDEX IF NOT EXISTS idx_user_poll_votes_vote_id ON user_poll_votes(vote_id);

-- Chat
CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    room_id TEXT NOT NULL,
    sender_name TEXT NOT NULL,
    sender_id TEXT,
    content TEXT,
    file_url TEXT,
    file_name TEXT,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_room_ts ON chat_messages(room_id, timestamp);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS votes (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    due_date DATETIME NOT NULL,
    options TEXT NOT NULL,
    votes_count INTEGER NOT NULL DEFAULT 0,
    tally_rev INTEGER NOT NULL DEFAULT 0,
    is_public INTEGER NOT NULL DEFAULT 1,
    allow_multiple INTEGER NOT NULL DEFAULT 0,
    allow_comments INTEGER NOT NULL DEFAULT 1,
    tags TEXT,
    image_url TEXT,
    category_id TEXT,
    created_by TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_votes_created_by ON votes(created_by);
CREATE INDEX IF NOT EXISTS idx_votes_due_date ON votes(due_date);

CREATE TABLE IF NOT EXISTS user_poll_votes (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    vote_id TEXT NOT NULL REFERENCES votes(id) ON DELETE CASCADE,
    selected_option_index INTEGER NOT NULL,
    selected_option_indices TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (user_id, vote_id)
);

CREATE INDEX IF NOT EXISTS idx_user_poll_votes_vote_id ON user_poll_votes(vote_id);

CREATE TABLE IF NOT EXISTS chat_messages (
    id TEXT PRIMARY KEY,
    room_id TEXT NOT NULL,
    sender_name TEXT NOT NULL,
    sender_id TEXT,
    content TEXT,
    file_url TEXT,
    file_name TEXT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_room_ts ON chat_messages(room_id, timestamp);
`
