// Package database persists the canonical data model in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"go.uber.org/zap"
)

const defaultBatchSize = 100

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db        *sql.DB
	log       *zap.Logger
	batchSize int
}

// Option adjusts a SQLiteStore.
type Option func(*SQLiteStore)

// WithBatchSize bounds how many messages go into one upsert transaction.
func WithBatchSize(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSQLiteStore opens (and creates, if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string, log *zap.Logger, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writes serialized and makes :memory:
	// databases behave.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info("database ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			custom_domain TEXT NOT NULL DEFAULT '',
			flags INTEGER NOT NULL DEFAULT 0,
			kicked_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			type INTEGER NOT NULL,
			last_indexed_snowflake TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS channel_settings (
			channel_id TEXT PRIMARY KEY,
			flags INTEGER NOT NULL DEFAULT 0,
			solution_tag_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS discord_accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS user_server_settings (
			user_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			flags INTEGER NOT NULL DEFAULT 0,
			api_key TEXT NOT NULL DEFAULT '',
			api_calls_used INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, server_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			parent_channel_id TEXT NOT NULL DEFAULT '',
			referenced_message_id TEXT NOT NULL DEFAULT '',
			child_thread_id TEXT NOT NULL DEFAULT '',
			question_id TEXT NOT NULL DEFAULT '',
			solution_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			url TEXT NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS sitemap_entries (
			server_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			PRIMARY KEY (server_id, message_id)
		);`,
		`CREATE TABLE IF NOT EXISTS index_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			servers_indexed INTEGER NOT NULL,
			servers_failed INTEGER NOT NULL,
			messages_indexed INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_server ON messages(server_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_question ON messages(server_id, question_id);`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);`,
		`CREATE INDEX IF NOT EXISTS idx_uss_server ON user_server_settings(server_id);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
