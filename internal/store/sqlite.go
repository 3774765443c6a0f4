// Package store provides storage backends for BookPipe.
//
// This file implements an SQLite-backed store for context records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/BookPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file, optionally with
// a "file:" prefix and query parameters. Missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(sqliteFilePath(dsn))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// sqliteFilePath strips the URI prefix and query string from a SQLite DSN.
func sqliteFilePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// GetContext retrieves a context record, or nil if none is stored.
func (s *SQLiteStore) GetContext(sessionID, name string) (*models.ContextRecord, error) {
	var rec models.ContextRecord
	var paramsJSON []byte
	err := s.db.QueryRow(
		`SELECT session_id, name, lifespan, parameters, updated_at FROM context_records WHERE session_id = ? AND name = ?`,
		sessionID, name,
	).Scan(&rec.SessionID, &rec.Name, &rec.Lifespan, &paramsJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetContext not found", "sessionID", sessionID, "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContext failed", "error", err, "sessionID", sessionID, "name", name)
		return nil, fmt.Errorf("failed to get context %s for %s: %w", name, sessionID, err)
	}
	rec.Parameters, err = unmarshalParameters(paramsJSON)
	if err != nil {
		slog.Error("SQLiteStore GetContext decode failed", "error", err, "sessionID", sessionID, "name", name)
		return nil, err
	}
	slog.Debug("SQLiteStore GetContext found", "sessionID", sessionID, "name", name, "lifespan", rec.Lifespan)
	return &rec, nil
}

// SaveContext upserts a context record.
func (s *SQLiteStore) SaveContext(record models.ContextRecord) error {
	paramsJSON, err := marshalParameters(record.Parameters)
	if err != nil {
		slog.Error("SQLiteStore SaveContext marshal failed", "error", err, "sessionID", record.SessionID, "name", record.Name)
		return err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO context_records (session_id, name, lifespan, parameters, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, name)
		DO UPDATE SET
			lifespan = excluded.lifespan,
			parameters = excluded.parameters,
			updated_at = excluded.updated_at`,
		record.SessionID, record.Name, record.Lifespan, string(paramsJSON), record.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContext failed", "error", err, "sessionID", record.SessionID, "name", record.Name)
		return fmt.Errorf("failed to save context %s for %s: %w", record.Name, record.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveContext succeeded", "sessionID", record.SessionID, "name", record.Name, "lifespan", record.Lifespan)
	return nil
}

// DeleteContext removes a context record.
func (s *SQLiteStore) DeleteContext(sessionID, name string) error {
	_, err := s.db.Exec(`DELETE FROM context_records WHERE session_id = ? AND name = ?`, sessionID, name)
	if err != nil {
		slog.Error("SQLiteStore DeleteContext failed", "error", err, "sessionID", sessionID, "name", name)
		return fmt.Errorf("failed to delete context %s for %s: %w", name, sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteContext succeeded", "sessionID", sessionID, "name", name)
	return nil
}

// AgeContexts consumes one turn of every context in the session.
func (s *SQLiteStore) AgeContexts(sessionID string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin ageing transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM context_records WHERE session_id = ? AND lifespan <= 1`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore AgeContexts delete failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to expire contexts: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired contexts: %w", err)
	}
	if _, err := tx.Exec(`UPDATE context_records SET lifespan = lifespan - 1, updated_at = ? WHERE session_id = ?`, time.Now(), sessionID); err != nil {
		slog.Error("SQLiteStore AgeContexts update failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to age contexts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ageing transaction: %w", err)
	}
	slog.Debug("SQLiteStore AgeContexts succeeded", "sessionID", sessionID, "removed", removed)
	return int(removed), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
