// Package store provides storage backends for BookPipe.
//
// This file implements a PostgreSQL-backed store for context records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/BookPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetContext retrieves a context record for a session.
func (s *PostgresStore) GetContext(sessionID, name string) (*models.ContextRecord, error) {
	query := `SELECT session_id, name, lifespan, parameters, updated_at
			  FROM context_records WHERE session_id = $1 AND name = $2`

	var rec models.ContextRecord
	var paramsJSON []byte
	err := s.db.QueryRow(query, sessionID, name).Scan(
		&rec.SessionID, &rec.Name, &rec.Lifespan, &paramsJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetContext not found", "sessionID", sessionID, "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContext failed", "error", err, "sessionID", sessionID, "name", name)
		return nil, err
	}
	rec.Parameters, err = unmarshalParameters(paramsJSON)
	if err != nil {
		slog.Error("PostgresStore GetContext decode failed", "error", err, "sessionID", sessionID, "name", name)
		return nil, err
	}
	slog.Debug("PostgresStore GetContext found", "sessionID", sessionID, "name", name, "lifespan", rec.Lifespan)
	return &rec, nil
}

// SaveContext stores or replaces a context record.
func (s *PostgresStore) SaveContext(record models.ContextRecord) error {
	query := `
		INSERT INTO context_records (session_id, name, lifespan, parameters, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, name)
		DO UPDATE SET
			lifespan = EXCLUDED.lifespan,
			parameters = EXCLUDED.parameters,
			updated_at = EXCLUDED.updated_at`

	paramsJSON, err := marshalParameters(record.Parameters)
	if err != nil {
		slog.Error("PostgresStore SaveContext JSON marshal failed", "error", err, "sessionID", record.SessionID)
		return err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err = s.db.Exec(query, record.SessionID, record.Name, record.Lifespan, paramsJSON, record.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveContext failed", "error", err, "sessionID", record.SessionID, "name", record.Name)
		return err
	}
	slog.Debug("PostgresStore SaveContext succeeded", "sessionID", record.SessionID, "name", record.Name, "lifespan", record.Lifespan)
	return nil
}

// DeleteContext removes a context record.
func (s *PostgresStore) DeleteContext(sessionID, name string) error {
	_, err := s.db.Exec(`DELETE FROM context_records WHERE session_id = $1 AND name = $2`, sessionID, name)
	if err != nil {
		slog.Error("PostgresStore DeleteContext failed", "error", err, "sessionID", sessionID, "name", name)
		return err
	}
	slog.Debug("PostgresStore DeleteContext succeeded", "sessionID", sessionID, "name", name)
	return nil
}

// AgeContexts consumes one turn of every context in the session.
func (s *PostgresStore) AgeContexts(sessionID string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin ageing transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM context_records WHERE session_id = $1 AND lifespan <= 1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore AgeContexts delete failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to expire contexts: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired contexts: %w", err)
	}
	if _, err := tx.Exec(`UPDATE context_records SET lifespan = lifespan - 1, updated_at = $1 WHERE session_id = $2`, time.Now(), sessionID); err != nil {
		slog.Error("PostgresStore AgeContexts update failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to age contexts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ageing transaction: %w", err)
	}
	slog.Debug("PostgresStore AgeContexts succeeded", "sessionID", sessionID, "removed", removed)
	return int(removed), nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
