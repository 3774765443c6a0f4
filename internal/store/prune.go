package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// pruneTx deletes stale contexts and dedup records in one transaction.
func pruneTx(db *sql.DB, contextsQuery, dedupQuery string, cutoff time.Time) (int, int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(contextsQuery, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune contexts: %w", err)
	}
	contexts, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pruned contexts: %w", err)
	}
	res, err = tx.Exec(dedupQuery, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune dedup records: %w", err)
	}
	dedup, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count pruned dedup records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit prune transaction: %w", err)
	}
	return int(contexts), int(dedup), nil
}

// PruneBefore deletes contexts and dedup records older than cutoff.
func (s *SQLiteStore) PruneBefore(cutoff time.Time) (int, int, error) {
	contexts, dedup, err := pruneTx(s.db,
		`DELETE FROM context_records WHERE updated_at < ?`,
		`DELETE FROM inbound_dedup WHERE received_at < ?`,
		cutoff)
	if err != nil {
		slog.Error("SQLiteStore PruneBefore failed", "error", err, "cutoff", cutoff)
		return 0, 0, err
	}
	slog.Debug("SQLiteStore PruneBefore succeeded", "cutoff", cutoff, "contexts", contexts, "dedup", dedup)
	return contexts, dedup, nil
}

// PruneBefore deletes contexts and dedup records older than cutoff.
func (s *PostgresStore) PruneBefore(cutoff time.Time) (int, int, error) {
	contexts, dedup, err := pruneTx(s.db,
		`DELETE FROM context_records WHERE updated_at < $1`,
		`DELETE FROM inbound_dedup WHERE received_at < $1`,
		cutoff)
	if err != nil {
		slog.Error("PostgresStore PruneBefore failed", "error", err, "cutoff", cutoff)
		return 0, 0, err
	}
	slog.Debug("PostgresStore PruneBefore succeeded", "cutoff", cutoff, "contexts", contexts, "dedup", dedup)
	return contexts, dedup, nil
}
