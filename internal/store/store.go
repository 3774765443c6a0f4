// Package store provides storage backends for BookPipe.
//
// It persists dialogue context records per session and records inbound chat
// message IDs for de-duplication. Backends: in-memory, SQLite and PostgreSQL.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// Store is the persistence contract used by the dialogue and chat channels.
type Store interface {
	DedupRepo

	// GetContext returns the named record for the session, or nil if absent.
	GetContext(sessionID, name string) (*models.ContextRecord, error)
	// SaveContext inserts or replaces a record keyed by (SessionID, Name).
	SaveContext(record models.ContextRecord) error
	// DeleteContext removes a record. Deleting a missing record is not an error.
	DeleteContext(sessionID, name string) error
	// AgeContexts consumes one turn of every record in the session: records at
	// lifespan 1 or less are removed, others are decremented. It returns the
	// number of records removed.
	AgeContexts(sessionID string) (int, error)
	// PruneBefore removes context records last updated before cutoff and dedup
	// records received before cutoff, across all sessions.
	PruneBefore(cutoff time.Time) (contexts int, dedup int, err error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// PostgreSQL URLs and key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store that matches the DSN type.
func Open(dsn string) (Store, error) {
	switch DetectDSNType(dsn) {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

type contextKey struct {
	sessionID string
	name      string
}

// InMemoryStore is a Store kept in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	contexts map[contextKey]models.ContextRecord
	inbound  map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contexts: make(map[contextKey]models.ContextRecord),
		inbound:  make(map[string]DedupRecord),
	}
}

var _ Store = (*InMemoryStore)(nil)

// GetContext returns a copy of the stored record, or nil.
func (s *InMemoryStore) GetContext(sessionID, name string) (*models.ContextRecord, error) {
	s.mu.RLock()
	rec, ok := s.contexts[contextKey{sessionID, name}]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	params, err := cloneParameters(rec.Parameters)
	if err != nil {
		return nil, err
	}
	rec.Parameters = params
	return &rec, nil
}

// SaveContext stores or replaces a context record.
func (s *InMemoryStore) SaveContext(record models.ContextRecord) error {
	if record.SessionID == "" || record.Name == "" {
		return fmt.Errorf("context record requires session ID and name")
	}
	// Round-trip through JSON so callers see the same shapes the SQL backends return.
	params, err := cloneParameters(record.Parameters)
	if err != nil {
		slog.Error("InMemoryStore SaveContext marshal failed", "error", err, "sessionID", record.SessionID, "name", record.Name)
		return err
	}
	record.Parameters = params
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.contexts[contextKey{record.SessionID, record.Name}] = record
	s.mu.Unlock()
	return nil
}

// DeleteContext removes a context record.
func (s *InMemoryStore) DeleteContext(sessionID, name string) error {
	s.mu.Lock()
	delete(s.contexts, contextKey{sessionID, name})
	s.mu.Unlock()
	return nil
}

// AgeContexts decrements lifespans and drops contexts that reach zero.
func (s *InMemoryStore) AgeContexts(sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := time.Now()
	for k, rec := range s.contexts {
		if k.sessionID != sessionID {
			continue
		}
		if rec.Lifespan <= 1 {
			delete(s.contexts, k)
			removed++
			continue
		}
		rec.Lifespan--
		rec.UpdatedAt = now
		s.contexts[k] = rec
	}
	return removed, nil
}

// PruneBefore drops contexts and dedup records older than cutoff.
func (s *InMemoryStore) PruneBefore(cutoff time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contexts, dedup := 0, 0
	for k, rec := range s.contexts {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.contexts, k)
			contexts++
		}
	}
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			dedup++
		}
	}
	return contexts, dedup, nil
}

// RecordInbound reports whether messageID is seen for the first time.
func (s *InMemoryStore) RecordInbound(messageID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, SessionID: sessionID, ReceivedAt: time.Now()}
	return true, nil
}

// MarkProcessed flags a recorded message as handled.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
