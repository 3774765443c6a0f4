// Package flow provides a SessionStore backed by persistent storage.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookPipe/internal/models"
	"github.com/BTreeMap/BookPipe/internal/store"
)

// StoreBackedSessionStore implements SessionStore for one conversation using a Store backend.
type StoreBackedSessionStore struct {
	store     store.Store
	sessionID string
}

// NewStoreBackedSessionStore creates a SessionStore scoped to sessionID.
func NewStoreBackedSessionStore(st store.Store, sessionID string) *StoreBackedSessionStore {
	return &StoreBackedSessionStore{store: st, sessionID: sessionID}
}

// Get retrieves the named context record for the conversation.
func (s *StoreBackedSessionStore) Get(ctx context.Context, name string) (*models.ContextRecord, error) {
	rec, err := s.store.GetContext(s.sessionID, name)
	if err != nil {
		slog.Error("SessionStore Get error", "error", err, "sessionID", s.sessionID, "name", name)
		return nil, err
	}
	if rec == nil {
		slog.Debug("SessionStore Get not found", "sessionID", s.sessionID, "name", name)
		return nil, nil
	}
	slog.Debug("SessionStore Get found", "sessionID", s.sessionID, "name", name, "lifespan", rec.Lifespan)
	return rec, nil
}

// Set stores the context record for the conversation, overwriting any previous one.
func (s *StoreBackedSessionStore) Set(ctx context.Context, record models.ContextRecord) error {
	record.SessionID = s.sessionID
	record.UpdatedAt = time.Now()
	if err := s.store.SaveContext(record); err != nil {
		slog.Error("SessionStore Set error", "error", err, "sessionID", s.sessionID, "name", record.Name)
		return err
	}
	slog.Debug("SessionStore Set succeeded", "sessionID", s.sessionID, "name", record.Name, "lifespan", record.Lifespan)
	return nil
}

// Delete removes the named context record for the conversation.
func (s *StoreBackedSessionStore) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteContext(s.sessionID, name); err != nil {
		slog.Error("SessionStore Delete error", "error", err, "sessionID", s.sessionID, "name", name)
		return err
	}
	slog.Info("SessionStore Delete succeeded", "sessionID", s.sessionID, "name", name)
	return nil
}
