package flow

import (
	"github.com/BTreeMap/BookPipe/internal/store"
)

// NewMockSessionStore creates an in-memory session store for testing.
func NewMockSessionStore() SessionStore {
	return NewStoreBackedSessionStore(store.NewInMemoryStore(), "test-session")
}
