// Package flow defines session storage interfaces for the recommendation dialogue.
package flow

import (
	"context"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// SessionStore gets, sets and deletes a single named context record for the
// conversation the current event belongs to. Expiry is owned by the store.
type SessionStore interface {
	// Get returns the named record, or nil if it does not exist.
	Get(ctx context.Context, name string) (*models.ContextRecord, error)

	// Set writes the record, replacing any record with the same name.
	Set(ctx context.Context, record models.ContextRecord) error

	// Delete removes the named record. Deleting a missing record is not an error.
	Delete(ctx context.Context, name string) error
}
