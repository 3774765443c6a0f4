// Package models defines context record structures for BookPipe sessions.
package models

import "time"

// ContextRecord is a named, turn-limited parameter bag attached to a conversation.
type ContextRecord struct {
	SessionID  string         `json:"session_id,omitempty"`
	Name       string         `json:"name"`
	Lifespan   int            `json:"lifespan"`             // remaining turns before the store may drop it
	Parameters map[string]any `json:"parameters,omitempty"` // opaque to the store
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}
