package dialogflow

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// ContextStore is a session store scoped to one webhook request. Reads come
// from the request's contexts; writes and deletes are collected and returned to
// Dialogflow as output contexts, where deletion is lifespanCount 0.
type ContextStore struct {
	session string

	mu      sync.Mutex
	records map[string]models.ContextRecord
	dirty   map[string]bool
}

// NewContextStore indexes the request's active contexts by short name.
func NewContextStore(req *WebhookRequest) *ContextStore {
	s := &ContextStore{
		session: req.Session,
		records: make(map[string]models.ContextRecord),
		dirty:   make(map[string]bool),
	}
	for _, c := range req.QueryResult.OutputContexts {
		if c.LifespanCount <= 0 {
			continue
		}
		name := ShortContextName(c.Name)
		s.records[name] = models.ContextRecord{
			SessionID:  req.Session,
			Name:       name,
			Lifespan:   c.LifespanCount,
			Parameters: c.Parameters,
		}
	}
	slog.Debug("ContextStore created", "session", req.Session, "contexts", len(s.records))
	return s
}

// Get returns the named context as seen in the request, or nil.
func (s *ContextStore) Get(ctx context.Context, name string) (*models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Set records the context for the response.
func (s *ContextStore) Set(ctx context.Context, record models.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.SessionID = s.session
	s.records[record.Name] = record
	s.dirty[record.Name] = true
	return nil
}

// Delete marks the context for removal.
func (s *ContextStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	s.dirty[name] = true
	return nil
}

// OutputContexts returns the contexts changed during the request, sorted by name.
func (s *ContextStore) OutputContexts() []Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dirty))
	for name := range s.dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Context, 0, len(names))
	for _, name := range names {
		c := Context{Name: ContextPath(s.session, name)}
		if rec, ok := s.records[name]; ok {
			c.LifespanCount = rec.Lifespan
			c.Parameters = rec.Parameters
		}
		out = append(out, c)
	}
	return out
}
