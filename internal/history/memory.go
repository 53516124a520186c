package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for deployments without a database and
// for tests. Entries live only as long as the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Record implements [Store].
func (s *MemoryStore) Record(_ context.Context, sessionKey, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{
		SessionKey: sessionKey,
		Role:       role,
		Content:    content,
		CreatedAt:  s.now(),
	})
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, sessionKey string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Entry
	for _, e := range s.entries {
		if e.SessionKey == sessionKey {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return append([]Entry{}, matched...), nil
}

// Search implements [Store] with case-insensitive substring matching in
// place of full-text search.
func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOpts) ([]Entry, error) {
	needle := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []Entry{}
	for _, e := range s.entries {
		if opts.SessionKey != "" && e.SessionKey != opts.SessionKey {
			continue
		}
		if !opts.After.IsZero() && !e.CreatedAt.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !e.CreatedAt.Before(opts.Before) {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Content), needle) {
			continue
		}
		matched = append(matched, e)
		if opts.Limit > 0 && len(matched) == opts.Limit {
			break
		}
	}
	return matched, nil
}

// Close implements [Store]. It is a no-op.
func (s *MemoryStore) Close() {}
