package store

import (
	"context"
	"sync"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

// CursorStore persists the committed position of each source stream.
// Load runs once at startup; Save runs after every successful downstream
// handoff. A missing cursor is not an error: ok=false means start from the
// beginning of the polling window.
type CursorStore interface {
	Load(ctx context.Context, version model.Version) (model.Cursor, bool, error)
	Save(ctx context.Context, version model.Version, cursor model.Cursor) error
}

// MemoryStore is an in-process CursorStore for tests and for running
// without persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[model.Version]model.Cursor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[model.Version]model.Cursor)}
}

func (s *MemoryStore) Load(_ context.Context, version model.Version) (model.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[version]
	return c, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, version model.Version, cursor model.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[version] = cursor
	return nil
}
