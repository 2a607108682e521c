package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
)

type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]store.SyncCursor
}

func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[string]store.SyncCursor)}
}

func (s *CursorStore) GetCursor(_ context.Context, deviceID string) (store.SyncCursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[deviceID]

	return c, ok, nil
}

func (s *CursorStore) SaveCursor(_ context.Context, c store.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[c.DeviceID] = c

	return nil
}
