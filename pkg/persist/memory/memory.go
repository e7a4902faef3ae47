// Package memory implements persist.Store entirely in a process-local map.
// It exists for tests and for a Nexus that opts out of durability — no
// clean_shutdown hint survives a process restart.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-project/nexus/pkg/persist"
)

// Store is an in-memory persist.Store.
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*persist.NexusInfo
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[uuid.UUID]*persist.NexusInfo)}
}

func (s *Store) Put(_ context.Context, nexusUUID uuid.UUID, info *persist.NexusInfo) error {
	cp := *info
	cp.Children = append([]persist.ChildInfo(nil), info.Children...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[nexusUUID] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, nexusUUID uuid.UUID) (*persist.NexusInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[nexusUUID]
	if !ok {
		return nil, persist.ErrNotFound
	}
	cp := *rec
	cp.Children = append([]persist.ChildInfo(nil), rec.Children...)
	return &cp, nil
}

func (s *Store) Delete(_ context.Context, nexusUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, nexusUUID)
	return nil
}

func (s *Store) Close() error { return nil }
