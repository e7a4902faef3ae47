package nexus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/persist"
)

// persistRetryInterval is the fixed backoff between retried store writes.
// The Nexus in-memory state is authoritative; the persistent store is a
// crash-consistency aid, so a retry delay here never blocks front-end I/O.
const persistRetryInterval = 1 * time.Second

// infoManager owns the in-memory NexusInfo mirror and the durable store
// behind it. It is the only component that calls persist.Store; the Nexus
// never touches the store directly. All writes are retried indefinitely on
// error: the store is a crash-consistency aid, not a correctness-critical
// dependency, so a slow or flaky store must never block in-memory state.
type infoManager struct {
	mu    sync.Mutex
	store persist.Store
	id    uuid.UUID
	info  *persist.NexusInfo
}

func newInfoManager(store persist.Store, id uuid.UUID) *infoManager {
	return &infoManager{
		store: store,
		id:    id,
		info:  &persist.NexusInfo{},
	}
}

// snapshot returns a defensive copy of the current in-memory record.
func (m *infoManager) snapshot() *persist.NexusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &persist.NexusInfo{
		CleanShutdown: m.info.CleanShutdown,
		Children:      append([]persist.ChildInfo{}, m.info.Children...),
	}
}

// healthyOf reports whether the in-memory record currently shows uuid as
// healthy.
func (m *infoManager) healthyOf(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.HealthyOf(id)
}

// Create writes the initial full snapshot for a newly created Nexus.
func (m *infoManager) Create(ctx context.Context, children []persist.ChildInfo) error {
	next := &persist.NexusInfo{CleanShutdown: false, Children: append([]persist.ChildInfo{}, children...)}
	return m.commit(ctx, "persist.Create", next)
}

// AddChild upserts a single child into the record by uuid.
func (m *infoManager) AddChild(ctx context.Context, child persist.ChildInfo) error {
	m.mu.Lock()
	next := m.info.WithChild(child)
	m.mu.Unlock()
	return m.commit(ctx, "persist.AddChild", next)
}

// Update unconditionally changes a child's healthy bit.
func (m *infoManager) Update(ctx context.Context, child persist.ChildInfo) error {
	m.mu.Lock()
	next := m.info.WithChild(child)
	m.mu.Unlock()
	return m.commit(ctx, "persist.Update", next)
}

// UpdateCond changes a child's healthy bit only if predicate still holds
// against the in-memory record under the info lock, guarding against a
// stale overwrite racing a concurrent reconfiguration.
func (m *infoManager) UpdateCond(ctx context.Context, child persist.ChildInfo, predicate func(*persist.NexusInfo) bool) error {
	m.mu.Lock()
	if !predicate(m.info) {
		m.mu.Unlock()
		return nil
	}
	next := m.info.WithChild(child)
	m.mu.Unlock()
	return m.commit(ctx, "persist.UpdateCond", next)
}

// Shutdown marks the record clean_shutdown = true.
func (m *infoManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	next := &persist.NexusInfo{CleanShutdown: true, Children: append([]persist.ChildInfo{}, m.info.Children...)}
	m.mu.Unlock()
	return m.commit(ctx, "persist.Shutdown", next)
}

// commit writes next to the store, retrying indefinitely with a fixed
// backoff on error. The first failure is logged; subsequent retries for the
// same call are silent so a flapping store doesn't flood the log.
func (m *infoManager) commit(ctx context.Context, op string, next *persist.NexusInfo) error {
	attempt := 0
	logged := false
	for {
		attempt++
		err := m.store.Put(ctx, m.id, next)
		if err == nil {
			m.mu.Lock()
			m.info = next
			m.mu.Unlock()
			return nil
		}
		if !logged {
			logger.Error("nexus info persist failed, retrying", logger.Op(op), logger.NexusUUID(m.id.String()), logger.Attempt(attempt), logger.Err(err))
			logged = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(persistRetryInterval):
		}
	}
}
