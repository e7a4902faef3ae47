package nexus

import (
	"context"

	"github.com/google/uuid"

	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
	"github.com/nexus-project/nexus/pkg/registry"
)

// Manager is the arena that owns every live Nexus by stable uuid key,
// generalizing the design note that a registered Nexus must never move
// once pinned: callers hold a uuid, never a pointer they expect to stay
// valid past Destroy. A parallel name index enforces the NameExists
// constraint from create().
type Manager struct {
	byUUID *registry.Registry[*Nexus]
	byName *registry.Registry[string] // name -> uuid string
	store  persist.Store
}

// NewManager returns an empty Manager backed by store for every Nexus it
// creates.
func NewManager(store persist.Store) *Manager {
	return &Manager{
		byUUID: registry.New[*Nexus](),
		byName: registry.New[string](),
		store:  store,
	}
}

// CreateNexus validates name/uuid uniqueness, then delegates to
// nexus.Create and registers the result.
func (m *Manager) CreateNexus(ctx context.Context, opts CreateOptions) (*Nexus, error) {
	if m.byName.Exists(opts.Name) {
		return nil, nexuserr.New("manager.CreateNexus", nexuserr.NameExists, opts.Name)
	}
	if m.byUUID.Exists(opts.UUID.String()) {
		return nil, nexuserr.New("manager.CreateNexus", nexuserr.UUIDExists, opts.UUID.String())
	}
	if opts.Store == nil {
		opts.Store = m.store
	}

	nx, err := Create(ctx, opts)
	if err != nil {
		return nil, err
	}

	nx.onDestroyed = func() {
		m.byUUID.Remove(nx.uuid.String())
		m.byName.Remove(nx.name)
	}

	if err := m.byUUID.Register(nx.uuid.String(), nx); err != nil {
		_ = nx.Destroy(ctx)
		return nil, nexuserr.New("manager.CreateNexus", nexuserr.UUIDExists, opts.UUID.String())
	}
	if err := m.byName.Register(nx.name, nx.uuid.String()); err != nil {
		m.byUUID.Remove(nx.uuid.String())
		_ = nx.Destroy(ctx)
		return nil, nexuserr.New("manager.CreateNexus", nexuserr.NameExists, opts.Name)
	}
	return nx, nil
}

// DestroyNexus destroys and deregisters the Nexus identified by id.
func (m *Manager) DestroyNexus(ctx context.Context, id uuid.UUID) error {
	nx, ok := m.byUUID.Get(id.String())
	if !ok {
		return nexuserr.New("manager.DestroyNexus", nexuserr.NexusNotFound, id.String())
	}
	return nx.Destroy(ctx)
}

// Get looks up a Nexus by uuid.
func (m *Manager) Get(id uuid.UUID) (*Nexus, error) {
	nx, ok := m.byUUID.Get(id.String())
	if !ok {
		return nil, nexuserr.New("manager.Get", nexuserr.NexusNotFound, id.String())
	}
	return nx, nil
}

// GetByName looks up a Nexus by its human name.
func (m *Manager) GetByName(name string) (*Nexus, error) {
	id, ok := m.byName.Get(name)
	if !ok {
		return nil, nexuserr.New("manager.GetByName", nexuserr.NexusNotFound, name)
	}
	return m.Get(uuid.MustParse(id))
}

// List returns every registered Nexus.
func (m *Manager) List() []*Nexus {
	return m.byUUID.List()
}
