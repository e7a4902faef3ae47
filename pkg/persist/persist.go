// Package persist defines the durable Nexus Info record and the store
// abstraction that keeps it: a durable map nexus_uuid -> {clean_shutdown,
// [{child_uuid, healthy}]}. The store is a crash-consistency aid, not a
// correctness-critical component — the Nexus always derives its live state
// from the Children it currently holds open; Persistent Info only seeds the
// "was this child healthy at last shutdown" hint used to pick rebuild
// sources after an unclean restart.
package persist

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// ChildInfo is the persisted view of one child: which child it was, and
// whether it was healthy the last time the Nexus updated its record.
type ChildInfo struct {
	UUID    uuid.UUID `json:"uuid"`
	Healthy bool      `json:"healthy"`
}

// NexusInfo is the full durable record for one Nexus.
type NexusInfo struct {
	CleanShutdown bool        `json:"clean_shutdown"`
	Children      []ChildInfo `json:"children"`
}

// Encode serializes a NexusInfo for storage.
func Encode(info *NexusInfo) ([]byte, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return nil, nexuserr.Wrap("persist.Encode", nexuserr.PersistentStore, "marshal nexus info", err)
	}
	return b, nil
}

// Decode deserializes a NexusInfo previously produced by Encode.
func Decode(data []byte) (*NexusInfo, error) {
	var info NexusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nexuserr.Wrap("persist.Decode", nexuserr.PersistentStore, "unmarshal nexus info", err)
	}
	return &info, nil
}

// HealthyOf reports whether info records uuid as healthy. A uuid absent from
// the record is treated as unhealthy, since the record predates it.
func (info *NexusInfo) HealthyOf(id uuid.UUID) bool {
	for _, c := range info.Children {
		if c.UUID == id {
			return c.Healthy
		}
	}
	return false
}

// WithChild returns a copy of info with child upserted by uuid.
func (info *NexusInfo) WithChild(child ChildInfo) *NexusInfo {
	next := &NexusInfo{
		CleanShutdown: info.CleanShutdown,
		Children:      make([]ChildInfo, 0, len(info.Children)+1),
	}
	found := false
	for _, c := range info.Children {
		if c.UUID == child.UUID {
			next.Children = append(next.Children, child)
			found = true
			continue
		}
		next.Children = append(next.Children, c)
	}
	if !found {
		next.Children = append(next.Children, child)
	}
	return next
}

// Store persists and retrieves NexusInfo records keyed by Nexus uuid. It is
// an external collaborator: the Nexus owns when to call it, the store owns
// how bytes reach disk.
type Store interface {
	// Put writes (or overwrites) the record for nexusUUID.
	Put(ctx context.Context, nexusUUID uuid.UUID, info *NexusInfo) error

	// Get returns the record for nexusUUID. It returns a nexuserr.Error with
	// Code == nexuserr.PersistentStore and a nil Err wrapped cause classified
	// as not-found when no record exists.
	Get(ctx context.Context, nexusUUID uuid.UUID) (*NexusInfo, error)

	// Delete removes the record for nexusUUID. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, nexusUUID uuid.UUID) error

	// Close releases any resources (file handles, connections) held by the
	// store.
	Close() error
}

// ErrNotFound classifies a Get miss. Callers compare with nexuserr.CodeOf.
var ErrNotFound = nexuserr.New("persist.Get", nexuserr.PersistentStore, "nexus info not found")
