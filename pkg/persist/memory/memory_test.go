package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	id := uuid.New()
	childID := uuid.New()
	info := &persist.NexusInfo{
		CleanShutdown: false,
		Children:      []persist.ChildInfo{{UUID: childID, Healthy: true}},
	}
	require.NoError(t, s.Put(ctx, id, info))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, info.CleanShutdown, got.CleanShutdown)
	assert.Equal(t, info.Children, got.Children)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, uuid.New())
	require.Error(t, err)
	code, ok := nexuserr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, nexuserr.PersistentStore, code)
}

func TestPutIsDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	info := &persist.NexusInfo{Children: []persist.ChildInfo{{UUID: uuid.New(), Healthy: true}}}
	require.NoError(t, s.Put(ctx, id, info))

	info.Children[0].Healthy = false

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Children[0].Healthy, "store must not alias caller's slice")
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	require.NoError(t, s.Put(ctx, id, &persist.NexusInfo{}))
	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id)) // deleting absent record is not an error

	_, err := s.Get(ctx, id)
	require.Error(t, err)
}
