// Package persisttest provides a conformance test suite for persist.Store
// implementations.
//
// Every backend (memory, badger) should pass these tests. The suite verifies
// that each implementation satisfies the persist.Store behavioral contract,
// catching regressions when store code changes.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    persisttest.RunConformanceSuite(t, func(t *testing.T) persist.Store {
//	        return memory.New()
//	    })
//	}
package persisttest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/pkg/persist"
)

// Factory builds a fresh, empty store for one subtest. It receives t so
// filesystem-backed stores can call t.TempDir() and t.Cleanup.
type Factory func(t *testing.T) persist.Store

// RunConformanceSuite runs the full behavioral contract against new.
func RunConformanceSuite(t *testing.T, newStore Factory) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, newStore) })
	t.Run("GetMissingIsNotFound", func(t *testing.T) { testGetMissingIsNotFound(t, newStore) })
	t.Run("PutOverwrites", func(t *testing.T) { testPutOverwrites(t, newStore) })
	t.Run("DeleteThenGetIsNotFound", func(t *testing.T) { testDeleteThenGetIsNotFound(t, newStore) })
	t.Run("DeleteAbsentIsNoError", func(t *testing.T) { testDeleteAbsentIsNoError(t, newStore) })
	t.Run("RecordsAreIndependentByUUID", func(t *testing.T) { testRecordsAreIndependentByUUID(t, newStore) })
}

func testPutThenGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	id := uuid.New()
	info := &persist.NexusInfo{
		CleanShutdown: true,
		Children:      []persist.ChildInfo{{UUID: uuid.New(), Healthy: true}},
	}
	require.NoError(t, s.Put(ctx, id, info))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, info.CleanShutdown, got.CleanShutdown)
	assert.Equal(t, info.Children, got.Children)
}

func testGetMissingIsNotFound(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	_, err := s.Get(ctx, uuid.New())
	require.Error(t, err)
}

func testPutOverwrites(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	id := uuid.New()
	require.NoError(t, s.Put(ctx, id, &persist.NexusInfo{CleanShutdown: false}))
	require.NoError(t, s.Put(ctx, id, &persist.NexusInfo{CleanShutdown: true}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.CleanShutdown)
}

func testDeleteThenGetIsNotFound(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	id := uuid.New()
	require.NoError(t, s.Put(ctx, id, &persist.NexusInfo{}))
	require.NoError(t, s.Delete(ctx, id))

	_, err := s.Get(ctx, id)
	require.Error(t, err)
}

func testDeleteAbsentIsNoError(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	require.NoError(t, s.Delete(ctx, uuid.New()))
}

func testRecordsAreIndependentByUUID(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)
	defer s.Close()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.Put(ctx, a, &persist.NexusInfo{CleanShutdown: true}))
	require.NoError(t, s.Put(ctx, b, &persist.NexusInfo{CleanShutdown: false}))

	gotA, err := s.Get(ctx, a)
	require.NoError(t, err)
	gotB, err := s.Get(ctx, b)
	require.NoError(t, err)

	assert.True(t, gotA.CleanShutdown)
	assert.False(t, gotB.CleanShutdown)
}
