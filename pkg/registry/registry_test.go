package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/pkg/registry"
)

func TestRegisterGet(t *testing.T) {
	r := registry.New[int]()
	require.NoError(t, r.Register("a", 1))

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRegisterDuplicateKeyFails(t *testing.T) {
	r := registry.New[string]()
	require.NoError(t, r.Register("dup", "first"))
	err := r.Register("dup", "second")
	assert.Error(t, err)
}

func TestRegisterEmptyKeyFails(t *testing.T) {
	r := registry.New[string]()
	assert.Error(t, r.Register("", "x"))
}

func TestRemove(t *testing.T) {
	r := registry.New[int]()
	require.NoError(t, r.Register("a", 1))
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))

	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestExistsAndCount(t *testing.T) {
	r := registry.New[int]()
	assert.False(t, r.Exists("a"))
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))
	assert.True(t, r.Exists("a"))
	assert.Equal(t, 2, r.Count())
}

func TestList(t *testing.T) {
	r := registry.New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	items := r.List()
	assert.ElementsMatch(t, []int{1, 2}, items)
}
