package rebuild_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/rebuild"

	_ "github.com/nexus-project/nexus/pkg/blockdevice/memory"
)

func TestSelectSourcePrefersLocal(t *testing.T) {
	ctx := context.Background()
	remote := child.New("s3://bucket/key?blk_size=512&size_mb=1")
	local := child.New("malloc:///local?size_mb=1&blk_size=512")
	dest := child.New("malloc:///dest?size_mb=1&blk_size=512")

	require.NoError(t, local.Open(ctx, 1024*1024, 512))
	require.NoError(t, dest.Open(ctx, 1024*1024, 512))
	// remote left unopened deliberately; only its URI scheme matters here,
	// and an unopened child is unhealthy so this also covers the
	// healthy-only filter.

	src, err := rebuild.SelectSource([]*child.Child{remote, local, dest}, dest)
	require.NoError(t, err)
	assert.Equal(t, local.URI(), src.URI())
}

func TestSelectSourceSkipsFaultedCandidate(t *testing.T) {
	ctx := context.Background()
	remote1 := child.New("malloc:///remote1?size_mb=1&blk_size=512")
	remote2 := child.New("malloc:///remote2?size_mb=1&blk_size=512")
	dest := child.New("malloc:///dest2?size_mb=1&blk_size=512")

	// Every child here is "malloc", which counts as local, so remote2 is
	// picked by the local-preference branch; this checks that a faulted
	// candidate (remote1) is skipped, not the non-local fallback branch.
	require.NoError(t, remote1.Open(ctx, 1024*1024, 512))
	remote1.Fault(child.ReasonIoError)
	require.NoError(t, remote2.Open(ctx, 1024*1024, 512))
	require.NoError(t, dest.Open(ctx, 1024*1024, 512))

	src, err := rebuild.SelectSource([]*child.Child{remote1, remote2, dest}, dest)
	require.NoError(t, err)
	assert.Equal(t, remote2.URI(), src.URI())
}

func TestSelectSourceSkipsDestinationItself(t *testing.T) {
	ctx := context.Background()
	dest := child.New("malloc:///onlydest?size_mb=1&blk_size=512")
	require.NoError(t, dest.Open(ctx, 1024*1024, 512))

	_, err := rebuild.SelectSource([]*child.Child{dest}, dest)
	require.Error(t, err)
}

func TestSelectSourceFailsWhenNoHealthyCandidate(t *testing.T) {
	ctx := context.Background()
	dest := child.New("malloc:///dest3?size_mb=1&blk_size=512")
	unhealthy := child.New("malloc:///unhealthy?size_mb=1&blk_size=512")

	require.NoError(t, dest.Open(ctx, 1024*1024, 512))
	require.NoError(t, unhealthy.Open(ctx, 1024*1024, 512))
	unhealthy.Fault(child.ReasonIoError)

	_, err := rebuild.SelectSource([]*child.Child{dest, unhealthy}, dest)
	require.Error(t, err)
}
