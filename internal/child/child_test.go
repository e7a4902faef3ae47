package child_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/pkg/nexuserr"

	_ "github.com/nexus-project/nexus/pkg/blockdevice/memory"
)

func TestOpenTransitionsToOpen(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///a?size_mb=1&blk_size=512")

	require.NoError(t, c.Open(ctx, 1024*1024, 512))
	assert.Equal(t, child.StateOpen, c.State())
	assert.True(t, c.IsHealthy())
	assert.NotNil(t, c.GetIOHandle())
}

func TestOpenRejectsUndersizedDevice(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///b?size_mb=1&blk_size=512")

	err := c.Open(ctx, 2*1024*1024, 512)
	require.Error(t, err)
	assert.Equal(t, child.StateConfigInvalid, c.State())

	code, ok := nexuserr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, nexuserr.ChildGeometry, code)
}

func TestOpenRejectsMismatchedBlockSize(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///c?size_mb=1&blk_size=512")

	err := c.Open(ctx, 1024*1024, 4096)
	require.Error(t, err)
	assert.Equal(t, child.StateConfigInvalid, c.State())
}

func TestOpenFailureFaultsWithCantOpen(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///d?bogus=1")

	err := c.Open(ctx, 1024, 512)
	require.Error(t, err)
	assert.Equal(t, child.StateFaulted, c.State())
	assert.Equal(t, child.ReasonCantOpen, c.Reason())
	assert.False(t, c.IsHealthy())
	assert.Len(t, c.ErrorLog(), 1)
}

func TestFaultClosesHandleAndRecordsReason(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///e?size_mb=1&blk_size=512")
	require.NoError(t, c.Open(ctx, 1024*1024, 512))

	c.Fault(child.ReasonIoError)
	assert.Equal(t, child.StateFaulted, c.State())
	assert.Equal(t, child.ReasonIoError, c.Reason())
	assert.Nil(t, c.GetIOHandle())
}

func TestCloseThenOnlineReopens(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///f?size_mb=1&blk_size=512")
	require.NoError(t, c.Open(ctx, 1024*1024, 512))
	require.NoError(t, c.Close())
	assert.Equal(t, child.StateClosed, c.State())

	require.NoError(t, c.Online(ctx, 1024*1024, 512))
	assert.Equal(t, child.StateOpen, c.State())
}

func TestOnlineRejectsDestroying(t *testing.T) {
	ctx := context.Background()
	c := child.New("malloc:///g?size_mb=1&blk_size=512")
	require.NoError(t, c.Open(ctx, 1024*1024, 512))
	require.NoError(t, c.Destroy(ctx))

	err := c.Online(ctx, 1024*1024, 512)
	require.Error(t, err)
}

func TestErrorLogWrapsAtCapacity(t *testing.T) {
	c := child.New("malloc:///h")
	for i := 0; i < 32; i++ {
		c.RecordIOError("test", assert.AnError)
	}
	assert.Len(t, c.ErrorLog(), 16)
}

func TestGetIOHandleNilWhenNotOpen(t *testing.T) {
	c := child.New("malloc:///i?size_mb=1&blk_size=512")
	assert.Nil(t, c.GetIOHandle())
}
