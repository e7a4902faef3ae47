package nexus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/internal/child"
	. "github.com/nexus-project/nexus/internal/nexus"
	"github.com/nexus-project/nexus/internal/rebuild"
	"github.com/nexus-project/nexus/pkg/persist/memory"

	_ "github.com/nexus-project/nexus/pkg/blockdevice/memory"
)

type fakeSubsystem struct {
	published bool
}

func (f *fakeSubsystem) Pause(context.Context) error  { return nil }
func (f *fakeSubsystem) Resume(context.Context) error { return nil }
func (f *fakeSubsystem) Publish(_ context.Context, id uuid.UUID, protocol ShareProtocol, _ []string, _ string) (string, error) {
	f.published = true
	return fmt.Sprintf("nvmf+tcp://test/nexus-%s", id), nil
}
func (f *fakeSubsystem) Unpublish(context.Context) error {
	f.published = false
	return nil
}

func newTestOpts(t *testing.T, uris ...string) CreateOptions {
	t.Helper()
	return CreateOptions{
		Name:      fmt.Sprintf("nexus-%s", t.Name()),
		UUID:      uuid.New(),
		SizeBytes: 1 * 1024 * 1024,
		ChildURIs: uris,
		Store:     memory.New(),
		Subsystem: &fakeSubsystem{},
	}
}

func malloc(name string) string {
	return fmt.Sprintf("malloc:///%s?size_mb=4&blk_size=512", name)
}

func TestCreateOpensChildrenAndGoesOnline(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("c0"), malloc("c1")))
	require.NoError(t, err)

	assert.Equal(t, StatusOnline, nx.Status())
	assert.Len(t, nx.Children(), 2)
	assert.Equal(t, 2, nx.Channel(0).NumReaders())
	assert.Equal(t, 2, nx.Channel(0).NumWriters())
}

func TestCreateRequiresAtLeastOneChild(t *testing.T) {
	ctx := context.Background()
	_, err := Create(ctx, newTestOpts(t))
	assert.Error(t, err)
}

func TestAddChildDegradesOnlineNexus(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("a0")))
	require.NoError(t, err)
	require.Equal(t, StatusOnline, nx.Status())

	_, err = nx.AddChild(ctx, malloc("a1"))
	require.NoError(t, err)

	assert.Len(t, nx.Children(), 2)
	assert.Equal(t, StatusOnline, nx.Status()) // both open children; still online
}

func TestAddChildThenRemoveChildLeavesSetUnchanged(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("b0")))
	require.NoError(t, err)

	uri := malloc("b1")
	_, err = nx.AddChild(ctx, uri)
	require.NoError(t, err)
	require.Len(t, nx.Children(), 2)

	require.NoError(t, nx.RemoveChild(ctx, uri))
	assert.Len(t, nx.Children(), 1)
}

func TestRemoveChildRefusesLastOpenChild(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("c0")))
	require.NoError(t, err)

	err = nx.RemoveChild(ctx, malloc("c0"))
	assert.Error(t, err)
}

func TestRemoveChildRefusesLastHealthyChild(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("d0"), malloc("d1")))
	require.NoError(t, err)

	children := nx.Children()
	require.NoError(t, nx.FaultChild(ctx, children[1].URI(), child.ReasonIoError))

	err = nx.RemoveChild(ctx, children[0].URI())
	assert.Error(t, err)
}

func TestOfflineThenOnlineChildReopens(t *testing.T) {
	ctx := context.Background()
	uri := malloc("e0")
	nx, err := Create(ctx, newTestOpts(t, uri, malloc("e1")))
	require.NoError(t, err)

	require.NoError(t, nx.OfflineChild(ctx, uri))
	for _, c := range nx.Children() {
		if c.URI() == uri {
			assert.Equal(t, child.StateClosed, c.State())
		}
	}
	assert.Equal(t, StatusDegraded, nx.Status())

	_, err = nx.OnlineChild(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, nx.Status())
}

func TestFaultChildRefusesFaultingLastHealthy(t *testing.T) {
	ctx := context.Background()
	uri := malloc("f0")
	nx, err := Create(ctx, newTestOpts(t, uri))
	require.NoError(t, err)

	err = nx.FaultChild(ctx, uri, child.ReasonIoError)
	assert.Error(t, err)
}

func TestPublishIdempotentSameProtocol(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("g0")))
	require.NoError(t, err)

	uri1, err := nx.Publish(ctx, ShareNvmfTCP, nil, "")
	require.NoError(t, err)
	uri2, err := nx.Publish(ctx, ShareNvmfTCP, nil, "")
	require.NoError(t, err)
	assert.Equal(t, uri1, uri2)
}

func TestPublishDifferentProtocolFailsAlreadyShared(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("h0")))
	require.NoError(t, err)

	_, err = nx.Publish(ctx, ShareNvmfTCP, nil, "")
	require.NoError(t, err)
	_, err = nx.Publish(ctx, ShareNvmfRDMA, nil, "")
	assert.Error(t, err)
}

func TestUnpublishIsAlwaysSafe(t *testing.T) {
	ctx := context.Background()
	nx, err := Create(ctx, newTestOpts(t, malloc("i0")))
	require.NoError(t, err)
	assert.NoError(t, nx.Unpublish(ctx))
}

func TestResizeFailsWhenChildTooSmall(t *testing.T) {
	ctx := context.Background()
	opts := newTestOpts(t, malloc("j0"))
	opts.SizeBytes = 1 * 1024 * 1024
	nx, err := Create(ctx, opts)
	require.NoError(t, err)

	err = nx.Resize(ctx, 8*1024*1024)
	assert.Error(t, err)
	assert.Equal(t, uint64(1*1024*1024), nx.SizeBytes())
}

func TestDestroyMarksCleanShutdown(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	opts := newTestOpts(t, malloc("k0"))
	opts.Store = store
	nx, err := Create(ctx, opts)
	require.NoError(t, err)

	id := nx.UUID()
	require.NoError(t, nx.Destroy(ctx))
	assert.Equal(t, StatusShutdown, nx.Status())

	info, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.CleanShutdown)
}

func TestStartRebuildMarksDestinationHealthyOnCompletion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	dst := malloc("l1")
	opts := newTestOpts(t, malloc("l0"), dst)
	opts.Store = store
	nx, err := Create(ctx, opts)
	require.NoError(t, err)

	require.NoError(t, nx.OfflineChild(ctx, dst))

	job, err := nx.StartRebuild(ctx, dst, rebuild.Full, nil)
	require.NoError(t, err)

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild did not complete in time")
	}
	require.Equal(t, rebuild.Completed, job.State())

	// Completion hook runs in a background goroutine after Done() closes;
	// give it a moment to persist and refresh before asserting.
	require.Eventually(t, func() bool {
		for _, c := range nx.Children() {
			if c.URI() == dst {
				return c.State() == child.StateOpen && c.IsHealthy()
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, StatusOnline, nx.Status())
}

func TestWriteAtFaultsChildOnNoSpaceAndDegradesNexus(t *testing.T) {
	ctx := context.Background()
	fullURI := "malloc:///n0?size_mb=2&blk_size=512"
	thinURI := "malloc:///n1?size_mb=2&real_mb=1&blk_size=512"

	opts := newTestOpts(t, fullURI, thinURI)
	opts.SizeBytes = 2 * 1024 * 1024
	nx, err := Create(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, StatusOnline, nx.Status())

	firstWrite := make([]byte, 512*1024) // 512 KiB, well under the thin child's 1 MiB real capacity
	require.NoError(t, nx.WriteAt(ctx, 0, firstWrite))
	require.Equal(t, StatusOnline, nx.Status())

	secondWrite := make([]byte, 768*1024) // offset 512KiB + 768KiB = 1280KiB, past the thin child's 1MiB
	err = nx.WriteAt(ctx, 512*1024, secondWrite)
	require.Error(t, err)

	assert.Equal(t, StatusDegraded, nx.Status())
	for _, c := range nx.Children() {
		if c.URI() == thinURI {
			assert.Equal(t, child.StateFaulted, c.State())
			assert.Equal(t, child.ReasonNoSpace, c.Reason())
		}
		if c.URI() == fullURI {
			assert.Equal(t, child.StateOpen, c.State(), "the non-thin mirror member must still be healthy")
		}
	}
}

func TestStartRebuildFailsWhenJobAlreadyExists(t *testing.T) {
	ctx := context.Background()
	dst := malloc("m1")
	nx, err := Create(ctx, newTestOpts(t, malloc("m0"), dst))
	require.NoError(t, err)
	require.NoError(t, nx.OfflineChild(ctx, dst))

	_, err = nx.StartRebuild(ctx, dst, rebuild.Full, nil)
	require.NoError(t, err)

	_, err = nx.StartRebuild(ctx, dst, rebuild.Full, nil)
	assert.Error(t, err)
}
