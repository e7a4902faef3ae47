package iogate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/internal/iogate"
)

type fakeSubsystem struct {
	mu          sync.Mutex
	pauseCalls  int
	resumeCalls int
	pauseErr    error
	resumeErr   error
}

func (f *fakeSubsystem) Pause(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return f.pauseErr
}

func (f *fakeSubsystem) Resume(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	return f.resumeErr
}

func (f *fakeSubsystem) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseCalls, f.resumeCalls
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	sub := &fakeSubsystem{}
	g := iogate.New("nexus0", sub)

	require.NoError(t, g.Suspend(context.Background()))
	assert.Equal(t, iogate.Paused, g.State())
	assert.Equal(t, uint32(1), g.PauseCount())

	require.NoError(t, g.Resume(context.Background()))
	assert.Equal(t, iogate.Unpaused, g.State())

	pauses, resumes := sub.counts()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)
}

func TestNestedSuspendRefcounts(t *testing.T) {
	sub := &fakeSubsystem{}
	g := iogate.New("nexus1", sub)

	require.NoError(t, g.Suspend(context.Background()))
	require.NoError(t, g.Suspend(context.Background()))
	assert.Equal(t, uint32(2), g.PauseCount())

	require.NoError(t, g.Resume(context.Background()))
	assert.Equal(t, iogate.Paused, g.State(), "subsystem stays paused until the last Resume")

	require.NoError(t, g.Resume(context.Background()))
	assert.Equal(t, iogate.Unpaused, g.State())

	pauses, resumes := sub.counts()
	assert.Equal(t, 1, pauses, "subsystem Pause physically invoked exactly once")
	assert.Equal(t, 1, resumes, "subsystem Resume physically invoked exactly once")
}

func TestResumeOnAlreadyUnpausedIsNoOp(t *testing.T) {
	g := iogate.New("nexus2", nil)
	require.NoError(t, g.Resume(context.Background()))
	assert.Equal(t, iogate.Unpaused, g.State())
}

func TestConcurrentSuspendSerializes(t *testing.T) {
	sub := &fakeSubsystem{}
	g := iogate.New("nexus3", sub)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, g.Suspend(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(n), g.PauseCount())
	pauses, _ := sub.counts()
	assert.Equal(t, 1, pauses, "concurrent suspends must physically pause exactly once")

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Resume(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, iogate.Unpaused, g.State())
}

func TestSuspendWithoutSubsystemStillSerializes(t *testing.T) {
	g := iogate.New("nexus4", nil)
	require.NoError(t, g.Suspend(context.Background()))
	assert.Equal(t, iogate.Paused, g.State())
	require.NoError(t, g.Resume(context.Background()))
	assert.Equal(t, iogate.Unpaused, g.State())
}

func TestSuspendPropagatesSubsystemError(t *testing.T) {
	sub := &fakeSubsystem{pauseErr: assert.AnError}
	g := iogate.New("nexus5", sub)

	err := g.Suspend(context.Background())
	require.Error(t, err)
	assert.Equal(t, iogate.Unpaused, g.State(), "a failed pause must roll back to Unpaused")
}

func TestSuspendContextCancelWhileQueued(t *testing.T) {
	slow := &blockingSubsystem{release: make(chan struct{})}
	g := iogate.New("nexus6", slow)

	go func() { _ = g.Suspend(context.Background()) }()
	// give the first suspend time to enter Pausing
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Suspend(ctx)
	require.Error(t, err)

	close(slow.release)
}

type blockingSubsystem struct {
	release chan struct{}
}

func (b *blockingSubsystem) Pause(_ context.Context) error {
	<-b.release
	return nil
}

func (b *blockingSubsystem) Resume(_ context.Context) error { return nil }
