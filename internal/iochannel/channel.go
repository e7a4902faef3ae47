// Package iochannel implements the per-executor I/O Channel: two parallel
// vectors of open device handles (readers, writers) plus a rotating cursor
// for read selection, protected by a read-write lock so reads don't block
// each other while a refresh rebuilds the vectors.
package iochannel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/internal/rangelock"
	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/metrics"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// frontendTaskID identifies front-end writes to the range lock. All
// front-end writers across every Channel share it: concurrent front-end
// writes are never meant to exclude each other, only to exclude a rebuild
// copy of the same range, so a single shared, re-entrant task id is
// sufficient.
const frontendTaskID = "channel.frontend"

// entry pairs a Child with the handle the Channel acquired from it, so a
// mid-flight I/O failure can report back which child to fault.
type entry struct {
	child  *child.Child
	handle blockdevice.Handle
}

// Channel is the per-executor state a Nexus's data path reads and writes
// through. It is rebuilt wholesale on every Refresh; callers never mutate
// readers/writers directly.
type Channel struct {
	mu      sync.RWMutex
	readers []entry
	writers []entry
	cursor  atomic.Uint64

	blockLen uint32
	locker   *rangelock.Locker

	metrics *metrics.ChannelMetrics
}

// New returns an empty Channel for a Nexus with the given block length,
// sharing locker with the Nexus's rebuild engine so front-end writes and
// rebuild segment copies take the same LBA range lock. locker may be nil,
// in which case WriteAt skips locking entirely. Call Refresh to populate it
// from a child set.
func New(blockLen uint32, locker *rangelock.Locker) *Channel {
	return &Channel{blockLen: blockLen, locker: locker, metrics: metrics.NewChannelMetrics()}
}

// Refresh atomically rebuilds the channel's readers and writers vectors
// from the current child set. readers is built from children in
// child.StateOpen; writers is readers plus any child named in
// rebuildTargets (a child currently being rebuilt still receives writes so
// its contents stay fresh, but does not serve reads).
//
// On handle-acquisition failure the offending child is faulted with
// ReasonCantOpen before the channel is published, matching the
// construction-time contract: a channel never publishes a handle it could
// not acquire.
func (ch *Channel) Refresh(ctx context.Context, children []*child.Child, rebuildTargets map[string]bool) {
	readers := make([]entry, 0, len(children))
	writers := make([]entry, 0, len(children))

	for _, c := range children {
		if c.State() != child.StateOpen {
			continue
		}
		h := c.GetIOHandle()
		if h == nil {
			c.Fault(child.ReasonCantOpen)
			logger.Warn("channel refresh: child has no io handle, faulting",
				logger.ChildURI(c.URI()))
			continue
		}
		e := entry{child: c, handle: h}
		readers = append(readers, e)
		writers = append(writers, e)
	}

	for _, c := range children {
		if c.State() == child.StateOpen {
			continue // already added above
		}
		if !rebuildTargets[c.URI()] {
			continue
		}
		h := c.RebuildIOHandle()
		if h == nil {
			continue
		}
		writers = append(writers, entry{child: c, handle: h})
	}

	ch.mu.Lock()
	ch.readers = readers
	ch.writers = writers
	ch.cursor.Store(0)
	ch.mu.Unlock()
	ch.metrics.RecordRefresh()
}

// NumReaders returns the current reader count.
func (ch *Channel) NumReaders() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.readers)
}

// NumWriters returns the current writer count.
func (ch *Channel) NumWriters() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.writers)
}

// ReadAt services a read from the next reader in round-robin order. The
// cursor advances regardless of success, so a failing reader does not
// monopolize subsequent reads. Returns NoReader if there are no readers.
func (ch *Channel) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	ch.mu.RLock()
	readers := ch.readers
	ch.mu.RUnlock()

	if len(readers) == 0 {
		ch.metrics.ObserveRead(0, 0, 0, "no_reader")
		return nexuserr.New("channel.ReadAt", nexuserr.NoReader, "no readers available")
	}

	idx := ch.cursor.Add(1) % uint64(len(readers))
	e := readers[idx]

	start := time.Now()
	if err := e.handle.ReadAt(ctx, offset, buf); err != nil {
		e.child.RecordIOError("channel.ReadAt", err)
		ch.metrics.ObserveRead(int(idx), 0, time.Since(start), "error")
		return nexuserr.Wrap("channel.ReadAt", nexuserr.ReadIoError, e.child.URI(), err)
	}
	ch.metrics.ObserveRead(int(idx), int64(len(buf)), time.Since(start), "ok")
	return nil
}

// WriteResult reports the outcome of a fanned-out write against one writer.
type WriteResult struct {
	Child *child.Child
	Err   error
}

// WriteAt locks the block range [offset/blockLen, offset/blockLen+len/blockLen)
// against the Nexus's rebuild engine, then fans the write out to every
// writer and waits for all of them to complete. It returns nil only if
// every writer succeeded; otherwise it returns the first error alongside
// the per-writer results, and it is the caller's (the Nexus's)
// responsibility to fault every child whose WriteResult carries an error.
func (ch *Channel) WriteAt(ctx context.Context, offset uint64, buf []byte) ([]WriteResult, error) {
	ch.mu.RLock()
	writers := ch.writers
	ch.mu.RUnlock()

	if len(writers) == 0 {
		ch.metrics.ObserveWrite(0, 0, "no_writer")
		return nil, nexuserr.New("channel.WriteAt", nexuserr.NoWriter, "no writers available")
	}

	if ch.locker != nil {
		lockStart := offset / uint64(ch.blockLen)
		lockLength := uint64(len(buf)) / uint64(ch.blockLen)
		if lockLength == 0 {
			lockLength = 1
		}
		if err := ch.locker.Lock(ctx, frontendTaskID, lockStart, lockLength); err != nil {
			return nil, nexuserr.Wrap("channel.WriteAt", nexuserr.RangeLock, "frontend", err)
		}
		defer ch.locker.Unlock(frontendTaskID, lockStart, lockLength)
	}

	start := time.Now()
	results := make([]WriteResult, len(writers))
	var wg sync.WaitGroup
	wg.Add(len(writers))
	for i, e := range writers {
		go func(i int, e entry) {
			defer wg.Done()
			err := e.handle.WriteAt(ctx, offset, buf)
			results[i] = WriteResult{Child: e.child, Err: err}
		}(i, e)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			r.Child.RecordIOError("channel.WriteAt", r.Err)
			if firstErr == nil {
				firstErr = nexuserr.Wrap("channel.WriteAt", nexuserr.WriteIoError, r.Child.URI(), r.Err)
			}
		}
	}
	if firstErr != nil {
		ch.metrics.ObserveWrite(int64(len(buf)), elapsed, "error")
	} else {
		ch.metrics.ObserveWrite(int64(len(buf)), elapsed, "ok")
	}
	return results, firstErr
}

// Flush flushes every writer and waits for all of them to complete.
func (ch *Channel) Flush(ctx context.Context) error {
	ch.mu.RLock()
	writers := ch.writers
	ch.mu.RUnlock()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, len(writers))
	wg.Add(len(writers))
	for i, e := range writers {
		go func(i int, e entry) {
			defer wg.Done()
			errs[i] = e.handle.Flush(ctx)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			ch.metrics.ObserveFlush(time.Since(start), "error")
			return err
		}
	}
	ch.metrics.ObserveFlush(time.Since(start), "ok")
	return nil
}
