package memory

import (
	"context"
	"sync/atomic"

	"github.com/nexus-project/nexus/pkg/blockdevice"
)

// FaultyHandle wraps a blockdevice.Handle and, once armed, fails every
// subsequent ReadAt/WriteAt with the configured error. Tests use it to
// simulate a replica going bad mid-rebuild or mid-write without tearing
// down the underlying device.
type FaultyHandle struct {
	blockdevice.Handle
	failReads  atomic.Bool
	failWrites atomic.Bool
	err        error
}

// NewFaultyHandle wraps h so FailReads/FailWrites can later be armed.
func NewFaultyHandle(h blockdevice.Handle, err error) *FaultyHandle {
	return &FaultyHandle{Handle: h, err: err}
}

// FailReads arms (or disarms) read failure.
func (f *FaultyHandle) FailReads(on bool) { f.failReads.Store(on) }

// FailWrites arms (or disarms) write failure.
func (f *FaultyHandle) FailWrites(on bool) { f.failWrites.Store(on) }

func (f *FaultyHandle) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	if f.failReads.Load() {
		return f.err
	}
	return f.Handle.ReadAt(ctx, offset, buf)
}

func (f *FaultyHandle) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	if f.failWrites.Load() {
		return f.err
	}
	return f.Handle.WriteAt(ctx, offset, buf)
}
