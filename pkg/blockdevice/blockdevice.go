// Package blockdevice provides the uniform BlockDevice abstraction the rest
// of the Nexus core builds on: a handle over a local or remote block device
// that supports aligned reads, writes, reset and flush, plus size/alignment
// introspection and stats.
//
// This package ships the abstraction and a scheme registry (component A of
// the core specification) but deliberately does not ship production
// aio/uring/nvmf drivers — those per-backend URI parsers are explicitly out
// of scope. The memory and s3 sub-packages are test/demo fixtures that
// exercise the same interface a real driver would implement.
package blockdevice

import (
	"context"
	"fmt"

	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// IoType enumerates the kinds of I/O a BlockDevice may be asked whether it
// supports.
type IoType int

const (
	IoRead IoType = iota
	IoWrite
	IoFlush
	IoReset
	IoUnmap
)

// IoStats captures cumulative per-device I/O counters.
type IoStats struct {
	NumReadOps    uint64
	NumWriteOps   uint64
	BytesRead     uint64
	BytesWritten  uint64
	NumReadErrors uint64
	NumWriteErrors uint64
}

// Handle is an open, per-executor reference to a BlockDevice. The core
// assumes handles are not shared across executors unless the backing driver
// declares Movable.
type Handle interface {
	// ReadAt reads len(buf) bytes starting at the given byte offset. offset
	// and len(buf) MUST both be multiples of BlockLen(), else InvalidOffset
	// is returned and no I/O is issued.
	ReadAt(ctx context.Context, offset uint64, buf []byte) error

	// WriteAt writes buf at the given byte offset, subject to the same
	// alignment rule as ReadAt.
	WriteAt(ctx context.Context, offset uint64, buf []byte) error

	// Reset resets the device (e.g. an NVMe controller reset).
	Reset(ctx context.Context) error

	// Flush forces any buffered writes to stable storage.
	Flush(ctx context.Context) error

	// SizeInBytes returns the usable capacity of the device.
	SizeInBytes() uint64

	// BlockLen returns the device's logical block size in bytes.
	BlockLen() uint32

	// NumBlocks returns SizeInBytes() / BlockLen().
	NumBlocks() uint64

	// Alignment returns the required DMA buffer alignment in bytes.
	Alignment() uint32

	// IoTypeSupported reports whether the device supports a given I/O kind.
	IoTypeSupported(kind IoType) bool

	// Stats returns a snapshot of cumulative I/O counters.
	Stats() IoStats

	// Close releases the handle. The underlying device may remain open for
	// other handles.
	Close() error
}

// Device is the capability a backend driver registers under a URI scheme:
// it knows how to open itself into a per-executor Handle.
type Device interface {
	// Open opens a new handle. readWrite selects O_RDWR vs O_RDONLY
	// semantics; child handles are opened read-write, while the Nexus's
	// block-length probe opens read-only.
	Open(ctx context.Context, readWrite bool) (Handle, error)

	// URI returns the canonical URI this device was opened from.
	URI() string
}

// Opener constructs a Device from a parsed URI. Backends register an
// Opener under their scheme via Register.
type Opener func(ctx context.Context, rawURI string) (Device, error)

var openers = map[string]Opener{}

// Register associates a URI scheme (e.g. "malloc") with an Opener. Intended
// to be called from backend package init() functions.
func Register(scheme string, open Opener) {
	openers[scheme] = open
}

// Open parses rawURI's scheme and dispatches to the registered Opener.
// Returns OpenChild if the scheme is unknown.
func Open(ctx context.Context, rawURI string) (Device, error) {
	scheme, err := SchemeOf(rawURI)
	if err != nil {
		return nil, err
	}
	open, ok := openers[scheme]
	if !ok {
		return nil, nexuserr.New("blockdevice.Open", nexuserr.OpenChild,
			fmt.Sprintf("no backend registered for scheme %q", scheme))
	}
	dev, err := open(ctx, rawURI)
	if err != nil {
		return nil, nexuserr.Wrap("blockdevice.Open", nexuserr.OpenChild, rawURI, err)
	}
	return dev, nil
}

// ValidBlockSizes are the only block sizes the core accepts, per the
// external-interface contract: blk_size MUST be 512 or 4096.
var ValidBlockSizes = map[uint32]bool{512: true, 4096: true}

// IsAligned reports whether offset and length are both multiples of
// blockLen.
func IsAligned(offset uint64, length int, blockLen uint32) bool {
	if blockLen == 0 {
		return false
	}
	bl := uint64(blockLen)
	return offset%bl == 0 && uint64(length)%bl == 0
}
