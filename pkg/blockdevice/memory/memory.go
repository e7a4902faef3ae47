// Package memory implements an in-memory blockdevice.Device, registered
// under the "malloc" scheme. It exists purely as a test and demo fixture —
// the real aio/uring/nvmf backends are out of this core's scope. An
// optional real_mb query parameter lets a malloc:// URI simulate a thin
// replica: size_mb is the logical size a Nexus sees, real_mb is the
// backing pool capacity actually available, and a write that would push
// the high-water mark past real_mb fails with NoSpace instead of
// succeeding, without otherwise changing the device's declared geometry.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

func init() {
	blockdevice.Register("malloc", open)
}

// Device is an in-memory block device sized and named by its malloc:// URI.
type Device struct {
	uri       string
	name      string
	blockLen  uint32
	numBlocks uint64
	realBytes uint64 // backing capacity; equals len(data) unless real_mb was set

	mu   sync.RWMutex
	data []byte
}

func open(_ context.Context, rawURI string) (blockdevice.Device, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	if err := blockdevice.RejectUnknownParams(q, "size_mb", "real_mb", "blk_size", "uuid"); err != nil {
		return nil, err
	}

	blockLen := uint32(4096)
	if raw := q.Get("blk_size"); raw != "" {
		blockLen, err = blockdevice.ParseBlockSize(raw)
		if err != nil {
			return nil, err
		}
	}

	sizeMB := uint64(64)
	if raw := q.Get("size_mb"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &sizeMB); err != nil {
			return nil, nexuserr.Wrap("memory.open", nexuserr.InvalidArguments, raw, err)
		}
	}

	sizeBytes := sizeMB * 1024 * 1024
	numBlocks := sizeBytes / uint64(blockLen)

	realBytes := sizeBytes
	if raw := q.Get("real_mb"); raw != "" {
		var realMB uint64
		if _, err := fmt.Sscanf(raw, "%d", &realMB); err != nil {
			return nil, nexuserr.Wrap("memory.open", nexuserr.InvalidArguments, raw, err)
		}
		realBytes = realMB * 1024 * 1024
	}

	name := u.Host
	if name == "" {
		name = u.Path
	}

	return &Device{
		uri:       rawURI,
		name:      name,
		blockLen:  blockLen,
		numBlocks: numBlocks,
		realBytes: realBytes,
		data:      make([]byte, numBlocks*uint64(blockLen)),
	}, nil
}

func (d *Device) URI() string { return d.uri }

func (d *Device) Open(_ context.Context, _ bool) (blockdevice.Handle, error) {
	return &handle{dev: d}, nil
}

type handle struct {
	dev    *Device
	closed atomic.Bool
	stats  struct {
		readOps, writeOps, bytesRead, bytesWritten, readErrs, writeErrs atomic.Uint64
	}
}

func (h *handle) ReadAt(_ context.Context, offset uint64, buf []byte) error {
	if h.closed.Load() {
		return nexuserr.New("memory.ReadAt", nexuserr.ReadIoError, "handle closed")
	}
	if !blockdevice.IsAligned(offset, len(buf), h.dev.blockLen) {
		h.stats.readErrs.Add(1)
		return nexuserr.New("memory.ReadAt", nexuserr.InvalidOffset, "offset/length not block-aligned")
	}
	h.dev.mu.RLock()
	defer h.dev.mu.RUnlock()
	if offset+uint64(len(buf)) > uint64(len(h.dev.data)) {
		h.stats.readErrs.Add(1)
		return nexuserr.New("memory.ReadAt", nexuserr.ReadIoError, "read past end of device")
	}
	copy(buf, h.dev.data[offset:offset+uint64(len(buf))])
	h.stats.readOps.Add(1)
	h.stats.bytesRead.Add(uint64(len(buf)))
	return nil
}

func (h *handle) WriteAt(_ context.Context, offset uint64, buf []byte) error {
	if h.closed.Load() {
		return nexuserr.New("memory.WriteAt", nexuserr.WriteIoError, "handle closed")
	}
	if !blockdevice.IsAligned(offset, len(buf), h.dev.blockLen) {
		h.stats.writeErrs.Add(1)
		return nexuserr.New("memory.WriteAt", nexuserr.InvalidOffset, "offset/length not block-aligned")
	}
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	if offset+uint64(len(buf)) > uint64(len(h.dev.data)) {
		h.stats.writeErrs.Add(1)
		return nexuserr.New("memory.WriteAt", nexuserr.WriteIoError, "write past end of device")
	}
	if offset+uint64(len(buf)) > h.dev.realBytes {
		h.stats.writeErrs.Add(1)
		return nexuserr.New("memory.WriteAt", nexuserr.NoSpace, "thin device exhausted its backing pool capacity")
	}
	copy(h.dev.data[offset:offset+uint64(len(buf))], buf)
	h.stats.writeOps.Add(1)
	h.stats.bytesWritten.Add(uint64(len(buf)))
	return nil
}

func (h *handle) Reset(_ context.Context) error { return nil }
func (h *handle) Flush(_ context.Context) error { return nil }

func (h *handle) SizeInBytes() uint64 { return uint64(len(h.dev.data)) }
func (h *handle) BlockLen() uint32    { return h.dev.blockLen }
func (h *handle) NumBlocks() uint64   { return h.dev.numBlocks }
func (h *handle) Alignment() uint32   { return h.dev.blockLen }

func (h *handle) IoTypeSupported(kind blockdevice.IoType) bool {
	switch kind {
	case blockdevice.IoRead, blockdevice.IoWrite, blockdevice.IoFlush, blockdevice.IoReset:
		return true
	default:
		return false
	}
}

func (h *handle) Stats() blockdevice.IoStats {
	return blockdevice.IoStats{
		NumReadOps:     h.stats.readOps.Load(),
		NumWriteOps:    h.stats.writeOps.Load(),
		BytesRead:      h.stats.bytesRead.Load(),
		BytesWritten:   h.stats.bytesWritten.Load(),
		NumReadErrors:  h.stats.readErrs.Load(),
		NumWriteErrors: h.stats.writeErrs.Load(),
	}
}

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}
