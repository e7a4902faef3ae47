// Package child implements the Child state machine: one backing BlockDevice
// wrapped with lifecycle state, fault tracking, and a small error-history
// ring buffer.
package child

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexus-project/nexus/internal/bytesize"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// State is the lifecycle state of a Child.
type State int

const (
	// StateInit is the state immediately after a Child is created, before
	// its backing device has been opened.
	StateInit State = iota

	// StateConfigInvalid means the backing device was reachable but its
	// block size or capacity does not match what the Nexus requires.
	StateConfigInvalid

	// StateOpen means the backing device is open and serving I/O.
	StateOpen

	// StateClosed means the Child was gracefully removed; its device handle
	// has been released but the Child record itself is retained.
	StateClosed

	// StateDestroying means the backing device is being torn down.
	StateDestroying

	// StateFaulted means the Child has failed and is excluded from reads
	// and writes. See Reason for why.
	StateFaulted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfigInvalid:
		return "config_invalid"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDestroying:
		return "destroying"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Reason explains why a Child is Faulted.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonCantOpen
	ReasonIoError
	ReasonRebuildFailed
	ReasonTimedOut
	ReasonAdminCommandFailed
	ReasonNoSpace
	ReasonByClient
	ReasonUnknown
)

// String returns a human-readable name for the fault reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonCantOpen:
		return "cant_open"
	case ReasonIoError:
		return "io_error"
	case ReasonRebuildFailed:
		return "rebuild_failed"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonAdminCommandFailed:
		return "admin_command_failed"
	case ReasonNoSpace:
		return "no_space"
	case ReasonByClient:
		return "by_client"
	case ReasonUnknown:
		return "unknown"
	default:
		return "unrecognized"
	}
}

// errorLogCapacity bounds the in-memory error ring buffer per Child. It is a
// diagnostic aid separate from Reason, which only records the single reason
// that drove the current fault.
const errorLogCapacity = 16

// ErrorEntry is one record in a Child's error ring buffer.
type ErrorEntry struct {
	Op      string
	Message string
}

// Child wraps one backing BlockDevice with lifecycle state and fault
// tracking. A faulted Child is never picked for reads or writes but may
// still be picked as a rebuild destination.
type Child struct {
	mu sync.RWMutex

	uri    string
	device blockdevice.Device
	handle blockdevice.Handle

	state   State
	reason  Reason
	healthy bool

	errorLog    []ErrorEntry
	errorLogPos int

	rebuilding bool
}

// New creates a Child in StateInit for the given backing device URI. The
// backing device is not opened until Open is called.
func New(uri string) *Child {
	return &Child{uri: uri, state: StateInit}
}

// URI returns the child's backing-device URI.
func (c *Child) URI() string {
	return c.uri
}

// State returns the child's current lifecycle state.
func (c *Child) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Reason returns the fault reason, valid only when State() == StateFaulted.
func (c *Child) Reason() Reason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// IsHealthy reports the last-known healthy bit, as would be persisted in
// the Persistent Info record.
func (c *Child) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Open resolves the child's URI into a BlockDevice, opens a handle, and
// verifies the device offers at least parentSizeBytes at blockLen block
// size. On mismatch the child transitions to ConfigInvalid; on any other
// open failure it transitions to Faulted(CantOpen).
func (c *Child) Open(ctx context.Context, parentSizeBytes uint64, blockLen uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev, err := blockdevice.Open(ctx, c.uri)
	if err != nil {
		c.transitionLocked(StateFaulted, ReasonCantOpen)
		c.recordErrorLocked("child.Open", err.Error())
		return nexuserr.Wrap("child.Open", nexuserr.OpenChild, c.uri, err)
	}

	h, err := dev.Open(ctx, true)
	if err != nil {
		c.transitionLocked(StateFaulted, ReasonCantOpen)
		c.recordErrorLocked("child.Open", err.Error())
		return nexuserr.Wrap("child.Open", nexuserr.OpenChild, c.uri, err)
	}

	if h.BlockLen() != blockLen {
		h.Close()
		c.transitionLocked(StateConfigInvalid, ReasonNone)
		return nexuserr.New("child.Open", nexuserr.ChildGeometry,
			fmt.Sprintf("child %s block size %d does not match nexus block size %d", c.uri, h.BlockLen(), blockLen))
	}
	if h.SizeInBytes() < parentSizeBytes {
		h.Close()
		c.transitionLocked(StateConfigInvalid, ReasonNone)
		return nexuserr.New("child.Open", nexuserr.ChildGeometry,
			fmt.Sprintf("child %s has %s, nexus requires %s", c.uri,
				bytesize.ByteSize(h.SizeInBytes()), bytesize.ByteSize(parentSizeBytes)))
	}

	c.device = dev
	c.handle = h
	c.healthy = true
	c.transitionLocked(StateOpen, ReasonNone)
	return nil
}

// Close releases the backing device handle and transitions to StateClosed.
// Close is a no-op if the child is already closed or destroying.
func (c *Child) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.state == StateDestroying {
		return nil
	}
	var err error
	if c.handle != nil {
		err = c.handle.Close()
		c.handle = nil
	}
	c.transitionLocked(StateClosed, ReasonNone)
	if err != nil {
		return nexuserr.Wrap("child.Close", nexuserr.CloseChild, c.uri, err)
	}
	return nil
}

// Destroy marks the child as being torn down, then closes its handle. Once
// Destroying, a child cannot be reopened via Online.
func (c *Child) Destroy(_ context.Context) error {
	c.mu.Lock()
	c.transitionLocked(StateDestroying, ReasonNone)
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return nexuserr.Wrap("child.Destroy", nexuserr.CloseChild, c.uri, err)
	}
	return nil
}

// Fault transitions the child directly to Faulted(reason), closing its
// handle if open. Used for explicit admin faulting and I/O-path failures
// detected by the Channel or Rebuild engine.
func (c *Child) Fault(reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
	c.healthy = false
	c.transitionLocked(StateFaulted, reason)
	c.recordErrorLocked("child.Fault", reason.String())
}

// BeginRebuild opens the backing device for a Faulted or Closed child so it
// can receive writes while a Rebuild job repairs it, without making the
// child eligible for reads: the child's State remains Faulted/Closed, so
// Channel.Refresh excludes it from readers, but RebuildIOHandle becomes
// available for the writers vector. A child may be a rebuild destination
// precisely because it is not yet trustworthy for reads.
func (c *Child) BeginRebuild(ctx context.Context, parentSizeBytes uint64, blockLen uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateFaulted && c.state != StateClosed {
		return nexuserr.New("child.BeginRebuild", nexuserr.OperationNotAllowed,
			fmt.Sprintf("child %s is %s, not eligible as a rebuild destination", c.uri, c.state))
	}

	dev, err := blockdevice.Open(ctx, c.uri)
	if err != nil {
		return nexuserr.Wrap("child.BeginRebuild", nexuserr.OpenChild, c.uri, err)
	}
	h, err := dev.Open(ctx, true)
	if err != nil {
		return nexuserr.Wrap("child.BeginRebuild", nexuserr.OpenChild, c.uri, err)
	}
	if h.BlockLen() != blockLen || h.SizeInBytes() < parentSizeBytes {
		h.Close()
		return nexuserr.New("child.BeginRebuild", nexuserr.ChildGeometry,
			fmt.Sprintf("child %s geometry no longer matches nexus", c.uri))
	}

	c.device = dev
	c.handle = h
	c.rebuilding = true
	return nil
}

// EndRebuild clears the rebuild-destination flag. On success the child
// transitions Faulted/Closed -> Open since its contents are now trusted for
// reads; on failure the handle is released and the child stays faulted.
func (c *Child) EndRebuild(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rebuilding = false
	if success {
		c.healthy = true
		c.transitionLocked(StateOpen, ReasonNone)
		return
	}
	if c.handle != nil {
		_ = c.handle.Close()
		c.handle = nil
	}
	c.transitionLocked(StateFaulted, ReasonRebuildFailed)
}

// RebuildIOHandle returns the handle opened by BeginRebuild, or nil if the
// child is not currently a rebuild destination.
func (c *Child) RebuildIOHandle() blockdevice.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.rebuilding {
		return nil
	}
	return c.handle
}

// RecordIOError appends a diagnostic entry to the child's error log without
// necessarily transitioning state; callers that intend a fault transition
// must still call Fault.
func (c *Child) RecordIOError(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordErrorLocked(op, err.Error())
}

// Online reopens a Closed child, transitioning Closed -> Open on success. A
// child explicitly faulted ByClient can only leave the faulted state
// through Online; any other Faulted reason is also clearable this way,
// mirroring the "online command clears ByClient" rule generalized to all
// fault reasons since the effect — an explicit operator-driven retry — is
// the same.
func (c *Child) Online(ctx context.Context, parentSizeBytes uint64, blockLen uint32) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state == StateDestroying {
		return nexuserr.New("child.Online", nexuserr.OperationNotAllowed,
			fmt.Sprintf("child %s is destroying, cannot online", c.uri))
	}
	if state == StateOpen {
		return nil
	}

	err := c.Open(ctx, parentSizeBytes, blockLen)
	if err != nil {
		logger.Error("child online failed", logger.ChildURI(c.uri), logger.Err(err))
		return err
	}
	return nil
}

// GetDevice returns the underlying blockdevice.Device, or nil if never
// opened.
func (c *Child) GetDevice() blockdevice.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// GetIOHandle returns the open blockdevice.Handle, or nil if the child is
// not in StateOpen.
func (c *Child) GetIOHandle() blockdevice.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen {
		return nil
	}
	return c.handle
}

// ErrorLog returns a snapshot of the child's recent diagnostic entries,
// oldest first.
func (c *Child) ErrorLog() []ErrorEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ErrorEntry, 0, len(c.errorLog))
	out = append(out, c.errorLog[c.errorLogPos:]...)
	out = append(out, c.errorLog[:c.errorLogPos]...)
	return out
}

func (c *Child) transitionLocked(next State, reason Reason) {
	c.state = next
	c.reason = reason
	if next == StateFaulted {
		c.healthy = false
	}
}

func (c *Child) recordErrorLocked(op, message string) {
	entry := ErrorEntry{Op: op, Message: message}
	if len(c.errorLog) < errorLogCapacity {
		c.errorLog = append(c.errorLog, entry)
		return
	}
	c.errorLog[c.errorLogPos] = entry
	c.errorLogPos = (c.errorLogPos + 1) % errorLogCapacity
}
