// Package nexus implements component G: the Nexus itself. It owns a
// Child set, drives the six-step dynamic reconfiguration protocol around
// every membership- or state-altering operation, persists intent through
// an infoManager, and serves front-end I/O through one or more
// internal/iochannel.Channel instances.
package nexus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/iochannel"
	"github.com/nexus-project/nexus/internal/iogate"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/internal/rangelock"
	"github.com/nexus-project/nexus/internal/rebuild"
	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

// TargetSubsystem is the NVMe-oF-shaped external collaborator a Nexus
// publishes itself through. It composes iogate.Subsystem (pause/resume)
// with the publish/unpublish surface; the wire format is out of scope.
type TargetSubsystem interface {
	iogate.Subsystem
	Publish(ctx context.Context, nexusUUID uuid.UUID, protocol ShareProtocol, allowedHosts []string, key string) (uri string, err error)
	Unpublish(ctx context.Context) error
}

// CreateOptions configures a new Nexus.
type CreateOptions struct {
	Name       string
	UUID       uuid.UUID
	SizeBytes  uint64
	ChildURIs  []string
	Store      persist.Store
	Subsystem  TargetSubsystem // optional; nil substitutes noopSubsystem: pause/resume do nothing and Publish returns a placeholder URI
	NumChannels int            // one per executor; defaults to 1
}

// Nexus is the logical mirrored volume composed of its Children.
type Nexus struct {
	// mu is the Nexus's exclusive lock: step 1 of the six-step
	// reconfiguration protocol. It is held across validation and channel
	// refresh but dropped before the persistence call and gate resume: by
	// then the Channel refresh has already broadcast a consistent snapshot,
	// so releasing the lock early never exposes a half-applied change.
	mu sync.Mutex

	uuid      uuid.UUID
	name      string
	sizeBytes uint64
	blockLen  uint32

	children []*child.Child

	status        Status
	shareProtocol ShareProtocol
	publishedURI  string

	gate     *iogate.Gate
	channels []*iochannel.Channel
	locker   *rangelock.Locker

	subsystem TargetSubsystem
	info      *infoManager

	rebuildMu   sync.Mutex
	rebuildJobs map[string]*rebuild.Job // keyed by destination child URI

	onDestroyed func()
}

// noopSubsystem satisfies TargetSubsystem when no real NVMe-oF target is
// wired, so gate pause/resume and publish are exercised without a live
// subsystem underneath.
type noopSubsystem struct{}

func (noopSubsystem) Pause(context.Context) error  { return nil }
func (noopSubsystem) Resume(context.Context) error { return nil }
func (noopSubsystem) Publish(_ context.Context, id uuid.UUID, protocol ShareProtocol, _ []string, _ string) (string, error) {
	return fmt.Sprintf("%s:/%s:nexus-%s", protocol, "noop", id), nil
}
func (noopSubsystem) Unpublish(context.Context) error { return nil }

// Create opens every child, validates uniform block length and minimum
// capacity, writes the initial Persistent Info snapshot, and returns a
// Nexus in StatusOnline. On any failure every already-opened child is
// closed and no partial Nexus is returned.
func Create(ctx context.Context, opts CreateOptions) (*Nexus, error) {
	if opts.Name == "" || opts.UUID == uuid.Nil || opts.SizeBytes == 0 {
		return nil, nexuserr.New("nexus.Create", nexuserr.InvalidArguments, "name, uuid and size are required")
	}
	if len(opts.ChildURIs) == 0 {
		return nil, nexuserr.New("nexus.Create", nexuserr.InvalidArguments, "at least one child uri is required")
	}

	subsystem := opts.Subsystem
	if subsystem == nil {
		subsystem = noopSubsystem{}
	}
	numChannels := opts.NumChannels
	if numChannels <= 0 {
		numChannels = 1
	}

	nx := &Nexus{
		uuid:        opts.UUID,
		name:        opts.Name,
		sizeBytes:   opts.SizeBytes,
		status:      StatusInit,
		subsystem:   subsystem,
		locker:      rangelock.New(),
		info:        newInfoManager(opts.Store, opts.UUID),
		rebuildJobs: make(map[string]*rebuild.Job),
	}
	nx.gate = iogate.New(opts.Name, subsystem)

	blockLen, err := probeBlockLen(ctx, opts.ChildURIs[0])
	if err != nil {
		return nil, nexuserr.Wrap("nexus.Create", nexuserr.CreateChild, opts.ChildURIs[0], err)
	}

	nx.channels = make([]*iochannel.Channel, numChannels)
	for i := range nx.channels {
		nx.channels[i] = iochannel.New(blockLen, nx.locker)
	}

	opened := make([]*child.Child, 0, len(opts.ChildURIs))
	for _, uri := range opts.ChildURIs {
		c := child.New(uri)
		if err := c.Open(ctx, opts.SizeBytes, blockLen); err != nil {
			closeAll(opened)
			return nil, nexuserr.Wrap("nexus.Create", nexuserr.CreateChild, uri, err)
		}
		opened = append(opened, c)
	}

	nx.blockLen = blockLen
	nx.children = opened
	nx.refreshChannelsLocked(ctx)
	nx.recomputeStatusLocked()

	childInfos := make([]persist.ChildInfo, 0, len(opened))
	for _, c := range opened {
		childInfos = append(childInfos, persist.ChildInfo{UUID: childUUID(c), Healthy: true})
	}
	if err := nx.info.Create(ctx, childInfos); err != nil {
		closeAll(opened)
		return nil, err
	}

	logger.Info("nexus created", logger.NexusUUID(nx.uuid.String()), logger.NexusName(nx.name), logger.Status(nx.status.String()))
	return nx, nil
}

// probeBlockLen opens uri just long enough to learn its block length, then
// closes it. The first child in a create() call establishes the block
// length every other child (and the Nexus itself) must match.
func probeBlockLen(ctx context.Context, uri string) (uint32, error) {
	dev, err := blockdevice.Open(ctx, uri)
	if err != nil {
		return 0, err
	}
	h, err := dev.Open(ctx, false)
	if err != nil {
		return 0, err
	}
	blockLen := h.BlockLen()
	_ = h.Close()
	return blockLen, nil
}

func closeAll(children []*child.Child) {
	for _, c := range children {
		_ = c.Close()
	}
}

func childUUID(c *child.Child) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.URI()))
}

// UUID returns the Nexus's identity uuid.
func (nx *Nexus) UUID() uuid.UUID { return nx.uuid }

// Name returns the Nexus's human name.
func (nx *Nexus) Name() string { return nx.name }

// SizeBytes returns the requested logical size.
func (nx *Nexus) SizeBytes() uint64 {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	return nx.sizeBytes
}

// Status returns the current aggregate status.
func (nx *Nexus) Status() Status {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	return nx.status
}

// Children returns a snapshot slice of the Nexus's current children.
func (nx *Nexus) Children() []*child.Child {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	out := make([]*child.Child, len(nx.children))
	copy(out, nx.children)
	return out
}

// Channel returns the I/O Channel for executor index i. Callers outside a
// real executor pool may always use index 0.
func (nx *Nexus) Channel(i int) *iochannel.Channel {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	if i < 0 || i >= len(nx.channels) {
		return nil
	}
	return nx.channels[i]
}

// recomputeStatusLocked derives Status from the current child states. Must
// be called with mu held.
func (nx *Nexus) recomputeStatusLocked() {
	if nx.status == StatusShuttingDown || nx.status == StatusShutdown {
		return
	}
	open, total := 0, len(nx.children)
	for _, c := range nx.children {
		if c.State() == child.StateOpen {
			open++
		}
	}
	switch {
	case total == 0 || open == 0:
		nx.status = StatusFaulted
	case open == total:
		nx.status = StatusOnline
	default:
		nx.status = StatusDegraded
	}
}

// rebuildTargetsLocked returns the set of child URIs with an active
// rebuild job, for Channel.Refresh's writer-only inclusion rule.
func (nx *Nexus) rebuildTargetsLocked() map[string]bool {
	nx.rebuildMu.Lock()
	defer nx.rebuildMu.Unlock()
	targets := make(map[string]bool, len(nx.rebuildJobs))
	for uri, job := range nx.rebuildJobs {
		if !job.State().Terminal() {
			targets[uri] = true
		}
	}
	return targets
}

// refreshChannelsLocked broadcasts a refresh to every I/O Channel from the
// current child set. Must be called with mu held (step 4 of the six-step
// protocol).
func (nx *Nexus) refreshChannelsLocked(ctx context.Context) {
	targets := nx.rebuildTargetsLocked()
	for _, ch := range nx.channels {
		ch.Refresh(ctx, nx.children, targets)
	}
}

// findChildLocked returns the child with the given URI, or nil.
func (nx *Nexus) findChildLocked(uri string) *child.Child {
	for _, c := range nx.children {
		if c.URI() == uri {
			return c
		}
	}
	return nil
}

func (nx *Nexus) healthyCountLocked() int {
	n := 0
	for _, c := range nx.children {
		if c.State() == child.StateOpen && c.IsHealthy() {
			n++
		}
	}
	return n
}

func (nx *Nexus) openCountLocked() int {
	n := 0
	for _, c := range nx.children {
		if c.State() == child.StateOpen {
			n++
		}
	}
	return n
}
