package nexus

import (
	"context"
	"fmt"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/iogate"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

// reconfigure runs the six-step dynamic reconfiguration protocol: (1) take
// the Nexus's exclusive lock, (2) run mutate to validate preconditions and
// apply the membership/state change, (3) suspend the gate if pauseGate,
// (4) broadcast a Channel refresh, (5) persist the new Info record, (6)
// resume the gate and release the lock. The lock is held through step 4
// and dropped before persistence: by the time persistence runs, the Channel
// refresh has already broadcast a consistent snapshot, so no in-flight I/O
// can observe a half-applied membership change.
func (nx *Nexus) reconfigure(ctx context.Context, pauseGate bool, mutate func() error, persistStep func(ctx context.Context) error) error {
	nx.mu.Lock()
	if err := mutate(); err != nil {
		nx.mu.Unlock()
		return err
	}

	if pauseGate {
		if err := nx.gate.Suspend(ctx); err != nil {
			nx.mu.Unlock()
			return nexuserr.Wrap("nexus.reconfigure", nexuserr.SubsysNvmf, "suspend", err)
		}
	}

	nx.refreshChannelsLocked(ctx)
	nx.recomputeStatusLocked()
	nx.mu.Unlock()

	var persistErr error
	if persistStep != nil {
		persistErr = persistStep(ctx)
	}

	if pauseGate {
		if err := nx.gate.Resume(ctx); err != nil {
			logger.Error("nexus reconfigure: gate resume failed", logger.NexusUUID(nx.uuid.String()), logger.Err(err))
		}
	}
	return persistErr
}

// Destroy unshares if published, closes every child, marks the persisted
// record clean_shutdown = true (retrying indefinitely), and transitions to
// StatusShutdown. The caller observes destroy as atomic.
func (nx *Nexus) Destroy(ctx context.Context) error {
	nx.mu.Lock()
	if nx.shareProtocol != ShareNone {
		_ = nx.subsystem.Unpublish(ctx)
		nx.shareProtocol = ShareNone
		nx.publishedURI = ""
	}
	nx.status = StatusShuttingDown
	children := make([]*child.Child, len(nx.children))
	copy(children, nx.children)
	nx.mu.Unlock()

	for _, c := range children {
		_ = c.Close()
	}

	err := nx.info.Shutdown(ctx)

	nx.mu.Lock()
	nx.status = StatusShutdown
	nx.mu.Unlock()

	if nx.onDestroyed != nil {
		nx.onDestroyed()
	}
	logger.Info("nexus destroyed", logger.NexusUUID(nx.uuid.String()))
	return err
}

// Publish exposes the Nexus under protocol. Re-publishing with the same
// protocol is idempotent; a different protocol fails with AlreadyShared.
func (nx *Nexus) Publish(ctx context.Context, protocol ShareProtocol, allowedHosts []string, key string) (string, error) {
	nx.mu.Lock()
	defer nx.mu.Unlock()

	if nx.gate.State() != iogate.Unpaused {
		// Forbid every publish-while-paused transition rather than trying
		// to enumerate which ones are safe.
		return "", nexuserr.New("nexus.Publish", nexuserr.OperationNotAllowed, "cannot publish while the gate is paused or transitioning")
	}

	if nx.shareProtocol != ShareNone {
		if nx.shareProtocol == protocol {
			return nx.publishedURI, nil
		}
		return "", nexuserr.New("nexus.Publish", nexuserr.AlreadyShared,
			fmt.Sprintf("nexus %s is already shared under %s", nx.uuid, nx.shareProtocol))
	}

	uri, err := nx.subsystem.Publish(ctx, nx.uuid, protocol, allowedHosts, key)
	if err != nil {
		return "", nexuserr.Wrap("nexus.Publish", nexuserr.SubsysNvmf, nx.uuid.String(), err)
	}
	nx.shareProtocol = protocol
	nx.publishedURI = uri
	return uri, nil
}

// Unpublish is always safe, including when not currently published.
func (nx *Nexus) Unpublish(ctx context.Context) error {
	nx.mu.Lock()
	defer nx.mu.Unlock()

	if nx.shareProtocol == ShareNone {
		return nil
	}
	if err := nx.subsystem.Unpublish(ctx); err != nil {
		return nexuserr.Wrap("nexus.Unpublish", nexuserr.SubsysNvmf, nx.uuid.String(), err)
	}
	nx.shareProtocol = ShareNone
	nx.publishedURI = ""
	return nil
}

// AddChild opens uri as a new child and appends it to the child set. A
// child that opens successfully is Open and healthy at once, so an Online
// Nexus stays Online; AddChild does not mark the new child out-of-sync and
// does not schedule a rebuild job (StartRebuild is a separate call that
// nothing here makes).
//
// The gate is paused around the change like any other membership change:
// the new child has to appear in the readers and writers sets through a
// refresh under pause before front-end I/O can observe it.
func (nx *Nexus) AddChild(ctx context.Context, uri string) (*child.Child, error) {
	var added *child.Child
	var openErr error
	err := nx.reconfigure(ctx, true, func() error {
		if nx.findChildLocked(uri) != nil {
			return nexuserr.New("nexus.AddChild", nexuserr.ChildAlreadyExists, uri)
		}
		c := child.New(uri)
		// A child that fails geometry validation still joins the set in its
		// faulted/config-invalid state so the operator can see why; the
		// open error is still surfaced to the caller below.
		openErr = c.Open(ctx, nx.sizeBytes, nx.blockLen)
		nx.children = append(nx.children, c)
		added = c
		return nil
	}, func(ctx context.Context) error {
		return nx.info.AddChild(ctx, persist.ChildInfo{UUID: childUUID(added), Healthy: added.IsHealthy()})
	})
	if err != nil {
		return added, err
	}
	if openErr != nil {
		return added, nexuserr.Wrap("nexus.AddChild", nexuserr.CreateChild, uri, openErr)
	}
	return added, nil
}

// RemoveChild closes and removes uri from the child set. Refuses if doing
// so would leave zero Open children or zero healthy children.
func (nx *Nexus) RemoveChild(ctx context.Context, uri string) error {
	var removed *child.Child
	return nx.reconfigure(ctx, true, func() error {
		c := nx.findChildLocked(uri)
		if c == nil {
			return nexuserr.New("nexus.RemoveChild", nexuserr.ChildNotFound, uri)
		}
		if c.State() == child.StateOpen {
			if nx.openCountLocked() <= 1 {
				return nexuserr.New("nexus.RemoveChild", nexuserr.DestroyLastChild, uri)
			}
			if c.IsHealthy() && nx.healthyCountLocked() <= 1 {
				return nexuserr.New("nexus.RemoveChild", nexuserr.DestroyLastHealthyChild, uri)
			}
		}
		_ = c.Close()
		next := nx.children[:0]
		for _, existing := range nx.children {
			if existing.URI() != uri {
				next = append(next, existing)
			}
		}
		nx.children = next
		removed = c
		return nil
	}, func(ctx context.Context) error {
		return nx.info.Update(ctx, persist.ChildInfo{UUID: childUUID(removed), Healthy: false})
	})
}

// OfflineChild drives a child Closed.
func (nx *Nexus) OfflineChild(ctx context.Context, uri string) error {
	var offlined *child.Child
	return nx.reconfigure(ctx, true, func() error {
		c := nx.findChildLocked(uri)
		if c == nil {
			return nexuserr.New("nexus.OfflineChild", nexuserr.ChildNotFound, uri)
		}
		if err := c.Close(); err != nil {
			return nexuserr.Wrap("nexus.OfflineChild", nexuserr.CloseChild, uri, err)
		}
		offlined = c
		return nil
	}, func(ctx context.Context) error {
		return nx.info.Update(ctx, persist.ChildInfo{UUID: childUUID(offlined), Healthy: false})
	})
}

// OnlineChild drives a Closed/Faulted child back to Open. The caller is
// responsible for scheduling a rebuild job afterward if the child was out
// of sync; OnlineChild itself only reopens the backing device.
func (nx *Nexus) OnlineChild(ctx context.Context, uri string) (*child.Child, error) {
	var onlined *child.Child
	err := nx.reconfigure(ctx, true, func() error {
		c := nx.findChildLocked(uri)
		if c == nil {
			return nexuserr.New("nexus.OnlineChild", nexuserr.ChildNotFound, uri)
		}
		if err := c.Online(ctx, nx.sizeBytes, nx.blockLen); err != nil {
			return err
		}
		onlined = c
		return nil
	}, nil) // healthy bit is not yet true until a rebuild (if needed) completes; no persist here
	return onlined, err
}

// FaultChild forces uri to Faulted(reason). Refuses if this would fault the
// last healthy child.
func (nx *Nexus) FaultChild(ctx context.Context, uri string, reason child.Reason) error {
	var faulted *child.Child
	return nx.reconfigure(ctx, true, func() error {
		c := nx.findChildLocked(uri)
		if c == nil {
			return nexuserr.New("nexus.FaultChild", nexuserr.ChildNotFound, uri)
		}
		if c.IsHealthy() && nx.healthyCountLocked() <= 1 {
			return nexuserr.New("nexus.FaultChild", nexuserr.FaultingLastHealthyChild, uri)
		}
		c.Fault(reason)
		faulted = c
		return nil
	}, func(ctx context.Context) error {
		return nx.info.Update(ctx, persist.ChildInfo{UUID: childUUID(faulted), Healthy: false})
	})
}

// Resize grows or shrinks the logical size. Every child must already offer
// at least newSize usable bytes.
func (nx *Nexus) Resize(ctx context.Context, newSize uint64) error {
	return nx.reconfigure(ctx, false, func() error {
		for _, c := range nx.children {
			h := c.GetIOHandle()
			if h == nil {
				continue // not Open; will be caught by geometry check on next online
			}
			if h.SizeInBytes() < newSize {
				return nexuserr.New("nexus.Resize", nexuserr.ChildTooSmall, c.URI())
			}
		}
		nx.sizeBytes = newSize
		return nil
	}, nil)
}
