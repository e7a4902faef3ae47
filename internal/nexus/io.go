package nexus

import (
	"context"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/iochannel"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

// WriteAt issues a front-end write through executor channel 0. The
// Channel itself holds the LBA range lock for the call's duration, so a
// write here can never race a rebuild copy of the same blocks. Any writer
// that fails is faulted immediately — NoSpace if the backing device
// reported it, IoError otherwise — the Nexus's aggregate Status is
// recomputed, and the faulted child's unhealthy bit is persisted before
// WriteAt returns, so a caller observing an error also observes the
// Nexus already reflecting it.
func (nx *Nexus) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	ch := nx.frontendChannel()
	if ch == nil {
		return nexuserr.New("nexus.WriteAt", nexuserr.NoWriter, "nexus has no io channel")
	}

	results, writeErr := ch.WriteAt(ctx, offset, buf)
	nx.faultFailedWriters(ctx, results)
	return writeErr
}

// ReadAt issues a front-end read through executor channel 0.
func (nx *Nexus) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	ch := nx.frontendChannel()
	if ch == nil {
		return nexuserr.New("nexus.ReadAt", nexuserr.NoReader, "nexus has no io channel")
	}
	return ch.ReadAt(ctx, offset, buf)
}

// frontendChannel returns the Channel a front-end caller without a real
// executor pool uses: index 0.
func (nx *Nexus) frontendChannel() *iochannel.Channel {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	if len(nx.channels) == 0 {
		return nil
	}
	return nx.channels[0]
}

// faultFailedWriters transitions every child whose WriteResult carried an
// error to Faulted, recomputes Status, and persists the fault. It is not
// part of the six-step reconfiguration protocol: pausing the gate on the
// write path that triggered the fault would deadlock against the in-flight
// write waiting to complete, so the fault is applied directly, mirroring
// the rebuild engine's OnDestFault callback.
func (nx *Nexus) faultFailedWriters(ctx context.Context, results []iochannel.WriteResult) {
	if len(results) == 0 {
		return
	}

	var toPersist []persist.ChildInfo
	nx.mu.Lock()
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		r.Child.Fault(faultReasonFor(r.Err))
		toPersist = append(toPersist, persist.ChildInfo{UUID: childUUID(r.Child), Healthy: false})
	}
	if len(toPersist) > 0 {
		nx.refreshChannelsLocked(ctx)
	}
	nx.recomputeStatusLocked()
	nx.mu.Unlock()

	for _, info := range toPersist {
		if err := nx.info.Update(ctx, info); err != nil {
			logger.Error("nexus write-path fault persist failed",
				logger.NexusUUID(nx.uuid.String()), logger.Err(err))
		}
	}
}

// faultReasonFor maps a writer failure to the Reason its child should be
// faulted with: NoSpace when the backing device reported exhaustion,
// IoError for every other failure.
func faultReasonFor(err error) child.Reason {
	if code, ok := nexuserr.CodeOf(err); ok && code == nexuserr.NoSpace {
		return child.ReasonNoSpace
	}
	return child.ReasonIoError
}
