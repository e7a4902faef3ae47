package nexus

import (
	"context"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/internal/rebuild"
	"github.com/nexus-project/nexus/pkg/nexuserr"
	"github.com/nexus-project/nexus/pkg/persist"
)

// DefaultSegmentSizeBlocks is the rebuild segment size used when a caller
// does not override it: 512 KiB at 512-byte blocks, a reasonable
// middle ground between copy granularity and range-lock contention.
const DefaultSegmentSizeBlocks = 1024 // 512 KiB at 512-byte blocks

// StartRebuild schedules a rebuild job against destURI: the engine selects
// a source per rebuild.SelectSource, walks [0, numBlocks) per strategy
// (Partial and PartialSequential copy only the segments set in bitmap),
// and on completion marks the destination healthy via UpdateCond. Exactly
// one job may target a given destination at a time.
func (nx *Nexus) StartRebuild(ctx context.Context, destURI string, strategy rebuild.Strategy, bitmap *rebuild.Bitmap) (*rebuild.Job, error) {
	nx.rebuildMu.Lock()
	if _, exists := nx.rebuildJobs[destURI]; exists {
		nx.rebuildMu.Unlock()
		return nil, nexuserr.New("nexus.StartRebuild", nexuserr.RebuildJobAlreadyExists, destURI)
	}
	nx.rebuildMu.Unlock()

	nx.mu.Lock()
	dest := nx.findChildLocked(destURI)
	if dest == nil {
		nx.mu.Unlock()
		return nil, nexuserr.New("nexus.StartRebuild", nexuserr.ChildNotFound, destURI)
	}
	src, err := rebuild.SelectSource(nx.children, dest)
	if err != nil {
		nx.mu.Unlock()
		return nil, err
	}
	blockLen := nx.blockLen
	numBlocks := nx.sizeBytes / uint64(blockLen)
	nx.mu.Unlock()

	if err := dest.BeginRebuild(ctx, nx.sizeBytes, blockLen); err != nil {
		return nil, err
	}

	nx.mu.Lock()
	nx.refreshChannelsLocked(ctx)
	nx.mu.Unlock()

	srcHandle := src.GetIOHandle()
	if srcHandle == nil {
		dest.EndRebuild(false)
		return nil, nexuserr.New("nexus.StartRebuild", nexuserr.NoRebuildSource, src.URI())
	}
	destHandle := dest.RebuildIOHandle()

	job, err := rebuild.NewJob(rebuild.Options{
		SourceURI:         src.URI(),
		DestURI:           destURI,
		StartBlock:        0,
		EndBlock:          numBlocks,
		SegmentSizeBlocks: DefaultSegmentSizeBlocks,
		BlockLen:          blockLen,
		Strategy:          strategy,
		Bitmap:            bitmap,
		Source:            srcHandle,
		Dest:              destHandle,
		Locker:            nx.locker,
		OnDestFault: func(reason child.Reason) {
			dest.EndRebuild(false)
			dest.Fault(reason)
		},
	})
	if err != nil {
		dest.EndRebuild(false)
		return nil, err
	}

	nx.rebuildMu.Lock()
	nx.rebuildJobs[destURI] = job
	nx.rebuildMu.Unlock()

	if err := job.Start(ctx); err != nil {
		nx.rebuildMu.Lock()
		delete(nx.rebuildJobs, destURI)
		nx.rebuildMu.Unlock()
		dest.EndRebuild(false)
		return nil, err
	}

	go nx.awaitRebuildCompletion(context.Background(), destURI, dest, job)

	logger.Info("rebuild started", logger.NexusUUID(nx.uuid.String()), logger.SourceURI(src.URI()), logger.DestURI(destURI))
	return job, nil
}

// awaitRebuildCompletion watches job to its terminal state and applies the
// rebuild completion hook: Completed marks the destination healthy
// conditionally; Failed ends the destination's rebuild via EndRebuild(false),
// which releases its rebuild handle and faults it with RebuildFailed (the
// job's OnDestFault already did this for write failures, so only the
// read-failure case still holds a handle here; the source is not faulted);
// Stopped makes no persistence change.
func (nx *Nexus) awaitRebuildCompletion(ctx context.Context, destURI string, dest *child.Child, job *rebuild.Job) {
	<-job.Done()

	nx.rebuildMu.Lock()
	delete(nx.rebuildJobs, destURI)
	nx.rebuildMu.Unlock()

	switch job.State() {
	case rebuild.Completed:
		dest.EndRebuild(true)
		err := nx.info.UpdateCond(ctx, persist.ChildInfo{UUID: childUUID(dest), Healthy: true}, func(info *persist.NexusInfo) bool {
			return nx.isMember(destURI)
		})
		if err != nil {
			logger.Error("rebuild completion persist failed", logger.DestURI(destURI), logger.Err(err))
		}
		nx.mu.Lock()
		nx.refreshChannelsLocked(ctx)
		nx.recomputeStatusLocked()
		nx.mu.Unlock()
	case rebuild.Failed:
		if dest.RebuildIOHandle() != nil {
			dest.EndRebuild(false)
		}
		nx.mu.Lock()
		nx.recomputeStatusLocked()
		nx.mu.Unlock()
	case rebuild.Stopped:
		// No persistence change; destination keeps whatever state it had.
	}

	logger.Info("rebuild finished", logger.DestURI(destURI), logger.RebuildState(job.State().String()))
}

func (nx *Nexus) isMember(uri string) bool {
	nx.mu.Lock()
	defer nx.mu.Unlock()
	return nx.findChildLocked(uri) != nil
}

// StopRebuild stops the job targeting destURI, if any.
func (nx *Nexus) StopRebuild(destURI string) error {
	job, err := nx.getRebuildJob(destURI)
	if err != nil {
		return err
	}
	job.Stop()
	return nil
}

// PauseRebuild pauses the job targeting destURI.
func (nx *Nexus) PauseRebuild(destURI string) error {
	job, err := nx.getRebuildJob(destURI)
	if err != nil {
		return err
	}
	return job.Pause()
}

// ResumeRebuild resumes the job targeting destURI.
func (nx *Nexus) ResumeRebuild(destURI string) error {
	job, err := nx.getRebuildJob(destURI)
	if err != nil {
		return err
	}
	return job.Resume()
}

// RebuildProgress reports the stats of the job targeting destURI.
func (nx *Nexus) RebuildProgress(destURI string) (rebuild.Stats, error) {
	job, err := nx.getRebuildJob(destURI)
	if err != nil {
		return rebuild.Stats{}, err
	}
	return job.Stats(), nil
}

func (nx *Nexus) getRebuildJob(destURI string) (*rebuild.Job, error) {
	nx.rebuildMu.Lock()
	defer nx.rebuildMu.Unlock()
	job, ok := nx.rebuildJobs[destURI]
	if !ok {
		return nil, nexuserr.New("nexus.getRebuildJob", nexuserr.RebuildJobNotFound, destURI)
	}
	return job, nil
}
