// Package rebuild implements the Rebuild Engine: a single engine with three
// range-walking strategies (full, partial bitmap-driven, partial-sequential)
// that copies data source -> destination in segment-sized units under LBA
// range locks so a rebuild copy is never concurrent with a front-end write
// to the same blocks.
//
// There is no teacher analogue for a segmented copy engine; the bounded
// concurrent task pool is grounded on the ecosystem's errgroup.Group with
// SetLimit (golang.org/x/sync), the pack's preferred bounded-fan-out
// primitive, and the DMA segment buffers are drawn from the pack's tiered
// bufpool.Pool.
package rebuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-project/nexus/internal/child"
	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/internal/rangelock"
	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/bufpool"
	"github.com/nexus-project/nexus/pkg/metrics"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// State is the lifecycle state of a rebuild Job.
type State int

const (
	Init State = iota
	Running
	Paused
	Stopped
	Failed
	Completed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Stopped || s == Failed || s == Completed
}

// Strategy selects which segments a Job walks.
type Strategy int

const (
	// Full walks [start, end) in segment-sized steps and copies every
	// segment.
	Full Strategy = iota
	// Partial walks only the set bits of a segment bitmap.
	Partial
	// PartialSequential walks every segment like Full but skips segments
	// whose bit is already clear, clearing the bit on successful copy.
	PartialSequential
)

func (s Strategy) String() string {
	switch s {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case PartialSequential:
		return "partial_sequential"
	default:
		return "unknown"
	}
}

// VerifyMode controls whether a copy re-reads the destination to confirm a
// write landed correctly.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyReadBack
)

// DefaultTaskPoolSize is the default number of concurrent copy tasks.
const DefaultTaskPoolSize = 16

// segment is one unit of work: a block range to copy.
type segment struct {
	start  uint64
	length uint64
}

// stageError records which stage of a segment copy failed, so the caller
// can apply the read/write asymmetric fault policy: a read error does not
// fault the source (it may still be authoritative); a write error faults
// the destination with ReasonRebuildFailed.
type stageError struct {
	stage string // "read", "write", or "verify"
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Options configures a new Job.
type Options struct {
	SourceURI         string
	DestURI           string
	StartBlock        uint64
	EndBlock          uint64
	SegmentSizeBlocks uint64
	BlockLen          uint32
	DataStartBlock    uint64 // subtracted from absolute block to get the Nexus-relative LBA range-lock offset
	Strategy          Strategy
	VerifyMode        VerifyMode
	Bitmap            *Bitmap // required for Partial and PartialSequential
	TaskPoolSize      int

	Source blockdevice.Handle
	Dest   blockdevice.Handle
	Locker *rangelock.Locker

	// OnDestFault is invoked with ReasonRebuildFailed if a destination write
	// fails during the copy. The Nexus wires this to the destination
	// child's Fault method.
	OnDestFault func(reason child.Reason)
}

// Job is one rebuild: copying a block range from a source handle to a
// destination handle under LBA range locks.
type Job struct {
	opts Options

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	lastErr    error
	cursor     uint64 // Full/PartialSequential walk cursor
	bitmapCur  uint64 // Partial walk cursor over bitmap indices
	taskSeq    uint64
	blocksDone atomic.Uint64

	doneCh   chan struct{}
	doneOnce sync.Once
	cancel   context.CancelFunc

	metrics *metrics.RebuildMetrics
}

// NewJob builds a Job in Init state. It does not start copying until Start
// is called.
func NewJob(opts Options) (*Job, error) {
	if opts.EndBlock <= opts.StartBlock {
		return nil, nexuserr.New("rebuild.NewJob", nexuserr.RebuildOperation, "end block must be greater than start block")
	}
	if opts.SegmentSizeBlocks == 0 {
		return nil, nexuserr.New("rebuild.NewJob", nexuserr.RebuildOperation, "segment size must be positive")
	}
	if (opts.Strategy == Partial || opts.Strategy == PartialSequential) && opts.Bitmap == nil {
		return nil, nexuserr.New("rebuild.NewJob", nexuserr.RebuildOperation, "partial strategies require a bitmap")
	}
	if opts.TaskPoolSize <= 0 {
		opts.TaskPoolSize = DefaultTaskPoolSize
	}

	j := &Job{
		opts:    opts,
		state:   Init,
		cursor:  opts.StartBlock,
		doneCh:  make(chan struct{}),
		metrics: metrics.NewRebuildMetrics(),
	}
	j.cond = sync.NewCond(&j.mu)
	return j, nil
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the error that drove the job to Failed, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Done returns a channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.doneCh
}

// Stats reports rebuild progress.
type Stats struct {
	BlocksTotal     uint64
	BlocksRecovered uint64
	Progress        float64
}

// Stats returns a snapshot of rebuild progress.
func (j *Job) Stats() Stats {
	j.mu.Lock()
	total := j.totalBlocksLocked()
	j.mu.Unlock()

	done := j.blocksDone.Load()
	var progress float64
	if total > 0 {
		progress = float64(done) / float64(total)
	}
	return Stats{BlocksTotal: total, BlocksRecovered: done, Progress: progress}
}

func (j *Job) totalBlocksLocked() uint64 {
	switch j.opts.Strategy {
	case Partial:
		return j.opts.Bitmap.PopCount() * j.opts.SegmentSizeBlocks
	default:
		return j.opts.EndBlock - j.opts.StartBlock
	}
}

// Start transitions Init -> Running and launches the copy loop in the
// background. It returns once the loop has been launched, not once it
// completes; observe completion via Done/State/Err.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.state != Init {
		j.mu.Unlock()
		return nexuserr.New("rebuild.Start", nexuserr.RebuildOperation, "job is not in Init state")
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.state = Running
	j.mu.Unlock()

	j.mu.Lock()
	total := j.totalBlocksLocked()
	j.mu.Unlock()
	j.metrics.RecordStart(j.opts.Strategy.String())
	j.metrics.SetProgress(j.opts.DestURI, total, 0)

	go j.run(runCtx)
	return nil
}

// Pause transitions Running -> Paused. Copy tasks already in flight finish;
// no new segments are scheduled until Resume.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Running {
		return nexuserr.New("rebuild.Pause", nexuserr.RebuildOperation, "job is not Running")
	}
	j.state = Paused
	return nil
}

// Resume transitions Paused -> Running.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Paused {
		return nexuserr.New("rebuild.Resume", nexuserr.RebuildOperation, "job is not Paused")
	}
	j.state = Running
	j.cond.Broadcast()
	return nil
}

// Stop drives the job to Stopped from any non-terminal state, overriding
// any pending operation. In-flight copy tasks are canceled via context and
// the run loop exits once they unwind.
func (j *Job) Stop() {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	j.state = Stopped
	cancel := j.cancel
	j.cond.Broadcast()
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (j *Job) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.TaskPoolSize)

	for {
		seg, ok := j.nextSegment()
		if !ok {
			break
		}
		g.Go(func() error {
			return j.copySegment(gctx, seg)
		})
	}

	err := g.Wait()
	j.finish(err)
}

// nextSegment blocks while Paused and returns the next segment to copy, or
// ok=false once the walk is exhausted or the job has been stopped.
func (j *Job) nextSegment() (segment, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for j.state == Paused {
		j.cond.Wait()
	}
	if j.state == Stopped {
		return segment{}, false
	}

	switch j.opts.Strategy {
	case Partial:
		return j.nextPartialSegmentLocked()
	default:
		return j.nextWalkedSegmentLocked()
	}
}

func (j *Job) nextWalkedSegmentLocked() (segment, bool) {
	for j.cursor < j.opts.EndBlock {
		start := j.cursor
		end := start + j.opts.SegmentSizeBlocks
		if end > j.opts.EndBlock {
			end = j.opts.EndBlock
		}
		j.cursor = end

		if j.opts.Strategy == PartialSequential {
			idx := (start - j.opts.StartBlock) / j.opts.SegmentSizeBlocks
			if !j.opts.Bitmap.IsSet(idx) {
				continue // already clean, skip
			}
		}
		return segment{start: start, length: end - start}, true
	}
	return segment{}, false
}

func (j *Job) nextPartialSegmentLocked() (segment, bool) {
	for j.bitmapCur < j.opts.Bitmap.NumSegments() {
		idx := j.bitmapCur
		j.bitmapCur++
		if !j.opts.Bitmap.IsSet(idx) {
			continue
		}
		start := j.opts.StartBlock + idx*j.opts.SegmentSizeBlocks
		end := start + j.opts.SegmentSizeBlocks
		if end > j.opts.EndBlock {
			end = j.opts.EndBlock
		}
		return segment{start: start, length: end - start}, true
	}
	return segment{}, false
}

func (j *Job) copySegment(ctx context.Context, seg segment) error {
	taskID := fmt.Sprintf("%s#%d", j.opts.DestURI, atomic.AddUint64(&j.taskSeq, 1))
	lockStart := seg.start - j.opts.DataStartBlock

	if err := j.opts.Locker.Lock(ctx, taskID, lockStart, seg.length); err != nil {
		return err
	}
	defer j.opts.Locker.Unlock(taskID, lockStart, seg.length)

	size := int(seg.length) * int(j.opts.BlockLen)
	buf := bufpool.Get(size)
	defer bufpool.Put(buf)

	byteOffset := seg.start * uint64(j.opts.BlockLen)

	if err := j.opts.Source.ReadAt(ctx, byteOffset, buf); err != nil {
		return &stageError{stage: "read", err: err}
	}
	if err := j.opts.Dest.WriteAt(ctx, byteOffset, buf); err != nil {
		return &stageError{stage: "write", err: err}
	}
	if j.opts.VerifyMode == VerifyReadBack {
		verifyBuf := bufpool.Get(size)
		defer bufpool.Put(verifyBuf)
		if err := j.opts.Dest.ReadAt(ctx, byteOffset, verifyBuf); err != nil {
			return &stageError{stage: "verify", err: err}
		}
		if !bytes.Equal(buf, verifyBuf) {
			return &stageError{stage: "verify", err: errors.New("read-back mismatch")}
		}
	}

	done := j.blocksDone.Add(seg.length)
	j.mu.Lock()
	total := j.totalBlocksLocked()
	j.mu.Unlock()
	j.metrics.SetProgress(j.opts.DestURI, total, done)
	if j.opts.Strategy == PartialSequential {
		idx := (seg.start - j.opts.StartBlock) / j.opts.SegmentSizeBlocks
		j.mu.Lock()
		j.opts.Bitmap.Clear(idx)
		j.mu.Unlock()
	}
	return nil
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	switch j.state {
	case Stopped:
		// Stop() already set terminal state; nothing to do.
	default:
		if err != nil {
			j.state = Failed
			j.lastErr = err
		} else {
			j.state = Completed
		}
	}
	state := j.state
	j.mu.Unlock()

	if err != nil {
		var se *stageError
		if errors.As(err, &se) {
			j.metrics.RecordSegmentError(se.stage)
			if se.stage == "write" && j.opts.OnDestFault != nil {
				j.opts.OnDestFault(child.ReasonRebuildFailed)
			}
		}
		logger.Error("rebuild job finished", logger.DestURI(j.opts.DestURI), logger.RebuildState(state.String()), logger.Err(err))
	} else {
		logger.Info("rebuild job finished", logger.DestURI(j.opts.DestURI), logger.RebuildState(state.String()))
	}
	j.metrics.RecordFinish(j.opts.DestURI, state.String())

	j.doneOnce.Do(func() { close(j.doneCh) })
}
