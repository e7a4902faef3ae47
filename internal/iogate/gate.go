// Package iogate implements the I/O Subsystem Gate: a four-state
// pause/resume machine that serializes concurrent pause/resume requests
// against the NVMe-oF subsystem a Nexus fronts. It is a direct idiomatic-Go
// translation of Mayastor's NexusIoSubsystem (nexus_io_subsystem.rs):
// the same Unpaused/Pausing/Paused/Unpausing state machine and refcounted
// suspend/resume, reworked from an AtomicCell CAS loop plus a VecDeque of
// oneshot senders into a mutex-guarded state with a FIFO slice of wakeup
// channels, since Go favors an explicit lock over a lock-free cell for
// state this small.
package iogate

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-project/nexus/internal/logger"
	"github.com/nexus-project/nexus/pkg/metrics"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

// State is the pause state of the gate.
type State int

const (
	Unpaused State = iota
	Pausing
	Paused
	Unpausing
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Unpaused:
		return "unpaused"
	case Pausing:
		return "pausing"
	case Paused:
		return "paused"
	case Unpausing:
		return "unpausing"
	default:
		return "unknown"
	}
}

// Subsystem is the external NVMe-oF subsystem a Gate pauses and resumes
// when the Nexus is shared. New also accepts a nil Subsystem, in which case
// the Gate still serializes callers and tracks pause_cnt, it just has
// nothing external to pause.
type Subsystem interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// defaultPauseTimeout is how long Suspend waits for the subsystem Pause
// call before logging a warning. The pause is never aborted on timeout —
// this is a diagnostic aid, not a cancellation trigger, since a half-paused
// NVMe-oF subsystem is worse than a slow one.
const defaultPauseTimeout = 5 * time.Second

// Gate serializes concurrent pause/resume of the Nexus's fronting
// subsystem. Nested/concurrent Suspend calls are refcounted: the subsystem
// is physically paused on the first caller and resumed only when the last
// caller's matching Resume call lands.
type Gate struct {
	name      string
	subsystem Subsystem

	mu           sync.Mutex
	state        State
	pauseCnt     uint32
	waiters      []chan struct{}
	pauseTimeout time.Duration
	pausedAt     time.Time

	metrics *metrics.GateMetrics
}

// New returns a Gate in the Unpaused state. subsystem may be nil; Suspend
// and Resume then change only the gate's own state.
func New(name string, subsystem Subsystem) *Gate {
	return &Gate{name: name, subsystem: subsystem, pauseTimeout: defaultPauseTimeout, metrics: metrics.NewGateMetrics()}
}

// SetPauseTimeout overrides the diagnostic pause-timeout warning threshold.
func (g *Gate) SetPauseTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pauseTimeout = d
}

// State returns the gate's current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// PauseCount returns the current refcount of outstanding Suspend calls.
func (g *Gate) PauseCount() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauseCnt
}

// Suspend pauses incoming I/O to the fronting subsystem. Concurrent callers
// are serialized: the first caller to observe Unpaused physically pauses
// the subsystem; later concurrent callers observing Paused simply
// increment the refcount; callers observing an in-flight transition
// (Pausing/Unpausing) queue and retry once the transition completes.
func (g *Gate) Suspend(ctx context.Context) error {
	for {
		g.mu.Lock()
		switch g.state {
		case Unpaused:
			g.state = Pausing
			g.pauseCnt = 1
			timeout := g.pauseTimeout
			g.mu.Unlock()

			if g.subsystem != nil {
				if err := g.pauseSubsystem(ctx, timeout); err != nil {
					g.mu.Lock()
					g.state = Unpaused
					g.pauseCnt = 0
					g.mu.Unlock()
					g.wakeOneWaiter()
					g.metrics.ObserveSuspend(g.name, "error")
					return nexuserr.Wrap("iogate.Suspend", nexuserr.Pause, g.name, err)
				}
			}

			g.mu.Lock()
			g.state = Paused
			g.pausedAt = time.Now()
			g.mu.Unlock()
			g.wakeOneWaiter()
			g.metrics.ObserveSuspend(g.name, "ok")
			g.metrics.SetPauseCount(g.name, 1)
			return nil

		case Paused:
			g.pauseCnt++
			cnt := g.pauseCnt
			g.mu.Unlock()
			g.wakeOneWaiter()
			g.metrics.ObserveSuspend(g.name, "ok")
			g.metrics.SetPauseCount(g.name, cnt)
			return nil

		case Pausing, Unpausing:
			wait := make(chan struct{})
			g.waiters = append(g.waiters, wait)
			g.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			// loop and retry against the now-settled state
		}
	}
}

func (g *Gate) pauseSubsystem(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.subsystem.Pause(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		logger.Warn("subsystem pause exceeding expected duration, still waiting",
			logger.GateState(Pausing.String()))
		return <-done
	}
}

// Resume undoes one Suspend call. The subsystem is physically resumed only
// when the refcount drops to zero.
func (g *Gate) Resume(ctx context.Context) error {
	for {
		g.mu.Lock()
		switch g.state {
		case Unpaused:
			g.mu.Unlock()
			return nil

		case Pausing, Unpausing:
			wait := make(chan struct{})
			g.waiters = append(g.waiters, wait)
			g.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}

		case Paused:
			g.pauseCnt--
			cnt := g.pauseCnt
			last := g.pauseCnt == 0
			if !last {
				g.mu.Unlock()
				g.wakeOneWaiter()
				g.metrics.ObserveResume(g.name, "ok", 0)
				g.metrics.SetPauseCount(g.name, cnt)
				return nil
			}
			g.state = Unpausing
			pausedAt := g.pausedAt
			g.mu.Unlock()

			if g.subsystem != nil {
				if err := g.subsystem.Resume(ctx); err != nil {
					g.mu.Lock()
					g.state = Paused
					g.pauseCnt = 1
					g.mu.Unlock()
					g.wakeOneWaiter()
					g.metrics.ObserveResume(g.name, "error", 0)
					return nexuserr.Wrap("iogate.Resume", nexuserr.Pause, g.name, err)
				}
			}

			g.mu.Lock()
			g.state = Unpaused
			g.mu.Unlock()
			g.wakeOneWaiter()
			var pauseMillis float64
			if !pausedAt.IsZero() {
				pauseMillis = float64(time.Since(pausedAt).Microseconds()) / 1000
			}
			g.metrics.ObserveResume(g.name, "ok", pauseMillis)
			g.metrics.SetPauseCount(g.name, 0)
			return nil
		}
	}
}

func (g *Gate) wakeOneWaiter() {
	g.mu.Lock()
	if len(g.waiters) == 0 {
		g.mu.Unlock()
		return
	}
	w := g.waiters[0]
	g.waiters = g.waiters[1:]
	g.mu.Unlock()
	close(w)
}
