// Package workflow drives one capture station: acquire the camera, obtain a
// frame, resolve and commit attendance, show a terminal status, and fall back
// to idle after a cooldown. One cycle is in flight at a time; triggers while
// busy are ignored, not queued.
package workflow

import (
	"context"
	"log"
	"sync"
	"time"

	"attendance/internal/attendance"
	"attendance/internal/capture"
)

// State is the machine's current phase.
type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StateProcessing    State = "processing"
	StateSuccess       State = "success"
	StateNoMatch       State = "no_match"
	StateAlreadyMarked State = "already_marked"
	StateError         State = "error"
)

// DefaultCooldown is how long a terminal status stays on screen before the
// machine returns to idle on its own.
const DefaultCooldown = 3 * time.Second

// Committer runs the resolution pipeline for one frame. Implemented by
// attendance.Service.
type Committer interface {
	ResolveAndCommit(ctx context.Context, image []byte, day, actor string) attendance.CaptureResult
}

// Snapshot is the externally visible machine state.
type Snapshot struct {
	State          State     `json:"state"`
	IdentityID     string    `json:"identity_id,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Message        string    `json:"message"`
	EnteredStateAt time.Time `json:"entered_state_at"`
}

// Machine is the capture workflow state machine for one station.
type Machine struct {
	dev       capture.Device
	committer Committer
	actor     string
	cooldown  time.Duration
	day       func() string

	mu      sync.Mutex
	state   State
	snap    Snapshot
	gen     uint64
	cancel  context.CancelFunc
	timer   *time.Timer
	baseCtx context.Context
	close   context.CancelFunc
}

// New creates a machine in the idle state. actor identifies the station in
// committed entries. Non-positive cooldown falls back to the default.
func New(dev capture.Device, committer Committer, actor string, cooldown time.Duration) *Machine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	base, closeFn := context.WithCancel(context.Background())
	m := &Machine{
		dev:       dev,
		committer: committer,
		actor:     actor,
		cooldown:  cooldown,
		day:       func() string { return attendance.DayOf(time.Now()) },
		state:     StateIdle,
		baseCtx:   base,
		close:     closeFn,
	}
	m.snap = Snapshot{State: StateIdle, Message: "ready", EnteredStateAt: time.Now()}
	return m
}

// Snapshot returns the current visible state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Trigger starts one capture cycle and blocks until its terminal state. A
// trigger while a cycle is in flight, or while a terminal status is still
// displayed, is a no-op and returns the current state unchanged.
func (m *Machine) Trigger() State {
	m.mu.Lock()
	if m.state != StateIdle {
		cur := m.state
		m.mu.Unlock()
		return cur
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	m.setLocked(StateCapturing, Snapshot{State: StateCapturing, Message: "capturing frame"})
	m.mu.Unlock()

	defer cancel()
	return m.runCycle(ctx, gen)
}

func (m *Machine) runCycle(ctx context.Context, gen uint64) State {
	sess, err := m.dev.Acquire(ctx)
	if err != nil {
		return m.finish(gen, Snapshot{State: StateError, Message: "camera unavailable"})
	}
	// The device is released on every exit path of the cycle.
	defer sess.Release()

	frame, err := sess.Frame(ctx)
	if err != nil {
		return m.finish(gen, Snapshot{State: StateError, Message: "could not obtain a frame"})
	}

	if !m.advance(gen, Snapshot{State: StateProcessing, Message: "resolving identity"}) {
		return StateIdle
	}

	res := m.committer.ResolveAndCommit(ctx, frame, m.day(), m.actor)
	return m.finish(gen, Snapshot{
		State:      terminalState(res.Status),
		IdentityID: res.IdentityID,
		Confidence: res.Confidence,
		Message:    res.Message,
	})
}

// Reset discards the current cycle or terminal status and returns to idle
// immediately. An in-flight matcher or storage call is cancelled so it cannot
// land a late commit.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Close tears the machine down. Any in-flight cycle is cancelled.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.setLocked(StateIdle, Snapshot{State: StateIdle, Message: "ready"})
}

// advance moves to a non-terminal state unless the cycle went stale.
func (m *Machine) advance(gen uint64, snap Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.setLocked(snap.State, snap)
	return true
}

// finish lands a terminal state and schedules the auto-reset, unless the
// machine was reset or torn down while the cycle ran.
func (m *Machine) finish(gen uint64, snap Snapshot) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		log.Printf("discarding stale capture cycle result: %s", snap.State)
		return m.state
	}
	m.setLocked(snap.State, snap)
	m.timer = time.AfterFunc(m.cooldown, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || m.state != snap.State {
			return
		}
		m.gen++
		m.timer = nil
		m.setLocked(StateIdle, Snapshot{State: StateIdle, Message: "ready"})
	})
	return snap.State
}

func (m *Machine) setLocked(state State, snap Snapshot) {
	m.state = state
	snap.State = state
	snap.EnteredStateAt = time.Now()
	m.snap = snap
}

func terminalState(status attendance.CaptureStatus) State {
	switch status {
	case attendance.CaptureSuccess:
		return StateSuccess
	case attendance.CaptureAlreadyMarked:
		return StateAlreadyMarked
	case attendance.CaptureNoMatch:
		return StateNoMatch
	default:
		return StateError
	}
}
