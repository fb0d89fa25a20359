package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"attendance/internal/attendance"
	"attendance/internal/capture"
)

type fakeSession struct {
	frame    []byte
	frameErr error

	mu       sync.Mutex
	released int
}

func (s *fakeSession) Frame(ctx context.Context) ([]byte, error) {
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	return s.frame, nil
}

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *fakeSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDevice struct {
	session    *fakeSession
	acquireErr error
}

func (d *fakeDevice) Acquire(ctx context.Context) (capture.Session, error) {
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	return d.session, nil
}

type fakeCommitter struct {
	mu      sync.Mutex
	result  attendance.CaptureResult
	calls   int
	started chan struct{}
	proceed chan struct{}
}

func (c *fakeCommitter) ResolveAndCommit(ctx context.Context, image []byte, day, actor string) attendance.CaptureResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.started != nil {
		close(c.started)
		c.started = nil
	}
	if c.proceed != nil {
		select {
		case <-c.proceed:
		case <-ctx.Done():
			return attendance.CaptureResult{Status: attendance.CaptureError, Message: "cancelled"}
		}
	}
	return c.result
}

func (c *fakeCommitter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestMachine(dev *fakeDevice, committer *fakeCommitter, cooldown time.Duration) *Machine {
	m := New(dev, committer, "kiosk-1", cooldown)
	m.day = func() string { return "2024-07-01" }
	return m
}

func TestTriggerFullCycleToSuccess(t *testing.T) {
	sess := &fakeSession{frame: []byte("frame")}
	dev := &fakeDevice{session: sess}
	committer := &fakeCommitter{result: attendance.CaptureResult{
		Status:     attendance.CaptureSuccess,
		IdentityID: "S200",
		Confidence: 0.9,
		Message:    "S200 marked present for 2024-07-01",
	}}
	m := newTestMachine(dev, committer, time.Minute)
	defer m.Close()

	state := m.Trigger()

	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, 1, committer.callCount())
	assert.Equal(t, 1, sess.releaseCount(), "session must be released after the cycle")

	snap := m.Snapshot()
	assert.Equal(t, "S200", snap.IdentityID)
	assert.Equal(t, 0.9, snap.Confidence)
}

func TestTriggerTerminalStates(t *testing.T) {
	tests := []struct {
		status attendance.CaptureStatus
		want   State
	}{
		{attendance.CaptureAlreadyMarked, StateAlreadyMarked},
		{attendance.CaptureNoMatch, StateNoMatch},
		{attendance.CaptureError, StateError},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			dev := &fakeDevice{session: &fakeSession{frame: []byte("frame")}}
			m := newTestMachine(dev, &fakeCommitter{result: attendance.CaptureResult{Status: tc.status}}, time.Minute)
			defer m.Close()

			assert.Equal(t, tc.want, m.Trigger())
		})
	}
}

func TestTriggerWhileBusyIsNoOp(t *testing.T) {
	sess := &fakeSession{frame: []byte("frame")}
	committer := &fakeCommitter{
		result:  attendance.CaptureResult{Status: attendance.CaptureSuccess},
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	m := newTestMachine(&fakeDevice{session: sess}, committer, time.Minute)
	defer m.Close()

	started := committer.started
	done := make(chan State, 1)
	go func() { done <- m.Trigger() }()
	<-started

	// The first cycle is mid-processing; a second trigger must not start
	// another one.
	assert.Equal(t, StateProcessing, m.Trigger())

	close(committer.proceed)
	assert.Equal(t, StateSuccess, <-done)
	assert.Equal(t, 1, committer.callCount())
}

func TestTerminalAutoResetsAfterCooldown(t *testing.T) {
	dev := &fakeDevice{session: &fakeSession{frame: []byte("frame")}}
	committer := &fakeCommitter{result: attendance.CaptureResult{Status: attendance.CaptureSuccess}}
	m := newTestMachine(dev, committer, 30*time.Millisecond)
	defer m.Close()

	assert.Equal(t, StateSuccess, m.Trigger())

	assert.Eventually(t, func() bool {
		return m.Snapshot().State == StateIdle
	}, time.Second, 5*time.Millisecond, "terminal state should decay to idle")
}

func TestResetCancelsCooldownImmediately(t *testing.T) {
	dev := &fakeDevice{session: &fakeSession{frame: []byte("frame")}}
	committer := &fakeCommitter{result: attendance.CaptureResult{Status: attendance.CaptureNoMatch}}
	m := newTestMachine(dev, committer, time.Minute)
	defer m.Close()

	assert.Equal(t, StateNoMatch, m.Trigger())

	m.Reset()
	assert.Equal(t, StateIdle, m.Snapshot().State)

	// The machine is immediately usable again.
	assert.Equal(t, StateNoMatch, m.Trigger())
}

func TestResetDuringProcessingDiscardsLateResult(t *testing.T) {
	sess := &fakeSession{frame: []byte("frame")}
	committer := &fakeCommitter{
		result:  attendance.CaptureResult{Status: attendance.CaptureSuccess},
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	m := newTestMachine(&fakeDevice{session: sess}, committer, time.Minute)
	defer m.Close()

	started := committer.started
	done := make(chan State, 1)
	go func() { done <- m.Trigger() }()
	<-started

	// Reset cancels the in-flight cycle; its late result must not flip the
	// machine out of idle.
	m.Reset()
	assert.Equal(t, StateIdle, <-done)
	assert.Equal(t, StateIdle, m.Snapshot().State)
	assert.Equal(t, 1, sess.releaseCount())
}

func TestCameraFailuresAreErrorState(t *testing.T) {
	t.Run("acquire fails", func(t *testing.T) {
		m := newTestMachine(&fakeDevice{acquireErr: errors.New("busy")}, &fakeCommitter{}, time.Minute)
		defer m.Close()

		assert.Equal(t, StateError, m.Trigger())
	})

	t.Run("frame fails", func(t *testing.T) {
		sess := &fakeSession{frameErr: errors.New("device gone")}
		m := newTestMachine(&fakeDevice{session: sess}, &fakeCommitter{}, time.Minute)
		defer m.Close()

		assert.Equal(t, StateError, m.Trigger())
		assert.Equal(t, 1, sess.releaseCount(), "session must be released on the error path")
	})
}

func TestCloseCancelsInFlightCycle(t *testing.T) {
	sess := &fakeSession{frame: []byte("frame")}
	committer := &fakeCommitter{
		result:  attendance.CaptureResult{Status: attendance.CaptureSuccess},
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	m := newTestMachine(&fakeDevice{session: sess}, committer, time.Minute)

	started := committer.started
	done := make(chan State, 1)
	go func() { done <- m.Trigger() }()
	<-started

	m.Close()
	assert.Equal(t, StateIdle, <-done)
	assert.Equal(t, 1, sess.releaseCount())
}
