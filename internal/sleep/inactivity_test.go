package sleep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdle struct {
	mu    sync.Mutex
	idle  time.Duration
	err   error
	calls int
}

func (f *fakeIdle) set(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = d
}

func (f *fakeIdle) IdleDuration() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.idle, f.err
}

func TestInactivityDetector_Thresholds(t *testing.T) {
	m, _ := newTestMachine()
	m.SetStrategy(NewControlled(m))
	idle := &fakeIdle{}
	d := NewInactivityDetector(idle, m, 5*time.Minute, time.Second, logging.NewNopLogger())

	idle.set(time.Minute)
	d.Poll()
	assert.Equal(t, Active, m.State())

	idle.set(5 * time.Minute)
	d.Poll()
	assert.Equal(t, Paused, m.State())

	idle.set(10 * time.Minute)
	d.Poll()
	assert.Equal(t, Paused, m.State())

	idle.set(time.Second)
	d.Poll()
	assert.Equal(t, Active, m.State())
}

func TestInactivityDetector_DisabledLimit(t *testing.T) {
	m, _ := newTestMachine()
	m.SetStrategy(NewControlled(m))
	idle := &fakeIdle{idle: time.Hour}
	d := NewInactivityDetector(idle, m, 0, time.Second, logging.NewNopLogger())

	d.Poll()
	assert.Equal(t, Active, m.State())
	assert.Zero(t, idle.calls)

	d.SetLimit(time.Minute)
	d.Poll()
	assert.Equal(t, Paused, m.State())
}

func TestInactivityDetector_UnsupportedStopsPolling(t *testing.T) {
	m, _ := newTestMachine()
	idle := &fakeIdle{err: platform.ErrIdleUnsupported}
	d := NewInactivityDetector(idle, m, time.Minute, time.Second, logging.NewNopLogger())

	d.Poll()
	d.Poll()
	assert.Equal(t, 1, idle.calls)

	transient := &fakeIdle{err: errors.New("ioreg failed")}
	d = NewInactivityDetector(transient, m, time.Minute, time.Second, logging.NewNopLogger())
	d.Poll()
	d.Poll()
	assert.Equal(t, 2, transient.calls)
}

func TestInactivityDetector_StartStop(t *testing.T) {
	m, _ := newTestMachine()
	m.SetStrategy(NewControlled(m))
	idle := &fakeIdle{idle: time.Hour}
	d := NewInactivityDetector(idle, m, time.Minute, 5*time.Millisecond, logging.NewNopLogger())

	d.Start(context.Background())
	require.Eventually(t, m.IsPaused, time.Second, 5*time.Millisecond)
	d.Stop()
}

func TestInactivityDetector_RearmsAfterReset(t *testing.T) {
	m, _ := newTestMachine()
	m.SetStrategy(NewControlled(m))
	idle := &fakeIdle{idle: time.Hour}
	d := NewInactivityDetector(idle, m, time.Minute, time.Second, logging.NewNopLogger())

	d.Poll()
	require.True(t, m.IsPaused())

	// a timer start forces the gate open while the user is still away
	m.Reset()
	assert.Equal(t, Active, m.State())

	d.Poll()
	assert.True(t, m.IsPaused(), "still idle, so the gate closes again")
}

func TestInactivityDetector_RearmsAfterWake(t *testing.T) {
	m, _ := newTestMachine()
	m.SetStrategy(NewControlled(m))
	idle := &fakeIdle{idle: time.Hour}
	d := NewInactivityDetector(idle, m, time.Minute, time.Second, logging.NewNopLogger())

	d.Poll()
	require.True(t, m.IsPaused())
	m.Wake()
	require.Equal(t, Active, m.State())

	d.Poll()
	assert.True(t, m.IsPaused())
}
