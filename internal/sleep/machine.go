package sleep

import (
	"sync"
	"time"

	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
)

// State of the recording gate
type State int

const (
	Active State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "active"
}

// Cause tells the UI why the gate moved
type Cause int

const (
	CauseSleep Cause = iota
	CauseInactivity
)

// Strategy decides what pause and resume signals do
type Strategy interface {
	Pause()
	Resume()
}

// Machine gates recording. It holds the current Strategy, which can be
// swapped at runtime without touching the signal call sites.
type Machine struct {
	mu        sync.Mutex
	state     State
	cause     Cause
	strategy  Strategy
	pausedAt  time.Time
	listeners []func(State)

	publisher ipc.Publisher
	logger    logging.Logger
	now       func() time.Time
}

// NewMachine starts Active with the AlwaysRecord strategy
func NewMachine(publisher ipc.Publisher, logger logging.Logger) *Machine {
	if publisher == nil {
		publisher = ipc.NopPublisher()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Machine{
		state:     Active,
		strategy:  AlwaysRecord{},
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetStrategy swaps the strategy. Swapping to AlwaysRecord while Paused
// resumes recording, since nothing would ever resume it afterwards.
func (m *Machine) SetStrategy(s Strategy) {
	if s == nil {
		s = AlwaysRecord{}
	}
	m.mu.Lock()
	m.strategy = s
	_, always := s.(AlwaysRecord)
	resume := always && m.state == Paused
	m.mu.Unlock()

	if resume {
		m.transition(Active)
	}
}

func (m *Machine) Strategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) IsPaused() bool {
	return m.State() == Paused
}

// PausedSince is zero while Active
func (m *Machine) PausedSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Paused {
		return time.Time{}
	}
	return m.pausedAt
}

// OnChange registers fn to run after every transition and on Reset
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Reset forces Active when a timer starts. Nothing is published but
// listeners still see Active.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Active
	m.pausedAt = time.Time{}
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(Active)
	}
}

// Sleep signals system sleep or screen lock
func (m *Machine) Sleep() { m.signal(CauseSleep).Pause() }

// Wake signals resume from sleep
func (m *Machine) Wake() { m.signal(CauseSleep).Resume() }

// Inactive signals that the idle limit was exceeded
func (m *Machine) Inactive() { m.signal(CauseInactivity).Pause() }

// ActivityDetected signals input after an inactive stretch
func (m *Machine) ActivityDetected() { m.signal(CauseInactivity).Resume() }

func (m *Machine) signal(cause Cause) Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cause = cause
	return m.strategy
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	if m.state == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	if to == Paused {
		m.pausedAt = m.now()
	} else {
		m.pausedAt = time.Time{}
	}
	cause := m.cause
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Info("Recording state changed", "state", to.String(), "cause", causeName(cause))
	m.publisher.Send(channelFor(to, cause), nil)
	for _, fn := range listeners {
		fn(to)
	}
}

func channelFor(to State, cause Cause) string {
	switch {
	case cause == CauseSleep && to == Paused:
		return ipc.ChannelDeviceSleep
	case cause == CauseSleep:
		return ipc.ChannelDeviceWakeUp
	case to == Paused:
		return ipc.ChannelStopFromInactivity
	default:
		return ipc.ChannelStartFromInactivity
	}
}

func causeName(c Cause) string {
	if c == CauseInactivity {
		return "inactivity"
	}
	return "sleep"
}
