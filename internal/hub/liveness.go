package hub

import (
	"sync"
	"time"
)

// State is the liveness state of a connection.
type State int

const (
	// StateAlive means the peer answered the last probe (or none was sent yet).
	StateAlive State = iota
	// StateAwaitingPong means a probe is outstanding.
	StateAwaitingPong
	// StateDead is terminal: the peer timed out or the connection stopped.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Monitor is the per-connection heartbeat state machine. A recurring probe
// timer fires every interval; each probe arms a response deadline that a
// pong cancels. When the deadline passes first the monitor goes dead and
// calls onTimeout exactly once.
type Monitor struct {
	mu        sync.Mutex
	state     State
	interval  time.Duration
	timeout   time.Duration
	scheduler Scheduler
	probe     func() error
	onTimeout func()

	probeTimer Timer
	deadline   Timer
	// round identifies the outstanding probe so a stale deadline callback
	// cannot kill a connection that already answered.
	round   uint64
	started bool
}

// NewMonitor creates a stopped monitor. probe sends a ping; a probe error
// counts as a missed pong.
func NewMonitor(s Scheduler, interval, timeout time.Duration, probe func() error, onTimeout func()) *Monitor {
	return &Monitor{
		state:     StateAlive,
		interval:  interval,
		timeout:   timeout,
		scheduler: s,
		probe:     probe,
		onTimeout: onTimeout,
	}
}

// Start arms the recurring probe timer. Calling Start more than once, or
// after Stop, does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.state == StateDead {
		return
	}
	m.started = true
	m.state = StateAlive
	m.probeTimer = m.scheduler.AfterFunc(m.interval, m.tick)
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if m.state == StateDead {
		m.mu.Unlock()
		return
	}
	m.probeTimer = m.scheduler.AfterFunc(m.interval, m.tick)
	if m.state != StateAlive {
		m.mu.Unlock()
		return
	}

	m.state = StateAwaitingPong
	m.round++
	round := m.round
	m.deadline = m.scheduler.AfterFunc(m.timeout, func() { m.expire(round) })
	m.mu.Unlock()

	if err := m.probe(); err != nil {
		m.expire(round)
	}
}

// Pong records a liveness response.
func (m *Monitor) Pong() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingPong {
		return
	}
	m.state = StateAlive
	stopTimer(&m.deadline)
}

func (m *Monitor) expire(round uint64) {
	m.mu.Lock()
	if m.state != StateAwaitingPong || round != m.round {
		m.mu.Unlock()
		return
	}
	m.state = StateDead
	stopTimer(&m.probeTimer)
	stopTimer(&m.deadline)
	onTimeout := m.onTimeout
	m.mu.Unlock()

	if onTimeout != nil {
		onTimeout()
	}
}

// Stop moves the monitor to StateDead without invoking onTimeout. It is
// idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateDead
	stopTimer(&m.probeTimer)
	stopTimer(&m.deadline)
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
