package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler is a deterministic Scheduler driven by Advance.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, running due callbacks in deadline
// order outside the scheduler lock.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *manualTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.at
		next.fired = true
		s.mu.Unlock()

		next.f()
	}
}

type monitorProbe struct {
	mu       sync.Mutex
	probes   int
	timeouts int
	err      error
}

func (p *monitorProbe) probe() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.err
}

func (p *monitorProbe) timeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts++
}

func (p *monitorProbe) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes, p.timeouts
}

const (
	testInterval = time.Second
	testTimeout  = 500 * time.Millisecond
)

func newTestMonitor() (*Monitor, *manualScheduler, *monitorProbe) {
	s := &manualScheduler{}
	p := &monitorProbe{}
	return NewMonitor(s, testInterval, testTimeout, p.probe, p.timeout), s, p
}

// TestMonitorProbeAndPong walks the ALIVE -> AWAITING_PONG -> ALIVE cycle.
func TestMonitorProbeAndPong(t *testing.T) {
	m, s, p := newTestMonitor()
	m.Start()
	assert.Equal(t, StateAlive, m.State())

	s.Advance(testInterval - time.Millisecond)
	probes, _ := p.counts()
	assert.Zero(t, probes, "no probe before the first interval")

	s.Advance(time.Millisecond)
	probes, _ = p.counts()
	assert.Equal(t, 1, probes)
	assert.Equal(t, StateAwaitingPong, m.State())

	m.Pong()
	assert.Equal(t, StateAlive, m.State())

	// The cancelled deadline must not fire.
	s.Advance(testTimeout)
	assert.Equal(t, StateAlive, m.State())

	// The clock sits half an interval past the last tick. Answer each probe
	// at its tick, before its deadline.
	for i := 0; i < 5; i++ {
		s.Advance(testInterval - testTimeout)
		m.Pong()
		s.Advance(testTimeout)
	}
	probes, timeouts := p.counts()
	assert.Equal(t, 6, probes)
	assert.Zero(t, timeouts)
	assert.Equal(t, StateAlive, m.State())
}

// TestMonitorTimeout verifies a missed pong kills the connection once and
// stops further probes.
func TestMonitorTimeout(t *testing.T) {
	m, s, p := newTestMonitor()
	m.Start()

	s.Advance(testInterval)
	s.Advance(testTimeout - time.Millisecond)
	assert.Equal(t, StateAwaitingPong, m.State())

	s.Advance(time.Millisecond)
	assert.Equal(t, StateDead, m.State())

	s.Advance(10 * testInterval)
	probes, timeouts := p.counts()
	assert.Equal(t, 1, probes)
	assert.Equal(t, 1, timeouts)

	m.Pong()
	assert.Equal(t, StateDead, m.State(), "dead is terminal")
}

// TestMonitorDetectionBound verifies death is detected no later than one
// interval plus one deadline after the last pong.
func TestMonitorDetectionBound(t *testing.T) {
	m, s, p := newTestMonitor()
	m.Start()

	s.Advance(testInterval)
	m.Pong()

	s.Advance(testInterval + testTimeout)
	_, timeouts := p.counts()
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, StateDead, m.State())
}

// TestMonitorStop verifies Stop is terminal, silent and idempotent.
func TestMonitorStop(t *testing.T) {
	m, s, p := newTestMonitor()
	m.Start()

	s.Advance(testInterval)
	m.Stop()
	m.Stop()
	assert.Equal(t, StateDead, m.State())

	s.Advance(10 * testInterval)
	probes, timeouts := p.counts()
	assert.Equal(t, 1, probes)
	assert.Zero(t, timeouts)

	m.Start()
	s.Advance(testInterval)
	probes, _ = p.counts()
	assert.Equal(t, 1, probes, "start after stop does nothing")
}

// TestMonitorProbeError verifies a failed ping counts as a missed pong.
func TestMonitorProbeError(t *testing.T) {
	m, s, p := newTestMonitor()
	p.err = errors.New("write: broken pipe")
	m.Start()

	s.Advance(testInterval)
	assert.Equal(t, StateDead, m.State())

	s.Advance(testTimeout)
	_, timeouts := p.counts()
	assert.Equal(t, 1, timeouts)
}

// TestMonitorStartIsIdempotent verifies repeated Start calls do not stack
// probe timers.
func TestMonitorStartIsIdempotent(t *testing.T) {
	m, s, p := newTestMonitor()
	m.Start()
	m.Start()

	s.Advance(testInterval)
	probes, _ := p.counts()
	assert.Equal(t, 1, probes)
}

// TestMonitorPongWhileAliveIsIgnored verifies unsolicited pongs do not
// change state.
func TestMonitorPongWhileAliveIsIgnored(t *testing.T) {
	m, _, _ := newTestMonitor()
	m.Start()
	m.Pong()
	assert.Equal(t, StateAlive, m.State())
}

// TestMonitorConcurrentPongAndTimeout races pongs against expiring
// deadlines on the system scheduler. The callback must never run twice.
func TestMonitorConcurrentPongAndTimeout(t *testing.T) {
	var (
		mu       sync.Mutex
		timeouts int
	)
	m := NewMonitor(SystemScheduler{}, 2*time.Millisecond, time.Millisecond,
		func() error { return nil },
		func() {
			mu.Lock()
			timeouts++
			mu.Unlock()
		})
	m.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.Pong()
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	require.Eventually(t, func() bool { return m.State() == StateDead }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, timeouts)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "awaiting_pong", StateAwaitingPong.String())
	assert.Equal(t, "dead", StateDead.String())
	assert.Equal(t, "unknown", State(42).String())
}
