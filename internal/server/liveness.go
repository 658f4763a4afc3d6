package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// LivenessState is where a connection stands in the ping/pong cycle.
type LivenessState int32

const (
	// StateAlive means the last probe was answered (or none was sent yet).
	StateAlive LivenessState = iota
	// StateAwaitingPong means a ping is outstanding and the grace timer runs.
	StateAwaitingPong
)

func (s LivenessState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	default:
		return "unknown"
	}
}

// livenessMonitor probes a peer every interval and calls onDead when a
// probe cannot be sent or is not acknowledged within grace. Eviction
// therefore happens at most interval+grace after the last acknowledgement.
type livenessMonitor struct {
	interval time.Duration
	grace    time.Duration
	probe    func() error
	onDead   func()
	stop     <-chan struct{}

	pong     chan struct{}
	state    atomic.Int32
	lastPong atomic.Int64
	deadOnce sync.Once
}

func newLivenessMonitor(interval, grace time.Duration, probe func() error, onDead func(), stop <-chan struct{}) *livenessMonitor {
	m := &livenessMonitor{
		interval: interval,
		grace:    grace,
		probe:    probe,
		onDead:   onDead,
		stop:     stop,
		pong:     make(chan struct{}, 1),
	}
	m.lastPong.Store(time.Now().UnixNano())
	return m
}

// acknowledge records a pong. It never blocks, so it is safe to call from
// the read loop's pong handler.
func (m *livenessMonitor) acknowledge() {
	m.lastPong.Store(time.Now().UnixNano())
	select {
	case m.pong <- struct{}{}:
	default:
	}
}

func (m *livenessMonitor) State() LivenessState {
	return LivenessState(m.state.Load())
}

func (m *livenessMonitor) LastPong() time.Time {
	return time.Unix(0, m.lastPong.Load())
}

// run drives the state machine until stop closes or the peer is declared
// dead.
func (m *livenessMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		select {
		case <-m.stop:
			return
		default:
		}

		// A pong that arrived while alive must not answer the next probe.
		select {
		case <-m.pong:
		default:
		}

		if err := m.probe(); err != nil {
			m.die()
			return
		}
		m.state.Store(int32(StateAwaitingPong))

		if !m.await() {
			return
		}
	}
}

// await waits for the outstanding probe's pong. It returns false when the
// monitor is finished.
func (m *livenessMonitor) await() bool {
	grace := time.NewTimer(m.grace)
	defer grace.Stop()

	select {
	case <-m.pong:
		m.state.Store(int32(StateAlive))
		return true
	case <-grace.C:
		m.die()
		return false
	case <-m.stop:
		return false
	}
}

func (m *livenessMonitor) die() {
	m.deadOnce.Do(m.onDead)
}
