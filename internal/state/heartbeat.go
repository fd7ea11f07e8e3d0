package state

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often the manager's invariants are
// re-validated. Host restarts can leave stale state behind; the heartbeat is
// the safety net that notices.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat periodically runs ValidateState against a terminal liveness
// callback. It is the only recurring task in the engine and must always be
// stopped on disposal.
type Heartbeat struct {
	manager  *Manager
	interval time.Duration
	alive    func(terminalID string) bool

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// NewHeartbeat creates a stopped heartbeat. alive may be nil; the validation
// then only checks internal consistency.
func NewHeartbeat(m *Manager, interval time.Duration, alive func(terminalID string) bool) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{manager: m, interval: interval, alive: alive}
}

// Start begins periodic validation. Calling Start on a running heartbeat is
// a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker != nil {
		return
	}
	h.ticker = time.NewTicker(h.interval)
	h.done = make(chan struct{})

	go func(t *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-t.C:
				h.manager.ValidateState(h.alive)
			case <-done:
				return
			}
		}
	}(h.ticker, h.done)
}

// Stop cancels the periodic task. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	close(h.done)
	h.ticker = nil
	h.done = nil
}
