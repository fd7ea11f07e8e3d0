// Package state owns the authoritative agent state machine: at most one
// terminal is CONNECTED at any time, plus a set of DISCONNECTED terminals
// whose agents are presumed still running in the background.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/termscope/termscope/internal/logging"
	"github.com/termscope/termscope/internal/pattern"
)

var log = logging.ForComponent(logging.CompState)

// Status is the derived per-terminal agent status.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusNone         Status = "none"
)

// DefaultGraceWindow suppresses automatic re-promotion of a terminal that
// was demoted moments ago: old buffered output being reprocessed is not a
// real relaunch.
const DefaultGraceWindow = 2 * time.Second

// AgentInfo describes one disconnected agent terminal. StartTime is the
// moment the terminal was demoted; it orders promotion and anchors the
// grace window.
type AgentInfo struct {
	Type         pattern.AgentType
	StartTime    time.Time
	TerminalName string
}

// TerminalState is the queryable status of one terminal, derived on demand
// from the manager's maps rather than stored separately.
type TerminalState struct {
	Status Status
	Type   pattern.AgentType
}

// SwitchResult reports the outcome of a manual connection switch.
type SwitchResult struct {
	Success   bool
	Reason    string
	NewStatus Status
	Type      pattern.AgentType
}

// Config tunes the manager. The zero value gets defaults applied.
type Config struct {
	// GraceWindow blocks automatic re-promotion of a just-demoted terminal.
	GraceWindow time.Duration

	// Now is the clock source; tests inject a fake.
	Now func() time.Time
}

// Manager is the state machine. All mutations are serialized behind one
// mutex so the read-then-write promotion/demotion sequences stay safe if the
// host ever becomes multi-threaded. Events are published after the lock is
// released, so subscribers may call back into the manager without
// deadlocking.
type Manager struct {
	mu            sync.Mutex
	connectedID   string
	connectedType pattern.AgentType
	connectedName string
	disconnected  map[string]AgentInfo
	closed        bool

	graceWindow time.Duration
	now         func() time.Time

	notifier *Notifier
}

// NewManager creates a manager with the given config.
func NewManager(cfg Config) *Manager {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		disconnected: make(map[string]AgentInfo),
		graceWindow:  cfg.GraceWindow,
		now:          cfg.Now,
		notifier:     NewNotifier(),
	}
}

// Subscribe registers a status-change listener. Events for a given terminal
// are delivered in order. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(StatusEvent)) func() {
	return m.notifier.Subscribe(fn)
}

// SetConnectedAgent marks a terminal CONNECTED with the given agent type,
// demoting any previously connected terminal to DISCONNECTED. Returns false
// when the promotion was suppressed (closed manager, idempotent repeat, or
// grace-window guard).
func (m *Manager) SetConnectedAgent(terminalID string, agentType pattern.AgentType, terminalName string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}

	// Idempotence: already exactly this connection.
	if m.connectedID == terminalID && m.connectedType == agentType {
		m.mu.Unlock()
		return false
	}

	// Grace-window guard: a terminal demoted within the window is seeing
	// replayed buffer output, not a genuine relaunch.
	if info, ok := m.disconnected[terminalID]; ok {
		if m.now().Sub(info.StartTime) < m.graceWindow {
			m.mu.Unlock()
			log.Debug("promotion_suppressed_by_grace_window",
				slog.String("terminal", terminalID),
				slog.String("agent", string(agentType)))
			return false
		}
		delete(m.disconnected, terminalID)
	}

	events := m.installConnectedLocked(terminalID, agentType, terminalName)
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return true
}

// SwitchAgentConnection is the explicit-user-action promotion path. It
// bypasses the grace-window guard entirely: anti-flicker heuristics filter
// automatic signals, never deliberate user intent.
func (m *Manager) SwitchAgentConnection(terminalID string) SwitchResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SwitchResult{Reason: "state manager closed", NewStatus: StatusNone}
	}

	if m.connectedID == terminalID {
		t := m.connectedType
		m.mu.Unlock()
		return SwitchResult{Success: true, NewStatus: StatusConnected, Type: t}
	}

	info, ok := m.disconnected[terminalID]
	if !ok {
		m.mu.Unlock()
		return SwitchResult{Reason: "no agent associated with terminal", NewStatus: StatusNone}
	}

	delete(m.disconnected, terminalID)
	events := m.installConnectedLocked(terminalID, info.Type, info.TerminalName)
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return SwitchResult{Success: true, NewStatus: StatusConnected, Type: info.Type}
}

// ForceConnect installs a connection unconditionally: no grace-window
// guard and no requirement that the terminal already has a disconnected
// entry. Used by operator-facing recovery paths.
func (m *Manager) ForceConnect(terminalID string, agentType pattern.AgentType, terminalName string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}

	if m.connectedID == terminalID && m.connectedType == agentType {
		m.mu.Unlock()
		return false
	}

	delete(m.disconnected, terminalID)
	events := m.installConnectedLocked(terminalID, agentType, terminalName)
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return true
}

// SetAgentTerminated handles an agent session ending while its terminal
// lives on. Only the CONNECTED slot reacts: a DISCONNECTED terminal's
// process is still alive, so termination of it is a strict no-op; those
// entries leave only via RemoveTerminal.
func (m *Manager) SetAgentTerminated(terminalID string) bool {
	m.mu.Lock()
	if m.closed || m.connectedID != terminalID {
		m.mu.Unlock()
		return false
	}

	name := m.connectedName
	m.clearConnectedLocked()
	events := []StatusEvent{{TerminalID: terminalID, Status: StatusNone, TerminalName: name}}
	events = append(events, m.promoteLatestLocked()...)
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return true
}

// RemoveTerminal purges every trace of a destroyed terminal from both
// structures and promotes the next disconnected agent if the removed
// terminal held the CONNECTED slot.
func (m *Manager) RemoveTerminal(terminalID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var events []StatusEvent
	wasConnected := m.connectedID == terminalID
	_, wasDisconnected := m.disconnected[terminalID]

	if wasConnected {
		name := m.connectedName
		m.clearConnectedLocked()
		events = append(events, StatusEvent{TerminalID: terminalID, Status: StatusNone, TerminalName: name})
		events = append(events, m.promoteLatestLocked()...)
	} else if wasDisconnected {
		name := m.disconnected[terminalID].TerminalName
		delete(m.disconnected, terminalID)
		events = append(events, StatusEvent{TerminalID: terminalID, Status: StatusNone, TerminalName: name})
	}
	m.mu.Unlock()

	m.notifier.Publish(events...)
}

// PromoteLatestDisconnected installs the most recently disconnected agent
// as CONNECTED. No-op when the set is empty or a terminal is already
// connected. Returns whether a promotion happened.
func (m *Manager) PromoteLatestDisconnected() bool {
	m.mu.Lock()
	if m.closed || m.connectedID != "" {
		m.mu.Unlock()
		return false
	}
	events := m.promoteLatestLocked()
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return len(events) > 0
}

// AgentState derives the current status of one terminal.
func (m *Manager) AgentState(terminalID string) TerminalState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectedID == terminalID {
		return TerminalState{Status: StatusConnected, Type: m.connectedType}
	}
	if info, ok := m.disconnected[terminalID]; ok {
		return TerminalState{Status: StatusDisconnected, Type: info.Type}
	}
	return TerminalState{Status: StatusNone}
}

// ConnectedAgent returns the terminal currently holding the CONNECTED slot.
func (m *Manager) ConnectedAgent() (terminalID string, agentType pattern.AgentType, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedID == "" {
		return "", "", false
	}
	return m.connectedID, m.connectedType, true
}

// DisconnectedAgents returns a snapshot of the disconnected set.
func (m *Manager) DisconnectedAgents() map[string]AgentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentInfo, len(m.disconnected))
	for id, info := range m.disconnected {
		out[id] = info
	}
	return out
}

// ValidateState is the heartbeat check: verify the connected terminal (and
// every disconnected one) still exists among live terminals and self-heal by
// clearing stale entries. alive may be nil, in which case the check only
// verifies internal consistency. Returns true when no repair was needed.
func (m *Manager) ValidateState(alive func(terminalID string) bool) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return true
	}

	healthy := true
	var events []StatusEvent

	// A terminal in both structures is a programmer-error invariant
	// violation; the connected slot wins and the stale entry is dropped.
	if m.connectedID != "" {
		if _, dup := m.disconnected[m.connectedID]; dup {
			log.Error("terminal_in_both_states", slog.String("terminal", m.connectedID))
			delete(m.disconnected, m.connectedID)
			healthy = false
		}
	}

	if alive != nil {
		if m.connectedID != "" && !alive(m.connectedID) {
			log.Warn("connected_terminal_gone", slog.String("terminal", m.connectedID))
			id, name := m.connectedID, m.connectedName
			m.clearConnectedLocked()
			events = append(events, StatusEvent{TerminalID: id, Status: StatusNone, TerminalName: name})
			healthy = false
		}
		for id, info := range m.disconnected {
			if !alive(id) {
				log.Warn("disconnected_terminal_gone", slog.String("terminal", id))
				delete(m.disconnected, id)
				events = append(events, StatusEvent{TerminalID: id, Status: StatusNone, TerminalName: info.TerminalName})
				healthy = false
			}
		}
		if m.connectedID == "" {
			events = append(events, m.promoteLatestLocked()...)
		}
	}
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return healthy
}

// RefreshState is the on-demand recovery hook: when nothing is connected but
// disconnected agents exist, promote the latest. Returns whether a terminal
// is CONNECTED afterward.
func (m *Manager) RefreshState() bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	var events []StatusEvent
	if m.connectedID == "" {
		events = m.promoteLatestLocked()
	}
	connected := m.connectedID != ""
	m.mu.Unlock()

	m.notifier.Publish(events...)
	return connected
}

// ClearAll resets both structures without firing events. Used on disposal
// and by recovery paths that rebuild state from scratch.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearConnectedLocked()
	m.disconnected = make(map[string]AgentInfo)
}

// Close clears all state and subscriptions. Idempotent; no events are
// emitted once closing begins.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.clearConnectedLocked()
	m.disconnected = make(map[string]AgentInfo)
	m.mu.Unlock()

	m.notifier.Close()
}

// installConnectedLocked demotes the current holder (if any), installs the
// new connection, and returns the events to publish. Caller holds mu.
func (m *Manager) installConnectedLocked(terminalID string, agentType pattern.AgentType, terminalName string) []StatusEvent {
	var events []StatusEvent

	if m.connectedID != "" && m.connectedID != terminalID {
		m.disconnected[m.connectedID] = AgentInfo{
			Type:         m.connectedType,
			StartTime:    m.now(),
			TerminalName: m.connectedName,
		}
		events = append(events, StatusEvent{
			TerminalID:   m.connectedID,
			Status:       StatusDisconnected,
			Type:         m.connectedType,
			TerminalName: m.connectedName,
		})
	}

	m.connectedID = terminalID
	m.connectedType = agentType
	m.connectedName = terminalName
	events = append(events, StatusEvent{
		TerminalID:   terminalID,
		Status:       StatusConnected,
		Type:         agentType,
		TerminalName: terminalName,
	})

	log.Info("agent_connected",
		slog.String("terminal", terminalID),
		slog.String("agent", string(agentType)))
	return events
}

// promoteLatestLocked moves the most recently disconnected entry into the
// CONNECTED slot. Ties on StartTime break toward the greatest terminal ID so
// the choice is deterministic. Caller holds mu.
func (m *Manager) promoteLatestLocked() []StatusEvent {
	var bestID string
	var best AgentInfo
	for id, info := range m.disconnected {
		if bestID == "" ||
			info.StartTime.After(best.StartTime) ||
			(info.StartTime.Equal(best.StartTime) && id > bestID) {
			bestID, best = id, info
		}
	}
	if bestID == "" {
		return nil
	}

	delete(m.disconnected, bestID)
	m.connectedID = bestID
	m.connectedType = best.Type
	m.connectedName = best.TerminalName

	log.Info("agent_promoted",
		slog.String("terminal", bestID),
		slog.String("agent", string(best.Type)))
	return []StatusEvent{{
		TerminalID:   bestID,
		Status:       StatusConnected,
		Type:         best.Type,
		TerminalName: best.TerminalName,
	}}
}

func (m *Manager) clearConnectedLocked() {
	m.connectedID = ""
	m.connectedType = ""
	m.connectedName = ""
}
