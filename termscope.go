// Package termscope classifies raw terminal output streams to track which
// CLI AI agent (claude, gemini, codex, copilot) is running in each
// terminal, when it starts and when it terminates. At most one terminal
// holds the CONNECTED slot at a time; previously detected agents are kept
// as DISCONNECTED candidates and promoted when the connected one goes
// away.
package termscope

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/termscope/termscope/internal/config"
	"github.com/termscope/termscope/internal/detect"
	"github.com/termscope/termscope/internal/pattern"
	"github.com/termscope/termscope/internal/recorder"
	"github.com/termscope/termscope/internal/state"
)

// Re-exported types so callers only import the root package.
type (
	AgentType     = pattern.AgentType
	Status        = state.Status
	TerminalState = state.TerminalState
	AgentInfo     = state.AgentInfo
	StatusEvent   = state.StatusEvent
	SwitchResult  = state.SwitchResult
	Result        = detect.Result
	Termination   = detect.Termination
	Config        = config.Config
)

const (
	AgentClaude  = pattern.AgentClaude
	AgentGemini  = pattern.AgentGemini
	AgentCodex   = pattern.AgentCodex
	AgentCopilot = pattern.AgentCopilot

	StatusConnected    = state.StatusConnected
	StatusDisconnected = state.StatusDisconnected
	StatusNone         = state.StatusNone
)

// Options configures a Monitor. The zero value works: built-in patterns,
// default detection thresholds, no recorder.
type Options struct {
	// Config supplies detection tuning, pattern overrides and recorder
	// settings. Leave zero to use config.Default().
	Config Config

	// TerminalAlive reports whether a terminal still exists. The heartbeat
	// uses it to drop stale entries. Nil disables staleness checks.
	TerminalAlive func(terminalID string) bool

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Monitor is the top-level engine: pattern registry, detection engine,
// state manager and heartbeat wired together.
type Monitor struct {
	registry *pattern.Registry
	engine   *detect.Engine
	states   *state.Manager
	beat     *state.Heartbeat
	rec      *recorder.Recorder

	mu  sync.Mutex
	cfg Config
	now func() time.Time

	closeOnce sync.Once
}

// New builds a Monitor from the given options.
func New(opts Options) (*Monitor, error) {
	cfg := opts.Config
	if cfg.Detection == (config.DetectionSettings{}) {
		cfg = config.Default()
		cfg.Patterns = opts.Config.Patterns
		cfg.Logging = opts.Config.Logging
		cfg.Recorder = opts.Config.Recorder
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	overrides, extras := cfg.PatternOverrides()
	registry := pattern.NewRegistryWith(overrides, extras)

	stateCfg := cfg.StateConfig()
	stateCfg.Now = now
	states := state.NewManager(stateCfg)

	engine := detect.NewEngine(registry, states, cfg.DetectConfig(), now)

	m := &Monitor{
		registry: registry,
		engine:   engine,
		states:   states,
		cfg:      cfg,
		now:      now,
	}
	m.beat = state.NewHeartbeat(states, cfg.HeartbeatInterval(), opts.TerminalAlive)

	if cfg.Recorder.Enabled {
		path := cfg.Recorder.Path
		if path == "" {
			path = filepath.Join(filepath.Dir(config.DefaultPath()), "termscope.db")
		}
		rec, err := recorder.Open(path)
		if err != nil {
			states.Close()
			engine.Close()
			return nil, err
		}
		m.rec = rec
		states.Subscribe(func(ev StatusEvent) {
			_ = rec.RecordTransition(ev, m.now())
		})
	}

	return m, nil
}

// DetectFromInput classifies a chunk of user keystrokes (typically one
// command line). A match connects the terminal. Returns nil when nothing
// was recognized.
func (m *Monitor) DetectFromInput(terminalID, input string) *Result {
	res := m.engine.DetectFromInput(terminalID, input)
	m.record(terminalID, res)
	return res
}

// DetectFromOutput classifies a chunk of terminal output: agent startup
// banners connect unconfirmed terminals, termination signatures demote the
// connected one. Returns nil when no new detection fired.
func (m *Monitor) DetectFromOutput(terminalID, output string) *Result {
	res := m.engine.DetectFromOutput(terminalID, output)
	m.record(terminalID, res)
	return res
}

// DetectTermination probes a chunk for termination evidence without
// mutating any state.
func (m *Monitor) DetectTermination(terminalID, data string) Termination {
	return m.engine.DetectTermination(terminalID, data)
}

// AgentState reports a terminal's current status.
func (m *Monitor) AgentState(terminalID string) TerminalState {
	return m.states.AgentState(terminalID)
}

// ConnectedAgent returns the terminal currently holding the CONNECTED
// slot, if any.
func (m *Monitor) ConnectedAgent() (terminalID string, agentType AgentType, ok bool) {
	return m.states.ConnectedAgent()
}

// DisconnectedAgents returns a snapshot of the DISCONNECTED candidates.
func (m *Monitor) DisconnectedAgents() map[string]AgentInfo {
	return m.states.DisconnectedAgents()
}

// SwitchAgentConnection promotes a disconnected terminal on explicit user
// request, bypassing the anti-flicker grace window.
func (m *Monitor) SwitchAgentConnection(terminalID string) SwitchResult {
	return m.states.SwitchAgentConnection(terminalID)
}

// HandleTerminalRemoved purges all detection and state traces of a
// destroyed terminal.
func (m *Monitor) HandleTerminalRemoved(terminalID string) {
	m.states.RemoveTerminal(terminalID)
	m.engine.PurgeTerminal(terminalID)
}

// OnStatusChange registers a callback for status transitions. The
// returned func unsubscribes.
func (m *Monitor) OnStatusChange(fn func(StatusEvent)) func() {
	return m.states.Subscribe(fn)
}

// StartHeartbeat begins periodic state validation. Safe to call more than
// once.
func (m *Monitor) StartHeartbeat() { m.beat.Start() }

// StopHeartbeat stops the periodic validation.
func (m *Monitor) StopHeartbeat() { m.beat.Stop() }

// RefreshAgentState promotes the most recently disconnected candidate
// when nothing is connected. Returns whether a terminal is CONNECTED
// afterward.
func (m *Monitor) RefreshAgentState() bool {
	return m.states.RefreshState()
}

// ForceReconnectAgent installs a connection unconditionally, skipping the
// grace window and any history requirement. Operator-facing recovery
// path.
func (m *Monitor) ForceReconnectAgent(terminalID string, agentType AgentType, terminalName string) bool {
	return m.states.ForceConnect(terminalID, agentType, terminalName)
}

// ClearDetectionError drops the cached detection results and activity
// anchor for a terminal so the next chunk is classified from scratch.
func (m *Monitor) ClearDetectionError(terminalID string) {
	m.engine.PurgeTerminal(terminalID)
}

// Config returns the current configuration.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig applies a new configuration to the running engine. The
// pattern registry is rebuilt from the new overrides; state already held
// is untouched.
func (m *Monitor) UpdateConfig(cfg Config) {
	overrides, extras := cfg.PatternOverrides()
	registry := pattern.NewRegistryWith(overrides, extras)
	m.engine.SetRegistry(registry)
	m.engine.UpdateConfig(cfg.DetectConfig())

	m.mu.Lock()
	m.registry = registry
	m.cfg = cfg
	m.mu.Unlock()
}

// Close releases everything: heartbeat, engine caches, state manager and
// recorder. Idempotent.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.beat.Stop()
		m.states.Close()
		m.engine.Close()
		if m.rec != nil {
			_ = m.rec.Close()
		}
	})
}

func (m *Monitor) record(terminalID string, res *Result) {
	if m.rec == nil || res == nil || !res.Detected {
		return
	}
	_ = m.rec.RecordSample(terminalID, *res, m.now())
}
