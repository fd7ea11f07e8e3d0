// Package detect implements the streaming classification engine: it watches
// raw terminal input/output, consults the pattern registry, and drives the
// state manager's transitions. Classification is line-local; the validation
// gate adds the temporal context (activity hysteresis) a single line cannot
// carry.
package detect

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/termscope/termscope/internal/logging"
	"github.com/termscope/termscope/internal/pattern"
	"github.com/termscope/termscope/internal/state"
)

var log = logging.ForComponent(logging.CompDetect)

// Inputs shorter than this are keystroke noise when SkipMinimalData is set.
const minMeaningfulInput = 3

// Config tunes the engine. Readable and updatable as a whole record.
type Config struct {
	// DebounceMs suppresses reprocessing of an identical chunk arriving
	// again within the window (replayed buffers). 0 disables.
	DebounceMs int

	// CacheTTLMs bounds how long memoized classification results stay fresh.
	CacheTTLMs int

	// CacheCapacity bounds the LRU result cache.
	CacheCapacity int

	// MaxBufferSize caps how many bytes of one chunk are scanned; larger
	// chunks keep only their newest bytes. 0 disables.
	MaxBufferSize int

	// SkipMinimalData drops one- and two-character inputs (arrow keys,
	// single keystrokes) before classification.
	SkipMinimalData bool

	// RecentActivityWindow: agent activity this fresh vetoes terminations
	// below the strong confidence threshold.
	RecentActivityWindow time.Duration

	// ModerateIdleWindow: quiet time after which moderate-confidence
	// terminations are accepted.
	ModerateIdleWindow time.Duration

	// SilenceWindow: quiet time after which the lenient prompt fallback
	// engages.
	SilenceWindow time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		DebounceMs:           250,
		CacheTTLMs:           2000,
		CacheCapacity:        100,
		MaxBufferSize:        16 * 1024,
		SkipMinimalData:      true,
		RecentActivityWindow: 10 * time.Second,
		ModerateIdleWindow:   5 * time.Second,
		SilenceWindow:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CacheTTLMs <= 0 {
		c.CacheTTLMs = d.CacheTTLMs
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.RecentActivityWindow <= 0 {
		c.RecentActivityWindow = d.RecentActivityWindow
	}
	if c.ModerateIdleWindow <= 0 {
		c.ModerateIdleWindow = d.ModerateIdleWindow
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = d.SilenceWindow
	}
	return c
}

type chunkStamp struct {
	chunk string
	at    time.Time
}

// Engine is the detection engine. One instance serves all terminals; the
// per-terminal context lives in the state manager and the memo cache.
type Engine struct {
	registry *pattern.Registry
	states   *state.Manager
	now      func() time.Time

	mu        sync.Mutex
	cfg       Config
	cache     *memo
	lastChunk map[string]chunkStamp

	slowLog rate.Sometimes
}

// NewEngine wires an engine to its registry and state manager. now may be
// nil (wall clock).
func NewEngine(registry *pattern.Registry, states *state.Manager, cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	return &Engine{
		registry:  registry,
		states:    states,
		now:       now,
		cfg:       cfg,
		cache:     newMemo(cfg.CacheCapacity, time.Duration(cfg.CacheTTLMs)*time.Millisecond),
		lastChunk: make(map[string]chunkStamp),
		slowLog:   rate.Sometimes{Interval: time.Second},
	}
}

// Config returns the current configuration record.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Registry returns the current pattern registry snapshot.
func (e *Engine) Registry() *pattern.Registry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry
}

// SetRegistry swaps the pattern registry. Used on config reload; in-flight
// detections finish against the snapshot they started with.
func (e *Engine) SetRegistry(r *pattern.Registry) {
	if r == nil {
		return
	}
	e.mu.Lock()
	e.registry = r
	e.mu.Unlock()
}

// UpdateConfig replaces the configuration record. Changing cache bounds
// rebuilds the memo cache; memoized results are dropped, activity anchors
// with them, which only makes the next termination decision more cautious.
func (e *Engine) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.CacheCapacity != e.cfg.CacheCapacity || cfg.CacheTTLMs != e.cfg.CacheTTLMs {
		e.cache = newMemo(cfg.CacheCapacity, time.Duration(cfg.CacheTTLMs)*time.Millisecond)
	}
	e.cfg = cfg
}

// DetectFromInput classifies one typed command. A match connects the
// terminal with confidence 1.0. Results, including negative ones, are
// memoized so replayed input is not re-scanned; the key includes the full
// text, so distinct inputs never collide.
func (e *Engine) DetectFromInput(terminalID, rawInput string) (res *Result) {
	defer e.recoverNeutral("DetectFromInput", terminalID, &res)

	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return nil
	}
	if e.Config().SkipMinimalData && len(trimmed) < minMeaningfulInput {
		return nil
	}

	key := inputKey(terminalID, trimmed)
	if cached, ok := e.cacheGet(key); ok {
		e.slowLog.Do(func() {
			log.Debug("input_cache_hit", slog.String("terminal", terminalID))
		})
		return &cached
	}

	if agentType, ok := e.Registry().MatchCommandInput(trimmed); ok {
		e.states.SetConnectedAgent(terminalID, agentType, "")
		r := Result{
			Type:       agentType,
			Detected:   true,
			Confidence: confExplicit,
			Source:     SourceInput,
			Line:       trimmed,
			Reason:     "command prefix match",
		}
		e.cacheAdd(key, r)
		return &r
	}

	r := Result{Source: SourceInput, Line: trimmed, Reason: "no command match"}
	e.cacheAdd(key, r)
	return &r
}

// DetectFromOutput scans one output chunk line by line. Startup detection
// runs only for terminals with no agent; terminals that already host an
// agent get termination checks only, which prevents self-reclassification
// churn. The first line that transitions a terminal wins the chunk.
func (e *Engine) DetectFromOutput(terminalID, rawChunk string) (res *Result) {
	defer e.recoverNeutral("DetectFromOutput", terminalID, &res)

	if rawChunk == "" {
		return nil
	}
	if e.isDuplicateChunk(terminalID, rawChunk) {
		return nil
	}
	if max := e.Config().MaxBufferSize; max > 0 && len(rawChunk) > max {
		rawChunk = rawChunk[len(rawChunk)-max:]
	}

	now := e.now()
	reg := e.Registry()
	for _, line := range pattern.SplitLines(rawChunk) {
		clean := pattern.SanitizeLine(line)
		if clean == "" {
			continue
		}

		if reg.IsAgentActivity(clean) {
			e.touchActivity(terminalID, now)
		}

		st := e.states.AgentState(terminalID)
		switch st.Status {
		case state.StatusConnected, state.StatusDisconnected:
			term := e.strictTermination(terminalID, line, clean, st.Type)
			if term.Terminated && e.validateTermination(terminalID, term) {
				// For a disconnected terminal this is a deliberate no-op in
				// the state manager: its process is still alive and only
				// terminal removal may clear it.
				if e.states.SetAgentTerminated(terminalID) {
					log.Info("agent_terminated",
						slog.String("terminal", terminalID),
						slog.Float64("confidence", term.Confidence),
						slog.String("reason", term.Reason))
				}
			}
		case state.StatusNone:
			if agentType, ok := reg.MatchStartupOutput(clean); ok {
				e.states.SetConnectedAgent(terminalID, agentType, "")
				r := Result{
					Type:       agentType,
					Detected:   true,
					Confidence: confStartupOutput,
					Source:     SourceOutput,
					Line:       clean,
					Reason:     "startup banner match",
				}
				return &r
			}
		}
	}
	return nil
}

// DetectTermination is the non-mutating probe: it reports the
// highest-confidence termination found in data without touching any state.
// Unconfirmed terminals get the looser any-shell-prompt rule, since a false
// positive there cannot lose a connected agent.
func (e *Engine) DetectTermination(terminalID, data string) (out Termination) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("detect_panic",
				slog.String("op", "DetectTermination"),
				slog.String("terminal", terminalID))
			out = Termination{Reason: "internal error"}
		}
	}()

	st := e.states.AgentState(terminalID)
	reg := e.Registry()
	var best Termination
	for _, line := range pattern.SplitLines(data) {
		clean := pattern.SanitizeLine(line)
		if clean == "" {
			continue
		}

		var cand Termination
		if st.Status == state.StatusConnected {
			cand = e.strictTermination(terminalID, line, clean, st.Type)
			if cand.Terminated && !e.validateTermination(terminalID, cand) {
				cand = Termination{Line: clean}
			}
		} else if reg.IsShellPrompt(clean) {
			cand = Termination{
				Terminated: true,
				Confidence: confStrong,
				Line:       clean,
				Reason:     "shell prompt on unconfirmed terminal",
			}
		}
		if cand.Terminated && cand.Confidence > best.Confidence {
			best = cand
		}
	}
	if !best.Terminated {
		best.Reason = "no termination detected"
	}
	return best
}

// PurgeTerminal drops every cached entry for a removed terminal.
func (e *Engine) PurgeTerminal(terminalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.PurgeTerminal(terminalID)
	delete(e.lastChunk, terminalID)
}

// Close clears all caches. The engine holds no timers or goroutines.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Purge()
	e.lastChunk = make(map[string]chunkStamp)
}

func (e *Engine) cacheGet(key string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Get(key)
}

func (e *Engine) cacheAdd(key string, r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Add(key, r)
}

func (e *Engine) touchActivity(terminalID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.TouchActivity(terminalID, at)
}

func (e *Engine) lastActivity(terminalID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.LastActivity(terminalID)
}

// isDuplicateChunk reports whether the exact chunk was already processed
// within the debounce window, updating the stamp either way.
func (e *Engine) isDuplicateChunk(terminalID, chunk string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := time.Duration(e.cfg.DebounceMs) * time.Millisecond
	if window <= 0 {
		return false
	}
	now := e.now()
	prev, ok := e.lastChunk[terminalID]
	e.lastChunk[terminalID] = chunkStamp{chunk: chunk, at: now}
	return ok && prev.chunk == chunk && now.Sub(prev.at) < window
}

// recoverNeutral degrades an internal panic to a nil result: a detection
// failure must never crash the caller's event loop.
func (e *Engine) recoverNeutral(op, terminalID string, res **Result) {
	if r := recover(); r != nil {
		log.Error("detect_panic",
			slog.String("op", op),
			slog.String("terminal", terminalID))
		*res = nil
	}
}
