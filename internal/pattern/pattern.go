// Package pattern holds the per-agent signature registry used to classify
// terminal lines: command prefixes, startup markers, activity keywords,
// termination markers, and the shared shell-prompt library. Pure data plus
// matching predicates; nothing in here carries mutable state after
// construction.
package pattern

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/termscope/termscope/internal/logging"
)

var log = logging.ForComponent(logging.CompPattern)

// AgentType identifies a known interactive CLI agent.
type AgentType string

const (
	AgentClaude  AgentType = "claude"
	AgentGemini  AgentType = "gemini"
	AgentCodex   AgentType = "codex"
	AgentCopilot AgentType = "copilot"
)

// KnownTypes returns the registry iteration order. The order is a declared
// part of the contract: ties between agents that cannot be resolved by
// longest-prefix fall back to this ordering.
func KnownTypes() []AgentType {
	return []AgentType{AgentClaude, AgentGemini, AgentCodex, AgentCopilot}
}

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentClaude, AgentGemini, AgentCodex, AgentCopilot:
		return true
	}
	return false
}

const (
	// Lines longer than this are presumed application chatter rather than a
	// shell echo, and count as agent activity unconditionally.
	longOutputThreshold = 50

	// A shell prompt is a short line; anything longer never qualifies.
	maxPromptLen = 100
)

// Raw holds string-form signature data before compilation.
// Entries prefixed with "re:" are compiled as regex; everything else matches
// with strings.Contains (or prefix semantics for CommandPrefixes).
type Raw struct {
	CommandPrefixes    []string
	StartupMarkers     []string // plain strings + "re:" prefixed regex
	ActivityKeywords   []string
	TerminationMarkers []string // plain strings + "re:" prefixed regex
}

// resolved is the compiled, ready-to-match form of one agent definition.
type resolved struct {
	commandPrefixes    []string // lowercased
	startupStrings     []string // lowercased
	startupRegexps     []*regexp.Regexp
	activityKeywords   []string // lowercased
	terminationStrings []string // lowercased
	terminationRegexps []*regexp.Regexp
}

// shellPatterns is the agent-independent prompt/termination library.
type shellPatterns struct {
	promptRegexps       []*regexp.Regexp
	completionLiterals  []string // exact match after trim+lowercase
	explicitTermination []string // substring match, lowercase
	crashIndicators     []string // substring match, lowercase
}

// Registry is the immutable signature table consulted by the detection
// engine. Construct once, share freely.
type Registry struct {
	order  []AgentType
	agents map[AgentType]*resolved
	shell  *shellPatterns
}

// NewRegistry builds a registry from the built-in defaults.
func NewRegistry() *Registry {
	return NewRegistryWith(nil, nil)
}

// NewRegistryWith builds a registry from the defaults merged with per-agent
// overrides and extras (see Merge for the replace/append contract). Passing
// nil maps yields the defaults.
func NewRegistryWith(overrides, extras map[AgentType]*Raw) *Registry {
	r := &Registry{
		order:  KnownTypes(),
		agents: make(map[AgentType]*resolved, len(KnownTypes())),
		shell:  compileShellPatterns(),
	}
	for _, t := range r.order {
		raw := Merge(DefaultRaw(t), overrides[t], extras[t])
		r.agents[t] = compile(t, raw)
	}
	return r
}

// compile turns a Raw definition into matchable form. Invalid regex entries
// are logged and skipped, never fatal: a bad user override must not take the
// whole registry down.
func compile(t AgentType, raw *Raw) *resolved {
	res := &resolved{}
	if raw == nil {
		return res
	}
	for _, p := range raw.CommandPrefixes {
		res.commandPrefixes = append(res.commandPrefixes, strings.ToLower(p))
	}
	for _, kw := range raw.ActivityKeywords {
		res.activityKeywords = append(res.activityKeywords, strings.ToLower(kw))
	}
	res.startupStrings, res.startupRegexps = splitPatterns(t, "startup", raw.StartupMarkers)
	res.terminationStrings, res.terminationRegexps = splitPatterns(t, "termination", raw.TerminationMarkers)
	return res
}

// splitPatterns separates plain strings from "re:" regex entries, compiling
// the latter.
func splitPatterns(t AgentType, kind string, patterns []string) ([]string, []*regexp.Regexp) {
	var literals []string
	var regexps []*regexp.Regexp
	for _, p := range patterns {
		if strings.HasPrefix(p, "re:") {
			re, err := regexp.Compile(p[3:])
			if err != nil {
				log.Warn("invalid_pattern_regex",
					slog.String("agent", string(t)),
					slog.String("kind", kind),
					slog.String("pattern", p),
					slog.String("error", err.Error()))
				continue
			}
			regexps = append(regexps, re)
		} else {
			literals = append(literals, strings.ToLower(p))
		}
	}
	return literals, regexps
}

// MatchCommandInput classifies a typed command line. An agent matches when
// any of its command prefixes is a case-insensitive prefix of (or equal to)
// the trimmed input. Longest matching prefix wins across agents; equal
// lengths fall back to registry order.
func (r *Registry) MatchCommandInput(text string) (AgentType, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return "", false
	}

	var best AgentType
	bestLen := -1
	for _, t := range r.order {
		for _, prefix := range r.agents[t].commandPrefixes {
			if !matchesPrefix(trimmed, prefix) {
				continue
			}
			if len(prefix) > bestLen {
				best = t
				bestLen = len(prefix)
			}
		}
	}
	if bestLen < 0 {
		return "", false
	}
	return best, true
}

// matchesPrefix reports whether input is the prefix itself or starts with
// "prefix " / "prefix-" style continuations. A bare prefix match on word
// boundary avoids "claudette" matching "claude".
func matchesPrefix(input, prefix string) bool {
	if input == prefix {
		return true
	}
	if !strings.HasPrefix(input, prefix) {
		return false
	}
	next := input[len(prefix)]
	return next == ' ' || next == '-' || next == '.' || next == '\t'
}

// MatchStartupOutput classifies an output line as an agent banner. Literal
// markers are checked before regexes per agent; agents run in registry order
// and the first hit wins.
func (r *Registry) MatchStartupOutput(text string) (AgentType, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, t := range r.order {
		def := r.agents[t]
		for _, marker := range def.startupStrings {
			if strings.Contains(lower, marker) {
				return t, true
			}
		}
		for _, re := range def.startupRegexps {
			if re.MatchString(text) {
				return t, true
			}
		}
	}
	return "", false
}

// IsAgentActivity reports whether a line looks like agent output. Long lines
// qualify unconditionally; short lines need an activity keyword of the given
// type, or of any type when no type is given.
func (r *Registry) IsAgentActivity(text string, types ...AgentType) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if len(trimmed) > longOutputThreshold {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, t := range r.typesOrAll(types) {
		for _, kw := range r.agents[t].activityKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// IsShellPrompt reports whether a line matches a known shell/REPL prompt
// shape. Long lines never qualify.
func (r *Registry) IsShellPrompt(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(trimmed) > maxPromptLen {
		return false
	}
	for _, re := range r.shell.promptRegexps {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// IsTerminationPattern reports whether a line carries any termination
// signature: shared explicit/completion/crash literals, or the termination
// markers of the given (or every) agent type.
func (r *Registry) IsTerminationPattern(text string, types ...AgentType) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)

	for _, lit := range r.shell.explicitTermination {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, lit := range r.shell.completionLiterals {
		if lower == lit {
			return true
		}
	}
	for _, lit := range r.shell.crashIndicators {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, t := range r.typesOrAll(types) {
		def := r.agents[t]
		for _, lit := range def.terminationStrings {
			if strings.Contains(lower, lit) {
				return true
			}
		}
		for _, re := range def.terminationRegexps {
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

// MatchesExplicitTermination reports a match against the unconditionally
// trusted termination literals (shared plus per-agent).
func (r *Registry) MatchesExplicitTermination(text string, types ...AgentType) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, lit := range r.shell.explicitTermination {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, t := range r.typesOrAll(types) {
		def := r.agents[t]
		for _, lit := range def.terminationStrings {
			if strings.Contains(lower, lit) {
				return true
			}
		}
		for _, re := range def.terminationRegexps {
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

// MatchesCrashIndicator reports a match against the crash literal set.
func (r *Registry) MatchesCrashIndicator(text string) bool {
	lower := strings.ToLower(text)
	for _, lit := range r.shell.crashIndicators {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	return false
}

// MatchesProcessCompletion reports whether the whole line is one of the
// process-completion literals ("done", "[finished]", ...).
func (r *Registry) MatchesProcessCompletion(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, lit := range r.shell.completionLiterals {
		if lower == lit {
			return true
		}
	}
	return false
}

func (r *Registry) typesOrAll(types []AgentType) []AgentType {
	if len(types) == 0 {
		return r.order
	}
	out := types[:0:0]
	for _, t := range types {
		if _, ok := r.agents[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Merge merges defaults with overrides and extras.
//   - If overrides has a field set (non-nil slice, even if empty), it
//     replaces the default.
//   - extras fields are appended to the result (after defaults or overrides).
//   - If defaults is nil, only overrides/extras are used.
func Merge(defaults, overrides, extras *Raw) *Raw {
	result := &Raw{}

	if defaults != nil {
		result.CommandPrefixes = copySlice(defaults.CommandPrefixes)
		result.StartupMarkers = copySlice(defaults.StartupMarkers)
		result.ActivityKeywords = copySlice(defaults.ActivityKeywords)
		result.TerminationMarkers = copySlice(defaults.TerminationMarkers)
	}

	if overrides != nil {
		if overrides.CommandPrefixes != nil {
			result.CommandPrefixes = copySlice(overrides.CommandPrefixes)
		}
		if overrides.StartupMarkers != nil {
			result.StartupMarkers = copySlice(overrides.StartupMarkers)
		}
		if overrides.ActivityKeywords != nil {
			result.ActivityKeywords = copySlice(overrides.ActivityKeywords)
		}
		if overrides.TerminationMarkers != nil {
			result.TerminationMarkers = copySlice(overrides.TerminationMarkers)
		}
	}

	if extras != nil {
		result.CommandPrefixes = append(result.CommandPrefixes, extras.CommandPrefixes...)
		result.StartupMarkers = append(result.StartupMarkers, extras.StartupMarkers...)
		result.ActivityKeywords = append(result.ActivityKeywords, extras.ActivityKeywords...)
		result.TerminationMarkers = append(result.TerminationMarkers, extras.TerminationMarkers...)
	}

	return result
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
