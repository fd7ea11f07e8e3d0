package pattern

import (
	"strings"
	"testing"
)

func TestDefaultRaw_Claude(t *testing.T) {
	raw := DefaultRaw(AgentClaude)
	if raw == nil {
		t.Fatal("expected non-nil for claude")
	}

	found := false
	for _, p := range raw.CommandPrefixes {
		if p == "claude" {
			found = true
			break
		}
	}
	if !found {
		t.Error("claude defaults missing 'claude' command prefix")
	}

	hasRegex := false
	for _, p := range raw.StartupMarkers {
		if strings.HasPrefix(p, "re:") {
			hasRegex = true
			break
		}
	}
	if !hasRegex {
		t.Error("claude defaults missing regex startup marker")
	}
}

func TestDefaultRaw_AllKnownTypes(t *testing.T) {
	for _, typ := range KnownTypes() {
		raw := DefaultRaw(typ)
		if raw == nil {
			t.Fatalf("no defaults for %s", typ)
		}
		if len(raw.CommandPrefixes) == 0 {
			t.Errorf("%s has no command prefixes", typ)
		}
		if len(raw.TerminationMarkers) == 0 {
			t.Errorf("%s has no termination markers", typ)
		}
	}
}

func TestDefaultRaw_Unknown(t *testing.T) {
	if DefaultRaw(AgentType("unknowntool")) != nil {
		t.Error("expected nil for unknown type")
	}
}

func TestMatchCommandInput(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		input string
		want  AgentType
		ok    bool
	}{
		{"claude", AgentClaude, true},
		{"  claude  ", AgentClaude, true},
		{"CLAUDE", AgentClaude, true},
		{"claude --resume", AgentClaude, true},
		{"claude-code", AgentClaude, true},
		{"gemini", AgentGemini, true},
		{"gh copilot suggest", AgentCopilot, true},
		{"codex", AgentCodex, true},
		{"ls -la", "", false},
		{"claudette", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := r.MatchCommandInput(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("MatchCommandInput(%q) = (%q, %v), want (%q, %v)",
				tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatchCommandInput_LongestPrefixWins(t *testing.T) {
	// Two agents with overlapping prefixes: the longer prefix must win
	// regardless of registry order.
	overrides := map[AgentType]*Raw{
		AgentClaude: {CommandPrefixes: []string{"ai"}},
		AgentGemini: {CommandPrefixes: []string{"ai-go"}},
	}
	r := NewRegistryWith(overrides, nil)

	got, ok := r.MatchCommandInput("ai-go --flash")
	if !ok || got != AgentGemini {
		t.Errorf("expected gemini via longest prefix, got (%q, %v)", got, ok)
	}
	got, ok = r.MatchCommandInput("ai prompt")
	if !ok || got != AgentClaude {
		t.Errorf("expected claude for shorter prefix, got (%q, %v)", got, ok)
	}
}

func TestMatchStartupOutput(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		line string
		want AgentType
		ok   bool
	}{
		{"Welcome to Claude Code!", AgentClaude, true},
		{"* Claude Code v2.1.25", AgentClaude, true},
		{"Gemini CLI ready", AgentGemini, true},
		{"OpenAI Codex session", AgentCodex, true},
		{"GitHub Copilot at your service", AgentCopilot, true},
		{"make: *** No rule to make target", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := r.MatchStartupOutput(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("MatchStartupOutput(%q) = (%q, %v), want (%q, %v)",
				tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsAgentActivity(t *testing.T) {
	r := NewRegistry()

	// Long lines count unconditionally.
	long := strings.Repeat("x", 60)
	if !r.IsAgentActivity(long) {
		t.Error("long line should count as activity")
	}
	// Keyword match, any type.
	if !r.IsAgentActivity("esc to interrupt") {
		t.Error("busy keyword should count as activity")
	}
	// Keyword match, restricted type.
	if !r.IsAgentActivity("esc to cancel", AgentGemini) {
		t.Error("gemini keyword should count for gemini")
	}
	// Short inert line.
	if r.IsAgentActivity("ok") {
		t.Error("short inert line should not count")
	}
	if r.IsAgentActivity("") {
		t.Error("empty line should not count")
	}
}

func TestIsShellPrompt(t *testing.T) {
	r := NewRegistry()

	prompts := []string{
		"user@host:~/project$",
		"$",
		"%",
		"❯",
		"➜ project",
		"PS C:\\Users\\dev>",
		">>>",
		"(venv) user@host$",
		">",
	}
	for _, p := range prompts {
		if !r.IsShellPrompt(p) {
			t.Errorf("expected prompt match for %q", p)
		}
	}

	notPrompts := []string{
		"",
		strings.Repeat("a", 101) + "$",
		"The function returns a value",
	}
	for _, p := range notPrompts {
		if r.IsShellPrompt(p) {
			t.Errorf("expected no prompt match for %q", p)
		}
	}
}

func TestIsTerminationPattern(t *testing.T) {
	r := NewRegistry()

	positive := []string{
		"session ended",
		"Session Ended",
		"done",
		"[finished]",
		"segmentation fault (core dumped)",
		"zsh: command not found: claude",
		"claude exited",
		"Gemini has terminated",
	}
	for _, line := range positive {
		if !r.IsTerminationPattern(line) {
			t.Errorf("expected termination match for %q", line)
		}
	}

	negative := []string{
		"",
		"still working on it",
		"reading files",
	}
	for _, line := range negative {
		if r.IsTerminationPattern(line) {
			t.Errorf("expected no termination match for %q", line)
		}
	}

	// Type restriction: a gemini marker must not fire for claude only.
	if r.IsTerminationPattern("goodbye gemini", AgentClaude) {
		t.Error("gemini marker fired under claude restriction")
	}
	if !r.IsTerminationPattern("goodbye gemini", AgentGemini) {
		t.Error("gemini marker missing under gemini restriction")
	}
}

func TestMatchesProcessCompletion(t *testing.T) {
	r := NewRegistry()
	if !r.MatchesProcessCompletion("  Done  ") {
		t.Error("trim+lowercase exact match expected")
	}
	if r.MatchesProcessCompletion("done and dusted") {
		t.Error("completion literals are exact-match only")
	}
}

func TestMerge(t *testing.T) {
	defaults := &Raw{
		CommandPrefixes:  []string{"a"},
		StartupMarkers:   []string{"s1"},
		ActivityKeywords: []string{"k1"},
	}
	overrides := &Raw{
		StartupMarkers: []string{}, // non-nil empty: replaces
	}
	extras := &Raw{
		CommandPrefixes: []string{"b"},
	}

	got := Merge(defaults, overrides, extras)
	if len(got.CommandPrefixes) != 2 {
		t.Errorf("expected defaults+extras prefixes, got %v", got.CommandPrefixes)
	}
	if len(got.StartupMarkers) != 0 {
		t.Errorf("expected override to clear startup markers, got %v", got.StartupMarkers)
	}
	if len(got.ActivityKeywords) != 1 {
		t.Errorf("expected default keywords preserved, got %v", got.ActivityKeywords)
	}
}

func TestNewRegistryWith_BadRegexSkipped(t *testing.T) {
	overrides := map[AgentType]*Raw{
		AgentClaude: {
			StartupMarkers: []string{"re:([unclosed", "claude custom banner"},
		},
	}
	r := NewRegistryWith(overrides, nil)

	// Bad regex skipped, literal still active.
	got, ok := r.MatchStartupOutput("-- claude custom banner --")
	if !ok || got != AgentClaude {
		t.Errorf("literal override lost after bad regex, got (%q, %v)", got, ok)
	}
}
