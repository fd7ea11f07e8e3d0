package detect

import (
	"regexp"
	"strings"
	"time"

	"github.com/termscope/termscope/internal/pattern"
)

// Line-shape thresholds for the prompt heuristics.
const (
	maxPromptCandidateLen = 50
	maxLenientPromptLen   = 30
	longSentenceLen       = 40
)

var (
	// Unambiguous returned-prompt shapes: user@host, PS drive paths, bare
	// or path-prefixed prompt glyphs. A glyph glued to an ordinary word
	// ("cost 20$") deliberately does not qualify.
	obviousPromptRe = regexp.MustCompile(`^([\w.-]+@[\w.-]+\S*[$#%>]|PS\s+[A-Za-z]:[^>]*>|[~/][\w~/.\- ]*[$#%>]|[$#%>❯➜])\s*$`)

	// Bracketed or parenthetical runs long enough to read as prose, not as a
	// prompt decoration like (venv) or [main].
	longBracketRe = regexp.MustCompile(`\([^)]{20,}\)|\[[^\]]{20,}\]`)
)

var agentNameWords = []string{"claude", "gemini", "codex", "copilot", "anthropic", "openai"}

var conversationalMarkers = []string{
	"i'm claude",
	"i'm gemini",
	"i'm codex",
	"i am claude",
	"how can i help",
	"let me help",
	"let me know",
	"here's how",
	"happy to help",
	"i can help",
}

// strictTermination evaluates one line against the termination heuristic in
// priority order, short-circuiting on the first positive. raw keeps the
// original formatting (some termination regexes care); clean is the
// sanitized form the prompt heuristics run on.
func (e *Engine) strictTermination(terminalID string, raw, clean string, agentType pattern.AgentType) Termination {
	var types []pattern.AgentType
	if agentType.Valid() {
		types = append(types, agentType)
	}
	reg := e.Registry()

	// 1. Explicit termination message: unconditionally trustworthy.
	if reg.MatchesExplicitTermination(clean, types...) || reg.MatchesExplicitTermination(raw, types...) {
		return Termination{Terminated: true, Confidence: confExplicit, Line: clean, Reason: "explicit termination message"}
	}

	// 2. Process crash indicator.
	if reg.MatchesCrashIndicator(clean) {
		return Termination{Terminated: true, Confidence: confCrash, Line: clean, Reason: "process crash indicator"}
	}

	// 3. Shell-prompt heuristic: the risky branch. Only short, unambiguous
	// prompts free of AI-output markers qualify.
	if len(clean) <= maxPromptCandidateLen && reg.IsShellPrompt(clean) && !looksLikeAIOutput(clean) {
		conf := confPrompt
		reason := "shell prompt detected"
		if obviousShellPrompt(clean) {
			conf = confPromptObvious
			reason = "unambiguous shell prompt"
		}
		return Termination{Terminated: true, Confidence: conf, Line: clean, Reason: reason}
	}

	// 4. Timeout-based lenient fallback: prolonged silence makes a stray
	// short prompt-shaped line much more likely to be a genuine returned
	// prompt than agent chatter.
	if e.quietFor(terminalID, e.Config().SilenceWindow) && lenientPromptShape(clean) {
		return Termination{Terminated: true, Confidence: confLenient, Line: clean, Reason: "prompt shape after prolonged silence"}
	}

	return Termination{Line: clean}
}

// validateTermination is the second stage: the raw detector is permissive by
// design, and this gate suppresses its false positives using temporal
// context the line-local detector cannot see.
func (e *Engine) validateTermination(terminalID string, term Termination) bool {
	if !term.Terminated {
		return false
	}
	if term.Confidence >= confStartupOutput {
		return true
	}

	cfg := e.Config()
	last, seen := e.lastActivity(terminalID)
	var elapsed time.Duration
	if seen {
		elapsed = e.now().Sub(last)
	}

	// Fresh agent activity vetoes everything below the strong threshold.
	if seen && elapsed < cfg.RecentActivityWindow && term.Confidence < confStrong {
		return false
	}
	if obviousShellPrompt(term.Line) || e.Registry().MatchesProcessCompletion(term.Line) {
		return true
	}
	if term.Confidence >= confModerate && (!seen || elapsed >= cfg.ModerateIdleWindow) {
		return true
	}
	// The silence fallback produces exactly confLenient and only after the
	// silence window; honor it once the same window has verifiably passed.
	if term.Confidence >= confLenient && (!seen || elapsed > cfg.SilenceWindow) {
		return true
	}
	return false
}

// quietFor reports whether no AI activity was recorded within d.
func (e *Engine) quietFor(terminalID string, d time.Duration) bool {
	last, ok := e.lastActivity(terminalID)
	if !ok {
		return true
	}
	return e.now().Sub(last) > d
}

// looksLikeAIOutput is the deliberately broad exclusion net: anything that
// reads as conversational agent output must never count as a returned shell
// prompt, even if it happens to end in a prompt-like glyph.
func looksLikeAIOutput(line string) bool {
	lower := strings.ToLower(line)

	for _, marker := range conversationalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if strings.Contains(line, "```") {
		return true
	}
	if longBracketRe.MatchString(line) {
		return true
	}
	// Agent name plus sentence-like phrasing.
	if containsAgentName(lower) && (strings.Contains(lower, " i ") || strings.Contains(lower, "help") || strings.HasSuffix(lower, ".")) {
		return true
	}
	// A long sentence ending in terminal punctuation is prose, not a prompt.
	if len(line) > longSentenceLen && strings.ContainsAny(line[len(line)-1:], ".!?") {
		return true
	}
	return false
}

func containsAgentName(lower string) bool {
	for _, name := range agentNameWords {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// obviousShellPrompt matches the short, agent-name-free prompt shapes the
// validation gate trusts without temporal evidence.
func obviousShellPrompt(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > maxLenientPromptLen {
		return false
	}
	if containsAgentName(strings.ToLower(trimmed)) {
		return false
	}
	return obviousPromptRe.MatchString(trimmed)
}

// lenientPromptShape is the relaxed check used only after prolonged silence:
// short, ends in a prompt glyph, no agent names.
func lenientPromptShape(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > maxLenientPromptLen {
		return false
	}
	if containsAgentName(strings.ToLower(trimmed)) {
		return false
	}
	return strings.HasSuffix(trimmed, "$") || strings.HasSuffix(trimmed, "%") || strings.HasSuffix(trimmed, ">")
}
