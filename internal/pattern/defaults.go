package pattern

import "regexp"

// DefaultRaw returns the built-in signature set for a known agent type.
// Returns nil for unknown types (they have no defaults).
func DefaultRaw(t AgentType) *Raw {
	switch t {
	case AgentClaude:
		return &Raw{
			CommandPrefixes: []string{"claude", "claude-code", "npx claude"},
			StartupMarkers: []string{
				"welcome to claude",
				"claude code",
				"anthropic",
				`re:(?i)claude\s+code\s+v?\d`,
				`re:(?i)\bclaude\b.*\bready\b`,
			},
			ActivityKeywords: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
				"tokens",
				"thinking",
				"claude",
			},
			TerminationMarkers: []string{
				"goodbye claude",
				"claude exited",
				"claude code exited",
				"claude session ended",
				"command not found: claude",
				`re:(?i)claude(\s+code)?\s+(has\s+)?(exited|terminated|stopped)`,
			},
		}
	case AgentGemini:
		return &Raw{
			CommandPrefixes: []string{"gemini", "gemini-cli", "npx gemini"},
			StartupMarkers: []string{
				"welcome to gemini",
				"gemini cli",
				"type your message",
				`re:(?i)gemini\s+(cli\s+)?v?\d`,
			},
			ActivityKeywords: []string{
				"esc to cancel",
				"gemini>",
				"gemini",
			},
			TerminationMarkers: []string{
				"goodbye gemini",
				"gemini exited",
				"gemini session ended",
				"command not found: gemini",
				`re:(?i)gemini\s+(has\s+)?(exited|terminated|stopped)`,
			},
		}
	case AgentCodex:
		return &Raw{
			CommandPrefixes: []string{"codex", "codex-cli", "openai codex"},
			StartupMarkers: []string{
				"openai codex",
				"codex cli",
				"codex>",
				`re:(?i)codex\s+v?\d`,
			},
			ActivityKeywords: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
				"codex",
			},
			TerminationMarkers: []string{
				"codex exited",
				"codex session ended",
				"command not found: codex",
				`re:(?i)codex\s+(has\s+)?(exited|terminated|stopped)`,
			},
		}
	case AgentCopilot:
		return &Raw{
			CommandPrefixes: []string{"copilot", "gh copilot", "github-copilot-cli"},
			StartupMarkers: []string{
				"github copilot",
				"copilot cli",
				`re:(?i)copilot\s+v?\d`,
			},
			ActivityKeywords: []string{
				"copilot",
				"suggestion",
			},
			TerminationMarkers: []string{
				"copilot exited",
				"copilot session ended",
				"command not found: copilot",
				`re:(?i)copilot\s+(has\s+)?(exited|terminated|stopped)`,
			},
		}
	default:
		return nil
	}
}

// compileShellPatterns builds the shared, agent-independent prompt and
// termination library.
func compileShellPatterns() *shellPatterns {
	return &shellPatterns{
		promptRegexps: []*regexp.Regexp{
			// bash/zsh: "user@host:~/dir$ " and bare "$"
			regexp.MustCompile(`^[\w.-]+@[\w.-]+[:~][^\n]*[$#%]\s*$`),
			regexp.MustCompile(`[$#%]\s*$`),
			// zsh/omz arrows
			regexp.MustCompile(`^(❯|➜)\s*$`),
			regexp.MustCompile(`^(❯|➜)\s[\w~/.-]*\s*$`),
			// fish: "user ~/dir> "
			regexp.MustCompile(`^[\w.-]+\s+[\w~/.-]+>\s*$`),
			// PowerShell: "PS C:\path> "
			regexp.MustCompile(`^PS\s+[A-Za-z]:[^>]*>\s*$`),
			// python REPL / venv-prefixed prompts
			regexp.MustCompile(`^>>>\s*$`),
			regexp.MustCompile(`^\([\w.-]+\)\s*[\w@~/.-]*[$#%>]\s*$`),
			// bare short "> " style prompts
			regexp.MustCompile(`^>\s*$`),
		},
		completionLiterals: []string{
			"done",
			"done.",
			"[finished]",
			"[done]",
			"finished",
			"completed",
			"exit",
		},
		explicitTermination: []string{
			"session ended",
			"session terminated",
			"connection closed",
			"process exited",
			"powering down",
			"shutting down",
			"no such file or directory",
		},
		crashIndicators: []string{
			"segmentation fault",
			"core dumped",
			"panic:",
			"killed",
			"out of memory",
			"stack overflow",
			"sigsegv",
			"sigkill",
			"fatal error",
		},
	}
}
