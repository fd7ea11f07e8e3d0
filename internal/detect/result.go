package detect

import "github.com/termscope/termscope/internal/pattern"

// Source says which stream produced a detection.
type Source string

const (
	SourceInput       Source = "input"
	SourceOutput      Source = "output"
	SourceTermination Source = "termination"
)

// Confidence levels. These are empirically tuned against real agent
// transcripts; do not re-derive them, re-measure them.
const (
	confExplicit      = 1.0  // curated termination message
	confCrash         = 0.95 // crash indicator substring
	confStartupOutput = 0.9  // startup banner in output
	confPromptObvious = 0.9  // unambiguous shell prompt shape
	confPrompt        = 0.7  // generic prompt heuristic
	confLenient       = 0.5  // prompt shape after prolonged silence
	confStrong        = 0.8  // overrides the recent-activity rejection
	confModerate      = 0.6  // acceptable once the terminal has gone quiet
)

// Result is the transient outcome of one classification call.
type Result struct {
	Type       pattern.AgentType // empty when nothing was detected
	Detected   bool
	Confidence float64
	Source     Source
	Line       string
	Reason     string
}

// Termination is the transient outcome of one termination probe.
type Termination struct {
	Terminated bool
	Confidence float64
	Line       string
	Reason     string
}
