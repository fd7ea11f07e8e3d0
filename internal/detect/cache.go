package detect

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// memo is the bounded result cache. Two structures with different lifetime
// rules share it:
//
//   - classification results, keyed "input:<terminal>:<text>" or
//     "output:<terminal>:<text>", TTL-bounded so replayed chunks are
//     memoized briefly but genuinely new classification is never suppressed
//     for long;
//   - last-AI-activity timestamps, keyed "<terminal>_lastAIOutput",
//     capacity-bounded only, since the termination validator reads windows up to
//     30s back, far beyond the result TTL.
type memo struct {
	results  *expirable.LRU[string, Result]
	activity *lru.Cache[string, time.Time]
}

func newMemo(capacity int, ttl time.Duration) *memo {
	activity, _ := lru.New[string, time.Time](capacity)
	return &memo{
		results:  expirable.NewLRU[string, Result](capacity, nil, ttl),
		activity: activity,
	}
}

func inputKey(terminalID, text string) string {
	return "input:" + terminalID + ":" + text
}

func activityKey(terminalID string) string {
	return terminalID + "_lastAIOutput"
}

func (m *memo) Get(key string) (Result, bool) {
	return m.results.Get(key)
}

func (m *memo) Add(key string, r Result) {
	m.results.Add(key, r)
}

// TouchActivity records the hysteresis anchor for a terminal.
func (m *memo) TouchActivity(terminalID string, at time.Time) {
	m.activity.Add(activityKey(terminalID), at)
}

// LastActivity returns the most recent AI-activity timestamp, if any.
func (m *memo) LastActivity(terminalID string) (time.Time, bool) {
	return m.activity.Get(activityKey(terminalID))
}

// PurgeTerminal drops every entry belonging to one terminal.
func (m *memo) PurgeTerminal(terminalID string) {
	inputPrefix := "input:" + terminalID + ":"
	outputPrefix := "output:" + terminalID + ":"
	for _, key := range m.results.Keys() {
		if strings.HasPrefix(key, inputPrefix) || strings.HasPrefix(key, outputPrefix) {
			m.results.Remove(key)
		}
	}
	m.activity.Remove(activityKey(terminalID))
}

// Purge clears everything.
func (m *memo) Purge() {
	m.results.Purge()
	m.activity.Purge()
}
