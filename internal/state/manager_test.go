package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termscope/termscope/internal/pattern"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewManager(Config{Now: clock.Now})
	t.Cleanup(m.Close)
	return m, clock
}

func TestSetConnectedAgent_Basic(t *testing.T) {
	m, _ := newTestManager(t)

	require.True(t, m.SetConnectedAgent("t1", pattern.AgentClaude, "Terminal 1"))

	st := m.AgentState("t1")
	assert.Equal(t, StatusConnected, st.Status)
	assert.Equal(t, pattern.AgentClaude, st.Type)

	id, typ, ok := m.ConnectedAgent()
	require.True(t, ok)
	assert.Equal(t, "t1", id)
	assert.Equal(t, pattern.AgentClaude, typ)
}

func TestSetConnectedAgent_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)

	var events []StatusEvent
	m.Subscribe(func(ev StatusEvent) { events = append(events, ev) })

	require.True(t, m.SetConnectedAgent("t1", pattern.AgentClaude, ""))
	require.False(t, m.SetConnectedAgent("t1", pattern.AgentClaude, ""))

	assert.Len(t, events, 1, "repeat connection must not re-fire")
}

func TestSetConnectedAgent_DemotesPrevious(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")

	assert.Equal(t, StatusDisconnected, m.AgentState("t1").Status)
	assert.Equal(t, StatusConnected, m.AgentState("t2").Status)

	disc := m.DisconnectedAgents()
	require.Contains(t, disc, "t1")
	assert.Equal(t, pattern.AgentClaude, disc["t1"].Type)
}

func TestAtMostOneConnected(t *testing.T) {
	m, clock := newTestManager(t)

	terminals := []string{"t1", "t2", "t3", "t4"}
	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t3", pattern.AgentCodex, "")
	m.SetAgentTerminated("t3")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t4", pattern.AgentClaude, "")
	m.RemoveTerminal("t4")

	connected := 0
	for _, id := range terminals {
		if m.AgentState(id).Status == StatusConnected {
			connected++
		}
	}
	assert.LessOrEqual(t, connected, 1, "at most one terminal may be connected")
}

func TestGraceWindowSuppression(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	// t1 was just demoted; replayed output must not re-promote it.
	clock.Advance(500 * time.Millisecond)
	require.False(t, m.SetConnectedAgent("t1", pattern.AgentClaude, ""))
	assert.Equal(t, StatusDisconnected, m.AgentState("t1").Status)

	// Beyond the window the same call is a legitimate relaunch.
	clock.Advance(2 * time.Second)
	require.True(t, m.SetConnectedAgent("t1", pattern.AgentClaude, ""))
	assert.Equal(t, StatusConnected, m.AgentState("t1").Status)
	assert.Equal(t, StatusDisconnected, m.AgentState("t2").Status)
}

func TestSwitchAgentConnection_BypassesGraceWindow(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")

	// Immediately after demotion, the manual path must still work.
	res := m.SwitchAgentConnection("t1")
	require.True(t, res.Success)
	assert.Equal(t, StatusConnected, res.NewStatus)
	assert.Equal(t, pattern.AgentClaude, res.Type)
	assert.Equal(t, StatusConnected, m.AgentState("t1").Status)
}

func TestForceConnect_IgnoresGraceWindowAndHistory(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")

	// t1 is inside the grace window and the automatic path refuses it.
	require.False(t, m.SetConnectedAgent("t1", pattern.AgentClaude, ""))
	require.True(t, m.ForceConnect("t1", pattern.AgentClaude, ""))
	assert.Equal(t, StatusConnected, m.AgentState("t1").Status)

	// A terminal with no history at all can be force-connected too.
	require.True(t, m.ForceConnect("fresh", pattern.AgentCodex, ""))
	assert.Equal(t, StatusConnected, m.AgentState("fresh").Status)
	assert.Equal(t, StatusDisconnected, m.AgentState("t1").Status)
}

func TestSwitchAgentConnection_UnknownTerminal(t *testing.T) {
	m, _ := newTestManager(t)

	res := m.SwitchAgentConnection("ghost")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, StatusNone, res.NewStatus)
}

func TestSwitchAgentConnection_AlreadyConnected(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	res := m.SwitchAgentConnection("t1")
	assert.True(t, res.Success)
	assert.Equal(t, pattern.AgentClaude, res.Type)
}

func TestSetAgentTerminated_ConnectedOnly(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	require.True(t, m.SetAgentTerminated("t1"))

	st := m.AgentState("t1")
	assert.Equal(t, StatusNone, st.Status)
	assert.Empty(t, st.Type)
}

func TestSetAgentTerminated_DisconnectedNoOp(t *testing.T) {
	m, _ := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	require.Equal(t, StatusDisconnected, m.AgentState("t1").Status)

	// A disconnected terminal's process is still alive: termination signals
	// must not touch it, no matter how confident.
	require.False(t, m.SetAgentTerminated("t1"))
	assert.Equal(t, StatusDisconnected, m.AgentState("t1").Status)
	assert.Contains(t, m.DisconnectedAgents(), "t1")
}

func TestSetAgentTerminated_PromotesLatest(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t3", pattern.AgentCodex, "")
	clock.Advance(3 * time.Second)

	// t2 was disconnected most recently; terminating t3 promotes it.
	require.True(t, m.SetAgentTerminated("t3"))
	assert.Equal(t, StatusConnected, m.AgentState("t2").Status)
	assert.Equal(t, StatusDisconnected, m.AgentState("t1").Status)
}

func TestPromoteLatestDisconnected_PicksMostRecent(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t3", pattern.AgentCodex, "")
	m.SetAgentTerminated("t3") // promotes t2 (latest)

	id, typ, ok := m.ConnectedAgent()
	require.True(t, ok)
	assert.Equal(t, "t2", id)
	assert.Equal(t, pattern.AgentGemini, typ)
}

func TestRemoveTerminal_PurgesFully(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t3", pattern.AgentGemini, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	require.Equal(t, StatusDisconnected, m.AgentState("t3").Status)

	m.RemoveTerminal("t3")
	assert.NotContains(t, m.DisconnectedAgents(), "t3")
	assert.Equal(t, StatusNone, m.AgentState("t3").Status)

	// Removal must not resurrect the purged terminal via promotion.
	m.SetAgentTerminated("t1")
	_, _, ok := m.ConnectedAgent()
	assert.False(t, ok)
}

func TestRemoveTerminal_ConnectedPromotesNext(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	clock.Advance(3 * time.Second)

	m.RemoveTerminal("t2")
	assert.Equal(t, StatusNone, m.AgentState("t2").Status)
	assert.Equal(t, StatusConnected, m.AgentState("t1").Status)
}

func TestRefreshState(t *testing.T) {
	m, clock := newTestManager(t)

	assert.False(t, m.RefreshState(), "nothing to recover")

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	m.SetAgentTerminated("t2") // t1 promoted
	m.SetAgentTerminated("t1") // slot empty, set empty

	assert.False(t, m.RefreshState())
}

func TestValidateState_SelfHeals(t *testing.T) {
	m, clock := newTestManager(t)

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")

	// Host says t2 no longer exists: validation clears it and promotes t1.
	live := map[string]bool{"t1": true}
	healthy := m.ValidateState(func(id string) bool { return live[id] })
	assert.False(t, healthy)
	assert.Equal(t, StatusConnected, m.AgentState("t1").Status)
	assert.Equal(t, StatusNone, m.AgentState("t2").Status)

	// Second pass is clean.
	assert.True(t, m.ValidateState(func(id string) bool { return live[id] }))
}

func TestEvents_OrderAndPayload(t *testing.T) {
	m, clock := newTestManager(t)

	var events []StatusEvent
	m.Subscribe(func(ev StatusEvent) { events = append(events, ev) })

	m.SetConnectedAgent("t1", pattern.AgentClaude, "Terminal 1")
	clock.Advance(3 * time.Second)
	m.SetConnectedAgent("t2", pattern.AgentGemini, "Terminal 2")

	require.Len(t, events, 3)
	assert.Equal(t, StatusEvent{TerminalID: "t1", Status: StatusConnected, Type: pattern.AgentClaude, TerminalName: "Terminal 1"}, events[0])
	assert.Equal(t, StatusEvent{TerminalID: "t1", Status: StatusDisconnected, Type: pattern.AgentClaude, TerminalName: "Terminal 1"}, events[1])
	assert.Equal(t, StatusEvent{TerminalID: "t2", Status: StatusConnected, Type: pattern.AgentGemini, TerminalName: "Terminal 2"}, events[2])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m, _ := newTestManager(t)

	count := 0
	cancel := m.Subscribe(func(StatusEvent) { count++ })
	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	cancel()
	m.SetAgentTerminated("t1")

	assert.Equal(t, 1, count)
}

func TestSubscriberPanicContained(t *testing.T) {
	m, _ := newTestManager(t)

	var got []StatusEvent
	m.Subscribe(func(StatusEvent) { panic("bad listener") })
	m.Subscribe(func(ev StatusEvent) { got = append(got, ev) })

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	require.Len(t, got, 1, "later subscribers still receive events")
}

func TestClose_NoEventsAfter(t *testing.T) {
	m, _ := newTestManager(t)

	count := 0
	m.Subscribe(func(StatusEvent) { count++ })
	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	m.Close()
	m.SetConnectedAgent("t2", pattern.AgentGemini, "")
	m.RemoveTerminal("t1")

	assert.Equal(t, 1, count)
	_, _, ok := m.ConnectedAgent()
	assert.False(t, ok)
}

func TestHeartbeat_StartStop(t *testing.T) {
	m, _ := newTestManager(t)

	calls := make(chan struct{}, 8)
	hb := NewHeartbeat(m, 10*time.Millisecond, func(string) bool {
		select {
		case calls <- struct{}{}:
		default:
		}
		return true
	})

	m.SetConnectedAgent("t1", pattern.AgentClaude, "")
	hb.Start()
	hb.Start() // second Start is a no-op

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never validated")
	}

	hb.Stop()
	hb.Stop() // idempotent
}
