package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/internal/core/protocol"
)

type fakeSelector struct {
	link *fakeLink
	err  error

	regions []string
}

func (s *fakeSelector) Select(_ map[string]struct{}, region string) (Link, error) {
	s.regions = append(s.regions, region)
	if s.err != nil {
		return nil, s.err
	}
	return s.link, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeSelector, *busSpy) {
	t.Helper()
	sel := &fakeSelector{link: &fakeLink{name: "node-a"}}
	bus := newBusSpy()
	return NewManager(bus, sel, log.NewNop()), sel, bus
}

func TestPlayerCreateAndReuse(t *testing.T) {
	m, sel, bus := newTestManager(t)

	p1, err := m.Player("g1", "eu")
	require.NoError(t, err)
	assert.Equal(t, "node-a", p1.NodeName())
	assert.Equal(t, []string{"eu"}, sel.regions, "placement hint reaches selection")
	assert.False(t, bus.muted["g1"], "new session is unmuted")

	p2, err := m.Player("g1", "us")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Len(t, sel.regions, 1, "existing player skips selection")
}

func TestPlayerCreationFailsWithoutNode(t *testing.T) {
	m, sel, _ := newTestManager(t)
	sel.err = assert.AnError

	_, err := m.Player("g1", "")
	assert.ErrorIs(t, err, assert.AnError)

	_, ok := m.ExistingPlayer("g1")
	assert.False(t, ok)
}

func TestDestroyTearsDownSession(t *testing.T) {
	m, sel, bus := newTestManager(t)
	p, err := m.Player("g1", "")
	require.NoError(t, err)
	require.NoError(t, p.Enqueue(testTrack("t1")))

	require.NoError(t, m.Destroy("g1"))

	assert.True(t, bus.muted["g1"], "destroyed session stops reaching listeners")
	_, isDestroy := sel.link.last(t).(protocol.DestroyCommand)
	assert.True(t, isDestroy)
	assert.Equal(t, StatusStopped, p.Status())

	_, ok := m.ExistingPlayer("g1")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Destroy("g1"), ErrPlayerNotFound)
}

func TestRouteEventReachesOwningPlayer(t *testing.T) {
	m, _, _ := newTestManager(t)
	p, err := m.Player("g1", "")
	require.NoError(t, err)
	require.NoError(t, p.Enqueue(testTrack("t1")))

	followups := m.RouteEvent(events.TrackStart{GuildID: "g1", Track: "t1"})
	assert.Empty(t, followups)
	assert.Equal(t, StatusPlaying, p.Status())

	followups = m.RouteEvent(events.TrackEnd{GuildID: "g1", Track: "t1", Reason: "FINISHED"})
	require.Len(t, followups, 1)
	assert.Equal(t, events.QueueEnd{GuildID: "g1"}, followups[0])
	assert.Equal(t, StatusIdle, p.Status())
}

func TestRouteEventUnknownSessionIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.Empty(t, m.RouteEvent(events.TrackStart{GuildID: "nope", Track: "t"}))
	assert.Empty(t, m.RouteEvent(events.NodeConnected{Node: "node-a"}))
}

func TestSessionsOnFiltersByNode(t *testing.T) {
	m, sel, _ := newTestManager(t)
	_, err := m.Player("g1", "")
	require.NoError(t, err)

	sel.link = &fakeLink{name: "node-b"}
	_, err = m.Player("g2", "")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"g1"}, m.SessionsOn("node-a"))
	assert.ElementsMatch(t, []string{"g2"}, m.SessionsOn("node-b"))
	assert.Empty(t, m.SessionsOn("node-c"))
}

func TestDegradeSurfacesQueueEndOnce(t *testing.T) {
	m, _, bus := newTestManager(t)
	p, err := m.Player("g1", "")
	require.NoError(t, err)
	require.NoError(t, p.Enqueue(testTrack("t1")))

	m.Degrade("g1")
	m.Degrade("g1")
	m.Degrade("unknown")

	assert.Equal(t, 1, bus.queueEnds())
	assert.Equal(t, StatusStopped, p.Status())
}

func TestUpdateStateAppliesPosition(t *testing.T) {
	m, _, _ := newTestManager(t)
	p, err := m.Player("g1", "")
	require.NoError(t, err)
	require.NoError(t, p.Enqueue(testTrack("t1")))
	m.RouteEvent(events.TrackStart{GuildID: "g1", Track: "t1"})

	at := time.Now()
	m.UpdateState("g1", 90*time.Second, at, true)
	assert.GreaterOrEqual(t, p.Position(), 90*time.Second)

	// Unknown sessions are ignored.
	m.UpdateState("nope", time.Second, at, true)
}

func TestShutdownDestroysAllPlayers(t *testing.T) {
	m, _, bus := newTestManager(t)
	p1, err := m.Player("g1", "")
	require.NoError(t, err)
	p2, err := m.Player("g2", "")
	require.NoError(t, err)

	m.Shutdown()

	assert.Equal(t, StatusStopped, p1.Status())
	assert.Equal(t, StatusStopped, p2.Status())
	assert.True(t, bus.muted["g1"])
	assert.True(t, bus.muted["g2"])
	assert.Empty(t, m.Players())
}
