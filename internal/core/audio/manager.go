package audio

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/fleet"
	"github.com/audiowire/audiowire/internal/core/observability/log"
)

// ErrPlayerNotFound marks an operation on a session with no player.
var ErrPlayerNotFound = errors.New("player not found")

// NodeSelector hands out the best link for a new or migrating session.
// fleet.Manager satisfies it through a thin adapter in the client package.
type NodeSelector interface {
	Select(exclude map[string]struct{}, region string) (Link, error)
}

// EventBus is the bus surface the player layer needs: dispatching events it
// originates and gating delivery per session across create/destroy.
type EventBus interface {
	Dispatch(events.Event)
	Mute(sessionID string)
	Unmute(sessionID string)
}

// Manager owns the session-to-player map. It is the events.Router for the
// bus and the fleet.SessionRegistry for the node manager, which is how
// events and failover reach players without nodes ever holding player
// references.
type Manager struct {
	logger   log.Log
	bus      EventBus
	selector NodeSelector

	mu      sync.RWMutex
	players map[string]*Player
}

// NewManager builds an empty player manager.
func NewManager(bus EventBus, selector NodeSelector, logger log.Log) *Manager {
	return &Manager{
		logger:   logger.With(log.String("component", "player_manager")),
		bus:      bus,
		selector: selector,
		players:  make(map[string]*Player),
	}
}

// Player returns the session's player, creating one bound to the best
// available node on first use. Region is a placement hint for creation and
// ignored for existing players.
func (m *Manager) Player(guildID, region string) (*Player, error) {
	m.mu.RLock()
	p, ok := m.players[guildID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.players[guildID]; ok {
		return p, nil
	}

	link, err := m.selector.Select(nil, region)
	if err != nil {
		return nil, err
	}

	p = newPlayer(guildID, link, m.bus, m.logger)
	m.players[guildID] = p
	m.bus.Unmute(guildID)
	m.logger.Info("player created",
		log.String("session", guildID),
		log.String("node", link.Name()))
	return p, nil
}

// ExistingPlayer returns the session's player without creating one.
func (m *Manager) ExistingPlayer(guildID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players snapshots all live players.
func (m *Manager) Players() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// Destroy tears a session down: the bus stops forwarding its events, the
// node drops its state, and the player leaves the map. Muting happens first
// so nothing dispatched after this call reaches listeners.
func (m *Manager) Destroy(guildID string) error {
	m.mu.Lock()
	p, ok := m.players[guildID]
	if ok {
		delete(m.players, guildID)
	}
	m.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrPlayerNotFound, "session %s", guildID)
	}

	m.bus.Mute(guildID)
	p.destroy()
	m.logger.Info("player destroyed", log.String("session", guildID))
	return nil
}

// RouteEvent implements events.Router: session events update the owning
// player before any listener observes them. Fleet-level events and events
// for unknown sessions pass through untouched.
func (m *Manager) RouteEvent(ev events.Event) []events.Event {
	p, ok := m.ExistingPlayer(ev.SessionID())
	if !ok {
		return nil
	}

	switch e := ev.(type) {
	case events.TrackStart:
		return p.handleTrackStart(e)
	case events.TrackEnd:
		return p.handleTrackEnd(e)
	case events.TrackException:
		return p.handleTrackException(e)
	case events.TrackStuck:
		return p.handleTrackStuck(e)
	case events.WebSocketClosed:
		p.handleVoiceClosed()
		return nil
	default:
		return nil
	}
}

// SessionsOn implements fleet.SessionRegistry.
func (m *Manager) SessionsOn(node string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for guildID, p := range m.players {
		if p.NodeName() == node {
			out = append(out, guildID)
		}
	}
	return out
}

// Rebind implements fleet.SessionRegistry, moving a session to a surviving
// node during failover.
func (m *Manager) Rebind(sessionID string, to *fleet.Node) error {
	p, ok := m.ExistingPlayer(sessionID)
	if !ok {
		return errors.Wrapf(ErrPlayerNotFound, "session %s", sessionID)
	}
	return p.rebind(to)
}

// Degrade implements fleet.SessionRegistry: the session stops because no
// node can host it. The queue loss surfaces as a QueueEnd.
func (m *Manager) Degrade(sessionID string) {
	p, ok := m.ExistingPlayer(sessionID)
	if !ok {
		return
	}
	if p.degrade() {
		m.bus.Dispatch(events.QueueEnd{GuildID: sessionID})
	}
}

// UpdateState implements fleet.SessionRegistry, applying node position
// snapshots to the owning player.
func (m *Manager) UpdateState(sessionID string, position time.Duration, at time.Time, connected bool) {
	if p, ok := m.ExistingPlayer(sessionID); ok {
		p.applyState(position, at, connected)
	}
}

// Shutdown destroys every player, best effort.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	players := m.players
	m.players = make(map[string]*Player)
	m.mu.Unlock()

	for guildID, p := range players {
		m.bus.Mute(guildID)
		p.destroy()
	}
}
