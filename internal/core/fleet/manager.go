package fleet

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/pkg/backoff"
)

// SessionRegistry is the player layer as the fleet sees it: sessions keyed by
// identifier, never player objects. The indirection keeps Node/Manager free
// of references back into player state.
type SessionRegistry interface {
	// SessionsOn lists the sessions currently bound to a node.
	SessionsOn(node string) []string
	// Rebind moves a session to another node, replaying its playback there.
	Rebind(sessionID string, to *Node) error
	// Degrade stops a session that no node can host.
	Degrade(sessionID string)
	// UpdateState applies a node-reported position snapshot to a session.
	UpdateState(sessionID string, position time.Duration, at time.Time, connected bool)
}

// Dispatcher is the event bus as the fleet sees it.
type Dispatcher interface {
	Dispatch(events.Event)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer swaps the connection factory, primarily for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithBackoff swaps the reconnect policy.
func WithBackoff(p backoff.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// Manager owns the node set: registration, selection, and failover when a
// node terminally disconnects.
type Manager struct {
	logger log.Log
	bus    Dispatcher
	dial   Dialer
	policy backoff.Policy

	mu       sync.RWMutex
	nodes    map[string]*Node
	sessions SessionRegistry
	closed   bool
}

// NewManager builds an empty manager. SetSessions must be called before the
// first node connects for failover and position tracking to function.
func NewManager(bus Dispatcher, logger log.Log, opts ...Option) *Manager {
	m := &Manager{
		logger: logger.With(log.String("component", "node_manager")),
		bus:    bus,
		dial:   Dial,
		policy: backoff.Default(),
		nodes:  make(map[string]*Node),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSessions wires the player layer in.
func (m *Manager) SetSessions(reg SessionRegistry) {
	m.mu.Lock()
	m.sessions = reg
	m.mu.Unlock()
}

// Register adds a node and starts its connection loop. The node enters the
// selectable set once connected.
func (m *Manager) Register(ctx context.Context, cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	node := newNode(cfg, m.dial, m.policy, m.logger, nodeHooks{
		onState:        m.handleStateChange,
		onEvent:        m.dispatchEvent,
		onPlayerUpdate: m.handlePlayerUpdate,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, exists := m.nodes[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateNode
	}
	m.nodes[cfg.Name] = node
	m.mu.Unlock()

	m.logger.Info("node registered",
		log.String("node", cfg.Name),
		log.String("address", cfg.Address),
		log.String("region", cfg.Region))

	node.start(ctx)
	return node, nil
}

// Unregister removes a node. Sessions bound to it fail over to the rest of
// the fleet as the connection loop winds down.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	node, ok := m.nodes[name]
	if ok {
		delete(m.nodes, name)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNodeNotFound
	}

	node.stop()
	m.logger.Info("node unregistered", log.String("node", name))
	return nil
}

// Node looks a node up by name.
func (m *Manager) Node(name string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	return n, ok
}

// Nodes returns a snapshot of the managed set.
func (m *Manager) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// BestNode returns the selectable node with the lowest penalty, excluding
// the given names. When region is set and any eligible node matches it, the
// choice narrows to those. Penalty ranking is recomputed per call; load
// shifts continuously and a cached ranking would place new sessions on stale
// information. Ties prefer the longest-connected node, then the lowest name,
// so repeated calls under identical load are deterministic.
func (m *Manager) BestNode(exclude map[string]struct{}, region string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if _, skip := exclude[n.Name()]; skip {
			continue
		}
		if !n.Selectable() {
			continue
		}
		candidates = append(candidates, n)
	}

	if region != "" {
		regional := candidates[:0:0]
		for _, n := range candidates {
			if n.Region() == region {
				regional = append(regional, n)
			}
		}
		if len(regional) > 0 {
			candidates = regional
		}
	}

	var best *Node
	for _, n := range candidates {
		if best == nil || better(n, best) {
			best = n
		}
	}
	if best == nil {
		return nil, ErrNoAvailableNode
	}
	return best, nil
}

// better reports whether a should be picked over b.
func better(a, b *Node) bool {
	pa, pb := a.Penalty(), b.Penalty()
	if pa != pb {
		return pa < pb
	}
	ca, cb := a.ConnectedAt(), b.ConnectedAt()
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return a.Name() < b.Name()
}

// handleStateChange runs synchronously inside the reporting node's goroutine
// on every transition.
func (m *Manager) handleStateChange(n *Node, oldState, newState State) {
	switch newState {
	case StateConnected:
		m.bus.Dispatch(events.NodeConnected{Node: n.Name(), Resumed: n.Resumed()})
	case StateReconnecting:
		// Players stay bound: the node object survives reconnects and may
		// come back. Only terminal disconnection moves sessions.
		m.bus.Dispatch(events.NodeDisconnected{Node: n.Name(), Terminal: false})
	case StateDisconnected:
		m.bus.Dispatch(events.NodeDisconnected{Node: n.Name(), Terminal: true})
		m.remove(n)
		m.failOver(n)
	}
}

// remove drops a terminally disconnected node from the managed set, unless
// an Unregister already did.
func (m *Manager) remove(n *Node) {
	m.mu.Lock()
	if current, ok := m.nodes[n.Name()]; ok && current == n {
		delete(m.nodes, n.Name())
	}
	m.mu.Unlock()
}

// failOver rebinds every session on a lost node to the best remaining one.
// Sessions with nowhere to go degrade to stopped rather than erroring the
// whole fleet.
func (m *Manager) failOver(n *Node) {
	m.mu.RLock()
	reg := m.sessions
	closed := m.closed
	m.mu.RUnlock()

	if reg == nil || closed {
		return
	}

	exclude := map[string]struct{}{n.Name(): {}}
	for _, sessionID := range reg.SessionsOn(n.Name()) {
		target, err := m.BestNode(exclude, n.Region())
		if err != nil {
			m.logger.Warn("no fallback node, degrading session",
				log.String("session", sessionID),
				log.String("lost_node", n.Name()))
			reg.Degrade(sessionID)
			continue
		}

		if err = reg.Rebind(sessionID, target); err != nil {
			m.logger.Error("session rebind failed, degrading",
				log.String("session", sessionID),
				log.String("target", target.Name()),
				log.Error(err))
			reg.Degrade(sessionID)
			continue
		}

		m.logger.Info("session failed over",
			log.String("session", sessionID),
			log.String("from", n.Name()),
			log.String("to", target.Name()))
		m.bus.Dispatch(events.NodeChanged{GuildID: sessionID, OldNode: n.Name(), NewNode: target.Name()})
	}
}

func (m *Manager) dispatchEvent(ev events.Event) {
	m.bus.Dispatch(ev)
}

func (m *Manager) handlePlayerUpdate(sessionID string, position time.Duration, at time.Time, connected bool) {
	m.mu.RLock()
	reg := m.sessions
	m.mu.RUnlock()
	if reg != nil {
		reg.UpdateState(sessionID, position, at, connected)
	}
}

// Shutdown stops every node concurrently and refuses further registration.
// Session failover is suppressed; the process is going away.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	nodes := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.nodes = make(map[string]*Node)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			n.stop()
			return nil
		})
	}
	return g.Wait()
}
