package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/internal/core/protocol"
	"github.com/audiowire/audiowire/pkg/backoff"
)

// State is the connection state of a node.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// nodeHooks are the manager-side callbacks a node reports into. State changes
// are reported synchronously, before the node starts any reconnect work, so
// the manager never has a window where a dead node is still selectable.
type nodeHooks struct {
	onState        func(n *Node, oldState, newState State)
	onEvent        func(ev events.Event)
	onPlayerUpdate func(sessionID string, position time.Duration, at time.Time, connected bool)
}

// Node owns one persistent control connection to a backend instance. The
// object identity survives reconnects; only terminal disconnection retires
// it. Nodes never hold player references, only session identifiers pass
// through them.
type Node struct {
	cfg    Config
	logger log.Log
	dial   Dialer
	hooks  nodeHooks
	policy backoff.Policy

	mu            sync.RWMutex
	state         State
	conn          Conn
	connectedAt   time.Time
	stats         *protocol.Stats
	statsAt       time.Time
	penalty       float64
	awaitingStats bool
	resumed       bool

	reconnects atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func newNode(cfg Config, dial Dialer, policy backoff.Policy, logger log.Log, hooks nodeHooks) *Node {
	return &Node{
		cfg:    cfg,
		logger: logger.With(log.String("component", "node"), log.String("node", cfg.Name)),
		dial:   dial,
		hooks:  hooks,
		policy: policy,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// Name returns the node's fleet-unique identifier.
func (n *Node) Name() string { return n.cfg.Name }

// Region returns the node's optional region label.
func (n *Node) Region() string { return n.cfg.Region }

// State returns the current connection state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Stats returns the last snapshot the node reported, if any.
func (n *Node) Stats() (protocol.Stats, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stats == nil {
		return protocol.Stats{}, false
	}
	return *n.stats, true
}

// Penalty returns the cached load score from the latest stats snapshot.
func (n *Node) Penalty() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.penalty
}

// ConnectedAt returns when the current connection was established.
func (n *Node) ConnectedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connectedAt
}

// Reconnects returns how many times this node has re-established its
// connection over its lifetime.
func (n *Node) Reconnects() uint64 {
	return n.reconnects.Load()
}

// Resumed reports whether the node restored buffered session state on the
// latest connection.
func (n *Node) Resumed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.resumed
}

// Selectable reports whether the node may receive new or migrated sessions.
// A node that just reconnected stays out of rotation until it reports a
// fresh stats snapshot; its pre-drop load figures are stale.
func (n *Node) Selectable() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state == StateConnected && !n.awaitingStats
}

// Send serializes a command and transmits it on the active connection.
// Callers must reselect a node when ErrNodeUnavailable comes back.
func (n *Node) Send(cmd protocol.Command) error {
	n.mu.RLock()
	state := n.state
	conn := n.conn
	n.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return errors.Wrapf(ErrNodeUnavailable, "node %s is %s", n.cfg.Name, state)
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err = conn.Write(data); err != nil {
		return errors.Wrapf(ErrNodeUnavailable, "node %s: %v", n.cfg.Name, err)
	}

	n.logger.Debug("command sent",
		log.String("op", string(cmd.Op())),
		log.String("session", cmd.SessionID()))
	return nil
}

// start launches the connection loop. The manager calls it exactly once.
func (n *Node) start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	go n.run(ctx)
}

// stop tears the node down and waits for the connection loop to exit.
func (n *Node) stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
	<-n.done
}

func (n *Node) run(ctx context.Context) {
	defer close(n.done)

	attempt := 0
	everConnected := false

	for {
		if ctx.Err() != nil {
			n.transition(StateDisconnected)
			return
		}

		conn, err := n.dial(ctx, n.cfg)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				n.logger.Error("node rejected credentials, giving up", log.Error(err))
				n.transition(StateDisconnected)
				return
			}

			attempt++
			if attempt > n.cfg.maxAttempts() {
				n.logger.Error("reconnect budget exhausted",
					log.Int("attempts", attempt-1))
				n.transition(StateDisconnected)
				return
			}

			delay := n.policy.Delay(attempt - 1)
			n.logger.Warn("connect failed, backing off",
				log.Int("attempt", attempt),
				log.Duration("delay", delay),
				log.Error(err))

			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}

		n.attach(conn, everConnected)
		if everConnected {
			n.reconnects.Add(1)
		}
		everConnected = true
		attempt = 0

		n.transition(StateConnected)

		if n.cfg.ResumeKey != "" {
			timeout := int(n.cfg.ResumeTimeout / time.Second)
			if timeout <= 0 {
				timeout = 60
			}
			if err = n.Send(protocol.ConfigureResumingCommand{Key: n.cfg.ResumeKey, Timeout: timeout}); err != nil {
				n.logger.Warn("configure resuming failed", log.Error(err))
			}
		}

		err = n.readLoop(ctx, conn)
		_ = conn.Close()
		n.detach()

		if ctx.Err() != nil {
			n.transition(StateDisconnected)
			return
		}
		if isFatalClose(err) {
			n.logger.Error("connection closed non-recoverably", log.Error(err))
			n.transition(StateDisconnected)
			return
		}

		n.logger.Warn("connection lost, reconnecting", log.Error(err))
		n.transition(StateReconnecting)
	}
}

func (n *Node) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			n.logger.Warn("discarding undecodable frame", log.Error(err))
			continue
		}

		switch f := frame.(type) {
		case protocol.StatsFrame:
			n.applyStats(f.Stats)
		case protocol.PlayerUpdateFrame:
			if n.hooks.onPlayerUpdate != nil {
				n.hooks.onPlayerUpdate(
					f.GuildID,
					time.Duration(f.State.Position)*time.Millisecond,
					time.UnixMilli(f.State.Time),
					f.State.Connected,
				)
			}
		case protocol.EventFrame:
			ev, err := events.FromFrame(f)
			if err != nil {
				n.logger.Warn("discarding unknown event", log.String("type", f.Type))
				continue
			}
			if n.hooks.onEvent != nil {
				n.hooks.onEvent(ev)
			}
		case protocol.ReadyFrame:
			n.mu.Lock()
			n.resumed = f.Resumed
			n.mu.Unlock()
			n.logger.Info("node handshake complete", log.Bool("resumed", f.Resumed))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (n *Node) attach(conn Conn, reconnecting bool) {
	n.mu.Lock()
	n.conn = conn
	n.connectedAt = time.Now()
	n.resumed = false
	// Stats from before the drop are stale; hold the node out of selection
	// until the backend reports again.
	n.awaitingStats = reconnecting
	n.mu.Unlock()
}

func (n *Node) detach() {
	n.mu.Lock()
	n.conn = nil
	n.mu.Unlock()
}

func (n *Node) applyStats(s protocol.Stats) {
	n.mu.Lock()
	n.stats = &s
	n.statsAt = time.Now()
	n.penalty = Penalty(s)
	n.awaitingStats = false
	penalty := n.penalty
	n.mu.Unlock()

	n.logger.Debug("stats updated",
		log.Int("players", s.Players),
		log.Int("playing", s.PlayingPlayers),
		log.Float64("penalty", penalty))
}

// transition swaps the connection state and reports it to the manager before
// returning, so failover starts before any further reconnect work.
func (n *Node) transition(newState State) {
	n.mu.Lock()
	oldState := n.state
	if oldState == newState {
		n.mu.Unlock()
		return
	}
	n.state = newState
	n.mu.Unlock()

	n.logger.Info("state changed",
		log.String("from", oldState.String()),
		log.String("to", newState.String()))

	if n.hooks.onState != nil {
		n.hooks.onState(n, oldState, newState)
	}
}

// isFatalClose reports whether a read error means reconnecting is pointless:
// policy violations and authentication closures will just repeat.
func isFatalClose(err error) bool {
	if errors.Is(err, ErrAuthRejected) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation:
			return true
		case 4001, 4003: // authentication failures
			return true
		}
	}
	return false
}
