// Package client is the high-level audiowire SDK: one object wiring the
// node fleet, the player layer and the event bus together behind the
// surface an application embeds.
package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/audiowire/audiowire/internal/core/audio"
	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/fleet"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/pkg/backoff"
)

// Config holds client-wide settings. Node endpoints are added separately
// through AddNode.
type Config struct {
	// UserID is the bot account sessions run under. Required.
	UserID string

	// ResumeKey enables node-side session buffering across short control
	// connection drops, with ResumeTimeout bounding how long nodes hold on.
	ResumeKey     string
	ResumeTimeout time.Duration

	// LogLevel controls the client's structured logging.
	LogLevel log.Level

	// Logger overrides the built-in logger when set.
	Logger log.Log
}

// NodeStats is one node's last reported load, as exposed to applications.
type NodeStats struct {
	Name           string
	Region         string
	State          string
	Players        int
	PlayingPlayers int
	Uptime         time.Duration
	Penalty        float64
}

// Client is the embeddable coordinator facade.
type Client struct {
	cfg     Config
	logger  log.Log
	bus     *events.Bus
	fleet   *fleet.Manager
	players *audio.Manager

	closed atomic.Bool
}

// nodeSelector adapts fleet selection to the player layer's Link interface.
type nodeSelector struct {
	fleet *fleet.Manager
}

func (s nodeSelector) Select(exclude map[string]struct{}, region string) (audio.Link, error) {
	n, err := s.fleet.BestNode(exclude, region)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// New builds a client with no nodes registered. Callers add nodes with
// AddNode and must Close the client to release its workers.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.UserID == "" {
		return nil, fleet.ErrBadConfig
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(cfg.LogLevel)
	}

	c := &Client{cfg: cfg, logger: logger}
	c.bus = events.NewBus(logger)

	var fleetOpts []fleet.Option
	for _, opt := range opts {
		fleetOpts = opt(fleetOpts)
	}
	c.fleet = fleet.NewManager(c.bus, logger, fleetOpts...)
	c.players = audio.NewManager(c.bus, nodeSelector{fleet: c.fleet}, logger)

	// Session events route into players before listeners see them, and
	// failover reaches players without the fleet knowing player types.
	c.bus.SetRouter(c.players)
	c.fleet.SetSessions(c.players)
	return c, nil
}

// Option tweaks fleet construction, primarily for tests.
type Option func([]fleet.Option) []fleet.Option

// WithDialer substitutes the node connection factory.
func WithDialer(d fleet.Dialer) Option {
	return func(opts []fleet.Option) []fleet.Option {
		return append(opts, fleet.WithDialer(d))
	}
}

// WithBackoff substitutes the reconnect policy.
func WithBackoff(p backoff.Policy) Option {
	return func(opts []fleet.Option) []fleet.Option {
		return append(opts, fleet.WithBackoff(p))
	}
}

// AddNode registers a backend node and starts connecting to it. The client's
// user and resume settings are folded in when the node config leaves them
// empty.
func (c *Client) AddNode(ctx context.Context, cfg fleet.Config) error {
	if c.closed.Load() {
		return fleet.ErrManagerClosed
	}
	if cfg.UserID == "" {
		cfg.UserID = c.cfg.UserID
	}
	if cfg.ResumeKey == "" {
		cfg.ResumeKey = c.cfg.ResumeKey
		cfg.ResumeTimeout = c.cfg.ResumeTimeout
	}
	_, err := c.fleet.Register(ctx, cfg)
	return err
}

// RemoveNode unregisters a node. Its sessions fail over to the remaining
// fleet where possible.
func (c *Client) RemoveNode(name string) error {
	return c.fleet.Unregister(name)
}

// Player returns the session's player, creating one on the best available
// node. Region is a placement hint honored only at creation.
func (c *Client) Player(guildID, region string) (*audio.Player, error) {
	if c.closed.Load() {
		return nil, fleet.ErrManagerClosed
	}
	return c.players.Player(guildID, region)
}

// ExistingPlayer returns the session's player without creating one.
func (c *Client) ExistingPlayer(guildID string) (*audio.Player, bool) {
	return c.players.ExistingPlayer(guildID)
}

// Players snapshots every live player.
func (c *Client) Players() []*audio.Player {
	return c.players.Players()
}

// DestroyPlayer tears a session down on its node and stops forwarding its
// events to listeners.
func (c *Client) DestroyPlayer(guildID string) error {
	return c.players.Destroy(guildID)
}

// VoiceUpdate relays a platform voice handshake to the session's node.
func (c *Client) VoiceUpdate(guildID, voiceSession string, event json.RawMessage) error {
	p, ok := c.players.ExistingPlayer(guildID)
	if !ok {
		return audio.ErrPlayerNotFound
	}
	return p.VoiceUpdate(voiceSession, event)
}

// Subscribe registers a global event listener, invoked for every event in
// per-session order. The returned subscription cancels it.
func (c *Client) Subscribe(h func(events.Event)) events.Subscription {
	return c.bus.Subscribe(h)
}

// DecodeTrack parses a backend track handle into its metadata.
func (c *Client) DecodeTrack(encoded string) (audio.Track, error) {
	return audio.DecodeTrack(encoded)
}

// Stats reports every registered node's state and last load snapshot.
func (c *Client) Stats() []NodeStats {
	nodes := c.fleet.Nodes()
	out := make([]NodeStats, 0, len(nodes))
	for _, n := range nodes {
		ns := NodeStats{
			Name:    n.Name(),
			Region:  n.Region(),
			State:   n.State().String(),
			Penalty: n.Penalty(),
		}
		if s, ok := n.Stats(); ok {
			ns.Players = s.Players
			ns.PlayingPlayers = s.PlayingPlayers
			ns.Uptime = time.Duration(s.Uptime) * time.Millisecond
		}
		out = append(out, ns)
	}
	return out
}

// Close shuts the client down: players are destroyed, node connections
// closed, and the bus drained. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.players.Shutdown()
	err := c.fleet.Shutdown(ctx)
	c.bus.Close()
	return err
}
