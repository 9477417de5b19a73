package audio

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/internal/core/protocol"
)

// ErrInvalidState marks a command that is not legal in the player's current
// lifecycle state. Caller bug, not retryable.
var ErrInvalidState = errors.New("invalid player state")

// Status is a player's lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusLoading
	StatusPlaying
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Link is the slice of a fleet node a player talks through. Holding the
// interface rather than the node keeps the player layer free of connection
// concerns; rebinding swaps the link and nothing else.
type Link interface {
	Name() string
	Send(protocol.Command) error
}

// Dispatcher is the event bus as the player layer sees it for events it
// originates itself, such as a QueueEnd from a skip on an empty queue.
// Events produced while routing an inbound event travel back through the
// router return path instead, so the bus can order them after their cause.
type Dispatcher interface {
	Dispatch(events.Event)
}

const (
	defaultVolume = 100
	maxVolume     = 1000
)

// Player is the per-session playback state machine. All mutation happens
// under one mutex, so commands, inbound events from the node, and failover
// rebinds serialize against each other; a command issued during a rebind
// simply waits for the rebind to release the lock.
type Player struct {
	guildID string
	logger  log.Log
	bus     Dispatcher

	mu         sync.Mutex
	link       Link
	status     Status
	queue      []Track
	current    *Track
	paused     bool
	volume     int
	position   time.Duration
	positionAt time.Time
	voiceUp    bool
}

func newPlayer(guildID string, link Link, bus Dispatcher, logger log.Log) *Player {
	return &Player{
		guildID: guildID,
		logger:  logger.With(log.String("component", "player"), log.String("session", guildID)),
		bus:     bus,
		link:    link,
		status:  StatusIdle,
		volume:  defaultVolume,
	}
}

// GuildID returns the session identifier this player owns.
func (p *Player) GuildID() string { return p.guildID }

// NodeName returns the name of the currently bound node.
func (p *Player) NodeName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link.Name()
}

// Status returns the current lifecycle state.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Current returns the track being played or loaded, if any.
func (p *Player) Current() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Track{}, false
	}
	return *p.current, true
}

// Queue returns a copy of the pending tracks, excluding the current one.
func (p *Player) Queue() []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Track, len(p.queue))
	copy(out, p.queue)
	return out
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Volume returns the session volume, 0-1000.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position estimates the playback position of the current track, advancing
// the last node-reported snapshot by wall time while playing.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusPlaying && !p.positionAt.IsZero() {
		return p.position + time.Since(p.positionAt)
	}
	return p.position
}

// Enqueue appends a track. An idle player starts playing it immediately.
func (p *Player) Enqueue(t Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return errors.Wrap(ErrInvalidState, "player is stopped")
	}
	p.queue = append(p.queue, t)
	if p.status == StatusIdle {
		return p.startNextLocked(0)
	}
	return nil
}

// Skip abandons the current track and moves to the next queued one. On an
// empty queue the player goes idle and a QueueEnd is emitted.
func (p *Player) Skip() error {
	p.mu.Lock()
	if !p.activeLocked() {
		p.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "cannot skip while %s", p.status)
	}

	if len(p.queue) > 0 {
		err := p.startNextLocked(0)
		p.mu.Unlock()
		return err
	}

	err := p.link.Send(protocol.StopCommand{GuildID: p.guildID})
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.current = nil
	p.status = StatusIdle
	p.position = 0
	p.positionAt = time.Time{}
	p.mu.Unlock()

	p.bus.Dispatch(events.QueueEnd{GuildID: p.guildID})
	return nil
}

// Pause suspends playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying {
		return errors.Wrapf(ErrInvalidState, "cannot pause while %s", p.status)
	}
	if err := p.link.Send(protocol.PauseCommand{GuildID: p.guildID, Paused: true}); err != nil {
		return err
	}
	// Freeze the position estimate where playback stopped.
	if !p.positionAt.IsZero() {
		p.position += time.Since(p.positionAt)
		p.positionAt = time.Time{}
	}
	p.paused = true
	p.status = StatusPaused
	return nil
}

// Resume continues paused playback.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPaused {
		return errors.Wrapf(ErrInvalidState, "cannot resume while %s", p.status)
	}
	if err := p.link.Send(protocol.PauseCommand{GuildID: p.guildID, Paused: false}); err != nil {
		return err
	}
	p.paused = false
	p.status = StatusPlaying
	p.positionAt = time.Now()
	return nil
}

// Seek moves the playback position within the current track.
func (p *Player) Seek(position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying && p.status != StatusPaused {
		return errors.Wrapf(ErrInvalidState, "cannot seek while %s", p.status)
	}
	if err := p.link.Send(protocol.SeekCommand{GuildID: p.guildID, Position: position.Milliseconds()}); err != nil {
		return err
	}
	p.position = position
	if p.status == StatusPlaying {
		p.positionAt = time.Now()
	}
	return nil
}

// SetVolume sets the session volume, clamped to 0-1000.
func (p *Player) SetVolume(v int) error {
	if v < 0 {
		v = 0
	}
	if v > maxVolume {
		v = maxVolume
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return errors.Wrap(ErrInvalidState, "player is stopped")
	}
	if err := p.link.Send(protocol.VolumeCommand{GuildID: p.guildID, Volume: v}); err != nil {
		return err
	}
	p.volume = v
	return nil
}

// Stop ends the session's playback permanently. The queue is discarded and
// no further commands are accepted.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return errors.Wrap(ErrInvalidState, "player already stopped")
	}
	if err := p.link.Send(protocol.StopCommand{GuildID: p.guildID}); err != nil {
		return err
	}
	p.clearLocked()
	return nil
}

// VoiceUpdate relays the platform voice handshake to the bound node.
func (p *Player) VoiceUpdate(voiceSession string, event json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return errors.Wrap(ErrInvalidState, "player is stopped")
	}
	return p.link.Send(protocol.VoiceUpdateCommand{
		GuildID:      p.guildID,
		VoiceSession: voiceSession,
		Event:        event,
	})
}

func (p *Player) activeLocked() bool {
	return p.status == StatusLoading || p.status == StatusPlaying || p.status == StatusPaused
}

// startNextLocked pops the queue head and plays it. On send failure the
// track goes back to the front so nothing is lost.
func (p *Player) startNextLocked(startAt time.Duration) error {
	next := p.queue[0]
	p.queue = p.queue[1:]

	err := p.link.Send(protocol.PlayCommand{
		GuildID:   p.guildID,
		Track:     next.Encoded,
		StartTime: startAt.Milliseconds(),
		Paused:    p.paused,
		Volume:    p.volume,
	})
	if err != nil {
		p.queue = append([]Track{next}, p.queue...)
		return err
	}

	p.current = &next
	p.status = StatusLoading
	p.position = startAt
	p.positionAt = time.Time{}
	return nil
}

func (p *Player) clearLocked() {
	p.queue = nil
	p.current = nil
	p.status = StatusStopped
	p.position = 0
	p.positionAt = time.Time{}
}

// handleTrackStart moves Loading to Playing (or Paused when the track was
// started paused, such as after a paused failover).
func (p *Player) handleTrackStart(ev events.TrackStart) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.matchesCurrentLocked(ev.Track) {
		return nil
	}
	if p.status == StatusLoading {
		if p.paused {
			p.status = StatusPaused
		} else {
			p.status = StatusPlaying
			p.positionAt = time.Now()
		}
	}
	return nil
}

// handleTrackEnd advances the queue on natural or failed completion. Ends
// the player itself caused (STOPPED, REPLACED) do not advance; the command
// that caused them already adjusted state.
func (p *Player) handleTrackEnd(ev events.TrackEnd) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ev.MayStartNext() || !p.matchesCurrentLocked(ev.Track) {
		return nil
	}
	return p.advanceLocked()
}

// handleTrackException skips the failing track locally. The failure itself
// reaches listeners as the TrackException event.
func (p *Player) handleTrackException(ev events.TrackException) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.matchesCurrentLocked(ev.Track) {
		return nil
	}
	p.logger.Warn("track failed, skipping",
		log.String("severity", ev.Severity),
		log.String("error", ev.Message))
	return p.advanceLocked()
}

// handleTrackStuck skips a track the node reports as making no progress.
func (p *Player) handleTrackStuck(ev events.TrackStuck) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.matchesCurrentLocked(ev.Track) {
		return nil
	}
	p.logger.Warn("track stuck, skipping", log.Duration("threshold", ev.Threshold))
	return p.advanceLocked()
}

// matchesCurrentLocked guards against stale events for a track that is no
// longer current, which happens when a local skip raced the node's own end
// notification.
func (p *Player) matchesCurrentLocked(track string) bool {
	if p.current == nil {
		return false
	}
	return track == "" || track == p.current.Encoded
}

// advanceLocked moves to the next queued track, or to Idle with a QueueEnd
// when the queue is empty.
func (p *Player) advanceLocked() []events.Event {
	p.current = nil
	p.position = 0
	p.positionAt = time.Time{}

	if len(p.queue) == 0 {
		p.status = StatusIdle
		return []events.Event{events.QueueEnd{GuildID: p.guildID}}
	}

	if err := p.startNextLocked(0); err != nil {
		p.logger.Error("failed to start next track", log.Error(err))
		p.status = StatusIdle
		return []events.Event{events.QueueEnd{GuildID: p.guildID}}
	}
	return nil
}

// applyState records a node-reported position snapshot.
func (p *Player) applyState(position time.Duration, at time.Time, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.voiceUp = connected
	if p.status == StatusPlaying {
		p.positionAt = at
	} else {
		p.positionAt = time.Time{}
	}
}

func (p *Player) handleVoiceClosed() {
	p.mu.Lock()
	p.voiceUp = false
	p.mu.Unlock()
}

// rebind atomically switches the player to another node and replays the
// current track there from the last known position. Restarting from zero
// when no snapshot arrived yet is the documented degradation; exact resume
// depends on how recently the old node reported.
func (p *Player) rebind(to Link) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.link = to
	if p.current == nil || !p.activeLocked() {
		return nil
	}

	err := to.Send(protocol.PlayCommand{
		GuildID:   p.guildID,
		Track:     p.current.Encoded,
		StartTime: p.position.Milliseconds(),
		Paused:    p.paused,
		Volume:    p.volume,
	})
	if err != nil {
		return err
	}
	if !p.paused {
		p.status = StatusLoading
	}
	p.positionAt = time.Time{}
	return nil
}

// degrade stops the player because no node can host it. Reports whether the
// player was still live, so the caller surfaces the failure exactly once.
func (p *Player) degrade() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return false
	}
	p.clearLocked()
	return true
}

// destroy tears the session down on the node, best effort.
func (p *Player) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusStopped {
		return
	}
	if err := p.link.Send(protocol.DestroyCommand{GuildID: p.guildID}); err != nil {
		p.logger.Debug("destroy command not delivered", log.Error(err))
	}
	p.clearLocked()
}
