// Package events defines the closed set of notifications emitted by the node
// fleet and the bus that routes them, in arrival order per session, to the
// owning player and to registered listeners.
package events

import (
	"time"

	"github.com/pkg/errors"

	"github.com/audiowire/audiowire/internal/core/protocol"
)

// Event is one member of a closed union. SessionID is empty for fleet-level
// events, which report the node name instead. The unexported method keeps the
// union closed so switches over event kinds stay exhaustive.
type Event interface {
	SessionID() string
	isEvent()
}

// TrackStart reports playback of a track beginning on a node.
type TrackStart struct {
	GuildID string
	Track   string
}

// TrackEnd reports playback finishing. Reason follows the backend vocabulary:
// FINISHED, LOAD_FAILED, STOPPED, REPLACED, CLEANUP.
type TrackEnd struct {
	GuildID string
	Track   string
	Reason  string
}

// MayStartNext reports whether the queue should advance after this end.
// STOPPED and REPLACED ends were caller-initiated; advancing again would
// double-skip.
func (e TrackEnd) MayStartNext() bool {
	return e.Reason == "FINISHED" || e.Reason == "LOAD_FAILED"
}

// TrackException reports a playback error for the current track.
type TrackException struct {
	GuildID  string
	Track    string
	Message  string
	Severity string
}

// TrackStuck reports the node making no playback progress for Threshold.
type TrackStuck struct {
	GuildID   string
	Track     string
	Threshold time.Duration
}

// QueueEnd reports a session running out of queued tracks.
type QueueEnd struct {
	GuildID string
}

// NodeConnected reports a node reaching the connected state.
type NodeConnected struct {
	Node    string
	Resumed bool
}

// NodeChanged reports a session rebinding from one node to another.
type NodeChanged struct {
	GuildID string
	OldNode string
	NewNode string
}

// NodeDisconnected reports a node leaving the connected state. Terminal
// means the node will not come back without re-registration.
type NodeDisconnected struct {
	Node     string
	Terminal bool
}

// WebSocketClosed reports the backend's own voice websocket for a session
// closing; surfaced so callers can react to platform-side disconnects.
type WebSocketClosed struct {
	GuildID  string
	Code     int
	Reason   string
	ByRemote bool
}

func (e TrackStart) SessionID() string       { return e.GuildID }
func (e TrackEnd) SessionID() string         { return e.GuildID }
func (e TrackException) SessionID() string   { return e.GuildID }
func (e TrackStuck) SessionID() string       { return e.GuildID }
func (e QueueEnd) SessionID() string         { return e.GuildID }
func (e NodeConnected) SessionID() string    { return "" }
func (e NodeChanged) SessionID() string      { return e.GuildID }
func (e NodeDisconnected) SessionID() string { return "" }
func (e WebSocketClosed) SessionID() string  { return e.GuildID }

func (TrackStart) isEvent()       {}
func (TrackEnd) isEvent()         {}
func (TrackException) isEvent()   {}
func (TrackStuck) isEvent()       {}
func (QueueEnd) isEvent()         {}
func (NodeConnected) isEvent()    {}
func (NodeChanged) isEvent()      {}
func (NodeDisconnected) isEvent() {}
func (WebSocketClosed) isEvent()  {}

// ErrUnknownEvent marks an event frame type this client does not understand.
var ErrUnknownEvent = errors.New("unknown event type")

// FromFrame converts a decoded wire event into its typed form.
func FromFrame(f protocol.EventFrame) (Event, error) {
	switch f.Type {
	case "TrackStartEvent":
		return TrackStart{GuildID: f.GuildID, Track: f.Track}, nil
	case "TrackEndEvent":
		return TrackEnd{GuildID: f.GuildID, Track: f.Track, Reason: f.Reason}, nil
	case "TrackExceptionEvent":
		return TrackException{GuildID: f.GuildID, Track: f.Track, Message: f.Error, Severity: f.Severity}, nil
	case "TrackStuckEvent":
		return TrackStuck{GuildID: f.GuildID, Track: f.Track, Threshold: time.Duration(f.ThresholdMs) * time.Millisecond}, nil
	case "WebSocketClosedEvent":
		reason := f.CloseReason
		if reason == "" {
			reason = f.Reason
		}
		return WebSocketClosed{GuildID: f.GuildID, Code: f.Code, Reason: reason, ByRemote: f.ByRemote}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "type %q", f.Type)
	}
}
