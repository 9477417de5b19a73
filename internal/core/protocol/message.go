// Package protocol implements the JSON control protocol spoken with audio
// backend nodes: outbound playback commands keyed by session, and inbound
// stats, player-update and event frames discriminated by an "op" field.
package protocol

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Op discriminates every frame on the wire.
type Op string

const (
	// Outbound commands.
	OpPlay              Op = "play"
	OpStop              Op = "stop"
	OpPause             Op = "pause"
	OpSeek              Op = "seek"
	OpVolume            Op = "volume"
	OpDestroy           Op = "destroy"
	OpVoiceUpdate       Op = "voiceUpdate"
	OpConfigureResuming Op = "configureResuming"

	// Inbound frames.
	OpStats        Op = "stats"
	OpPlayerUpdate Op = "playerUpdate"
	OpEvent        Op = "event"
	OpReady        Op = "ready"
)

// Command is an outbound frame bound for a node. SessionID returns the
// playback session the command addresses; fleet-level commands return "".
type Command interface {
	Op() Op
	SessionID() string
}

// PlayCommand starts (or replaces) playback of an encoded track.
type PlayCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
	NoReplace bool   `json:"noReplace,omitempty"`
	Paused    bool   `json:"pause,omitempty"`
	Volume    int    `json:"volume,omitempty"`
}

func (c PlayCommand) Op() Op            { return OpPlay }
func (c PlayCommand) SessionID() string { return c.GuildID }

// StopCommand halts the current track without destroying the session.
type StopCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
}

func (c StopCommand) Op() Op            { return OpStop }
func (c StopCommand) SessionID() string { return c.GuildID }

// PauseCommand toggles the paused flag.
type PauseCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Paused    bool   `json:"pause"`
}

func (c PauseCommand) Op() Op            { return OpPause }
func (c PauseCommand) SessionID() string { return c.GuildID }

// SeekCommand moves the playback position, in milliseconds.
type SeekCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Position  int64  `json:"position"`
}

func (c SeekCommand) Op() Op            { return OpSeek }
func (c SeekCommand) SessionID() string { return c.GuildID }

// VolumeCommand sets session volume, 0-1000.
type VolumeCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Volume    int    `json:"volume"`
}

func (c VolumeCommand) Op() Op            { return OpVolume }
func (c VolumeCommand) SessionID() string { return c.GuildID }

// DestroyCommand tears the session down on the node.
type DestroyCommand struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
}

func (c DestroyCommand) Op() Op            { return OpDestroy }
func (c DestroyCommand) SessionID() string { return c.GuildID }

// VoiceUpdateCommand relays the chat platform's voice server handshake so the
// node can join the media transport. The payload is opaque to this client.
type VoiceUpdateCommand struct {
	Operation    Op              `json:"op"`
	GuildID      string          `json:"guildId"`
	VoiceSession string          `json:"sessionId"`
	Event        json.RawMessage `json:"event"`
}

func (c VoiceUpdateCommand) Op() Op            { return OpVoiceUpdate }
func (c VoiceUpdateCommand) SessionID() string { return c.GuildID }

// ConfigureResumingCommand asks the node to buffer events for a resume key
// when the control connection drops, so a quick reconnect loses nothing.
type ConfigureResumingCommand struct {
	Operation Op     `json:"op"`
	Key       string `json:"key"`
	Timeout   int    `json:"timeout"`
}

func (c ConfigureResumingCommand) Op() Op            { return OpConfigureResuming }
func (c ConfigureResumingCommand) SessionID() string { return "" }

// EncodeCommand serializes a command, stamping its op discriminator.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case PlayCommand:
		c.Operation = OpPlay
		return marshal(c)
	case StopCommand:
		c.Operation = OpStop
		return marshal(c)
	case PauseCommand:
		c.Operation = OpPause
		return marshal(c)
	case SeekCommand:
		c.Operation = OpSeek
		return marshal(c)
	case VolumeCommand:
		c.Operation = OpVolume
		return marshal(c)
	case DestroyCommand:
		c.Operation = OpDestroy
		return marshal(c)
	case VoiceUpdateCommand:
		c.Operation = OpVoiceUpdate
		return marshal(c)
	case ConfigureResumingCommand:
		c.Operation = OpConfigureResuming
		return marshal(c)
	default:
		return nil, errors.Wrapf(ErrUnknownOp, "command type %T", cmd)
	}
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(ErrEncodeFailed, err.Error())
	}
	return data, nil
}
