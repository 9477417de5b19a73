package protocol

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Frame is an inbound message from a node. The concrete type is one of
// StatsFrame, PlayerUpdateFrame, EventFrame or ReadyFrame.
type Frame interface {
	FrameOp() Op
}

// Stats is a point-in-time load snapshot reported by a node. Frame counters
// of -1 mean the node did not report them for the interval.
type Stats struct {
	Players        int   `json:"players"`
	PlayingPlayers int   `json:"playingPlayers"`
	Uptime         int64 `json:"uptime"`

	Memory struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`

	CPU struct {
		Cores       int     `json:"cores"`
		SystemLoad  float64 `json:"systemLoad"`
		ProcessLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`

	Frames struct {
		Sent    int64 `json:"sent"`
		Nulled  int64 `json:"nulled"`
		Deficit int64 `json:"deficit"`
	} `json:"frameStats"`
}

// StatsFrame carries a Stats snapshot.
type StatsFrame struct {
	Operation Op `json:"op"`
	Stats
}

func (f StatsFrame) FrameOp() Op { return OpStats }

// PlayerUpdateFrame reports the node-side playback position for a session.
type PlayerUpdateFrame struct {
	Operation Op     `json:"op"`
	GuildID   string `json:"guildId"`
	State     struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
	} `json:"state"`
}

func (f PlayerUpdateFrame) FrameOp() Op { return OpPlayerUpdate }

// EventFrame is a session-scoped lifecycle notification. Payload fields not
// shared by every event type stay optional and are interpreted by the event
// layer.
type EventFrame struct {
	Operation Op     `json:"op"`
	Type      string `json:"type"`
	GuildID   string `json:"guildId"`

	Track        string `json:"track,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
	Severity     string `json:"severity,omitempty"`
	ThresholdMs  int64  `json:"thresholdMs,omitempty"`
	Code         int    `json:"code,omitempty"`
	ByRemote     bool   `json:"byRemote,omitempty"`
	CloseReason  string `json:"closeReason,omitempty"`
}

func (f EventFrame) FrameOp() Op { return OpEvent }

// ReadyFrame confirms the node accepted the handshake, optionally resuming a
// prior session's buffered state.
type ReadyFrame struct {
	Operation Op     `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (f ReadyFrame) FrameOp() Op { return OpReady }

type opProbe struct {
	Operation Op `json:"op"`
}

// DecodeFrame classifies raw bytes from a node connection into a typed frame.
func DecodeFrame(data []byte) (Frame, error) {
	var probe opProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(ErrDecodeFailed, err.Error())
	}

	switch probe.Operation {
	case OpStats:
		var f StatsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrDecodeFailed, err.Error())
		}
		return f, nil
	case OpPlayerUpdate:
		var f PlayerUpdateFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrDecodeFailed, err.Error())
		}
		return f, nil
	case OpEvent:
		var f EventFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrDecodeFailed, err.Error())
		}
		return f, nil
	case OpReady:
		var f ReadyFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrDecodeFailed, err.Error())
		}
		return f, nil
	default:
		return nil, errors.Wrapf(ErrUnknownOp, "op %q", probe.Operation)
	}
}
