package protocol

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandStampsOp(t *testing.T) {
	data, err := EncodeCommand(PlayCommand{GuildID: "g1", Track: "QAAA...", StartTime: 5000})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "play", raw["op"])
	assert.Equal(t, "g1", raw["guildId"])
	assert.Equal(t, float64(5000), raw["startTime"])
}

func TestEncodeCommandOmitsZeroStart(t *testing.T) {
	data, err := EncodeCommand(PlayCommand{GuildID: "g1", Track: "x"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasStart := raw["startTime"]
	assert.False(t, hasStart, "zero startTime should be omitted")
}

func TestEncodeSessionCommands(t *testing.T) {
	cases := []struct {
		cmd    Command
		wantOp string
	}{
		{StopCommand{GuildID: "g"}, "stop"},
		{PauseCommand{GuildID: "g", Paused: true}, "pause"},
		{SeekCommand{GuildID: "g", Position: 1500}, "seek"},
		{VolumeCommand{GuildID: "g", Volume: 50}, "volume"},
		{DestroyCommand{GuildID: "g"}, "destroy"},
	}
	for _, tc := range cases {
		data, err := EncodeCommand(tc.cmd)
		require.NoError(t, err, tc.wantOp)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, tc.wantOp, raw["op"])
		assert.Equal(t, "g", raw["guildId"])
		assert.Equal(t, "g", tc.cmd.SessionID())
	}
}

func TestConfigureResumingHasNoSession(t *testing.T) {
	cmd := ConfigureResumingCommand{Key: "k", Timeout: 60}
	assert.Equal(t, "", cmd.SessionID())

	data, err := EncodeCommand(cmd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"configureResuming"`)
}

func TestDecodeStatsFrame(t *testing.T) {
	payload := `{
		"op": "stats",
		"players": 4,
		"playingPlayers": 2,
		"uptime": 123456,
		"memory": {"free": 100, "used": 200, "allocated": 300, "reservable": 400},
		"cpu": {"cores": 8, "systemLoad": 0.25, "lavalinkLoad": 0.1},
		"frameStats": {"sent": 3000, "nulled": 10, "deficit": 5}
	}`

	frame, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)

	stats, ok := frame.(StatsFrame)
	require.True(t, ok)
	assert.Equal(t, 4, stats.Players)
	assert.Equal(t, 2, stats.PlayingPlayers)
	assert.Equal(t, int64(200), stats.Memory.Used)
	assert.InDelta(t, 0.25, stats.CPU.SystemLoad, 1e-9)
	assert.Equal(t, int64(5), stats.Frames.Deficit)
}

func TestDecodePlayerUpdateFrame(t *testing.T) {
	payload := `{"op":"playerUpdate","guildId":"g9","state":{"time":1700000000,"position":45000,"connected":true}}`

	frame, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)

	update, ok := frame.(PlayerUpdateFrame)
	require.True(t, ok)
	assert.Equal(t, "g9", update.GuildID)
	assert.Equal(t, int64(45000), update.State.Position)
	assert.True(t, update.State.Connected)
}

func TestDecodeEventFrame(t *testing.T) {
	payload := `{"op":"event","type":"TrackEndEvent","guildId":"g1","track":"abc","reason":"FINISHED"}`

	frame, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)

	ev, ok := frame.(EventFrame)
	require.True(t, ok)
	assert.Equal(t, "TrackEndEvent", ev.Type)
	assert.Equal(t, "FINISHED", ev.Reason)
}

func TestDecodeReadyFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"op":"ready","resumed":true,"sessionId":"s1"}`))
	require.NoError(t, err)

	ready, ok := frame.(ReadyFrame)
	require.True(t, ok)
	assert.True(t, ready.Resumed)
}

func TestDecodeUnknownOp(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"op":"mystery"}`))
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{`))
	assert.ErrorIs(t, err, ErrDecodeFailed)
}
