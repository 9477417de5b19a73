package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeTrack builds a versioned track blob the way backend nodes do, for
// exercising the decoder.
func encodeTrack(t *testing.T, version uint8, title, author string, lengthMs int64, identifier string, stream bool, uri, source string) string {
	t.Helper()
	var body bytes.Buffer
	if version >= 2 {
		body.WriteByte(version)
	}
	writeUTF := func(s string) {
		require.NoError(t, binary.Write(&body, binary.BigEndian, uint16(len(s))))
		body.WriteString(s)
	}
	writeBool := func(b bool) {
		if b {
			body.WriteByte(1)
		} else {
			body.WriteByte(0)
		}
	}
	writeUTF(title)
	writeUTF(author)
	require.NoError(t, binary.Write(&body, binary.BigEndian, lengthMs))
	writeUTF(identifier)
	writeBool(stream)
	if version >= 2 {
		writeBool(uri != "")
		if uri != "" {
			writeUTF(uri)
		}
	}
	writeUTF(source)

	var out bytes.Buffer
	header := int32(body.Len())
	if version >= 2 {
		header |= trackInfoVersioned
	}
	require.NoError(t, binary.Write(&out, binary.BigEndian, header))
	out.Write(body.Bytes())
	return base64.StdEncoding.EncodeToString(out.Bytes())
}

func TestDecodeTrackVersioned(t *testing.T) {
	blob := encodeTrack(t, 2, "Night Drive", "Some Artist", 214000, "dQw4w9WgXcQ", false,
		"https://example.org/watch?v=dQw4w9WgXcQ", "youtube")

	track, err := DecodeTrack(blob)
	require.NoError(t, err)
	assert.Equal(t, blob, track.Encoded)
	assert.Equal(t, "Night Drive", track.Title)
	assert.Equal(t, "Some Artist", track.Author)
	assert.Equal(t, 214*time.Second, track.Length)
	assert.Equal(t, "dQw4w9WgXcQ", track.Identifier)
	assert.False(t, track.IsStream)
	assert.Equal(t, "https://example.org/watch?v=dQw4w9WgXcQ", track.URI)
	assert.Equal(t, "youtube", track.Source)
}

func TestFormattedLength(t *testing.T) {
	assert.Equal(t, "00:03:34", Track{Length: 214 * time.Second}.FormattedLength())
	assert.Equal(t, "LIVE", Track{IsStream: true}.FormattedLength())
}

func TestDecodeTrackLegacyNoURI(t *testing.T) {
	blob := encodeTrack(t, 1, "Live Stream", "Radio", 0, "stream-1", true, "", "http")

	track, err := DecodeTrack(blob)
	require.NoError(t, err)
	assert.Equal(t, "Live Stream", track.Title)
	assert.True(t, track.IsStream)
	assert.Empty(t, track.URI)
	assert.Equal(t, "http", track.Source)
}

func TestDecodeTrackVersionedWithoutURI(t *testing.T) {
	blob := encodeTrack(t, 2, "Local File", "Unknown", 1000, "file-1", false, "", "local")

	track, err := DecodeTrack(blob)
	require.NoError(t, err)
	assert.Empty(t, track.URI)
	assert.Equal(t, "local", track.Source)
}

func TestDecodeTrackRejectsGarbage(t *testing.T) {
	_, err := DecodeTrack("not base64!!!")
	assert.ErrorIs(t, err, ErrBadTrack)

	_, err = DecodeTrack(base64.StdEncoding.EncodeToString([]byte{0x00, 0x01}))
	assert.ErrorIs(t, err, ErrBadTrack)
}

func TestDecodeTrackTruncatedBody(t *testing.T) {
	blob := encodeTrack(t, 2, "Full", "Author", 1000, "id", false, "", "src")
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	_, err = DecodeTrack(base64.StdEncoding.EncodeToString(raw[:len(raw)-4]))
	assert.ErrorIs(t, err, ErrBadTrack)
}
