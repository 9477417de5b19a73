// Package audio implements per-session playback: track handles, the player
// state machine with its queue, and the manager that owns the session map
// and routes fleet events into it.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/audiowire/audiowire/pkg/timefmt"
)

// ErrBadTrack marks a track blob that does not decode.
var ErrBadTrack = errors.New("malformed track data")

// Track is one playable item. Encoded is the opaque handle the backend hands
// out and the only field it ever reads back; the rest is decoded metadata.
type Track struct {
	Encoded    string
	Title      string
	Author     string
	Length     time.Duration
	Identifier string
	IsStream   bool
	URI        string
	Source     string

	// Requester is an optional caller-supplied tag carried through the
	// queue untouched.
	Requester string
}

// FormattedLength renders the track length for display, "HH:MM:SS".
func (t Track) FormattedLength() string {
	if t.IsStream {
		return "LIVE"
	}
	return timefmt.Format(t.Length)
}

const trackInfoVersioned = 0x40000000

// DecodeTrack parses a base64 track handle into its metadata. The payload is
// a message-encoded record: an int32 of flags and size, an optional version
// byte, then length-prefixed UTF strings and fixed-width integers.
func DecodeTrack(encoded string) (Track, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Track{}, errors.Wrap(ErrBadTrack, err.Error())
	}
	r := bytes.NewReader(raw)

	var header int32
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return Track{}, errors.Wrap(ErrBadTrack, "short header")
	}

	version := uint8(1)
	if header&trackInfoVersioned != 0 {
		if err = binary.Read(r, binary.BigEndian, &version); err != nil {
			return Track{}, errors.Wrap(ErrBadTrack, "short version")
		}
	}

	t := Track{Encoded: encoded}
	if t.Title, err = readUTF(r); err != nil {
		return Track{}, errors.Wrap(err, "title")
	}
	if t.Author, err = readUTF(r); err != nil {
		return Track{}, errors.Wrap(err, "author")
	}

	var lengthMs int64
	if err = binary.Read(r, binary.BigEndian, &lengthMs); err != nil {
		return Track{}, errors.Wrap(ErrBadTrack, "length")
	}
	t.Length = time.Duration(lengthMs) * time.Millisecond

	if t.Identifier, err = readUTF(r); err != nil {
		return Track{}, errors.Wrap(err, "identifier")
	}
	if t.IsStream, err = readBool(r); err != nil {
		return Track{}, errors.Wrap(err, "stream flag")
	}

	if version >= 2 {
		hasURI, uriErr := readBool(r)
		if uriErr != nil {
			return Track{}, errors.Wrap(uriErr, "uri flag")
		}
		if hasURI {
			if t.URI, err = readUTF(r); err != nil {
				return Track{}, errors.Wrap(err, "uri")
			}
		}
	}

	if t.Source, err = readUTF(r); err != nil {
		return Track{}, errors.Wrap(err, "source")
	}
	return t, nil
}

func readUTF(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errors.Wrap(ErrBadTrack, "short string length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(ErrBadTrack, "short string body")
	}
	return string(buf), nil
}

func readBool(r io.Reader) (bool, error) {
	var b uint8
	if err := binary.Read(r, binary.BigEndian, &b); err != nil {
		return false, errors.Wrap(ErrBadTrack, "short bool")
	}
	return b != 0, nil
}
