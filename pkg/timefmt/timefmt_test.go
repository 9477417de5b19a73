package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "00:00:00", Format(0))
	assert.Equal(t, "00:00:05", Format(5*time.Second))
	assert.Equal(t, "00:03:25", Format(205*time.Second))
	assert.Equal(t, "01:00:00", Format(time.Hour))
	assert.Equal(t, "27:46:40", Format(100000*time.Second))
	assert.Equal(t, "00:00:00", Format(-time.Second), "negative clamps to zero")
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "00:03:25", FormatMillis(205_000))
	assert.Equal(t, "00:00:00", FormatMillis(999))
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{"4m5s", 4*time.Minute + 5*time.Second},
		{"3h4m5s", 3*time.Hour + 4*time.Minute + 5*time.Second},
		{"2d3h4m5s", 51*time.Hour + 4*time.Minute + 5*time.Second},
		{"90s", 90 * time.Second},
		{"2d", 48 * time.Hour},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "5s4m", "1x", "m", "-5s"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}
