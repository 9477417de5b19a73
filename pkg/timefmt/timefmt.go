// Package timefmt renders and parses track durations for display surfaces.
package timefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var spanPattern = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// Format renders a duration as HH:MM:SS, with the hour segment widening past
// two digits for long streams.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// FormatMillis renders a backend-reported millisecond length.
func FormatMillis(ms int64) string {
	return Format(time.Duration(ms) * time.Millisecond)
}

// Parse reads a compact span such as "2d3h4m5s". Segments may be omitted but
// must appear in day/hour/minute/second order. An empty or malformed input is
// an error.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("timefmt: empty duration")
	}
	m := spanPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.Errorf("timefmt: malformed duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	matched := false
	for i, unit := range units {
		seg := m[i+1]
		if seg == "" {
			continue
		}
		n, err := strconv.ParseInt(seg, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "timefmt: parsing %q", s)
		}
		d += time.Duration(n) * unit
		matched = true
	}
	if !matched {
		return 0, errors.Errorf("timefmt: malformed duration %q", s)
	}
	return d, nil
}
