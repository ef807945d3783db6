package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halcyon-home/halcyon/internal/fault"
)

// NormalizeHHMM validates a time-of-day string and returns it zero-padded to
// "HH:MM". Comparisons on normalized values are lexicographic, which agrees
// with chronological order for 24-hour times.
func NormalizeHHMM(s string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return "", fault.InvalidArgument("time of day %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fault.InvalidArgument("time of day %q: bad hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fault.InvalidArgument("time of day %q: bad minute", s)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// TimeOfDayWithin reports whether now (all "HH:MM", normalized) falls within
// [start, end]. A window with end < start wraps across midnight and matches
// now >= start or now <= end.
func TimeOfDayWithin(now, start, end string) bool {
	if end < start {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}
