package message

import (
	"regexp"
	"time"
)

// TimeLayout is the ISO-8601 form used for dates on the wire, always UTC with
// millisecond precision, e.g. 2024-03-01T08:30:00.000Z.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var isoPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reports whether s is exactly in TimeLayout and returns the parsed value.
func ParseTime(s string) (time.Time, bool) {
	if !isoPattern.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
