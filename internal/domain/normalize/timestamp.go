package normalize

import (
	"strings"
	"time"
)

// DefaultLocation is used when a timezone name cannot be resolved.
var DefaultLocation = time.UTC

// OutputLayout is ISO-8601 with an explicit offset, second precision.
const OutputLayout = "2006-01-02T15:04:05-07:00"

var (
	// Layouts carrying their own offset.
	offsetLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999-0700",
		"2006-01-02T15:04:05-0700",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05-0700",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04Z07:00",
	}

	// Layouts interpreted in the source timezone.
	localLayouts = []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"02.01.2006 15:04:05",
		"02.01.2006 15:04",
		"02.01.2006",
		"2006-01-02",
	}
)

// ResolveLocation loads a named timezone. Unknown or empty names resolve to
// DefaultLocation with ok=false.
func ResolveLocation(name string) (*time.Location, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultLocation, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return DefaultLocation, false
	}
	return loc, true
}

// Timestamps converts source timestamps into the output timezone.
type Timestamps struct {
	Source *time.Location
	Output *time.Location
}

// NewTimestamps resolves both zone names, falling back to DefaultLocation.
func NewTimestamps(sourceZone, outputZone string) Timestamps {
	src, _ := ResolveLocation(sourceZone)
	out, _ := ResolveLocation(outputZone)
	return Timestamps{Source: src, Output: out}
}

// Parse recognizes the supported forms. Inputs without an offset are read in
// the source timezone.
func (ts Timestamps) Parse(raw string) (time.Time, bool) {
	raw = Sanitize(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	src := ts.Source
	if src == nil {
		src = DefaultLocation
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, src); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize renders raw in the output timezone. Unparseable input is passed
// through sanitized; empty input is absent.
func (ts Timestamps) Normalize(raw string) (string, bool) {
	clean := Sanitize(raw)
	if clean == "" {
		return "", false
	}
	t, ok := ts.Parse(clean)
	if !ok {
		return clean, true
	}
	out := ts.Output
	if out == nil {
		out = DefaultLocation
	}
	return t.In(out).Truncate(time.Second).Format(OutputLayout), true
}
