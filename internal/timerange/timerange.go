// Package timerange resolves user-entered date-time strings into the absolute
// instants that bound the visible time window.
package timerange

import (
	"strconv"
	"time"

	"github.com/urbanviz/mobview/internal/model"
)

// The backend stores all timestamps in UTC, so naive inputs (no zone, no
// offset) are interpreted as UTC. Interpreting them as local time would
// silently shift every query by the client's offset.

// zonedLayouts carry explicit zone information and are tried first.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04-07:00",
	"2006-01-02T15:04-0700",
}

// naiveLayouts are interpreted as UTC. A bare date means midnight UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Clamp thresholds. Users picking start/end via two independent date-time
// pickers tend to leave the end picker on a stale date; when the gap exceeds
// the trigger, the end's calendar date is pulled onto the start's date,
// accepted only if the repaired gap stays within the acceptance bound.
const (
	ClampTrigger    = 24 * time.Hour
	ClampAcceptance = 7 * 24 * time.Hour
)

// Parse resolves one raw input into an instant. Empty input and unparsable
// input both yield nil; a bad bound degrades to an open bound rather than an
// error.
func Parse(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	// All-digit input is a unix timestamp in seconds.
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(sec, 0).UTC()
		return &t
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// Resolve parses both bounds and applies the clamp heuristic when both are
// present.
func Resolve(startRaw, endRaw string) model.TimeWindow {
	w := model.TimeWindow{
		Start: Parse(startRaw),
		End:   Parse(endRaw),
	}
	if !w.Closed() {
		return w
	}
	clamped := clampEnd(*w.Start, *w.End)
	w.End = &clamped
	return w
}

// clampEnd repairs a stale end date. The candidate keeps end's time-of-day
// on start's calendar date and is accepted only if it lands within the
// acceptance bound of start; otherwise the original end is kept, preserving
// genuinely multi-day ranges.
func clampEnd(start, end time.Time) time.Time {
	if absDuration(end.Sub(start)) <= ClampTrigger {
		return end
	}
	candidate := time.Date(
		start.Year(), start.Month(), start.Day(),
		end.Hour(), end.Minute(), end.Second(), end.Nanosecond(),
		time.UTC,
	)
	if candidate.Before(start) {
		// Repair would invert the window; keep the original end.
		return end
	}
	if candidate.Sub(start) <= ClampAcceptance {
		return candidate
	}
	return end
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
