// Package dates turns free-form event date text into the forms used by the
// graphic and the digest, and validates the CLI's YYYY-MM-DD range dates.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the layout of CLI and API range dates.
const DayLayout = "2006-01-02"

// DateTimeLayout is the ISO date-time form accepted by Parse.
const DateTimeLayout = "2006-01-02T15:04:05"

// EventTimeLayout is the form emitted for timed calendar events. The graphic
// strips it at " at " and the digest shows it unchanged.
const EventTimeLayout = "2006-01-02 at 15:04"

// DefaultRangeDays is the length of the range when no end date is given.
const DefaultRangeDays = 7

// timeMarkers are checked in order; the first one found wins.
var timeMarkers = []string{"T", " at ", " @ "}

// inferLayouts is tried in order; the first successful parse wins. Input
// whitespace runs are collapsed first, so "Dec  5, 2024" matches too.
var inferLayouts = []string{
	"2006-1-2",                // 2024-12-05, 2024-12-5
	"January 2, 2006",         // December 5, 2024
	"Jan 2, 2006",             // Dec 5, 2024
	"1/2/2006",                // 12/05/2024
	"2/1/2006",                // 05/12/2024
	"Monday, January 2, 2006", // Thursday, December 5, 2024
	"Monday, Jan 2, 2006",     // Thursday, Dec 5, 2024
}

// StripTime drops a trailing time component from s.
//
// The string is cut at the first occurrence of the first marker it contains
// ("T", " at ", " @ " in that order) and trimmed.
func StripTime(s string) string {
	if s == "" {
		return s
	}
	for _, m := range timeMarkers {
		if i := strings.Index(s, m); i >= 0 {
			s = s[:i]
			break
		}
	}
	return strings.TrimSpace(s)
}

// Inferred is the digest form of an event date.
type Inferred struct {
	// Weekday is the full day name, or "" when the date was not recognized.
	Weekday string
	// Formatted is "Month Day", or the original text when not recognized.
	Formatted string
}

// Parsed reports whether the input matched one of the known layouts.
func (i Inferred) Parsed() bool {
	return i.Weekday != ""
}

// Infer recognizes s against the known layouts.
//
// Any weekday written in the input is ignored; the weekday is always taken
// from the parsed calendar date. Unrecognized input passes through unchanged.
func Infer(s string) Inferred {
	if s == "" {
		return Inferred{}
	}
	t, ok := parseAny(s)
	if !ok {
		return Inferred{Formatted: s}
	}
	return Inferred{
		Weekday:   t.Weekday().String(),
		Formatted: t.Month().String() + " " + strconv.Itoa(t.Day()),
	}
}

// Parse returns the calendar date and time written in s. ISO date-times are
// recognized with their time; everything Infer accepts is recognized as a
// date with hasTime false.
func Parse(s string) (t time.Time, hasTime bool, ok bool) {
	for _, layout := range []string{DateTimeLayout, "2006-01-02T15:04", EventTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, true
		}
	}
	t, ok = parseAny(s)
	return t, false, ok
}

func parseAny(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range inferLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDay parses a YYYY-MM-DD range date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %s. Expected YYYY-MM-DD format (e.g., 2025-01-15)", s)
	}
	return t, nil
}

// ValidateRange rejects a range whose start is after its end.
func ValidateRange(start, end time.Time) error {
	if start.After(end) {
		return fmt.Errorf("start date (%s) must be before or equal to end date (%s)",
			start.Format(DayLayout), end.Format(DayLayout))
	}
	return nil
}

// DefaultEnd returns the end of the default range starting at start.
func DefaultEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, DefaultRangeDays)
}

// Range is an inclusive span of days.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange validates CLI range arguments. An empty end defaults to
// DefaultRangeDays after start.
func ParseRange(start, end string) (Range, error) {
	s, err := ParseDay(start)
	if err != nil {
		return Range{}, err
	}
	if end == "" {
		return Range{Start: s, End: DefaultEnd(s)}, nil
	}
	e, err := ParseDay(end)
	if err != nil {
		return Range{}, err
	}
	if err := ValidateRange(s, e); err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

// StartDay returns the start formatted as YYYY-MM-DD.
func (r Range) StartDay() string { return r.Start.Format(DayLayout) }

// EndDay returns the end formatted as YYYY-MM-DD.
func (r Range) EndDay() string { return r.End.Format(DayLayout) }
