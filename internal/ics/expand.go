package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "apsgen/internal/log"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to. Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// Occurrence is one concrete instance of an event.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Organizer   string
	AllDay      bool
	Start       time.Time
	End         time.Time
}

// ExpandOccurrences expands events into occurrences within the configured
// range, applying RRULE, EXDATE and RECURRENCE-ID overrides. The result is
// sorted by start time, then UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	var bases []ParsedEvent
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			bases = append(bases, ev)
		}
	}

	var out []Occurrence
	for _, ev := range bases {
		occ, hitCap := expandEvent(ev, overridesByUID[ev.UID], cfg)
		if hitCap {
			appLog.Warn("expand: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		out = append(out, occ...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" {
		if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}, false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(times))
	for _, start := range times {
		end := start.Add(dur)
		if ev.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end = start.AddDate(0, 0, 1)
		}

		if o, ok := findOverride(overrides, start); ok {
			out = append(out, makeOccurrence(o, o.Start, o.End, cfg.DisplayLocation))
			continue
		}
		out = append(out, makeOccurrence(ev, start, end, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) Occurrence {
	if !ev.AllDay {
		start = start.In(loc)
		end = end.In(loc)
	}
	return Occurrence{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Organizer:   ev.Organizer,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(aStart) {
		aEnd = aStart
	}
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
