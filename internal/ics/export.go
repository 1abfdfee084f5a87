package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"apsgen/internal/dates"
	appLog "apsgen/internal/log"
	"apsgen/internal/model"
)

const (
	productID      = "-//Alberta Palaeontological Society//apsgen//EN"
	organizerEmail = "mailto:events@albertapaleo.org"
	defaultTimed   = time.Hour
)

// Export builds a calendar listing events. batchID keeps UIDs stable across
// re-runs of the same batch; stamp is used as DTSTAMP. Event times are wall
// clock times in loc. Events whose date cannot be recognized are left out,
// since VEVENT requires a start.
func Export(events []model.Event, batchID string, stamp time.Time, loc *time.Location) (string, int) {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	written := 0
	for i, ev := range events {
		raw := ev.Value(model.FieldDate)
		start, hasTime, ok := dates.Parse(raw)
		if !ok {
			appLog.Warn("ics export: event skipped, date not recognized", "index", i, "date", raw)
			continue
		}

		ve := cal.AddEvent(fmt.Sprintf("%s-%02d@albertapaleo.org", batchID, i))
		ve.SetDtStampTime(stamp.UTC())
		if hasTime {
			start = time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), start.Minute(), start.Second(), 0, loc)
			ve.SetStartAt(start)
			ve.SetEndAt(start.Add(defaultTimed))
		} else {
			ve.SetAllDayStartAt(start)
			ve.SetAllDayEndAt(start.AddDate(0, 0, 1))
		}

		title, ok := ev.Get(model.FieldTitle)
		if !ok {
			title = "Event"
		}
		ve.SetSummary(title)
		if v, ok := ev.Get(model.FieldSubtitle); ok {
			ve.SetDescription(v)
		}
		if v, ok := ev.Get(model.FieldLocation); ok {
			ve.SetLocation(v)
		}
		if v, ok := ev.Get(model.FieldHost); ok {
			ve.SetOrganizer(organizerEmail, ical.WithCN(v))
		}
		written++
	}

	return cal.Serialize(), written
}
