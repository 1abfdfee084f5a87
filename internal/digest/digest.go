// Package digest builds the plain-text listing of a batch of events.
package digest

import (
	"strings"

	"apsgen/internal/dates"
	"apsgen/internal/model"
)

const (
	DefaultTitle = "Event"
	MoreInfo     = "For more information: see https://albertapaleo.org/events/calendar"
	Hashtags     = "#palaeontology #paleontology #fossils #dinosaurs #events"
)

// Line formats one event. The date is inferred from the raw field, not the
// time-stripped form used on graphics.
func Line(ev model.Event) string {
	title, ok := ev.Get(model.FieldTitle)
	if !ok {
		title = DefaultTitle
	}

	d := dates.Infer(ev.Value(model.FieldDate))

	var b strings.Builder
	switch {
	case d.Weekday != "" && d.Formatted != "":
		b.WriteString(d.Weekday + ", " + d.Formatted + ": " + title)
	case d.Formatted != "":
		b.WriteString(d.Formatted + ": " + title)
	default:
		b.WriteString(title)
	}

	if loc, ok := ev.Get(model.FieldLocation); ok {
		b.WriteString(" @ " + loc)
	}
	if host, ok := ev.Get(model.FieldHost); ok {
		b.WriteString(" (" + host + ")")
	}
	return b.String()
}

// Build returns the digest for events, one line each in input order,
// followed by the fixed footer.
func Build(events []model.Event) string {
	lines := make([]string, 0, len(events)+4)
	for _, ev := range events {
		lines = append(lines, Line(ev))
	}
	lines = append(lines, "", MoreInfo, "", Hashtags)
	return strings.Join(lines, "\n")
}
