package ics

import (
	"context"
	"errors"
	"strings"
	"time"

	"apsgen/internal/dates"
	appLog "apsgen/internal/log"
	"apsgen/internal/metrics"
	"apsgen/internal/model"
)

// Feed is an event source backed by ICS subscriptions.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	metrics *metrics.Metrics
}

// NewFeed returns a Feed over sources, expanding occurrences in loc.
func NewFeed(fetcher *Fetcher, sources []Source, loc *time.Location, m *metrics.Metrics) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{fetcher: fetcher, sources: sources, loc: loc, metrics: m}
}

// Name identifies this source in logs and metrics.
func (f *Feed) Name() string { return "ics" }

// Events fetches every subscription and returns the occurrences falling on
// the days of r, in start order. It fails only when no source produced data.
func (f *Feed) Events(ctx context.Context, r dates.Range) ([]model.Event, error) {
	if len(f.sources) == 0 {
		return nil, errors.New("ics: no sources configured")
	}

	results, errs := f.fetcher.FetchAll(ctx, f.sources)
	if len(results) == 0 {
		return nil, errors.Join(errs...)
	}

	var parsed []ParsedEvent
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed for source", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	start := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, f.loc)
	end := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 23, 59, 59, 0, f.loc)

	occs, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: f.loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		events = append(events, o.ToEvent())
	}
	f.metrics.EventsFetched(f.Name(), len(events))
	appLog.Info("fetched events from ICS feeds", "count", len(events), "sources", len(results))
	return events, nil
}

// ToEvent maps an occurrence onto the event record shape. All-day events
// carry a plain date; timed events "YYYY-MM-DD at HH:MM".
func (o Occurrence) ToEvent() model.Event {
	var ev model.Event
	set := func(dst **string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = model.Text(v)
		}
	}

	set(&ev.Title, o.Summary)
	set(&ev.Subtitle, firstLine(o.Description))
	set(&ev.Host, o.Organizer)
	set(&ev.Location, o.Location)
	if !o.Start.IsZero() {
		if o.AllDay {
			set(&ev.Date, o.Start.Format(dates.DayLayout))
		} else {
			set(&ev.Date, o.Start.Format(dates.EventTimeLayout))
		}
	}
	return ev
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
