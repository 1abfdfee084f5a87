// Package pipeline runs one batch: fetch events for a date range, render a
// graphic per event, build the digest and write everything to disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"apsgen/internal/dates"
	"apsgen/internal/digest"
	"apsgen/internal/ics"
	appLog "apsgen/internal/log"
	"apsgen/internal/metrics"
	"apsgen/internal/model"
)

const (
	DigestFileName   = "content.txt"
	CalendarFileName = "events.ics"
)

// GraphicName returns the file name of the graphic for event i.
func GraphicName(i int) string { return fmt.Sprintf("event_%02d.svg", i) }

// PNGName returns the file name of the raster copy of event i.
func PNGName(i int) string { return fmt.Sprintf("event_%02d.png", i) }

// Source supplies the events of a date range.
type Source interface {
	Name() string
	Events(ctx context.Context, r dates.Range) ([]model.Event, error)
}

// Renderer turns one event into a graphic.
type Renderer interface {
	Render(ev model.Event) ([]byte, error)
}

// Rasterizer converts a written SVG into a PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, svgPath, pngPath string) error
}

// Options controls where and what a run writes.
type Options struct {
	// OutputDir receives the batch. Empty means the start date (YYYY-MM-DD).
	OutputDir string

	// DryRun logs the files that would be written and writes nothing.
	DryRun bool

	// ExportICS also writes CalendarFileName.
	ExportICS bool

	// Location is the zone exported calendar times are read in.
	Location *time.Location

	// Rasterizer, when set, writes a PNG next to every graphic.
	Rasterizer Rasterizer

	Metrics *metrics.Metrics

	// Now stamps exported calendars. Defaults to time.Now.
	Now func() time.Time
}

// Failure records an event whose graphic was skipped.
type Failure struct {
	Index int
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("event %d: %v", f.Index, f.Err)
}

// Batch is a fetched and rendered batch, held in memory.
type Batch struct {
	Range  dates.Range
	Events []model.Event

	// Graphics holds the rendered SVG per event index; failed events are absent.
	Graphics map[int][]byte

	Failures []Failure
	Digest   string
}

// Result describes a completed run.
type Result struct {
	*Batch

	OutputDir    string
	GraphicPaths []string
	PNGPaths     []string
	DigestPath   string
	CalendarPath string
}

// Pipeline ties an event source to a renderer.
type Pipeline struct {
	source   Source
	renderer Renderer
	opts     Options
}

// New returns a Pipeline. opts is copied.
func New(source Source, renderer Renderer, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Pipeline{source: source, renderer: renderer, opts: opts}
}

// Prepare fetches the events of r and renders them without touching disk.
// A fetch or validation error fails the whole batch. Render errors,
// including panics, only skip the affected event.
func (p *Pipeline) Prepare(ctx context.Context, r dates.Range) (*Batch, error) {
	if err := dates.ValidateRange(r.Start, r.End); err != nil {
		return nil, err
	}

	appLog.Info("fetching events", "source", p.source.Name(), "start", r.StartDay(), "end", r.EndDay())
	events, err := p.source.Events(ctx, r)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logFetchHints(p.source.Name(), r)
		}
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	p.opts.Metrics.BatchSize(len(events))

	b := &Batch{
		Range:    r,
		Events:   events,
		Graphics: make(map[int][]byte, len(events)),
	}
	if len(events) == 0 {
		return b, nil
	}

	for i, ev := range events {
		svg, err := renderSafely(p.renderer, ev)
		if err != nil {
			p.fail(b, i, err)
			continue
		}
		b.Graphics[i] = svg
		p.opts.Metrics.GraphicRendered()
	}
	b.Digest = digest.Build(events)
	return b, nil
}

// Run prepares the batch for r and writes it out.
func (p *Pipeline) Run(ctx context.Context, r dates.Range) (*Result, error) {
	b, err := p.Prepare(ctx, r)
	if err != nil {
		return nil, err
	}

	res := &Result{Batch: b, OutputDir: p.outputDir(r)}
	if len(b.Events) == 0 {
		appLog.Warn("no events found in date range", "start", r.StartDay(), "end", r.EndDay())
		return res, nil
	}
	appLog.Info("found events", "count", len(b.Events))

	if p.opts.DryRun {
		appLog.Info("dry run: would create directory", "path", res.OutputDir)
	} else if err := os.MkdirAll(res.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", res.OutputDir, err)
	}

	for i := range b.Events {
		svg, ok := b.Graphics[i]
		if !ok {
			continue
		}
		path := filepath.Join(res.OutputDir, GraphicName(i))
		if err := p.write(path, svg); err != nil {
			delete(b.Graphics, i)
			p.fail(b, i, err)
			continue
		}
		res.GraphicPaths = append(res.GraphicPaths, path)

		if p.opts.Rasterizer != nil && !p.opts.DryRun {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pngPath := filepath.Join(res.OutputDir, PNGName(i))
			if err := p.opts.Rasterizer.Rasterize(ctx, path, pngPath); err != nil {
				appLog.Error("png export failed", err, "index", i, "svg", path)
			} else {
				res.PNGPaths = append(res.PNGPaths, pngPath)
			}
		}
	}

	res.DigestPath = filepath.Join(res.OutputDir, DigestFileName)
	if err := p.write(res.DigestPath, []byte(b.Digest)); err != nil {
		return nil, fmt.Errorf("write digest: %w", err)
	}

	if p.opts.ExportICS {
		cal, n := ics.Export(b.Events, r.StartDay(), p.opts.Now(), p.opts.Location)
		res.CalendarPath = filepath.Join(res.OutputDir, CalendarFileName)
		if err := p.write(res.CalendarPath, []byte(cal)); err != nil {
			return nil, fmt.Errorf("write calendar: %w", err)
		}
		appLog.Info("calendar exported", "path", res.CalendarPath, "events", n)
	}

	appLog.Info("batch complete",
		"output_dir", res.OutputDir,
		"graphics", len(res.GraphicPaths),
		"failed", len(b.Failures),
		"dry_run", p.opts.DryRun,
	)
	return res, nil
}

func (p *Pipeline) outputDir(r dates.Range) string {
	if p.opts.OutputDir != "" {
		return p.opts.OutputDir
	}
	return r.StartDay()
}

func (p *Pipeline) write(path string, data []byte) error {
	if p.opts.DryRun {
		appLog.Info("dry run: would write", "path", path, "bytes", len(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	appLog.Debug("wrote file", "path", path, "bytes", len(data))
	return nil
}

func (p *Pipeline) fail(b *Batch, i int, err error) {
	appLog.Error("failed to generate graphic, skipping event", err, "index", i)
	b.Failures = append(b.Failures, Failure{Index: i, Err: err})
	p.opts.Metrics.GraphicFailed()
}

func renderSafely(r Renderer, ev model.Event) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("render panicked: %v", rec)
		}
	}()
	return r.Render(ev)
}

func logFetchHints(source string, r dates.Range) {
	hint := "check that the ICS subscription URLs are reachable"
	if source == "api" {
		hint = "check that the events server is running and the base URL is correct"
	}
	appLog.Warn("could not fetch events",
		"hint", hint,
		"also", "verify the network connection and that the date range is valid",
		"start", r.StartDay(),
		"end", r.EndDay(),
	)
}
