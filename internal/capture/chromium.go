// Package capture rasterizes rendered SVG graphics to PNG with headless
// Chromium.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "apsgen/internal/log"
)

// Default capture parameters. These match the graphic canvas.
const (
	DefaultWidth      = 1024
	DefaultHeight     = 1024
	DefaultTimeoutSec = 30
)

// Options defines parameters for one SVG to PNG capture.
type Options struct {
	// SVGPath is the graphic to load, e.g. "2025-01-15/event_00.svg".
	SVGPath string

	// OutputPath is where the PNG will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration
}

func (o *Options) applyDefaults() error {
	if o.SVGPath == "" {
		return fmt.Errorf("capture: SVGPath is required")
	}
	if o.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// fileURL turns a local path into a file:// URL. Relative image references
// inside the SVG resolve against its directory.
func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// RasterizeSVG opens opts.SVGPath in headless Chromium, waits for the root
// <svg> element and writes a screenshot of the viewport as PNG.
func RasterizeSVG(parentCtx context.Context, opts Options) error {
	if err := opts.applyDefaults(); err != nil {
		return err
	}
	target, err := fileURL(opts.SVGPath)
	if err != nil {
		return fmt.Errorf("capture: resolve %s: %w", opts.SVGPath, err)
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(`svg`, chromedp.ByQuery),
		// Let the logo image finish painting.
		chromedp.Sleep(200 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Debug("capture: png written", "svg", opts.SVGPath, "png", opts.OutputPath, "bytes", len(png))
	return nil
}

// Rasterizer captures graphics with fixed viewport settings.
type Rasterizer struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// Rasterize writes the PNG rendering of svgPath to pngPath.
func (r Rasterizer) Rasterize(ctx context.Context, svgPath, pngPath string) error {
	return RasterizeSVG(ctx, Options{
		SVGPath:    svgPath,
		OutputPath: pngPath,
		Width:      r.Width,
		Height:     r.Height,
		Timeout:    r.Timeout,
	})
}
