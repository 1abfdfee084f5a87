package render

import "apsgen/internal/model"

// SVGRenderer renders events to SVG bytes.
type SVGRenderer struct {
	Engine *Engine
}

// NewSVGRenderer returns a renderer whose graphics reference logoPath.
func NewSVGRenderer(logoPath string) *SVGRenderer {
	return &SVGRenderer{Engine: NewEngine(logoPath)}
}

// Render lays out ev and serializes it.
func (r *SVGRenderer) Render(ev model.Event) ([]byte, error) {
	return r.Engine.Layout(ev).MarshalSVG()
}
