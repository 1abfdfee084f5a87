// Package render lays out event graphics and serializes them as SVG.
package render

import (
	"errors"
	"io/fs"
	"math"
	"os"

	"apsgen/internal/dates"
	appLog "apsgen/internal/log"
	"apsgen/internal/model"
)

// Canvas and fixed header geometry.
const (
	CanvasWidth  = 1024
	CanvasHeight = 1024

	LogoSize    = 120
	LogoPadding = 40

	HeaderText     = "Palaeo Events!"
	HeaderFontSize = 64

	BackgroundColour = "#000000"
	TextColour       = "#FFFFFF"

	// LineHeight scales a block's font size into the vertical space it takes.
	LineHeight = 1.2

	DefaultLogoPath = "files/APS logo-black.svg"
)

// FontSizes maps each field to its fixed font size.
var FontSizes = map[model.Field]int{
	model.FieldTitle:    72,
	model.FieldSubtitle: 48,
	model.FieldHost:     40,
	model.FieldDate:     40,
	model.FieldLocation: 40,
}

// Block is one positioned line of event content.
type Block struct {
	Field      model.Field
	Text       string
	FontSize   int
	FontWeight string
	// Offset is the distance from the top of the content group.
	Offset float64
	// Y is the absolute baseline position on the canvas.
	Y float64
}

// Engine lays out event graphics.
type Engine struct {
	// LogoPath is referenced by the image element. It is checked for
	// existence only to warn; the file is never read.
	LogoPath string

	// stat is swapped in tests.
	stat func(string) (fs.FileInfo, error)
}

// NewEngine returns an Engine referencing logoPath, or DefaultLogoPath when empty.
func NewEngine(logoPath string) *Engine {
	if logoPath == "" {
		logoPath = DefaultLogoPath
	}
	return &Engine{LogoPath: logoPath, stat: os.Stat}
}

// Layout builds the graphic for ev. It never fails; fields that are not
// present are skipped without reserving space.
func (e *Engine) Layout(ev model.Event) *Document {
	e.checkLogo()

	doc := &Document{
		Width:  CanvasWidth,
		Height: CanvasHeight,
	}

	doc.Elements = append(doc.Elements,
		Rect{
			X:      0,
			Y:      0,
			Width:  CanvasWidth,
			Height: CanvasHeight,
			Fill:   BackgroundColour,
		},
		Image{
			Href:                e.LogoPath,
			X:                   LogoPadding,
			Y:                   LogoPadding,
			Width:               LogoSize,
			Height:              LogoSize,
			PreserveAspectRatio: "xMidYMid meet",
		},
		Text{
			X:                CanvasWidth / 2,
			Y:                LogoPadding + LogoSize/2,
			FontSize:         HeaderFontSize,
			FontWeight:       "bold",
			Fill:             TextColour,
			TextAnchor:       "middle",
			DominantBaseline: "middle",
			Content:          HeaderText,
		},
	)

	blocks, total := buildBlocks(ev)
	startY := (CanvasHeight - total) / 2

	for i := range blocks {
		b := &blocks[i]
		b.Y = round(startY + b.Offset)
		doc.Elements = append(doc.Elements, Text{
			X:             CanvasWidth / 2,
			Y:             b.Y,
			FontSize:      b.FontSize,
			FontWeight:    b.FontWeight,
			Fill:          TextColour,
			TextAnchor:    "middle",
			TextRendering: "optimizeLegibility",
			Content:       b.Text,
		})
	}
	doc.Blocks = blocks

	return doc
}

// buildBlocks returns the content blocks of ev in display order together
// with the total height of the stacked group.
func buildBlocks(ev model.Event) ([]Block, float64) {
	var (
		blocks []Block
		offset float64
	)
	for _, f := range model.Fields {
		text, ok := ev.Get(f)
		if !ok {
			continue
		}
		if f == model.FieldDate {
			text = dates.StripTime(text)
		}
		size := FontSizes[f]
		b := Block{
			Field:    f,
			Text:     text,
			FontSize: size,
			Offset:   round(offset),
		}
		if f == model.FieldTitle {
			b.FontWeight = "bold"
		}
		blocks = append(blocks, b)
		offset += float64(size) * LineHeight
	}
	return blocks, round(offset)
}

func (e *Engine) checkLogo() {
	stat := e.stat
	if stat == nil {
		stat = os.Stat
	}
	if _, err := stat(e.LogoPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("logo file not found; graphic will reference it anyway", "path", e.LogoPath)
			return
		}
		appLog.Warn("logo file not accessible", "path", e.LogoPath, "err", err)
	}
}

// round trims float noise from accumulated line heights.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
