package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// Element is one drawable node of a Document.
type Element interface {
	element()
}

// Rect is a filled rectangle.
type Rect struct {
	XMLName xml.Name `xml:"rect"`
	X       float64  `xml:"x,attr"`
	Y       float64  `xml:"y,attr"`
	Width   float64  `xml:"width,attr"`
	Height  float64  `xml:"height,attr"`
	Fill    string   `xml:"fill,attr"`
}

// Image references an external image by path; its bytes are never read.
type Image struct {
	XMLName             xml.Name `xml:"image"`
	Href                string   `xml:"href,attr"`
	X                   float64  `xml:"x,attr"`
	Y                   float64  `xml:"y,attr"`
	Width               float64  `xml:"width,attr"`
	Height              float64  `xml:"height,attr"`
	PreserveAspectRatio string   `xml:"preserveAspectRatio,attr,omitempty"`
}

// Text is a single line of styled text anchored at (X, Y).
type Text struct {
	XMLName          xml.Name `xml:"text"`
	X                float64  `xml:"x,attr"`
	Y                float64  `xml:"y,attr"`
	FontSize         int      `xml:"font-size,attr"`
	FontWeight       string   `xml:"font-weight,attr,omitempty"`
	Fill             string   `xml:"fill,attr"`
	TextAnchor       string   `xml:"text-anchor,attr,omitempty"`
	DominantBaseline string   `xml:"dominant-baseline,attr,omitempty"`
	TextRendering    string   `xml:"text-rendering,attr,omitempty"`
	Content          string   `xml:",chardata"`
}

func (Rect) element()  {}
func (Image) element() {}
func (Text) element()  {}

// Document is a complete event graphic, independent of serialization.
type Document struct {
	Width    float64
	Height   float64
	Elements []Element
	// Blocks are the positioned content blocks, in element order. The
	// matching Text elements are the last len(Blocks) entries of Elements.
	Blocks []Block
}

// Texts returns every Text element in document order.
func (d *Document) Texts() []Text {
	var out []Text
	for _, el := range d.Elements {
		if t, ok := el.(Text); ok {
			out = append(out, t)
		}
	}
	return out
}

// WriteSVG serializes d as an SVG document.
func (d *Document) WriteSVG(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "svg"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: "http://www.w3.org/2000/svg"},
			{Name: xml.Name{Local: "width"}, Value: formatNumber(d.Width)},
			{Name: xml.Name{Local: "height"}, Value: formatNumber(d.Height)},
			{Name: xml.Name{Local: "viewBox"}, Value: fmt.Sprintf("0 0 %s %s", formatNumber(d.Width), formatNumber(d.Height))},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	for i, el := range d.Elements {
		if err := enc.Encode(el); err != nil {
			return fmt.Errorf("render: encode element %d: %w", i, err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// MarshalSVG returns the SVG serialization of d.
func (d *Document) MarshalSVG() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WriteSVG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
