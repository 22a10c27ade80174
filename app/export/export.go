// Package export converts a unit's current (possibly edited) text into a
// downloadable document. Byte-level generation is delegated to per-format
// renderers; the exporter itself only picks the strategy and names the file.
package export

import (
	"errors"
	"fmt"

	"github.com/umputun/vigil/app/desk"
)

// ErrUnsupportedFormat reported for formats outside the fixed set
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format is one of the fixed output formats
type Format string

// supported export formats
const (
	FormatTxt  Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
)

// ParseFormat validates a user-supplied format string
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTxt, FormatPDF, FormatDocx:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Renderer turns text into the bytes of one concrete document format
type Renderer interface {
	Render(text string) ([]byte, error)
	ContentType() string
	Ext() string
}

// Units provides read access to display units, implemented by desk.Manager
type Units interface {
	Unit(displayID string) (desk.UnitView, bool)
}

// Doc is a rendered, ready-to-download document
type Doc struct {
	Name        string
	ContentType string
	Data        []byte
}

// Exporter renders single units via per-format strategies
type Exporter struct {
	units     Units
	renderers map[Format]Renderer
}

// New makes an exporter with the default renderer set for txt, pdf and docx
func New(units Units) *Exporter {
	return &Exporter{
		units: units,
		renderers: map[Format]Renderer{
			FormatTxt:  Plain{},
			FormatPDF:  PDF{},
			FormatDocx: Docx{},
		},
	}
}

// Single renders the unit's current text in the requested format, using the
// unit's label as the filename stem. Edited text, when present, is what gets
// exported; the exporter never sees the server's original.
func (e *Exporter) Single(displayID string, format Format) (Doc, error) {
	r, ok := e.renderers[format]
	if !ok {
		return Doc{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	u, ok := e.units.Unit(displayID)
	if !ok {
		return Doc{}, fmt.Errorf("can't export %s: %w", displayID, desk.ErrUnknownUnit)
	}
	if u.Kind != desk.KindResult {
		return Doc{}, fmt.Errorf("can't export %s: unit has no text", displayID)
	}

	data, err := r.Render(u.Text)
	if err != nil {
		return Doc{}, fmt.Errorf("can't render %s as %s: %w", displayID, format, err)
	}

	name := u.Label
	if name == "" {
		name = displayID
	}
	return Doc{Name: name + "." + r.Ext(), ContentType: r.ContentType(), Data: data}, nil
}
