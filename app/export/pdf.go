package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// PDF renders text as a single-font A4 document, monospaced at 12pt to keep
// redaction markers aligned the way they look in the editor
type PDF struct{}

// Render produces the pdf bytes for the given text
func (p PDF) Render(text string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Courier", "", 12)
	doc.MultiCell(0, 5, text, "", "L", false)

	buf := &bytes.Buffer{}
	if err := doc.Output(buf); err != nil {
		return nil, fmt.Errorf("pdf generation failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType for pdf downloads
func (p PDF) ContentType() string { return "application/pdf" }

// Ext is the file extension without the dot
func (p PDF) Ext() string { return "pdf" }
