package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gingfrederik/docx"
)

// Docx renders text as a minimal word document, one paragraph per line
type Docx struct{}

// Render produces the docx bytes for the given text
func (d Docx) Render(text string) ([]byte, error) {
	f := docx.NewFile()
	for _, line := range strings.Split(text, "\n") {
		p := f.AddParagraph()
		p.AddText(line)
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("docx generation failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType for docx downloads
func (d Docx) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// Ext is the file extension without the dot
func (d Docx) Ext() string { return "docx" }
