package export

// Plain renders text as-is, utf-8 plain text
type Plain struct{}

// Render returns the text bytes unchanged
func (p Plain) Render(text string) ([]byte, error) {
	return []byte(text), nil
}

// ContentType for plain text downloads
func (p Plain) ContentType() string { return "text/plain; charset=utf-8" }

// Ext is the file extension without the dot
func (p Plain) Ext() string { return "txt" }
