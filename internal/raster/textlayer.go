package raster

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// textLayer reads the embedded text of born-digital PDF pages.
type textLayer struct {
	r *pdf.Reader
}

func openTextLayer(data []byte) (tl *textLayer, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			tl, err = nil, fmt.Errorf("open text layer: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open text layer: %w", err)
	}
	return &textLayer{r: r}, nil
}

// Page returns the plain text of 1-based page n, or "" when it has none.
func (t *textLayer) Page(n int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if n < 1 || n > t.r.NumPage() {
		return ""
	}
	page := t.r.Page(n)
	if page.V.IsNull() {
		return ""
	}
	s, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}
