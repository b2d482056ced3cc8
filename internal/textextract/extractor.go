// Package textextract pulls text out of downloaded tender documents and
// locates the sections relevant for AI enrichment.
package textextract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Extractor extracts plain text from a downloaded document.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// ForFile returns the extractor handling the file's type, or nil when the
// type carries no extractable text (archives, signed containers).
func ForFile(pdf *PdfToText, xlsx *XlsxExtractor, path string) Extractor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return pdf
	case ".xls", ".xlsx":
		return xlsx
	default:
		return nil
	}
}

// ErrNoText is returned when a document yields no usable text.
var ErrNoText = eris.New("textextract: no text in document")
