package textextract

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XlsxExtractor flattens spreadsheet cells into searchable plain text.
// Compilable forms on Italian platforms often arrive as xlsx schedules.
type XlsxExtractor struct{}

// NewXlsxExtractor creates an XlsxExtractor.
func NewXlsxExtractor() *XlsxExtractor {
	return &XlsxExtractor{}
}

// ExtractText reads every sheet and joins non-empty cells row by row.
func (x *XlsxExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "textextract: open xlsx %s", path)
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "textextract: xlsx cancelled")
		}
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				if v := strings.TrimSpace(cell.String()); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, " "))
				b.WriteByte('\n')
			}
		}
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
