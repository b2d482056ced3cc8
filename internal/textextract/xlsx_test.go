package textextract

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestXlsx(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Foglio1")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "modulo.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestXlsxExtractText(t *testing.T) {
	path := writeTestXlsx(t, [][]string{
		{"Voce", "Importo"},
		{"Fornitura server", "120000"},
		{"", ""},
		{"Manutenzione", "30000"},
	})

	text, err := NewXlsxExtractor().ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Voce Importo")
	assert.Contains(t, text, "Fornitura server 120000")
	assert.NotContains(t, text, "\n\n\n")
}

func TestXlsxExtractTextEmpty(t *testing.T) {
	path := writeTestXlsx(t, nil)
	_, err := NewXlsxExtractor().ExtractText(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestXlsxExtractTextMissingFile(t *testing.T) {
	_, err := NewXlsxExtractor().ExtractText(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"))
	assert.Error(t, err)
}

func TestPdfToTextMissingBinary(t *testing.T) {
	p := NewPdfToText(filepath.Join(t.TempDir(), "no-such-binary"), 0)
	_, err := p.ExtractText(context.Background(), "whatever.pdf")
	assert.Error(t, err)
}

func TestForFile(t *testing.T) {
	pdf := NewPdfToText("", 0)
	x := NewXlsxExtractor()

	assert.Equal(t, Extractor(pdf), ForFile(pdf, x, "/tmp/bando.PDF"))
	assert.Equal(t, Extractor(x), ForFile(pdf, x, "/tmp/modulo.xlsx"))
	assert.Nil(t, ForFile(pdf, x, "/tmp/archive.zip"))
	assert.Nil(t, ForFile(pdf, x, "/tmp/signed.p7m"))
}
