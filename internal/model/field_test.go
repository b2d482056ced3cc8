package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateFormats(t *testing.T) {
	for _, s := range []string{
		"15/03/2026",
		"15/03/2026 12:30",
		"15-03-2026",
		"2026-03-15",
		"2026-03-15 12:30:00",
	} {
		parsed := ParseDate(s)
		require.NotNil(t, parsed, "format %q", s)
		assert.Equal(t, 2026, parsed.Year())
		assert.Equal(t, 15, parsed.Day())
	}

	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("domani"))
	assert.Nil(t, ParseDate("31/02/2026 25:00:00"))
}

func TestParseAmountItalianFormat(t *testing.T) {
	v := ParseAmount("€ 1.500.000,00")
	require.NotNil(t, v)
	assert.InDelta(t, 1500000.0, *v, 1e-9)

	v = ParseAmount("250,50")
	require.NotNil(t, v)
	assert.InDelta(t, 250.5, *v, 1e-9)

	assert.Nil(t, ParseAmount(""))
	assert.Nil(t, ParseAmount("da definire"))
}

func TestFieldsFromRaw(t *testing.T) {
	fs := FieldsFromRaw(map[string]string{
		RawFieldTitle:         "Fornitura arredi",
		RawFieldAmount:        "€ 100.000,00",
		RawFieldDeadline:      "01/10/2026",
		RawFieldLotCount:      "3",
		RawFieldReferenceCode: "A000000001",
		"stazione_unica":      "sì",
		RawFieldStatus:        "  ",
	})

	assert.Equal(t, "Fornitura arredi", fs.Title)
	require.NotNil(t, fs.Amount)
	assert.InDelta(t, 100000.0, *fs.Amount, 1e-9)
	require.NotNil(t, fs.LotCount)
	assert.Equal(t, 3, *fs.LotCount)

	// Identity candidates are not duplicated into extras.
	assert.NotContains(t, fs.Extras, RawFieldReferenceCode)
	assert.Equal(t, "sì", fs.Extras["stazione_unica"])
	// Blank values are absent, not empty strings.
	assert.Empty(t, fs.Status)
}

func TestFieldsFromRawMalformedValuesBecomeAbsent(t *testing.T) {
	fs := FieldsFromRaw(map[string]string{
		RawFieldAmount:   "n/d",
		RawFieldDeadline: "prossimamente",
		RawFieldLotCount: "alcuni",
	})
	assert.Nil(t, fs.Amount)
	assert.Nil(t, fs.Deadline)
	assert.Nil(t, fs.LotCount)
	assert.Zero(t, fs.PopulatedCount())
}

func TestQualityScore(t *testing.T) {
	empty := FieldSet{}
	assert.Zero(t, empty.QualityScore())

	amount := 100.0
	partial := FieldSet{Title: "t", Amount: &amount}
	assert.InDelta(t, 2.0/16.0, partial.QualityScore(), 1e-9)

	// Bookkeeping fields do not count toward the score.
	bookkeeping := FieldSet{DetailURL: "https://example.org", Status: "aperta"}
	assert.Zero(t, bookkeeping.QualityScore())
}
