package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
)

func tenderWith(fields model.FieldSet) *model.Tender {
	return &model.Tender{
		IdentityKey: "cig:A000000001",
		Platform:    "mef",
		Fields:      fields,
		Lifecycle:   model.LifecycleActive,
	}
}

func datePtr(s string) *time.Time {
	return model.ParseDate(s)
}

func TestClassifyFirstSightingIsNew(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})

	outcome, merged := d.Classify(nil, model.FieldSet{Title: "Fornitura"})
	assert.Equal(t, OutcomeNew, outcome)
	assert.Equal(t, "Fornitura", merged.Title)
}

func TestClassifyDeadlineMoveIsUpdated(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})
	existing := tenderWith(model.FieldSet{Title: "Fornitura", Deadline: datePtr("01/10/2026")})

	outcome, merged := d.Classify(existing, model.FieldSet{Title: "Fornitura", Deadline: datePtr("15/10/2026")})
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, 15, merged.Deadline.Day())
}

func TestClassifyCosmeticChangeIsUnchanged(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})
	existing := tenderWith(model.FieldSet{Title: "Fornitura", Deadline: datePtr("01/10/2026")})

	// Title rewording alone is not a significant change.
	outcome, merged := d.Classify(existing, model.FieldSet{Title: "Fornitura arredi", Deadline: datePtr("01/10/2026")})
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, "Fornitura arredi", merged.Title)
}

func TestClassifyNeverRegressesKnownFields(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})
	amount := 50000.0
	existing := tenderWith(model.FieldSet{
		Title:                "Fornitura",
		Amount:               &amount,
		ContractingAuthority: "Comune di Prato",
		Deadline:             datePtr("01/10/2026"),
		Extras:               map[string]string{"rup": "M. Bianchi"},
	})

	// A degraded scrape yields only the title.
	outcome, merged := d.Classify(existing, model.FieldSet{Title: "Fornitura"})
	assert.Equal(t, OutcomeUnchanged, outcome)
	require.NotNil(t, merged.Amount)
	assert.InDelta(t, amount, *merged.Amount, 1e-9)
	assert.Equal(t, "Comune di Prato", merged.ContractingAuthority)
	require.NotNil(t, merged.Deadline)
	assert.Equal(t, "M. Bianchi", merged.Extras["rup"])
}

func TestClassifyLeavesIncomingExtrasAlone(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})
	existing := tenderWith(model.FieldSet{
		Title:  "Fornitura",
		Extras: map[string]string{"rup": "M. Bianchi"},
	})

	incoming := model.FieldSet{
		Title:  "Fornitura",
		Extras: map[string]string{"cup": "B12C34000050001"},
	}
	_, merged := d.Classify(existing, incoming)

	// The merged set gains the backfilled key, the caller's map does not.
	assert.Equal(t, "M. Bianchi", merged.Extras["rup"])
	assert.Len(t, incoming.Extras, 1)
	assert.NotContains(t, incoming.Extras, "rup")
}

func TestClassifyAmountAppearingIsUpdated(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 1})
	existing := tenderWith(model.FieldSet{Title: "Fornitura"})

	amount := 75000.0
	outcome, _ := d.Classify(existing, model.FieldSet{Title: "Fornitura", Amount: &amount})
	assert.Equal(t, OutcomeUpdated, outcome)
}

func TestRecordMissingThreshold(t *testing.T) {
	d := New(config.DetectorConfig{MissingStreakThreshold: 3})
	tender := tenderWith(model.FieldSet{})
	now := time.Now().UTC()

	assert.False(t, d.RecordMissing(tender, now))
	assert.False(t, d.RecordMissing(tender, now))
	assert.True(t, d.RecordMissing(tender, now))
	assert.Equal(t, model.LifecycleClosed, tender.Lifecycle)

	// Already closed tenders are not double-counted.
	assert.False(t, d.RecordMissing(tender, now))
	assert.Equal(t, 3, tender.MissingStreak)
}

func TestZeroThresholdClampsToOne(t *testing.T) {
	d := New(config.DetectorConfig{})
	tender := tenderWith(model.FieldSet{})

	assert.True(t, d.RecordMissing(tender, time.Now().UTC()))
	assert.Equal(t, model.LifecycleClosed, tender.Lifecycle)
}
