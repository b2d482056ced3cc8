// Package detect classifies the delta between a freshly scraped tender
// snapshot and the persisted record.
package detect

import (
	"time"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/model"
)

// Outcome classifies one scraped tender against the store.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
)

// Detector applies the change-detection policy.
type Detector struct {
	missingStreakThreshold int
}

// New creates a Detector from config. A threshold below 1 is clamped to the
// default of 1 so a single transient scrape omission never closes a tender
// when a higher tolerance was configured as zero by mistake.
func New(cfg config.DetectorConfig) *Detector {
	threshold := cfg.MissingStreakThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Detector{missingStreakThreshold: threshold}
}

// Classify compares incoming fields against the existing tender (nil for a
// first sighting) and returns the outcome plus the merged field set to
// persist. Merging never overwrites a known value with an absent one: a
// degraded scrape must not regress data quality.
func (d *Detector) Classify(existing *model.Tender, incoming model.FieldSet) (Outcome, model.FieldSet) {
	if existing == nil {
		return OutcomeNew, incoming
	}

	merged := mergeFields(existing.Fields, incoming)
	if significantChange(existing.Fields, merged) {
		return OutcomeUpdated, merged
	}
	return OutcomeUnchanged, merged
}

// RecordMissing is applied to a tender absent from a full platform scrape.
// It increments the missing streak and reports whether the tender crossed
// the closing threshold on this pass.
func (d *Detector) RecordMissing(t *model.Tender, now time.Time) (closed bool) {
	if t.Lifecycle == model.LifecycleClosed {
		return false
	}
	t.MissingStreak++
	if t.MissingStreak < d.missingStreakThreshold {
		return false
	}
	t.Lifecycle = model.LifecycleClosed
	t.LastChangedAt = now
	return true
}

// significantChange reports whether any change-significant field differs:
// deadline, amount, status, or the publication window.
func significantChange(old, merged model.FieldSet) bool {
	if !equalTime(old.Deadline, merged.Deadline) {
		return true
	}
	if !equalFloat(old.Amount, merged.Amount) {
		return true
	}
	if old.Status != merged.Status {
		return true
	}
	if !equalTime(old.PublicationDate, merged.PublicationDate) {
		return true
	}
	if !equalTime(old.EvaluationDate, merged.EvaluationDate) {
		return true
	}
	return false
}

// mergeFields overlays incoming onto old, keeping the old value wherever the
// incoming one is absent.
func mergeFields(old, incoming model.FieldSet) model.FieldSet {
	merged := incoming

	if merged.Title == "" {
		merged.Title = old.Title
	}
	if merged.Amount == nil {
		merged.Amount = old.Amount
	}
	if merged.ProcedureType == "" {
		merged.ProcedureType = old.ProcedureType
	}
	if merged.Category == "" {
		merged.Category = old.Category
	}
	if merged.PlaceOfExecution == "" {
		merged.PlaceOfExecution = old.PlaceOfExecution
	}
	if merged.ContractingAuthority == "" {
		merged.ContractingAuthority = old.ContractingAuthority
	}
	if merged.CPVCodes == "" {
		merged.CPVCodes = old.CPVCodes
	}
	if merged.PublicationDate == nil {
		merged.PublicationDate = old.PublicationDate
	}
	if merged.Deadline == nil {
		merged.Deadline = old.Deadline
	}
	if merged.EvaluationDate == nil {
		merged.EvaluationDate = old.EvaluationDate
	}
	if merged.SectorType == "" {
		merged.SectorType = old.SectorType
	}
	if merged.AwardCriterion == "" {
		merged.AwardCriterion = old.AwardCriterion
	}
	if merged.ContractDuration == "" {
		merged.ContractDuration = old.ContractDuration
	}
	if merged.LotCount == nil {
		merged.LotCount = old.LotCount
	}
	if merged.ContactEmail == "" {
		merged.ContactEmail = old.ContactEmail
	}
	if merged.RUPName == "" {
		merged.RUPName = old.RUPName
	}
	if merged.DetailURL == "" {
		merged.DetailURL = old.DetailURL
	}
	if merged.Status == "" {
		merged.Status = old.Status
	}

	if len(old.Extras) > 0 {
		// Copy before backfilling so the caller's map is never mutated.
		extras := make(map[string]string, len(incoming.Extras)+len(old.Extras))
		for k, v := range incoming.Extras {
			extras[k] = v
		}
		for k, v := range old.Extras {
			if _, ok := extras[k]; !ok {
				extras[k] = v
			}
		}
		merged.Extras = extras
	}
	return merged
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return a.Equal(*b)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	return *a == *b
}
