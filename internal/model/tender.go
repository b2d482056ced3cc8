package model

import "time"

// LifecycleStatus tracks how a tender evolved across scrape passes.
type LifecycleStatus string

const (
	LifecycleActive  LifecycleStatus = "active"
	LifecycleUpdated LifecycleStatus = "updated"
	LifecycleClosed  LifecycleStatus = "closed"
)

// Stage is a step of the per-tender enrichment pipeline. Stages advance
// monotonically; a failed stage is recorded separately and re-entered on a
// later pass.
type Stage string

const (
	StageNew              Stage = "new"
	StageAttachmentsReady Stage = "attachments_ready"
	StageTextExtracted    Stage = "text_extracted"
	StageAiEnriched       Stage = "ai_enriched"
	StageComplete         Stage = "complete"
)

// stageOrder defines the monotonic progression of enrichment stages.
var stageOrder = map[Stage]int{
	StageNew:              0,
	StageAttachmentsReady: 1,
	StageTextExtracted:    2,
	StageAiEnriched:       3,
	StageComplete:         4,
}

// Before reports whether s precedes other in the pipeline.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Next returns the stage that follows s, or s itself for the final stage.
func (s Stage) Next() Stage {
	switch s {
	case StageNew:
		return StageAttachmentsReady
	case StageAttachmentsReady:
		return StageTextExtracted
	case StageTextExtracted:
		return StageAiEnriched
	case StageAiEnriched:
		return StageComplete
	default:
		return s
	}
}

// Tender is one procurement opportunity reconciled across scrape passes.
// IdentityKey and Platform are immutable once assigned.
type Tender struct {
	IdentityKey   string          `json:"identity_key"`
	Platform      string          `json:"platform"`
	Fields        FieldSet        `json:"fields"`
	QualityScore  float64         `json:"quality_score"`
	Lifecycle     LifecycleStatus `json:"lifecycle_status"`
	Stage         Stage           `json:"stage"`
	FailedStage   Stage           `json:"failed_stage,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RetryCount    int             `json:"retry_count"`
	MissingStreak int             `json:"missing_streak"`
	CreatedAt     time.Time       `json:"created_at"`
	LastSeenAt    time.Time       `json:"last_seen_at"`
	LastChangedAt time.Time       `json:"last_changed_at"`
}

// Failed reports whether the tender is parked in a failed stage.
func (t *Tender) Failed() bool {
	return t.FailedStage != ""
}
