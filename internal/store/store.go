package store

import (
	"context"

	"github.com/garescout/tender-cli/internal/model"
)

// Statistics is the aggregate view consumed by reporting tools.
type Statistics struct {
	TotalTenders          int            `json:"total_tenders"`
	ActiveTenders         int            `json:"active_tenders"`
	ClosedTenders         int            `json:"closed_tenders"`
	TotalAttachments      int            `json:"total_attachments"`
	DownloadedAttachments int            `json:"downloaded_attachments"`
	EnrichedTenders       int            `json:"enriched_tenders"`
	AvgQualityScore       float64        `json:"avg_quality_score"`
	PlatformBreakdown     map[string]int `json:"platform_breakdown"`
}

// Store defines persistence for tenders, attachments, enrichment records and
// scrape runs. Implementations enforce identity-key uniqueness per platform.
type Store interface {
	// Tenders
	GetTender(ctx context.Context, platform, identityKey string) (*model.Tender, error)
	CreateTender(ctx context.Context, t *model.Tender) error
	UpdateTender(ctx context.Context, t *model.Tender) error
	ListOpenTenders(ctx context.Context, platform string) ([]model.Tender, error)
	ListPendingEnrichment(ctx context.Context, platform string, retryCap, limit int) ([]model.Tender, error)

	// Attachments
	UpsertAttachment(ctx context.Context, a *model.Attachment) error
	ListAttachments(ctx context.Context, tenderKey string) ([]model.Attachment, error)
	UpdateAttachmentStatus(ctx context.Context, id string, status model.DownloadStatus, localPath string, sizeBytes int64, errText string) error

	// Enrichment records
	GetEnrichment(ctx context.Context, tenderKey string) (*model.EnrichmentRecord, error)
	PutEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error

	// Scrape runs
	CreateScrapeRun(ctx context.Context, run *model.ScrapeRun) error
	ListScrapeRuns(ctx context.Context, platform string, limit int) ([]model.ScrapeRun, error)

	// Reporting
	Statistics(ctx context.Context) (*Statistics, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
