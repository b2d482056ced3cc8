package model

import "time"

// AttachmentCategory classifies what role a document plays in a tender.
type AttachmentCategory string

const (
	CategoryCompilable   AttachmentCategory = "compilable"
	CategoryInformative  AttachmentCategory = "informative"
	CategoryUnclassified AttachmentCategory = "unclassified"
)

// DownloadStatus is the terminal or pending outcome of an attachment fetch.
type DownloadStatus string

const (
	DownloadPending             DownloadStatus = "pending"
	DownloadDownloaded          DownloadStatus = "downloaded"
	DownloadFailed              DownloadStatus = "failed"
	DownloadSkippedTooLarge     DownloadStatus = "skipped_too_large"
	DownloadSkippedBadExtension DownloadStatus = "skipped_bad_extension"
)

// Terminal reports whether the status is a final download outcome.
func (s DownloadStatus) Terminal() bool {
	return s != DownloadPending && s != ""
}

// Attachment is one document referenced by a tender. A tender exclusively
// owns its attachments; LocalPath is set iff Status is DownloadDownloaded.
type Attachment struct {
	ID          string             `json:"id"`
	TenderKey   string             `json:"tender_key"`
	SourceURL   string             `json:"source_url"`
	FileName    string             `json:"file_name"`
	Category    AttachmentCategory `json:"category"`
	Confidence  float64            `json:"classification_confidence"`
	Status      DownloadStatus     `json:"download_status"`
	LocalPath   string             `json:"local_path,omitempty"`
	SizeBytes   int64              `json:"size_bytes,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
}

// RawAttachment is a document reference as scraped from a listing page.
type RawAttachment struct {
	FileName  string `json:"file_name"`
	SourceURL string `json:"source_url"`
}

// RawTender is one scraped tender as yielded by a platform fetcher: a flat
// map of named string values plus the document links found on the page.
type RawTender struct {
	Values      map[string]string `json:"values"`
	Attachments []RawAttachment   `json:"attachments,omitempty"`
}
