package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/garescout/tender-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// An in-memory database exists per connection; keep the pool at one so
	// every caller sees the same database.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	platform        TEXT NOT NULL,
	identity_key    TEXT NOT NULL,
	fields          TEXT NOT NULL,
	quality_score   REAL NOT NULL DEFAULT 0,
	lifecycle       TEXT NOT NULL DEFAULT 'active',
	stage           TEXT NOT NULL DEFAULT 'new',
	failed_stage    TEXT NOT NULL DEFAULT '',
	failure_reason  TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	missing_streak  INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL,
	last_changed_at DATETIME NOT NULL,
	PRIMARY KEY (platform, identity_key)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	tender_key   TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT 'unclassified',
	confidence   REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	local_path   TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	processed_at DATETIME,
	UNIQUE (tender_key, source_url)
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	tender_key   TEXT PRIMARY KEY,
	sections     TEXT,
	raw_text     TEXT NOT NULL DEFAULT '',
	source_docs  TEXT,
	structured   TEXT,
	confidence   REAL NOT NULL DEFAULT 0,
	extracted_at DATETIME,
	enriched_at  DATETIME
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id         TEXT PRIMARY KEY,
	platform   TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME NOT NULL,
	found_count   INTEGER NOT NULL DEFAULT 0,
	new_count     INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	closed_count  INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tenders_platform_lifecycle ON tenders(platform, lifecycle);
CREATE INDEX IF NOT EXISTS idx_tenders_stage ON tenders(stage);
CREATE INDEX IF NOT EXISTS idx_attachments_tender_key ON attachments(tender_key);
CREATE INDEX IF NOT EXISTS idx_attachments_status ON attachments(status);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_platform ON scrape_runs(platform, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetTender(ctx context.Context, platform, identityKey string) (*model.Tender, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
		        failed_stage, failure_reason, retry_count, missing_streak,
		        created_at, last_seen_at, last_changed_at
		 FROM tenders WHERE platform = ? AND identity_key = ?`,
		platform, identityKey,
	)
	t, err := scanTender(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLiteStore) CreateTender(ctx context.Context, t *model.Tender) error {
	fieldsJSON, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenders (platform, identity_key, fields, quality_score, lifecycle, stage,
		                      failed_stage, failure_reason, retry_count, missing_streak,
		                      created_at, last_seen_at, last_changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Platform, t.IdentityKey, string(fieldsJSON), t.QualityScore, string(t.Lifecycle), string(t.Stage),
		string(t.FailedStage), t.FailureReason, t.RetryCount, t.MissingStreak,
		t.CreatedAt, t.LastSeenAt, t.LastChangedAt,
	)
	return eris.Wrapf(err, "sqlite: insert tender %s", t.IdentityKey)
}

func (s *SQLiteStore) UpdateTender(ctx context.Context, t *model.Tender) error {
	fieldsJSON, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenders SET fields = ?, quality_score = ?, lifecycle = ?, stage = ?,
		        failed_stage = ?, failure_reason = ?, retry_count = ?, missing_streak = ?,
		        last_seen_at = ?, last_changed_at = ?
		 WHERE platform = ? AND identity_key = ?`,
		string(fieldsJSON), t.QualityScore, string(t.Lifecycle), string(t.Stage),
		string(t.FailedStage), t.FailureReason, t.RetryCount, t.MissingStreak,
		t.LastSeenAt, t.LastChangedAt,
		t.Platform, t.IdentityKey,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update tender %s", t.IdentityKey)
	}
	return checkRowsAffected(res, "tender", t.IdentityKey)
}

func (s *SQLiteStore) ListOpenTenders(ctx context.Context, platform string) ([]model.Tender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
		        failed_stage, failure_reason, retry_count, missing_streak,
		        created_at, last_seen_at, last_changed_at
		 FROM tenders WHERE platform = ? AND lifecycle != ?
		 ORDER BY last_seen_at`,
		platform, string(model.LifecycleClosed),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open tenders")
	}
	defer rows.Close()
	return collectTenders(rows)
}

func (s *SQLiteStore) ListPendingEnrichment(ctx context.Context, platform string, retryCap, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
	                 failed_stage, failure_reason, retry_count, missing_streak,
	                 created_at, last_seen_at, last_changed_at
	          FROM tenders
	          WHERE lifecycle != ? AND stage != ? AND retry_count < ?`
	args := []any{string(model.LifecycleClosed), string(model.StageComplete), retryCap}
	if platform != "" {
		query += ` AND platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY last_seen_at LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending enrichment")
	}
	defer rows.Close()
	return collectTenders(rows)
}

func (s *SQLiteStore) UpsertAttachment(ctx context.Context, a *model.Attachment) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM attachments WHERE tender_key = ? AND source_url = ?`,
		a.TenderKey, a.SourceURL,
	)
	var existingID string
	err := row.Scan(&existingID)
	if err == nil {
		// Already known; keep the recorded download state.
		a.ID = existingID
		return nil
	}
	if err != sql.ErrNoRows {
		return eris.Wrap(err, "sqlite: lookup attachment")
	}

	a.ID = uuid.New().String()
	if a.Status == "" {
		a.Status = model.DownloadPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, tender_key, source_url, file_name, category, confidence,
		                          status, local_path, size_bytes, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenderKey, a.SourceURL, a.FileName, string(a.Category), a.Confidence,
		string(a.Status), a.LocalPath, a.SizeBytes, a.Error, a.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert attachment %s", a.FileName)
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, tenderKey string) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tender_key, source_url, file_name, category, confidence,
		        status, local_path, size_bytes, error, created_at, processed_at
		 FROM attachments WHERE tender_key = ? ORDER BY created_at, id`,
		tenderKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attachments")
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var category, status string
		var processedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.TenderKey, &a.SourceURL, &a.FileName, &category, &a.Confidence,
			&status, &a.LocalPath, &a.SizeBytes, &a.Error, &a.CreatedAt, &processedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attachment")
		}
		a.Category = model.AttachmentCategory(category)
		a.Status = model.DownloadStatus(status)
		if processedAt.Valid {
			t := processedAt.Time
			a.ProcessedAt = &t
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attachments iterate")
}

func (s *SQLiteStore) UpdateAttachmentStatus(ctx context.Context, id string, status model.DownloadStatus, localPath string, sizeBytes int64, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET status = ?, local_path = ?, size_bytes = ?, error = ?, processed_at = ?
		 WHERE id = ?`,
		string(status), localPath, sizeBytes, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update attachment %s", id)
	}
	return checkRowsAffected(res, "attachment", id)
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, tenderKey string) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tender_key, sections, raw_text, source_docs, structured, confidence, extracted_at, enriched_at
		 FROM enrichment_records WHERE tender_key = ?`,
		tenderKey,
	)

	var rec model.EnrichmentRecord
	var sectionsJSON, docsJSON, structuredJSON sql.NullString
	var extractedAt, enrichedAt sql.NullTime
	err := row.Scan(&rec.TenderKey, &sectionsJSON, &rec.RawText, &docsJSON, &structuredJSON, &rec.Confidence, &extractedAt, &enrichedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get enrichment")
	}

	if sectionsJSON.Valid && sectionsJSON.String != "" {
		if err := json.Unmarshal([]byte(sectionsJSON.String), &rec.Sections); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sections")
		}
	}
	if docsJSON.Valid && docsJSON.String != "" {
		if err := json.Unmarshal([]byte(docsJSON.String), &rec.SourceDocuments); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source docs")
		}
	}
	if structuredJSON.Valid && structuredJSON.String != "" {
		rec.Structured = &model.StructuredFields{}
		if err := json.Unmarshal([]byte(structuredJSON.String), rec.Structured); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal structured")
		}
	}
	if extractedAt.Valid {
		t := extractedAt.Time
		rec.ExtractedAt = &t
	}
	if enrichedAt.Valid {
		t := enrichedAt.Time
		rec.EnrichedAt = &t
	}
	return &rec, nil
}

func (s *SQLiteStore) PutEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	sectionsJSON, err := json.Marshal(rec.Sections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sections")
	}
	docsJSON, err := json.Marshal(rec.SourceDocuments)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source docs")
	}
	var structuredJSON []byte
	if rec.Structured != nil {
		structuredJSON, err = json.Marshal(rec.Structured)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal structured")
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_records (tender_key, sections, raw_text, source_docs, structured, confidence, extracted_at, enriched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tender_key) DO UPDATE SET
		   sections = excluded.sections,
		   raw_text = excluded.raw_text,
		   source_docs = excluded.source_docs,
		   structured = excluded.structured,
		   confidence = excluded.confidence,
		   extracted_at = excluded.extracted_at,
		   enriched_at = excluded.enriched_at`,
		rec.TenderKey, string(sectionsJSON), rec.RawText, string(docsJSON), nullableString(structuredJSON),
		rec.Confidence, nullableTime(rec.ExtractedAt), nullableTime(rec.EnrichedAt),
	)
	return eris.Wrapf(err, "sqlite: put enrichment %s", rec.TenderKey)
}

func (s *SQLiteStore) CreateScrapeRun(ctx context.Context, run *model.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, platform, started_at, ended_at, found_count, new_count, updated_count, closed_count, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Platform, run.StartedAt, run.EndedAt, run.Found, run.New, run.Updated, run.Closed, run.Errors,
	)
	return eris.Wrap(err, "sqlite: insert scrape run")
}

func (s *SQLiteStore) ListScrapeRuns(ctx context.Context, platform string, limit int) ([]model.ScrapeRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, platform, started_at, ended_at, found_count, new_count, updated_count, closed_count, error_count
	          FROM scrape_runs`
	var args []any
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scrape runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		var r model.ScrapeRun
		if err := rows.Scan(&r.ID, &r.Platform, &r.StartedAt, &r.EndedAt, &r.Found, &r.New, &r.Updated, &r.Closed, &r.Errors); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scrape run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list scrape runs iterate")
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{PlatformBreakdown: make(map[string]int)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN lifecycle != 'closed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN lifecycle = 'closed' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(quality_score), 0)
		 FROM tenders`,
	)
	if err := row.Scan(&stats.TotalTenders, &stats.ActiveTenders, &stats.ClosedTenders, &stats.AvgQualityScore); err != nil {
		return nil, eris.Wrap(err, "sqlite: tender stats")
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'downloaded' THEN 1 ELSE 0 END), 0) FROM attachments`,
	)
	if err := row.Scan(&stats.TotalAttachments, &stats.DownloadedAttachments); err != nil {
		return nil, eris.Wrap(err, "sqlite: attachment stats")
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichment_records WHERE structured IS NOT NULL`)
	if err := row.Scan(&stats.EnrichedTenders); err != nil {
		return nil, eris.Wrap(err, "sqlite: enrichment stats")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM tenders GROUP BY platform`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: platform stats")
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan platform stats")
		}
		stats.PlatformBreakdown[platform] = count
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: platform stats iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTender(row scannable) (*model.Tender, error) {
	var t model.Tender
	var fieldsJSON, lifecycle, stage, failedStage string
	err := row.Scan(&t.Platform, &t.IdentityKey, &fieldsJSON, &t.QualityScore, &lifecycle, &stage,
		&failedStage, &t.FailureReason, &t.RetryCount, &t.MissingStreak,
		&t.CreatedAt, &t.LastSeenAt, &t.LastChangedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &t.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal tender fields")
	}
	t.Lifecycle = model.LifecycleStatus(lifecycle)
	t.Stage = model.Stage(stage)
	t.FailedStage = model.Stage(failedStage)
	return &t, nil
}

func collectTenders(rows *sql.Rows) ([]model.Tender, error) {
	var out []model.Tender
	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan tender")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "iterate tenders")
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
