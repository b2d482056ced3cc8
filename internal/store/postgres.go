package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/garescout/tender-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_tender": `SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
	                      failed_stage, failure_reason, retry_count, missing_streak,
	                      created_at, last_seen_at, last_changed_at
	               FROM tenders WHERE platform = $1 AND identity_key = $2`,
	"update_attachment_status": `UPDATE attachments SET status = $1, local_path = $2, size_bytes = $3,
	                                    error = $4, processed_at = $5 WHERE id = $6`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	platform        TEXT NOT NULL,
	identity_key    TEXT NOT NULL,
	fields          JSONB NOT NULL,
	quality_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	lifecycle       TEXT NOT NULL DEFAULT 'active',
	stage           TEXT NOT NULL DEFAULT 'new',
	failed_stage    TEXT NOT NULL DEFAULT '',
	failure_reason  TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	missing_streak  INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_changed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, identity_key)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tender_key   TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT 'unclassified',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	local_path   TEXT NOT NULL DEFAULT '',
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	UNIQUE (tender_key, source_url)
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	tender_key   TEXT PRIMARY KEY,
	sections     JSONB,
	raw_text     TEXT NOT NULL DEFAULT '',
	source_docs  JSONB,
	structured   JSONB,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	extracted_at TIMESTAMPTZ,
	enriched_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	platform      TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
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
CREATE INDEX IF NOT EXISTS idx_scrape_runs_platform ON scrape_runs(platform, started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetTender(ctx context.Context, platform, identityKey string) (*model.Tender, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
		        failed_stage, failure_reason, retry_count, missing_streak,
		        created_at, last_seen_at, last_changed_at
		 FROM tenders WHERE platform = $1 AND identity_key = $2`,
		platform, identityKey,
	)
	t, err := scanTenderPg(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get tender %s", identityKey)
	}
	return t, nil
}

func (s *PostgresStore) CreateTender(ctx context.Context, t *model.Tender) error {
	fieldsJSON, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenders (platform, identity_key, fields, quality_score, lifecycle, stage,
		                      failed_stage, failure_reason, retry_count, missing_streak,
		                      created_at, last_seen_at, last_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.Platform, t.IdentityKey, fieldsJSON, t.QualityScore, string(t.Lifecycle), string(t.Stage),
		string(t.FailedStage), t.FailureReason, t.RetryCount, t.MissingStreak,
		t.CreatedAt, t.LastSeenAt, t.LastChangedAt,
	)
	return eris.Wrapf(err, "postgres: insert tender %s", t.IdentityKey)
}

func (s *PostgresStore) UpdateTender(ctx context.Context, t *model.Tender) error {
	fieldsJSON, err := json.Marshal(t.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenders SET fields = $1, quality_score = $2, lifecycle = $3, stage = $4,
		        failed_stage = $5, failure_reason = $6, retry_count = $7, missing_streak = $8,
		        last_seen_at = $9, last_changed_at = $10
		 WHERE platform = $11 AND identity_key = $12`,
		fieldsJSON, t.QualityScore, string(t.Lifecycle), string(t.Stage),
		string(t.FailedStage), t.FailureReason, t.RetryCount, t.MissingStreak,
		t.LastSeenAt, t.LastChangedAt,
		t.Platform, t.IdentityKey,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update tender %s", t.IdentityKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("tender not found: %s", t.IdentityKey)
	}
	return nil
}

func (s *PostgresStore) ListOpenTenders(ctx context.Context, platform string) ([]model.Tender, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
		        failed_stage, failure_reason, retry_count, missing_streak,
		        created_at, last_seen_at, last_changed_at
		 FROM tenders WHERE platform = $1 AND lifecycle != $2
		 ORDER BY last_seen_at`,
		platform, string(model.LifecycleClosed),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open tenders")
	}
	defer rows.Close()
	return collectTendersPg(rows)
}

func (s *PostgresStore) ListPendingEnrichment(ctx context.Context, platform string, retryCap, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT platform, identity_key, fields, quality_score, lifecycle, stage,
	                 failed_stage, failure_reason, retry_count, missing_streak,
	                 created_at, last_seen_at, last_changed_at
	          FROM tenders
	          WHERE lifecycle != $1 AND stage != $2 AND retry_count < $3`
	args := []any{string(model.LifecycleClosed), string(model.StageComplete), retryCap}
	if platform != "" {
		query += ` AND platform = $4 ORDER BY last_seen_at LIMIT $5`
		args = append(args, platform, limit)
	} else {
		query += ` ORDER BY last_seen_at LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending enrichment")
	}
	defer rows.Close()
	return collectTendersPg(rows)
}

func (s *PostgresStore) UpsertAttachment(ctx context.Context, a *model.Attachment) error {
	var existingID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM attachments WHERE tender_key = $1 AND source_url = $2`,
		a.TenderKey, a.SourceURL,
	).Scan(&existingID)
	if err == nil {
		// Already known; keep the recorded download state.
		a.ID = existingID
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(err, "postgres: lookup attachment")
	}

	a.ID = uuid.New().String()
	if a.Status == "" {
		a.Status = model.DownloadPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attachments (id, tender_key, source_url, file_name, category, confidence,
		                          status, local_path, size_bytes, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.TenderKey, a.SourceURL, a.FileName, string(a.Category), a.Confidence,
		string(a.Status), a.LocalPath, a.SizeBytes, a.Error, a.CreatedAt, a.ProcessedAt,
	)
	return eris.Wrapf(err, "postgres: insert attachment %s", a.FileName)
}

func (s *PostgresStore) ListAttachments(ctx context.Context, tenderKey string) ([]model.Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tender_key, source_url, file_name, category, confidence,
		        status, local_path, size_bytes, error, created_at, processed_at
		 FROM attachments WHERE tender_key = $1 ORDER BY created_at`,
		tenderKey,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attachments")
	}
	defer rows.Close()

	var attachments []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var category, status string
		if err := rows.Scan(&a.ID, &a.TenderKey, &a.SourceURL, &a.FileName, &category, &a.Confidence,
			&status, &a.LocalPath, &a.SizeBytes, &a.Error, &a.CreatedAt, &a.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attachment")
		}
		a.Category = model.AttachmentCategory(category)
		a.Status = model.DownloadStatus(status)
		attachments = append(attachments, a)
	}
	return attachments, eris.Wrap(rows.Err(), "postgres: list attachments iterate")
}

func (s *PostgresStore) UpdateAttachmentStatus(ctx context.Context, id string, status model.DownloadStatus, localPath string, sizeBytes int64, errText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attachments SET status = $1, local_path = $2, size_bytes = $3,
		        error = $4, processed_at = $5 WHERE id = $6`,
		string(status), localPath, sizeBytes, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update attachment %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("attachment not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, tenderKey string) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	var sectionsJSON, docsJSON, structuredJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT tender_key, sections, raw_text, source_docs, structured, confidence, extracted_at, enriched_at
		 FROM enrichment_records WHERE tender_key = $1`,
		tenderKey,
	).Scan(&rec.TenderKey, &sectionsJSON, &rec.RawText, &docsJSON, &structuredJSON, &rec.Confidence, &rec.ExtractedAt, &rec.EnrichedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get enrichment %s", tenderKey)
	}

	if len(sectionsJSON) > 0 {
		if err := json.Unmarshal(sectionsJSON, &rec.Sections); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sections")
		}
	}
	if len(docsJSON) > 0 {
		if err := json.Unmarshal(docsJSON, &rec.SourceDocuments); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source docs")
		}
	}
	if len(structuredJSON) > 0 {
		rec.Structured = &model.StructuredFields{}
		if err := json.Unmarshal(structuredJSON, rec.Structured); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal structured")
		}
	}
	return &rec, nil
}

func (s *PostgresStore) PutEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	sectionsJSON, err := json.Marshal(rec.Sections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sections")
	}
	docsJSON, err := json.Marshal(rec.SourceDocuments)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source docs")
	}
	var structuredJSON []byte
	if rec.Structured != nil {
		structuredJSON, err = json.Marshal(rec.Structured)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal structured")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_records (tender_key, sections, raw_text, source_docs, structured, confidence, extracted_at, enriched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tender_key) DO UPDATE SET
		   sections = $2, raw_text = $3, source_docs = $4, structured = $5, confidence = $6,
		   extracted_at = $7, enriched_at = $8`,
		rec.TenderKey, sectionsJSON, rec.RawText, docsJSON, structuredJSON, rec.Confidence, rec.ExtractedAt, rec.EnrichedAt,
	)
	return eris.Wrapf(err, "postgres: put enrichment %s", rec.TenderKey)
}

func (s *PostgresStore) CreateScrapeRun(ctx context.Context, run *model.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, platform, started_at, ended_at, found_count, new_count, updated_count, closed_count, error_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Platform, run.StartedAt, run.EndedAt, run.Found, run.New, run.Updated, run.Closed, run.Errors,
	)
	return eris.Wrap(err, "postgres: insert scrape run")
}

func (s *PostgresStore) ListScrapeRuns(ctx context.Context, platform string, limit int) ([]model.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, platform, started_at, ended_at, found_count, new_count, updated_count, closed_count, error_count
	          FROM scrape_runs`
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = $1 ORDER BY started_at DESC LIMIT $2`
		args = append(args, platform, limit)
	} else {
		query += ` ORDER BY started_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scrape runs")
	}
	defer rows.Close()

	var runs []model.ScrapeRun
	for rows.Next() {
		var r model.ScrapeRun
		if err := rows.Scan(&r.ID, &r.Platform, &r.StartedAt, &r.EndedAt,
			&r.Found, &r.New, &r.Updated, &r.Closed, &r.Errors); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scrape run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list scrape runs iterate")
}

func (s *PostgresStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{PlatformBreakdown: map[string]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE lifecycle != 'closed'),
		        COUNT(*) FILTER (WHERE lifecycle = 'closed'),
		        COALESCE(AVG(quality_score), 0)
		 FROM tenders`,
	).Scan(&stats.TotalTenders, &stats.ActiveTenders, &stats.ClosedTenders, &stats.AvgQualityScore)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tender stats")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'downloaded') FROM attachments`,
	).Scan(&stats.TotalAttachments, &stats.DownloadedAttachments)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: attachment stats")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrichment_records WHERE enriched_at IS NOT NULL`,
	).Scan(&stats.EnrichedTenders)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enrichment stats")
	}

	rows, err := s.pool.Query(ctx, `SELECT platform, COUNT(*) FROM tenders GROUP BY platform`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: platform breakdown")
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var count int
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan platform breakdown")
		}
		stats.PlatformBreakdown[platform] = count
	}
	return stats, eris.Wrap(rows.Err(), "postgres: platform breakdown iterate")
}

func scanTenderPg(row pgx.Row) (*model.Tender, error) {
	var t model.Tender
	var fieldsJSON []byte
	var lifecycle, stage, failedStage string

	err := row.Scan(&t.Platform, &t.IdentityKey, &fieldsJSON, &t.QualityScore, &lifecycle, &stage,
		&failedStage, &t.FailureReason, &t.RetryCount, &t.MissingStreak,
		&t.CreatedAt, &t.LastSeenAt, &t.LastChangedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &t.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fields")
	}
	t.Lifecycle = model.LifecycleStatus(lifecycle)
	t.Stage = model.Stage(stage)
	t.FailedStage = model.Stage(failedStage)
	return &t, nil
}

func collectTendersPg(rows pgx.Rows) ([]model.Tender, error) {
	var tenders []model.Tender
	for rows.Next() {
		t, err := scanTenderPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tender")
		}
		tenders = append(tenders, *t)
	}
	return tenders, eris.Wrap(rows.Err(), "postgres: iterate tenders")
}
