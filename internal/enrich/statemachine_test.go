package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garescout/tender-cli/internal/config"
	"github.com/garescout/tender-cli/internal/docs"
	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/store"
	"github.com/garescout/tender-cli/internal/textextract"
)

type stubEnricher struct {
	calls  int
	fields *model.StructuredFields
	conf   float64
	err    error
}

func (s *stubEnricher) Enrich(ctx context.Context, merged textextract.Merged) (*model.StructuredFields, float64, error) {
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.fields, s.conf, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestMachine(t *testing.T, st store.Store, enricher Enricher, retryCap int) *StateMachine {
	t.Helper()
	fetcher := docs.NewFetcher(config.DocumentsConfig{
		DownloadDir:       t.TempDir(),
		MaxFileSizeMB:     1,
		AllowedExtensions: []string{"pdf", "xlsx"},
		DownloadTimeout:   5,
	})
	analyzer := textextract.NewAnalyzer(config.ExtractConfig{MinSectionLength: 10}, docs.DefaultKeywords().Sections)
	return NewStateMachine(st, fetcher, analyzer,
		textextract.NewPdfToText("/nonexistent/pdftotext", time.Second),
		textextract.NewXlsxExtractor(), enricher, retryCap, 2)
}

func seedTender(t *testing.T, st store.Store, key string, stage model.Stage) *model.Tender {
	t.Helper()
	now := time.Now().UTC()
	tender := &model.Tender{
		IdentityKey:   key,
		Platform:      "mef",
		Fields:        model.FieldSet{Title: "Fornitura servizi"},
		Lifecycle:     model.LifecycleActive,
		Stage:         stage,
		CreatedAt:     now,
		LastSeenAt:    now,
		LastChangedAt: now,
	}
	require.NoError(t, st.CreateTender(context.Background(), tender))
	return tender
}

func TestAdvanceNoAttachmentsRunsToComplete(t *testing.T) {
	st := newTestStore(t)
	enricher := &stubEnricher{fields: EmptyStructured()}
	m := newTestMachine(t, st, enricher, 3)

	tender := seedTender(t, st, "cig:A000000001", model.StageNew)
	require.NoError(t, m.Advance(context.Background(), tender))

	assert.Equal(t, model.StageComplete, tender.Stage)
	assert.False(t, tender.Failed())
	// No extractable text means the model call is skipped entirely.
	assert.Zero(t, enricher.calls)

	rec, err := st.GetEnrichment(context.Background(), tender.IdentityKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Structured)
	assert.Equal(t, "Not Found", rec.Structured.RequiredQualifications)
	assert.NotNil(t, rec.EnrichedAt)
}

func TestAdvanceMixedAttachmentOutcomes(t *testing.T) {
	big := strings.Repeat("x", 2*1024*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "huge") {
			w.Header().Set("Transfer-Encoding", "chunked")
			_, _ = w.Write([]byte(big))
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4 small"))
	}))
	defer srv.Close()

	st := newTestStore(t)
	m := newTestMachine(t, st, &stubEnricher{fields: EmptyStructured()}, 3)
	tender := seedTender(t, st, "cig:A000000002", model.StageNew)

	ctx := context.Background()
	for _, name := range []string{"huge.pdf", "bando.pdf"} {
		require.NoError(t, st.UpsertAttachment(ctx, &model.Attachment{
			TenderKey: tender.IdentityKey,
			SourceURL: srv.URL + "/" + name,
			FileName:  name,
		}))
	}

	require.NoError(t, m.Advance(ctx, tender))
	assert.Equal(t, model.StageComplete, tender.Stage)

	attachments, err := st.ListAttachments(ctx, tender.IdentityKey)
	require.NoError(t, err)
	require.Len(t, attachments, 2)

	byName := map[string]model.Attachment{}
	for _, a := range attachments {
		byName[a.FileName] = a
	}
	assert.Equal(t, model.DownloadSkippedTooLarge, byName["huge.pdf"].Status)
	assert.Empty(t, byName["huge.pdf"].LocalPath)
	assert.Equal(t, model.DownloadDownloaded, byName["bando.pdf"].Status)
	assert.NotEmpty(t, byName["bando.pdf"].LocalPath)
}

func TestAdvanceEnricherFailureParksTender(t *testing.T) {
	st := newTestStore(t)
	enricher := &stubEnricher{err: errors.New("quota exceeded")}
	m := newTestMachine(t, st, enricher, 3)

	ctx := context.Background()
	tender := seedTender(t, st, "cig:A000000003", model.StageTextExtracted)
	require.NoError(t, st.PutEnrichment(ctx, &model.EnrichmentRecord{
		TenderKey: tender.IdentityKey,
		Sections:  map[string]string{model.SectionQualifications: "requisiti iso"},
	}))

	require.NoError(t, m.Advance(ctx, tender))

	assert.Equal(t, model.StageTextExtracted, tender.Stage)
	assert.Equal(t, model.StageAiEnriched, tender.FailedStage)
	assert.Contains(t, tender.FailureReason, "quota exceeded")

	// A tender parked in a failed stage never acquires enriched output.
	rec, err := st.GetEnrichment(ctx, tender.IdentityKey)
	require.NoError(t, err)
	assert.Nil(t, rec.Structured)
	assert.Nil(t, rec.EnrichedAt)
}

func TestAdvanceRetriesUpToCap(t *testing.T) {
	st := newTestStore(t)
	enricher := &stubEnricher{err: errors.New("still down")}
	m := newTestMachine(t, st, enricher, 2)

	ctx := context.Background()
	tender := seedTender(t, st, "cig:A000000004", model.StageTextExtracted)
	require.NoError(t, st.PutEnrichment(ctx, &model.EnrichmentRecord{
		TenderKey: tender.IdentityKey,
		Sections:  map[string]string{model.SectionQualifications: "requisiti iso"},
	}))

	// First pass fails, the next two retry, then the cap holds.
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Advance(ctx, tender))
	}
	assert.Equal(t, 3, enricher.calls)
	assert.Equal(t, 2, tender.RetryCount)
	assert.True(t, tender.Failed())
}

func TestAdvanceRecoversAfterRetry(t *testing.T) {
	st := newTestStore(t)
	enricher := &stubEnricher{err: errors.New("transient outage")}
	m := newTestMachine(t, st, enricher, 3)

	ctx := context.Background()
	tender := seedTender(t, st, "cig:A000000005", model.StageTextExtracted)
	require.NoError(t, st.PutEnrichment(ctx, &model.EnrichmentRecord{
		TenderKey: tender.IdentityKey,
		Sections:  map[string]string{model.SectionQualifications: "requisiti iso"},
	}))

	require.NoError(t, m.Advance(ctx, tender))
	require.True(t, tender.Failed())

	enricher.err = nil
	enricher.fields = &model.StructuredFields{RequiredQualifications: "ISO 9001"}
	enricher.conf = 0.9

	require.NoError(t, m.Advance(ctx, tender))
	assert.Equal(t, model.StageComplete, tender.Stage)
	assert.False(t, tender.Failed())

	rec, err := st.GetEnrichment(ctx, tender.IdentityKey)
	require.NoError(t, err)
	require.NotNil(t, rec.Structured)
	assert.Equal(t, "ISO 9001", rec.Structured.RequiredQualifications)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
}

func TestAdvanceLeavesLastSeenUntouched(t *testing.T) {
	st := newTestStore(t)
	m := newTestMachine(t, st, &stubEnricher{fields: EmptyStructured()}, 3)

	ctx := context.Background()
	tender := seedTender(t, st, "cig:A000000008", model.StageNew)
	seen := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	tender.LastSeenAt = seen
	require.NoError(t, st.UpdateTender(ctx, tender))

	// Only a scrape sighting may move last_seen_at, never an enrichment pass.
	require.NoError(t, m.Advance(ctx, tender))
	assert.Equal(t, model.StageComplete, tender.Stage)

	got, err := st.GetTender(ctx, "mef", tender.IdentityKey)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(seen))
}

func TestAdvanceSkipsClosedAndComplete(t *testing.T) {
	st := newTestStore(t)
	enricher := &stubEnricher{}
	m := newTestMachine(t, st, enricher, 3)

	closed := seedTender(t, st, "cig:A000000006", model.StageNew)
	closed.Lifecycle = model.LifecycleClosed
	require.NoError(t, m.Advance(context.Background(), closed))
	assert.Equal(t, model.StageNew, closed.Stage)

	done := seedTender(t, st, "cig:A000000007", model.StageComplete)
	require.NoError(t, m.Advance(context.Background(), done))
	assert.Zero(t, enricher.calls)
}
