package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garescout/tender-cli/internal/docs"
	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/store"
	"github.com/garescout/tender-cli/internal/textextract"
)

// StateMachine advances one tender through the enrichment stages. Stage
// failures are recorded on the tender and re-entered on a later pass, up to
// the retry cap; only store faults propagate as errors.
type StateMachine struct {
	store    store.Store
	fetcher  *docs.Fetcher
	analyzer *textextract.Analyzer
	pdf      *textextract.PdfToText
	xlsx     *textextract.XlsxExtractor
	enricher Enricher

	retryCap        int
	downloadWorkers int
}

// NewStateMachine wires the stage collaborators together.
func NewStateMachine(
	st store.Store,
	fetcher *docs.Fetcher,
	analyzer *textextract.Analyzer,
	pdf *textextract.PdfToText,
	xlsx *textextract.XlsxExtractor,
	enricher Enricher,
	retryCap, downloadWorkers int,
) *StateMachine {
	if retryCap <= 0 {
		retryCap = 3
	}
	if downloadWorkers <= 0 {
		downloadWorkers = 4
	}
	return &StateMachine{
		store:           st,
		fetcher:         fetcher,
		analyzer:        analyzer,
		pdf:             pdf,
		xlsx:            xlsx,
		enricher:        enricher,
		retryCap:        retryCap,
		downloadWorkers: downloadWorkers,
	}
}

// Advance runs the tender forward until Complete, a stage failure, or
// context cancellation. Completed stages are skipped, so re-running is
// cheap and safe. The returned error is non-nil only for store faults.
func (m *StateMachine) Advance(ctx context.Context, t *model.Tender) error {
	if t.Lifecycle == model.LifecycleClosed || t.Stage == model.StageComplete {
		return nil
	}

	if t.Failed() {
		if t.RetryCount >= m.retryCap {
			zap.L().Info("retry cap reached, leaving tender failed",
				zap.String("tender", t.IdentityKey),
				zap.String("failed_stage", string(t.FailedStage)),
				zap.Int("retries", t.RetryCount),
			)
			return nil
		}
		t.RetryCount++
		t.FailedStage = ""
		t.FailureReason = ""
		zap.L().Info("retrying failed tender",
			zap.String("tender", t.IdentityKey),
			zap.String("stage", string(t.Stage)),
			zap.Int("attempt", t.RetryCount),
		)
	}

	for t.Stage != model.StageComplete {
		if err := ctx.Err(); err != nil {
			return m.persist(ctx, t)
		}

		var stageErr error
		switch t.Stage {
		case model.StageNew:
			stageErr = m.runAttachments(ctx, t)
		case model.StageAttachmentsReady:
			stageErr = m.runTextExtraction(ctx, t)
		case model.StageTextExtracted:
			stageErr = m.runAiEnrichment(ctx, t)
		case model.StageAiEnriched:
			// Unconditional once enriched fields are present.
		default:
			return eris.Errorf("enrich: unknown stage %q for %s", t.Stage, t.IdentityKey)
		}

		if stageErr != nil {
			if isStoreFault(stageErr) {
				return stageErr
			}
			t.FailedStage = t.Stage.Next()
			t.FailureReason = stageErr.Error()
			zap.L().Warn("stage failed",
				zap.String("tender", t.IdentityKey),
				zap.String("failed_stage", string(t.FailedStage)),
				zap.Error(stageErr),
			)
			return m.persist(ctx, t)
		}

		t.Stage = t.Stage.Next()
	}

	return m.persist(ctx, t)
}

// runAttachments drives every non-terminal attachment to a terminal
// download outcome. Download failures are data, never stage failures.
func (m *StateMachine) runAttachments(ctx context.Context, t *model.Tender) error {
	attachments, err := m.store.ListAttachments(ctx, t.IdentityKey)
	if err != nil {
		return storeFault(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.downloadWorkers)

	type outcome struct {
		id  string
		res docs.Result
	}
	results := make([]outcome, 0, len(attachments))
	resCh := make(chan outcome, len(attachments))

	for _, a := range attachments {
		if a.Status.Terminal() {
			continue
		}
		a := a
		g.Go(func() error {
			resCh <- outcome{id: a.ID, res: m.fetcher.Fetch(gctx, t.IdentityKey, a)}
			return nil
		})
	}
	_ = g.Wait()
	close(resCh)
	for o := range resCh {
		results = append(results, o)
	}

	for _, o := range results {
		// On interruption keep undecided attachments pending for the next pass.
		if ctx.Err() != nil && o.res.Status == model.DownloadFailed {
			continue
		}
		err := m.store.UpdateAttachmentStatus(context.WithoutCancel(ctx), o.id, o.res.Status, o.res.LocalPath, o.res.SizeBytes, o.res.Error)
		if err != nil {
			return storeFault(err)
		}
	}

	if ctx.Err() != nil {
		// Interrupted mid-download: leave the stage for the next pass.
		return eris.Wrap(ctx.Err(), "enrich: attachment downloads interrupted")
	}
	return nil
}

// runTextExtraction analyzes every downloaded document and stores the
// merged sections. A tender with nothing extractable still advances with
// empty sections.
func (m *StateMachine) runTextExtraction(ctx context.Context, t *model.Tender) error {
	attachments, err := m.store.ListAttachments(ctx, t.IdentityKey)
	if err != nil {
		return storeFault(err)
	}

	var analyses []textextract.DocumentAnalysis
	for _, a := range attachments {
		if a.Status != model.DownloadDownloaded || a.LocalPath == "" {
			continue
		}
		extractor := textextract.ForFile(m.pdf, m.xlsx, a.LocalPath)
		if extractor == nil {
			continue
		}

		text, err := extractor.ExtractText(ctx, a.LocalPath)
		if err != nil {
			// A single unreadable document is skipped, not fatal.
			zap.L().Warn("text extraction failed for document",
				zap.String("tender", t.IdentityKey),
				zap.String("file", a.FileName),
				zap.Error(err),
			)
			continue
		}
		analyses = append(analyses, m.analyzer.Analyze(a.FileName, text))
	}

	merged := m.analyzer.Merge(analyses)

	rec, err := m.loadRecord(ctx, t.IdentityKey)
	if err != nil {
		return storeFault(err)
	}
	now := time.Now().UTC()
	rec.Sections = merged.Sections
	rec.SourceDocuments = merged.Sources
	rec.ExtractedAt = &now
	rec.RawText = merged.RawText

	if err := m.store.PutEnrichment(ctx, rec); err != nil {
		return storeFault(err)
	}
	return nil
}

// runAiEnrichment calls the model at most once per pass. With no text at
// all the call is skipped and Not Found placeholders are stored.
func (m *StateMachine) runAiEnrichment(ctx context.Context, t *model.Tender) error {
	rec, err := m.loadRecord(ctx, t.IdentityKey)
	if err != nil {
		return storeFault(err)
	}

	merged := textextract.Merged{
		Sections: rec.Sections,
		RawText:  rec.RawText,
		Sources:  rec.SourceDocuments,
	}

	now := time.Now().UTC()
	if len(merged.Sections) == 0 && merged.RawText == "" {
		rec.Structured = EmptyStructured()
		rec.Confidence = 0
		rec.EnrichedAt = &now
		if err := m.store.PutEnrichment(ctx, rec); err != nil {
			return storeFault(err)
		}
		return nil
	}

	fields, confidence, err := m.enricher.Enrich(ctx, merged)
	if err != nil {
		return err
	}

	rec.Structured = fields
	rec.Confidence = confidence
	rec.EnrichedAt = &now
	if err := m.store.PutEnrichment(ctx, rec); err != nil {
		return storeFault(err)
	}
	return nil
}

func (m *StateMachine) loadRecord(ctx context.Context, tenderKey string) (*model.EnrichmentRecord, error) {
	rec, err := m.store.GetEnrichment(ctx, tenderKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &model.EnrichmentRecord{TenderKey: tenderKey}
	}
	return rec, nil
}

// persist writes the tender's stage bookkeeping. LastSeenAt belongs to the
// reconciliation pass, so enrichment never touches it.
func (m *StateMachine) persist(ctx context.Context, t *model.Tender) error {
	if err := m.store.UpdateTender(context.WithoutCancel(ctx), t); err != nil {
		return eris.Wrapf(err, "enrich: persist tender %s", t.IdentityKey)
	}
	return nil
}

// storeFaultError marks persistence failures, the only errors that abort a
// batch instead of parking the tender in a failed stage.
type storeFaultError struct{ err error }

func (e *storeFaultError) Error() string { return e.err.Error() }
func (e *storeFaultError) Unwrap() error { return e.err }

func storeFault(err error) error {
	return &storeFaultError{err: err}
}

func isStoreFault(err error) bool {
	var sf *storeFaultError
	return errors.As(err, &sf)
}
