// Package pipeline drives one reconciliation and enrichment pass over a
// batch of scraped tenders for a single platform.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garescout/tender-cli/internal/detect"
	"github.com/garescout/tender-cli/internal/docs"
	"github.com/garescout/tender-cli/internal/enrich"
	"github.com/garescout/tender-cli/internal/identity"
	"github.com/garescout/tender-cli/internal/model"
	"github.com/garescout/tender-cli/internal/store"
)

// Pipeline reconciles scraped batches against the store and advances each
// tender through enrichment. Platforms own disjoint key namespaces, so
// passes for different platforms may run concurrently on one Pipeline.
type Pipeline struct {
	store      store.Store
	resolver   *identity.Resolver
	detector   *detect.Detector
	classifier *docs.Classifier
	machine    *enrich.StateMachine

	maxConcurrent int
	locks         *keyedMutex
}

// New creates a Pipeline with all dependencies.
func New(
	st store.Store,
	resolver *identity.Resolver,
	detector *detect.Detector,
	classifier *docs.Classifier,
	machine *enrich.StateMachine,
	maxConcurrent int,
) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Pipeline{
		store:         st,
		resolver:      resolver,
		detector:      detector,
		classifier:    classifier,
		machine:       machine,
		maxConcurrent: maxConcurrent,
		locks:         newKeyedMutex(),
	}
}

// counters accumulates run statistics across concurrent items.
type counters struct {
	mu      sync.Mutex
	new     int
	updated int
	closed  int
	errors  int
	seen    map[string]bool
}

func (c *counters) record(key string, outcome detect.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = true
	switch outcome {
	case detect.OutcomeNew:
		c.new++
	case detect.OutcomeUpdated:
		c.updated++
	}
}

func (c *counters) fail() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Run processes one scraped batch for platform and persists a ScrapeRun
// summary. Per-item failures are counted, never propagated; only a store
// fault aborts the pass. Cancellation is honored between tenders: in-flight
// items finish their current stage, the rest are skipped.
func (p *Pipeline) Run(ctx context.Context, platform string, batch []model.RawTender) (*model.ScrapeRun, error) {
	log := zap.L().With(zap.String("platform", platform))
	log.Info("run: starting pass", zap.Int("batch", len(batch)))

	started := time.Now().UTC()
	c := &counters{seen: make(map[string]bool, len(batch))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for _, raw := range batch {
		if ctx.Err() != nil {
			break
		}
		raw := raw
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.processOne(gctx, platform, raw, c); err != nil {
				if isFatal(err) {
					return err
				}
				c.fail()
				log.Warn("run: item failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: store fault")
	}

	closed, err := p.closeMissing(ctx, platform, c.seen)
	if err != nil {
		return nil, err
	}
	c.closed = closed

	run := &model.ScrapeRun{
		Platform:  platform,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		Found:     len(batch),
		New:       c.new,
		Updated:   c.updated,
		Closed:    c.closed,
		Errors:    c.errors,
	}
	if err := p.store.CreateScrapeRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist scrape run")
	}

	log.Info("run: pass complete",
		zap.Int("found", run.Found),
		zap.Int("new", run.New),
		zap.Int("updated", run.Updated),
		zap.Int("closed", run.Closed),
		zap.Int("errors", run.Errors),
		zap.Duration("elapsed", run.EndedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

// processOne reconciles a single scraped tender and advances its stages.
// Item-level problems return ordinary errors; store faults are marked fatal.
func (p *Pipeline) processOne(ctx context.Context, platform string, raw model.RawTender, c *counters) error {
	key, err := p.resolver.Resolve(platform, raw)
	if err != nil {
		return err
	}

	unlock := p.locks.Lock(key)
	defer unlock()

	existing, err := p.store.GetTender(ctx, platform, key)
	if err != nil {
		return fatal(err)
	}

	incoming := model.FieldsFromRaw(raw.Values)
	now := time.Now().UTC()

	if existing != nil && existing.Lifecycle == model.LifecycleClosed {
		// A closed identity reappearing starts over as a fresh Active record.
		existing.Lifecycle = model.LifecycleActive
		existing.Stage = model.StageNew
		existing.FailedStage = ""
		existing.FailureReason = ""
		existing.RetryCount = 0
		existing.MissingStreak = 0
		existing.Fields = incoming
		existing.QualityScore = incoming.QualityScore()
		existing.LastSeenAt = now
		existing.LastChangedAt = now
		if err := p.store.UpdateTender(ctx, existing); err != nil {
			return fatal(err)
		}
		c.record(key, detect.OutcomeNew)
		return p.enrichTender(ctx, platform, key, raw)
	}

	outcome, merged := p.detector.Classify(existing, incoming)
	switch outcome {
	case detect.OutcomeNew:
		tender := &model.Tender{
			IdentityKey:   key,
			Platform:      platform,
			Fields:        merged,
			QualityScore:  merged.QualityScore(),
			Lifecycle:     model.LifecycleActive,
			Stage:         model.StageNew,
			CreatedAt:     now,
			LastSeenAt:    now,
			LastChangedAt: now,
		}
		if err := p.store.CreateTender(ctx, tender); err != nil {
			return fatal(err)
		}
	default:
		existing.Fields = merged
		existing.QualityScore = merged.QualityScore()
		existing.MissingStreak = 0
		existing.LastSeenAt = now
		if outcome == detect.OutcomeUpdated {
			existing.Lifecycle = model.LifecycleUpdated
			existing.LastChangedAt = now
		}
		if err := p.store.UpdateTender(ctx, existing); err != nil {
			return fatal(err)
		}
	}
	c.record(key, outcome)

	return p.enrichTender(ctx, platform, key, raw)
}

// enrichTender registers the item's attachments and runs the stage machine.
func (p *Pipeline) enrichTender(ctx context.Context, platform, key string, raw model.RawTender) error {
	for _, ra := range raw.Attachments {
		category, confidence := p.classifier.Classify(ra.FileName)
		a := &model.Attachment{
			TenderKey:  key,
			SourceURL:  ra.SourceURL,
			FileName:   ra.FileName,
			Category:   category,
			Confidence: confidence,
		}
		if err := p.store.UpsertAttachment(ctx, a); err != nil {
			return fatal(err)
		}
	}

	tender, err := p.store.GetTender(ctx, platform, key)
	if err != nil || tender == nil {
		return fatal(err)
	}
	if err := p.machine.Advance(ctx, tender); err != nil {
		return fatal(err)
	}
	if tender.Failed() {
		// Parked stage failures are data on the tender, but the run summary
		// must still count them.
		return eris.Errorf("pipeline: tender %s failed stage %s: %s",
			key, tender.FailedStage, tender.FailureReason)
	}
	return nil
}

// closeMissing applies the missing-streak policy to open tenders the pass
// did not observe.
func (p *Pipeline) closeMissing(ctx context.Context, platform string, seen map[string]bool) (int, error) {
	open, err := p.store.ListOpenTenders(ctx, platform)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list open tenders")
	}

	now := time.Now().UTC()
	closed := 0
	for i := range open {
		t := &open[i]
		if seen[t.IdentityKey] {
			continue
		}
		unlock := p.locks.Lock(t.IdentityKey)
		wasClosed := p.detector.RecordMissing(t, now)
		err := p.store.UpdateTender(ctx, t)
		unlock()
		if err != nil {
			return closed, eris.Wrapf(err, "pipeline: close tender %s", t.IdentityKey)
		}
		if wasClosed {
			closed++
			zap.L().Info("run: tender closed after missing streak",
				zap.String("platform", platform),
				zap.String("tender", t.IdentityKey),
				zap.Int("streak", t.MissingStreak),
			)
		}
	}
	return closed, nil
}

// EnrichPending re-runs the stage machine over tenders that have not
// reached Complete, up to limit. Used by retry passes without a fresh
// scrape batch.
func (p *Pipeline) EnrichPending(ctx context.Context, platform string, retryCap, limit int) (int, error) {
	tenders, err := p.store.ListPendingEnrichment(ctx, platform, retryCap, limit)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list pending enrichment")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	var mu sync.Mutex
	processed := 0
	for i := range tenders {
		t := tenders[i]
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			unlock := p.locks.Lock(t.IdentityKey)
			defer unlock()
			if err := p.machine.Advance(gctx, &t); err != nil {
				return err
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return processed, eris.Wrap(err, "pipeline: enrich pending")
	}
	return processed, nil
}

// EnrichOne advances a single tender under its identity lock.
func (p *Pipeline) EnrichOne(ctx context.Context, t *model.Tender) error {
	unlock := p.locks.Lock(t.IdentityKey)
	defer unlock()
	return p.machine.Advance(ctx, t)
}

// fatalError marks store faults, the only errors that abort a whole pass.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return &fatalError{err: eris.New("pipeline: missing record")}
	}
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
