// Package pipeline drives seed URLs through the fetch engine and hands each
// fetched page to the downstream collaborators: contact extraction, lead
// persistence, snapshot archiving, and lead event publishing.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lead-gen-crawler/internal/archive"
	"github.com/JakeFAU/lead-gen-crawler/internal/clock/system"
	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
	"github.com/JakeFAU/lead-gen-crawler/internal/extract"
	"github.com/JakeFAU/lead-gen-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/lead-gen-crawler/internal/id/uuid"
	"github.com/JakeFAU/lead-gen-crawler/internal/ingest"
	"github.com/JakeFAU/lead-gen-crawler/internal/leadstore"
	"github.com/JakeFAU/lead-gen-crawler/internal/progress"
	"github.com/JakeFAU/lead-gen-crawler/internal/publisher"
)

// defaultWorkers bounds seed concurrency when Config.Workers is unset.
const defaultWorkers = 5

// snapshotContentType is the content type recorded with archived pages.
const snapshotContentType = "text/html; charset=utf-8"

// Config controls pipeline execution.
type Config struct {
	// Workers bounds how many seeds are processed concurrently.
	Workers int `mapstructure:"workers"`
	// AutoRender refetches a successful light result through the browser
	// path when the body looks like an unrendered application shell.
	AutoRender bool `mapstructure:"auto_render"`
	// Topic names the destination for published lead events. Empty selects
	// the publisher's default.
	Topic string `mapstructure:"topic"`
}

// Engine is the fetch surface the pipeline drives. *crawler.Crawler
// satisfies it.
type Engine interface {
	Fetch(ctx context.Context, rawURL string, rendered bool) crawler.FetchResult
	CanRender() bool
}

// IDSource produces string lead IDs and binary run IDs.
type IDSource interface {
	NewID() (string, error)
	NewRawID() (uuid.UUID, error)
}

// Summary aggregates the outcome of one run. A seed lands in exactly one of
// Fetched, Failed, or Denied; CaptchaFlags and Leads count alongside.
type Summary struct {
	Fetched      int64
	Failed       int64
	Denied       int64
	CaptchaFlags int64
	Leads        int64
}

func (s *Summary) add(o seedOutcome) {
	if o.fetched {
		s.Fetched++
	}
	if o.failed {
		s.Failed++
	}
	if o.denied {
		s.Denied++
	}
	if o.captcha {
		s.CaptchaFlags++
	}
	s.Leads += o.leads
}

// seedOutcome is how one processed seed should be counted.
type seedOutcome struct {
	fetched bool
	failed  bool
	denied  bool
	captcha bool
	leads   int64
}

// Options bundles the pipeline's collaborators. Engine, Extractor, and Leads
// are required; everything else left nil gets a working default (no-op
// archive and publisher, UUID and SHA-256 kernels, the system clock).
type Options struct {
	Config    Config
	Logger    *zap.Logger
	Engine    Engine
	Extractor *extract.Extractor
	Leads     leadstore.Store
	Blobs     archive.BlobStore
	Publisher publisher.Publisher
	Progress  progress.Emitter
	IDs       IDSource
	Hasher    crawler.Hasher
	Clock     crawler.Clock
}

// Pipeline fans seeds out to a bounded worker group and aggregates outcomes
// into a Summary. One seed's failure never aborts its siblings; only context
// cancellation stops a run early.
type Pipeline struct {
	cfg       Config
	workers   int
	logger    *zap.Logger
	engine    Engine
	extractor *extract.Extractor
	leads     leadstore.Store
	blobs     archive.BlobStore
	publisher publisher.Publisher
	progress  progress.Emitter
	ids       IDSource
	hasher    crawler.Hasher
	clock     crawler.Clock
}

// New builds a Pipeline from opts.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("pipeline: an Engine is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("pipeline: an Extractor is required")
	}
	if opts.Leads == nil {
		return nil, errors.New("pipeline: a lead Store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	blobs := opts.Blobs
	if blobs == nil {
		blobs = archive.NewNoopStore()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = publisher.NewNoopPublisher()
	}
	emitter := opts.Progress
	if emitter == nil {
		emitter = nopEmitter{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = idgen.New()
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	workers := opts.Config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		cfg:       opts.Config,
		workers:   workers,
		logger:    logger.Named("pipeline"),
		engine:    opts.Engine,
		extractor: opts.Extractor,
		leads:     opts.Leads,
		blobs:     blobs,
		publisher: pub,
		progress:  emitter,
		ids:       ids,
		hasher:    hasher,
		clock:     clock,
	}, nil
}

// Run processes every seed and blocks until all workers finish. The returned
// Summary covers whatever completed, including partial runs; the error is
// non-nil only when the context ended the run early.
func (p *Pipeline) Run(ctx context.Context, seeds []ingest.Seed) (Summary, error) {
	runUUID, err := p.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("assign run id: %w", err)
	}
	runID := progress.UUIDToBytes(runUUID)
	start := p.clock.Now()
	p.progress.Emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart})
	p.logger.Info("run started",
		zap.String("run_id", runUUID.String()),
		zap.Int("seeds", len(seeds)),
		zap.Int("workers", p.workers),
	)

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, seed := range seeds {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			out := p.processSeed(gctx, runID, seed)
			mu.Lock()
			sum.add(out)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	dur := p.clock.Now().Sub(start)
	if err != nil {
		p.progress.Emit(progress.Event{
			RunID: runID,
			TS:    p.clock.Now(),
			Stage: progress.StageRunError,
			Dur:   dur,
			Note:  err.Error(),
		})
		p.logger.Warn("run aborted",
			zap.String("run_id", runUUID.String()),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
		return sum, fmt.Errorf("pipeline run: %w", err)
	}
	p.progress.Emit(progress.Event{
		RunID: runID,
		TS:    p.clock.Now(),
		Stage: progress.StageRunDone,
		Dur:   dur,
	})
	p.logger.Info("run complete",
		zap.String("run_id", runUUID.String()),
		zap.Int64("fetched", sum.Fetched),
		zap.Int64("failed", sum.Failed),
		zap.Int64("denied", sum.Denied),
		zap.Int64("captcha_flags", sum.CaptchaFlags),
		zap.Int64("leads", sum.Leads),
		zap.Duration("duration", dur),
	)
	return sum, nil
}

// processSeed runs one seed end to end and reports how to count it. Progress
// events are skipped for seeds whose URL does not parse; those have no site
// to report against and the engine already records them as invalid input.
func (p *Pipeline) processSeed(ctx context.Context, runID [16]byte, seed ingest.Seed) seedOutcome {
	var out seedOutcome
	site := siteOf(seed.URL)
	start := p.clock.Now()
	if site != "" {
		p.progress.Emit(progress.Event{
			RunID:    runID,
			TS:       start,
			Stage:    progress.StageFetchStart,
			Site:     site,
			URL:      seed.URL,
			Rendered: seed.Rendered,
		})
	}

	result := p.engine.Fetch(ctx, seed.URL, seed.Rendered)
	result = p.maybeEscalate(ctx, seed, result)

	// A 403 with zero attempts never left the process: robots.txt or the
	// blocklist refused the target.
	if result.StatusCode == crawler.StatusPolicyDenied && result.Attempts == 0 {
		out.denied = true
		if site != "" {
			p.progress.Emit(progress.Event{
				RunID: runID,
				TS:    p.clock.Now(),
				Stage: progress.StageFetchDenied,
				Site:  site,
				URL:   seed.URL,
			})
		}
		return out
	}

	if result.CaptchaSuspected {
		out.captcha = true
		if site != "" {
			p.progress.Emit(progress.Event{
				RunID:    runID,
				TS:       p.clock.Now(),
				Stage:    progress.StageCaptchaFlag,
				Site:     site,
				URL:      seed.URL,
				Rendered: result.Rendered,
			})
		}
	}

	if result.OK() {
		leads, saved := p.capture(ctx, seed, site, result)
		if saved {
			out.fetched = true
			out.leads = leads
		} else {
			out.failed = true
		}
	} else {
		out.failed = true
	}

	if site != "" {
		p.progress.Emit(progress.Event{
			RunID:       runID,
			TS:          p.clock.Now(),
			Stage:       progress.StageFetchDone,
			Site:        site,
			URL:         seed.URL,
			Rendered:    result.Rendered,
			Bytes:       int64(len(result.Body)),
			Leads:       out.leads,
			StatusClass: progress.ClassifyStatus(result.StatusCode),
			Dur:         p.clock.Now().Sub(start),
		})
	}
	return out
}

// maybeEscalate refetches a successful light result through the browser path
// when the body looks like an unrendered application shell. The light result
// stands when escalation is off, unavailable, or fails.
func (p *Pipeline) maybeEscalate(ctx context.Context, seed ingest.Seed, result crawler.FetchResult) crawler.FetchResult {
	if !p.cfg.AutoRender || seed.Rendered || result.Rendered {
		return result
	}
	if !result.OK() || !p.engine.CanRender() || !crawler.NeedsRendering(result.Body) {
		return result
	}
	rendered := p.engine.Fetch(ctx, seed.URL, true)
	if !rendered.OK() {
		p.logger.Warn("render escalation failed",
			zap.String("url", seed.URL),
			zap.Int("status", rendered.StatusCode),
		)
		return result
	}
	p.logger.Info("render escalation applied", zap.String("url", seed.URL))
	return rendered
}

// capture extracts, persists, archives, and publishes one fetched page.
// Snapshot and publish failures degrade to warnings; losing the lead row is
// the only outcome that counts the seed as failed.
func (p *Pipeline) capture(ctx context.Context, seed ingest.Seed, site string, result crawler.FetchResult) (leads int64, saved bool) {
	contact, err := p.extractor.Extract(result.Body, result.FinalURL)
	if err != nil {
		p.logger.Warn("extraction failed", zap.String("url", seed.URL), zap.Error(err))
	}

	hash := ""
	if h, err := p.hasher.Hash(result.Body); err != nil {
		p.logger.Warn("hash body failed", zap.String("url", seed.URL), zap.Error(err))
	} else {
		hash = h
	}

	uri := ""
	key := archive.SnapshotKey(site, seed.URL)
	if u, err := p.blobs.Put(ctx, key, snapshotContentType, bytes.NewReader(result.Body)); err != nil {
		p.logger.Warn("archive snapshot failed",
			zap.String("url", seed.URL),
			zap.String("key", key),
			zap.Error(err),
		)
	} else {
		uri = u
	}

	id, err := p.ids.NewID()
	if err != nil {
		p.logger.Error("assign lead id failed", zap.String("url", seed.URL), zap.Error(err))
		return 0, false
	}
	lead := leadstore.Lead{
		ID:          id,
		URL:         seed.URL,
		FinalURL:    result.FinalURL,
		Domain:      site,
		Company:     contact.Company,
		Emails:      contact.Emails,
		Phones:      contact.Phones,
		Social:      contact.Social,
		StatusCode:  result.StatusCode,
		CaptchaFlag: result.CaptchaSuspected,
		ContentHash: hash,
		SnapshotURI: uri,
		FetchedAt:   p.clock.Now(),
	}
	if err := p.leads.Save(ctx, lead); err != nil {
		p.logger.Error("save lead failed", zap.String("url", seed.URL), zap.Error(err))
		return 0, false
	}

	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, publisher.LeadEvent{
		LeadID:     id,
		URL:        seed.URL,
		StatusCode: result.StatusCode,
	}); err != nil {
		p.logger.Warn("publish lead event failed", zap.String("url", seed.URL), zap.Error(err))
	}

	if !contact.Empty() {
		return 1, true
	}
	return 0, true
}

// siteOf derives the progress site label for a seed, or "" when the URL does
// not parse.
func siteOf(rawURL string) string {
	target, err := crawler.ParseTarget(rawURL)
	if err != nil {
		return ""
	}
	return crawler.DomainOf(target)
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}
