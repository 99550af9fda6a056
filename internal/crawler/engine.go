package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/clinic-crawler/internal/clock/system"
	"github.com/JakeFAU/clinic-crawler/internal/logging"
	"github.com/JakeFAU/clinic-crawler/internal/progress"
)

// stateDuplicate marks clinic links whose page was already fetched under an
// earlier region, or that a region lists twice.
const stateDuplicate = "duplicate"

// Engine walks root → regions → clinics and streams records to a sink.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	links     *LinkExtractor
	fields    *FieldExtractor
	sink      RecordSink
	snapshots SnapshotStore
	progress  progress.Emitter
	runID     uuid.UUID
	stamp     func() time.Time
	logger    *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithSnapshots archives every successfully fetched page body.
func WithSnapshots(store SnapshotStore) EngineOption {
	return func(e *Engine) {
		e.snapshots = store
	}
}

// WithProgress routes crawl milestones to emitter.
func WithProgress(emitter progress.Emitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.progress = emitter
		}
	}
}

// WithRunID tags progress events with id.
func WithRunID(id uuid.UUID) EngineOption {
	return func(e *Engine) {
		e.runID = id
	}
}

// NewEngine wires the crawl pipeline.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	links *LinkExtractor,
	fields *FieldExtractor,
	sink RecordSink,
	logger *zap.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		links:    links,
		fields:   fields,
		sink:     sink,
		progress: progress.Discard,
		runID:    uuid.New(),
		stamp:    system.New().Stamp,
		logger:   logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is owned by the orchestrating goroutine.
type runState struct {
	summary Summary
	records []ClinicRecord
	seen    visitTracker
}

type clinicResult struct {
	record   ClinicRecord
	attempts int
	visited  bool
	fetched  bool
	err      error
}

// Run performs one crawl. Leaf failures are counted and skipped; Run only
// fails when the root is unavailable, the context ends, or the sink fails.
// The returned Result is populated in every case.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	run := &runState{records: []ClinicRecord{}, seen: newConcurrentVisitTracker()}
	e.emit(progress.Event{Stage: progress.StageCrawlStart, Tier: progress.TierRoot, URL: e.cfg.RootURL})
	e.logger.Info("crawl started",
		zap.String("run_id", e.runID.String()),
		zap.String("root", e.cfg.RootURL),
		zap.Int("clinic_concurrency", e.cfg.ClinicConcurrency),
	)

	err := e.crawl(ctx, run)
	run.summary.Duration = time.Since(start)
	result := Result{Records: run.records, Summary: run.summary}
	fields := summaryFields(run.summary)

	if err != nil {
		e.emit(progress.Event{
			Stage:   progress.StageCrawlError,
			Records: run.summary.RecordsProduced,
			Dur:     run.summary.Duration,
			Note:    err.Error(),
		})
		e.logger.Error("crawl failed", append(fields, zap.Error(err))...)
		return result, err
	}
	e.emit(progress.Event{
		Stage:   progress.StageCrawlDone,
		Records: run.summary.RecordsProduced,
		Dur:     run.summary.Duration,
	})
	e.logger.Info("crawl finished", fields...)
	return result, nil
}

func (e *Engine) crawl(ctx context.Context, run *runState) error {
	root := e.fetch(ctx, progress.TierRoot, e.cfg.RootURL, "")
	run.summary.Requests += int64(root.Attempts)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	if !root.OK() {
		return fmt.Errorf("%w: %s: %w", ErrRootUnavailable, e.cfg.RootURL, root.Reason)
	}

	regions, err := e.links.Extract(root.Body, e.cfg.RootURL, ScopeRoot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	if len(regions) == 0 {
		e.logger.Warn("root page lists no regions", zap.String("url", e.cfg.RootURL))
	}

	for _, region := range regions {
		e.emitQueued(progress.TierRegion, region)
	}
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		if err := e.crawlRegion(ctx, run, Region{Name: region.Label, URL: region.URL}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl interrupted: %w", err)
	}
	return nil
}

func (e *Engine) crawlRegion(ctx context.Context, run *runState, region Region) error {
	out := e.fetch(ctx, progress.TierRegion, region.URL, region.Name)
	run.summary.Requests += int64(out.Attempts)
	run.summary.RegionsVisited++
	if !out.OK() {
		e.skipRegion(run, region, out.Reason)
		return nil
	}

	links, err := e.links.Extract(out.Body, region.URL, ScopeRegion)
	if err != nil {
		e.skipRegion(run, region, err)
		return nil
	}
	if len(links) == 0 {
		e.logger.Info("region lists no clinics", zap.String("region", region.Name), zap.String("url", region.URL))
	}

	// A clinic that failed to fetch under an earlier region is tried again
	// here; only fetched pages count as seen.
	todo := make([]ClinicLink, 0, len(links))
	queued := make(map[string]struct{}, len(links))
	for _, link := range links {
		_, again := queued[link.URL]
		if again || run.seen.Seen(link.URL) {
			run.summary.ClinicsDuplicate++
			e.emit(progress.Event{
				Stage: progress.StageClinicDone,
				Tier:  progress.TierClinic,
				URL:   link.URL,
				Label: link.Label,
				State: stateDuplicate,
			})
			continue
		}
		queued[link.URL] = struct{}{}
		todo = append(todo, ClinicLink{Region: region.Name, Label: link.Label, URL: link.URL})
		e.emitQueued(progress.TierClinic, link)
	}

	written := 0
	for i, res := range e.crawlClinics(ctx, todo) {
		if !res.visited {
			continue
		}
		run.summary.ClinicsVisited++
		run.summary.Requests += int64(res.attempts)
		if res.fetched {
			run.seen.Mark(todo[i].URL)
		}
		if res.err != nil {
			run.summary.ClinicsSkipped++
			continue
		}
		if err := e.sink.Write(res.record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		run.records = append(run.records, res.record)
		run.summary.RecordsProduced++
		written++
	}

	e.emit(progress.Event{
		Stage:   progress.StageRegionDone,
		Tier:    progress.TierRegion,
		URL:     region.URL,
		Label:   region.Name,
		State:   string(NodeParsed),
		Records: written,
	})
	e.logger.Info("region crawled",
		zap.String("region", region.Name),
		zap.Int("clinics", len(todo)),
		zap.Int("records", written),
	)
	return nil
}

func (e *Engine) skipRegion(run *runState, region Region, reason error) {
	run.summary.RegionsSkipped++
	e.logger.Warn("skipping region",
		zap.String("region", region.Name),
		zap.String("url", region.URL),
		zap.Error(reason),
	)
	e.emit(progress.Event{
		Stage: progress.StageRegionDone,
		Tier:  progress.TierRegion,
		URL:   region.URL,
		Label: region.Name,
		State: string(NodeSkipped),
		Note:  errorText(reason),
	})
}

// crawlClinics returns one result per link, in link order. With a pool size
// above one the fetches overlap, still spaced by the shared throttle.
func (e *Engine) crawlClinics(ctx context.Context, todo []ClinicLink) []clinicResult {
	results := make([]clinicResult, len(todo))
	if e.cfg.ClinicConcurrency <= 1 {
		for i, link := range todo {
			results[i] = e.crawlClinic(ctx, link)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.ClinicConcurrency)
	for i, link := range todo {
		g.Go(func() error {
			results[i] = e.crawlClinic(ctx, link)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) crawlClinic(ctx context.Context, link ClinicLink) clinicResult {
	if ctx.Err() != nil {
		return clinicResult{}
	}
	out := e.fetch(ctx, progress.TierClinic, link.URL, link.Label)
	res := clinicResult{visited: true, attempts: out.Attempts}
	if !out.OK() {
		res.err = out.Reason
		e.skipClinic(link, res.err)
		return res
	}
	res.fetched = true

	record, err := e.fields.Extract(out.Body, link.URL, link.Region)
	if err != nil {
		res.err = err
		e.skipClinic(link, err)
		return res
	}
	res.record = record
	e.emit(progress.Event{
		Stage:   progress.StageClinicDone,
		Tier:    progress.TierClinic,
		URL:     link.URL,
		Label:   record.Name,
		State:   string(NodeParsed),
		Records: 1,
	})
	return res
}

func (e *Engine) skipClinic(link ClinicLink, reason error) {
	level := zap.WarnLevel
	if errors.Is(reason, context.Canceled) {
		level = zap.DebugLevel
	}
	e.logger.Log(level, "skipping clinic",
		zap.String("region", link.Region),
		zap.String("clinic", link.Label),
		zap.String("url", link.URL),
		zap.Error(reason),
	)
	e.emit(progress.Event{
		Stage: progress.StageClinicDone,
		Tier:  progress.TierClinic,
		URL:   link.URL,
		Label: link.Label,
		State: string(NodeSkipped),
		Note:  errorText(reason),
	})
}

// fetch runs one retrying fetch, reports it, and archives the body.
func (e *Engine) fetch(ctx context.Context, tier progress.Tier, url, label string) FetchOutcome {
	e.emit(progress.Event{
		Stage: progress.StageFetchStart,
		Tier:  tier,
		URL:   url,
		Label: label,
		State: string(NodeFetching),
	})
	out := e.fetcher.Fetch(ctx, url)
	e.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Tier:        tier,
		URL:         url,
		Label:       label,
		StatusClass: progress.ClassifyStatus(out.StatusCode),
		Attempts:    out.Attempts,
		Bytes:       int64(len(out.Body)),
		Dur:         out.Duration,
		Note:        errorText(out.Reason),
	})
	if out.OK() && e.snapshots != nil {
		if _, err := e.snapshots.Save(ctx, url, out.Body); err != nil {
			e.logger.Warn("snapshot failed", zap.String("url", url), zap.Error(err))
		}
	}
	return out
}

func (e *Engine) emitQueued(tier progress.Tier, link Link) {
	e.emit(progress.Event{
		Stage: progress.StageNodeQueued,
		Tier:  tier,
		URL:   link.URL,
		Label: link.Label,
		State: string(NodePending),
	})
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = e.runID
	evt.TS = e.stamp()
	e.progress.Emit(evt)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func summaryFields(s Summary) []zap.Field {
	return []zap.Field{
		zap.Int("regions_visited", s.RegionsVisited),
		zap.Int("regions_skipped", s.RegionsSkipped),
		zap.Int("clinics_visited", s.ClinicsVisited),
		zap.Int("clinics_skipped", s.ClinicsSkipped),
		zap.Int("clinics_duplicate", s.ClinicsDuplicate),
		zap.Int("records", s.RecordsProduced),
		zap.Int64("requests", s.Requests),
		zap.Duration("duration", s.Duration),
	}
}
