// Package cascade orchestrates per-item scoring: prefilter, cache, local
// predictor and finally the large model, with at most one large-model call
// in flight per fingerprint.
package cascade

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"NewsDesk/internal/cache"
	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/predictor"
	"NewsDesk/internal/prefilter"
	"NewsDesk/internal/reactor"
	"NewsDesk/internal/thresholds"
)

// Stages that produced a result.
const (
	StagePrefilter    = "prefilter"
	StageCache        = "cache"
	StageCacheRefresh = "cache_refresh"
	StagePredictor    = "predictor"
	StageLargeModel   = "large_model"
	StageThreshold    = "threshold"
	StageFallback     = "fallback"
	StageDiscarded    = "discarded"
)

// Reasons not covered by the prefilter and thresholds packages.
const (
	ReasonCacheHit       = "cache_hit"
	ReasonRefreshed      = "partial_refresh"
	ReasonPredictorSkip  = "predictor_below_threshold"
	ReasonScored         = "scored"
	ReasonParseFailed    = "parse_failed"
	ReasonModelError     = "large_model_error"
	ReasonShutdown       = "shutdown"
	TagThresholdRejected = "threshold_rejected"

	DimensionImportance  = "importance"
	DimensionCredibility = "credibility"
)

// Result is the verdict for one item.
type Result struct {
	Importance  float64
	Credibility float64
	Summary     string
	Stage       string
	Reason      string
	Fingerprint string
}

// Accepted reports whether the item survived every gate.
func (r Result) Accepted() bool {
	switch r.Stage {
	case StagePrefilter, StageThreshold:
		return false
	}
	return r.Importance > 0 || r.Credibility > 0
}

// Deps are the collaborators of a Cascade. Cache, Predictor, Reactor and
// Rejections may be nil.
type Deps struct {
	Prefilter  *prefilter.Filter
	Cache      *cache.Cache
	Thresholds *thresholds.Adaptive
	Predictor  *predictor.Predictor
	Model      ports.LargeModel
	Reactor    *reactor.Reactor
	Rejections ports.RejectionLog
	Sink       *metrics.Sink
	Logger     *slog.Logger
}

// Cascade scores items. It is safe for concurrent use.
type Cascade struct {
	deps Deps

	keyFormat    string
	refreshDims  map[string]bool
	inflightWait time.Duration
	concurrency  int64
	model        string
	modelTag     string
	maxTokens    int
	timeout      time.Duration

	mu       sync.Mutex
	inflight map[string]chan struct{}
	closed   atomic.Bool
	logger   *slog.Logger
}

// New builds a cascade from configuration.
func New(cfg config.Config, deps Deps) *Cascade {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Features.CacheEnabled {
		deps.Cache = nil
	}
	if deps.Prefilter == nil {
		deps.Prefilter = prefilter.New(config.PrefilterConfig{}, false)
	}

	dims := make(map[string]bool)
	for _, d := range cfg.Cascade.RefreshDimensions {
		dims[strings.ToLower(strings.TrimSpace(d))] = true
	}
	if len(dims) == 0 {
		dims[DimensionCredibility] = true
	}

	concurrency := int64(cfg.Cascade.Concurrency)
	if concurrency <= 0 {
		concurrency = 4
	}
	model := cfg.Cascade.Model
	tag := model
	if tag == "" {
		tag = cfg.LargeModel.Provider
	}
	if tag == "" {
		tag = StageLargeModel
	}
	timeout := time.Duration(cfg.LargeModel.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Cascade{
		deps:         deps,
		keyFormat:    cfg.Cache.DedupKeyFormat,
		refreshDims:  dims,
		inflightWait: cfg.Cascade.InflightWait(),
		concurrency:  concurrency,
		model:        model,
		modelTag:     tag,
		maxTokens:    cfg.LargeModel.MaxTokens,
		timeout:      timeout,
		inflight:     make(map[string]chan struct{}),
		logger:       logger.With("component", "cascade"),
	}
}

// Close marks shutdown. Large-model results that arrive afterwards are
// discarded instead of cached.
func (c *Cascade) Close() {
	c.closed.Store(true)
}

// Fingerprint returns the cache key for item.
func (c *Cascade) Fingerprint(item domain.NewsItem) string {
	return cache.Fingerprint(item, c.keyFormat)
}

// Score runs the cascade for one item. It never returns an error: every
// failure degrades to a typed result.
func (c *Cascade) Score(ctx context.Context, item domain.NewsItem) Result {
	started := time.Now()
	defer func() { c.deps.Sink.Observe(metrics.ScoreLatency, time.Since(started)) }()
	c.deps.Sink.Inc(metrics.ItemsProcessed)

	fp := c.Fingerprint(item)

	if verdict := c.deps.Prefilter.Evaluate(item); !verdict.Passed {
		c.deps.Sink.Inc(metrics.PrefilterRejected)
		c.reject(ctx, item, verdict.Reason, 0, 0)
		return Result{Stage: StagePrefilter, Reason: verdict.Reason, Fingerprint: fp}
	}

	if c.deps.Cache != nil {
		if entry, ok := c.deps.Cache.Lookup(fp); ok {
			if entry.ModelTag == TagThresholdRejected || !c.deps.Cache.NeedsRefresh(entry) {
				c.deps.Sink.Inc(metrics.CacheHit)
				return fromEntry(entry, StageCache, ReasonCacheHit)
			}
			return c.refresh(ctx, item, entry)
		}
	}
	missed := func() {
		if c.deps.Cache != nil {
			c.deps.Sink.Inc(metrics.CacheMiss)
		}
	}

	pred := predictor.Prediction{Importance: 0.5, Credibility: 0.5}
	if c.deps.Predictor != nil && c.deps.Predictor.Enabled() {
		pred = c.deps.Predictor.Predict(item)
		if c.deps.Predictor.BelowThresholds(pred) {
			missed()
			c.deps.Sink.Inc(metrics.PredictorSkip)
			res := Result{
				Importance:  pred.Importance,
				Credibility: pred.Credibility,
				Stage:       StagePredictor,
				Reason:      ReasonPredictorSkip,
				Fingerprint: fp,
			}
			c.emitScored(ctx, item, res)
			return res
		}
	}

	leader, entry, hit, err := c.acquire(ctx, fp, c.lookup(fp))
	if hit {
		c.deps.Sink.Inc(metrics.CacheHit)
		return fromEntry(entry, StageCache, ReasonCacheHit)
	}
	missed()
	if err != nil {
		return c.fallback(item, pred, fp, err)
	}
	if !leader {
		return c.fallback(item, pred, fp, errNotLeader)
	}
	defer c.release(fp)

	return c.askModel(ctx, item, pred, fp)
}

// ScoreBatch scores items with bounded concurrency. Results are returned in
// input order; one failing item never stops the others.
func (c *Cascade) ScoreBatch(ctx context.Context, items []domain.NewsItem) []Result {
	results := make([]Result, len(items))
	sem := semaphore.NewWeighted(c.concurrency)
	var g errgroup.Group
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(items); j++ {
				results[j] = Result{Stage: StageFallback, Reason: ReasonModelError, Fingerprint: c.Fingerprint(items[j])}
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = c.Score(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Cascade) askModel(ctx context.Context, item domain.NewsItem, pred predictor.Prediction, fp string) Result {
	imp, cred, summary, err := c.callModel(ctx, item)
	if err != nil {
		if errors.Is(err, errDiscarded) {
			return Result{Importance: pred.Importance, Credibility: pred.Credibility, Stage: StageDiscarded, Reason: ReasonShutdown, Fingerprint: fp}
		}
		return c.fallback(item, pred, fp, err)
	}
	if imp < 0 {
		return Result{Importance: 0.5, Credibility: 0.5, Summary: summary, Stage: StageLargeModel, Reason: ReasonParseFailed, Fingerprint: fp}
	}

	if c.deps.Thresholds != nil {
		if passed, reason := c.deps.Thresholds.Check(imp, cred, item.Category); !passed {
			c.deps.Sink.Inc(metrics.ThresholdRejected)
			if c.deps.Cache != nil {
				c.deps.Cache.Store(fp, 0, 0, "", TagThresholdRejected)
			}
			c.reject(ctx, item, reason, imp, cred)
			return Result{Stage: StageThreshold, Reason: reason, Fingerprint: fp}
		}
	}

	if c.deps.Cache != nil {
		c.deps.Cache.Store(fp, imp, cred, summary, c.modelTag)
	}
	res := Result{Importance: imp, Credibility: cred, Summary: summary, Stage: StageLargeModel, Reason: ReasonScored, Fingerprint: fp}
	c.deps.Sink.Inc(metrics.ItemsScored)
	c.emitScored(ctx, item, res)
	return res
}

// refresh re-asks the model for the configured dimensions of a cached entry
// nearing expiry. Failures keep the cached values.
func (c *Cascade) refresh(ctx context.Context, item domain.NewsItem, entry cache.Entry) Result {
	fp := entry.Fingerprint
	refreshed := func() (cache.Entry, bool) {
		e, ok := c.deps.Cache.Peek(fp)
		if ok && c.deps.Cache.NeedsRefresh(e) {
			return cache.Entry{}, false
		}
		return e, ok
	}
	leader, fresh, hit, err := c.acquire(ctx, fp, refreshed)
	if hit {
		c.deps.Sink.Inc(metrics.CacheHit)
		return fromEntry(fresh, StageCache, ReasonCacheHit)
	}
	if err != nil || !leader {
		return fromEntry(entry, StageCache, ReasonCacheHit)
	}
	defer c.release(fp)

	imp, cred, summary, err := c.callModel(ctx, item)
	if err != nil || imp < 0 {
		if err != nil && !errors.Is(err, errDiscarded) {
			c.deps.Sink.Inc(metrics.LLMErrors)
			c.logger.Warn("partial refresh failed, serving cached scores", "fingerprint", fp, "error", err)
		}
		return fromEntry(entry, StageCache, ReasonCacheHit)
	}

	var p cache.Partial
	if c.refreshDims[DimensionImportance] {
		p.Importance = &imp
	}
	if c.refreshDims[DimensionCredibility] {
		p.Credibility = &cred
	}
	if summary != "" && entry.Summary == "" {
		p.Summary = &summary
	}
	updated, ok := c.deps.Cache.UpdatePartialByFingerprint(fp, p)
	if !ok {
		return fromEntry(entry, StageCache, ReasonCacheHit)
	}
	c.deps.Sink.Inc(metrics.CachePartialRefresh)
	res := fromEntry(updated, StageCacheRefresh, ReasonRefreshed)
	c.emitScored(ctx, item, res)
	return res
}

var (
	errDiscarded = errors.New("large model result discarded after shutdown")
	errNoModel   = errors.New("no large model configured")
	errNotLeader = errors.New("in-flight wait ended without a result")
)

// callModel issues one large-model request. A negative importance signals a
// parse failure (already logged and counted).
func (c *Cascade) callModel(ctx context.Context, item domain.NewsItem) (float64, float64, string, error) {
	if c.deps.Model == nil {
		return 0, 0, "", errNoModel
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	c.deps.Sink.Inc(metrics.LLMCalls)
	started := time.Now()
	text, err := c.deps.Model.Ask(callCtx, BuildPrompt(item), c.model, c.maxTokens)
	c.deps.Sink.Observe(metrics.LLMLatency, time.Since(started))

	if c.closed.Load() {
		c.deps.Sink.Inc(metrics.LLMDiscarded)
		return 0, 0, "", errDiscarded
	}
	if err != nil {
		return 0, 0, "", err
	}

	imp, cred, summary, ok := ParseScores(text)
	if !ok {
		c.deps.Sink.Inc(metrics.LLMParseErrors)
		c.logger.Warn("unparseable large model reply", "title", item.Title, "reply", truncate(text, 200))
		return -1, -1, summary, nil
	}
	return imp, cred, summary, nil
}

func (c *Cascade) fallback(item domain.NewsItem, pred predictor.Prediction, fp string, err error) Result {
	c.deps.Sink.Inc(metrics.LLMErrors)
	c.logger.Warn("large model unavailable, using predictor scores", "title", item.Title, "error", err)
	return Result{
		Importance:  domain.Clamp01(pred.Importance),
		Credibility: domain.Clamp01(pred.Credibility),
		Stage:       StageFallback,
		Reason:      ReasonModelError,
		Fingerprint: fp,
	}
}

func (c *Cascade) reject(ctx context.Context, item domain.NewsItem, reason string, imp, cred float64) {
	if c.deps.Rejections != nil {
		rec := domain.Rejection{
			Timestamp:   time.Now().UTC(),
			Reason:      reason,
			Source:      item.Source,
			Category:    item.Category,
			URL:         item.URL,
			Importance:  imp,
			Credibility: cred,
			Title:       item.Title,
		}
		if err := c.deps.Rejections.Append(ctx, rec); err != nil {
			c.logger.Warn("append rejection log", "error", err)
		}
	}
	if c.deps.Reactor != nil {
		c.deps.Reactor.Emit(ctx, reactor.ItemRejected, "cascade", map[string]any{
			"title":    item.Title,
			"reason":   reason,
			"category": item.Category,
		})
	}
}

func (c *Cascade) emitScored(ctx context.Context, item domain.NewsItem, res Result) {
	if c.deps.Reactor == nil {
		return
	}
	c.deps.Reactor.Emit(ctx, reactor.ItemScored, "cascade", map[string]any{
		"fingerprint": res.Fingerprint,
		"title":       item.Title,
		"category":    item.Category,
		"importance":  res.Importance,
		"credibility": res.Credibility,
		"stage":       res.Stage,
	})
}

func (c *Cascade) lookup(fp string) recheckFunc {
	if c.deps.Cache == nil {
		return nil
	}
	return func() (cache.Entry, bool) { return c.deps.Cache.Peek(fp) }
}

func fromEntry(e cache.Entry, stage, reason string) Result {
	return Result{
		Importance:  e.Importance,
		Credibility: e.Credibility,
		Summary:     e.Summary,
		Stage:       stage,
		Reason:      reason,
		Fingerprint: e.Fingerprint,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
