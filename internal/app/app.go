// Package app wires configuration, adapters and use cases into a running
// service and into the one-shot CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"NewsDesk/internal/artifact"
	"NewsDesk/internal/cache"
	"NewsDesk/internal/cascade"
	"NewsDesk/internal/config"
	"NewsDesk/internal/feedback"
	"NewsDesk/internal/httpapi"
	"NewsDesk/internal/infrastructure/llm"
	"NewsDesk/internal/infrastructure/parser"
	"NewsDesk/internal/infrastructure/scheduler"
	"NewsDesk/internal/infrastructure/seeds"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/infrastructure/telegram"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/predictor"
	"NewsDesk/internal/prefilter"
	"NewsDesk/internal/publisher"
	"NewsDesk/internal/reactor"
	"NewsDesk/internal/review"
	"NewsDesk/internal/schedule"
	"NewsDesk/internal/selector"
	"NewsDesk/internal/thresholds"
	"NewsDesk/internal/training"
	"NewsDesk/internal/usecase"
	"NewsDesk/pkg/logger"
)

// Options adjust how the application is assembled.
type Options struct {
	// DryRun forces the publisher to render without sending.
	DryRun bool
	// TelegramEndpoint overrides the Bot API endpoint format.
	TelegramEndpoint string
	// HTTPClient is used by scanners and seed downloads.
	HTTPClient *http.Client
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store      *storage.Store
	sink       *metrics.Sink
	reactor    *reactor.Reactor
	cache      *cache.Cache
	thresholds *thresholds.Adaptive
	artifacts  *artifact.Store
	cascade    *cascade.Cascade
	pipeline   *usecase.Pipeline
	publisher  *publisher.Publisher
	posting    *usecase.PostingCycle
	gate       *review.Gate
	tracker    *feedback.Tracker
	runner     *training.Runner
	baseline   *training.Baseline
	bot        *telegram.Client
	jobs       *usecase.Scheduler
	http       *httpapi.Server
	logFiles   []*logger.File

	base    *slog.Logger
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New assembles every component. Nothing runs in the background until Start.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, base: baseLogger, logger: baseLogger.With("component", "app"), sink: metrics.New()}

	eventLog, err := a.openLog(cfg.Paths.EventLog, "events")
	if err != nil {
		return nil, err
	}
	publishLog, err := a.openLog(cfg.Paths.PublishLog, "publish")
	if err != nil {
		a.closeLogs()
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Database, baseLogger)
	if err != nil {
		a.closeLogs()
		return nil, err
	}
	a.store = store

	hub := httpapi.NewHub()
	a.reactor = reactor.New(baseLogger,
		reactor.WithEventLog(eventLog.Logger),
		reactor.WithSink(a.sink),
		reactor.WithStreamer(hub),
	)

	if cfg.Features.CacheEnabled {
		a.cache = cache.New(cfg.Cache, cfg.Features.CacheTTLEnabled, baseLogger, cache.WithSink(a.sink))
		a.restoreCache()
	}
	a.thresholds = thresholds.New(cfg)

	var mirror ports.ArtifactMirror
	if cfg.Backup.S3Enabled {
		client, err := storage.NewS3Client(ctx, cfg.Backup)
		if err != nil {
			a.Close()
			return nil, err
		}
		m, err := storage.NewS3Mirror(client, cfg.Backup.Bucket, cfg.Backup.Prefix, baseLogger)
		if err != nil {
			a.Close()
			return nil, err
		}
		mirror = m
	}
	dirOpts := []artifact.Option{}
	if mirror != nil {
		dirOpts = append(dirOpts, artifact.WithMirror(mirror))
	}
	dir := artifact.NewDir(cfg.LocalPredictor.ModelDir, baseLogger, dirOpts...)
	a.artifacts = artifact.NewStore(dir, baseLogger)
	if _, err := a.artifacts.Refresh(); err != nil {
		a.logger.Warn("model artifacts not loaded, using rules", "error", err)
	}

	model, err := llm.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("large model: %w", err)
	}

	a.cascade = cascade.New(cfg, cascade.Deps{
		Prefilter:  prefilter.New(cfg.Prefilter, cfg.Features.PrefilterEnabled),
		Cache:      a.cache,
		Thresholds: a.thresholds,
		Predictor:  predictor.New(cfg, a.artifacts, a.sink, baseLogger),
		Model:      model,
		Reactor:    a.reactor,
		Rejections: training.NewRejectionFile(cfg.Paths.RejectionLog),
		Sink:       a.sink,
		Logger:     baseLogger,
	})

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	source := parser.NewSource(parser.DefaultRegistry(client, baseLogger), cfg.Sites, a.sink, baseLogger)
	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:  source,
		Scorer:  a.cascade,
		Items:   store,
		Digests: store,
		Reactor: a.reactor,
		Sink:    a.sink,
		Logger:  baseLogger,
	})

	a.connectBot(baseLogger, opts)

	window := schedule.New(cfg, a.sink, baseLogger)
	a.tracker = feedback.New(cfg, store, store, a.reactor, a.sink, baseLogger)
	pubDeps := publisher.Deps{
		Digests:    store,
		Meta:       store,
		Reactor:    a.reactor,
		Sink:       a.sink,
		Tracker:    a.tracker,
		Recent:     window,
		PublishLog: publishLog.Logger,
		Logger:     baseLogger,
	}
	var pubOpts []publisher.Option
	if a.bot != nil {
		pubDeps.Transport = a.bot
	}
	if opts.DryRun || a.bot == nil {
		pubOpts = append(pubOpts, publisher.WithDryRun(true))
	}
	a.publisher = publisher.New(cfg, pubDeps, pubOpts...)

	var reviewTransport ports.ReviewTransport
	if a.bot != nil {
		reviewTransport = a.bot
	}
	a.gate = review.New(cfg, reviewTransport, a.reactor, a.sink, baseLogger)
	a.posting = usecase.NewPostingCycle(cfg, usecase.PostingDeps{
		Digests:   store,
		Schedule:  window,
		Selector:  selector.New(cfg, window, baseLogger),
		Publisher: a.publisher,
		Review:    a.gate,
		Reactor:   a.reactor,
		Sink:      a.sink,
		Logger:    baseLogger,
	})

	trainer, err := training.NewTrainer(cfg, dir, a.reactor, a.sink, baseLogger)
	if err != nil {
		a.Close()
		return nil, err
	}
	collector := training.NewCollector(cfg, training.CollectorDeps{Items: store, Digests: store, Logger: baseLogger})
	a.runner = training.NewRunner(cfg, collector, trainer, dir, baseLogger)
	a.baseline = training.NewBaseline(cfg, store, seeds.NewLoader(client, "", baseLogger), baseLogger)

	a.reactor.Subscribe(reactor.ModelRetrained, func(context.Context, reactor.Event) error {
		_, err := a.artifacts.Refresh()
		return err
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger)
	a.jobs = usecase.NewScheduler(cfg, cron, a.pipeline, a.posting, a.runner, baseLogger)
	a.http = httpapi.New(httpapi.Deps{
		Config:     cfg,
		Sink:       a.sink,
		Cache:      a.cache,
		Reactor:    a.reactor,
		Thresholds: a.thresholds,
		DB:         store,
		Jobs:       cron,
		Hub:        hub,
		Logger:     baseLogger,
	})
	return a, nil
}

func (a *Application) connectBot(base *slog.Logger, opts Options) {
	if a.cfg.Telegram.BotToken == "" {
		a.logger.Warn("telegram bot token not set, publishing runs dry")
		return
	}
	timeout := time.Duration(a.cfg.Autopublish.SendTimeoutSecs) * time.Second
	bot, err := telegram.NewClient(a.cfg.Telegram.BotToken, opts.TelegramEndpoint, timeout, base)
	if err != nil {
		a.logger.Error("telegram unavailable, publishing runs dry", "error", err)
		return
	}
	a.bot = bot
}

// Start launches the HTTP listener, the event heartbeat, the update poller,
// the artifact watcher and the cron jobs.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	if a.cfg.HTTP.Addr != "" {
		a.http.Start(a.cfg.HTTP.Addr)
	}
	a.reactor.Start(runCtx)

	if a.bot != nil {
		var reactions telegram.ReactionRecorder
		if a.cfg.ReactionTrackingEnabled() {
			reactions = a.store
		}
		poller := telegram.NewPoller(a.bot, a.cfg.Telegram.AdminChatID, a.cfg.Telegram.ChannelID, a.gate, reactions, a.base)
		a.goRun(func() { poller.Run(runCtx) })
	}
	if a.cfg.LocalPredictor.WatchArtifacts {
		if err := os.MkdirAll(a.cfg.LocalPredictor.ModelDir, 0o755); err != nil {
			a.logger.Warn("artifact dir not created", "error", err)
		} else {
			a.goRun(func() {
				if err := a.artifacts.Watch(runCtx); err != nil {
					a.logger.Warn("artifact watch stopped", "error", err)
				}
			})
		}
	}

	if err := a.jobs.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start jobs: %w", err)
	}
	a.reactor.Emit(runCtx, reactor.SystemHealth, "app", map[string]any{"status": "started"})
	a.logger.Info("newsdesk started")
	return nil
}

func (a *Application) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Shutdown stops background work in reverse start order and releases
// resources. In-flight large-model results are discarded, not cached.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if started {
		if err := a.jobs.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.cascade.Close()
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.cancel()
		a.wg.Wait()
		a.reactor.Stop()
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases stores and log files without touching background loops.
// One-shot commands call it directly. Later calls return the first result.
func (a *Application) Close() error {
	a.closeOnce.Do(func() {
		if a.gate != nil {
			a.gate.Stop()
		}
		if a.tracker != nil {
			a.tracker.Stop()
		}
		if a.cascade != nil {
			a.cascade.Close()
		}
		a.saveCache()
		if a.store != nil {
			a.closeErr = a.store.Close()
		}
		a.closeLogs()
	})
	return a.closeErr
}

// Ingest runs one ingestion pass for today in the scheduler timezone.
func (a *Application) Ingest(ctx context.Context) (usecase.IngestReport, error) {
	return a.pipeline.ProcessDay(ctx, time.Now().In(a.cfg.Scheduler.Location()))
}

// Publish runs one posting cycle now.
func (a *Application) Publish(ctx context.Context) (usecase.CycleReport, error) {
	return a.posting.Run(ctx, time.Now().In(a.cfg.Scheduler.Location()))
}

// Train runs the self-tuning loop once.
func (a *Application) Train(ctx context.Context, force bool) (training.RunReport, error) {
	return a.runner.Run(ctx, force)
}

// BuildBaseline writes the baseline dataset and its report.
func (a *Application) BuildBaseline(ctx context.Context, out, report string) (training.BaselineReport, error) {
	return a.baseline.Build(ctx, out, report)
}

// Metrics exposes the shared sink.
func (a *Application) Metrics() *metrics.Sink { return a.sink }

// Handler exposes the observability router.
func (a *Application) Handler() http.Handler { return a.http.Handler() }

func (a *Application) openLog(path, component string) (*logger.File, error) {
	f, err := logger.NewFile(path, component)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", component, err)
	}
	a.logFiles = append(a.logFiles, f)
	return f, nil
}

func (a *Application) closeLogs() {
	for _, f := range a.logFiles {
		if err := f.Close(); err != nil {
			a.logger.Warn("close log file", "error", err)
		}
	}
	a.logFiles = nil
}

func (a *Application) restoreCache() {
	path := a.cfg.Cache.SnapshotPath
	if path == "" || a.cache == nil {
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		a.logger.Warn("open cache snapshot", "path", path, "error", err)
		return
	}
	defer f.Close()
	n, err := a.cache.Restore(f)
	if err != nil {
		a.logger.Warn("restore cache snapshot", "path", path, "error", err)
	}
	a.logger.Info("cache restored", "entries", n)
}

func (a *Application) saveCache() {
	path := a.cfg.Cache.SnapshotPath
	if path == "" || a.cache == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.logger.Warn("create cache snapshot dir", "error", err)
		return
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		a.logger.Warn("create cache snapshot", "error", err)
		return
	}
	n, err := a.cache.Snapshot(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		a.logger.Warn("save cache snapshot", "path", path, "error", err)
		_ = os.Remove(tmp)
		return
	}
	a.logger.Info("cache saved", "entries", n)
}
