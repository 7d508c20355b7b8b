// Package httpapi serves the observability endpoints and the live event
// stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsDesk/internal/cache"
	"NewsDesk/internal/config"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/reactor"
	"NewsDesk/internal/thresholds"
)

// Component health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	probeTimeout      = 2 * time.Second
	degradedErrorRate = 0.5
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobLister reports scheduled jobs and their next run.
type JobLister interface {
	Jobs() []string
	Next(name string) time.Time
}

// Deps are the read-only views exposed over HTTP. Any of them may be nil.
type Deps struct {
	Config     config.Config
	Sink       *metrics.Sink
	Cache      *cache.Cache
	Reactor    *reactor.Reactor
	Thresholds *thresholds.Adaptive
	DB         Pinger
	Jobs       JobLister
	Hub        *Hub
	Logger     *slog.Logger
}

// Server is the observability listener.
type Server struct {
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
	logger *slog.Logger
}

// ComponentHealth is one probe result.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport aggregates every probe.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// New builds the router.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Sink == nil {
		deps.Sink = metrics.New()
	}
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	s := &Server{deps: deps, logger: logger.With("component", "http")}

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(deps.Sink, "newsdesk"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", s.handleMetrics)
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", s.handleHealth)
	router.GET("/health/live", s.handleLive)
	router.GET("/health/ready", s.handleReady)
	router.GET("/optimization/config", s.handleOptimization)
	router.GET("/events", s.handleEvents)
	s.engine = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub returns the SSE hub so it can be attached to the reactor.
func (s *Server) Hub() *Hub { return s.deps.Hub }

// Start listens on addr in the background. A failed listener is logged.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("http listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
}

// Shutdown disconnects stream clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleMetrics(c *gin.Context) {
	body := gin.H{"metrics": s.deps.Sink.Snapshot()}
	if s.deps.Cache != nil {
		body["cache"] = s.deps.Cache.Stats()
	}
	if s.deps.Reactor != nil {
		body["reactor"] = s.deps.Reactor.Stats()
	}
	body["stream"] = gin.H{"clients": s.deps.Hub.Clients(), "dropped": s.deps.Hub.Dropped()}
	if s.deps.Jobs != nil {
		next := map[string]time.Time{}
		for _, name := range s.deps.Jobs.Jobs() {
			next[name] = s.deps.Jobs.Next(name)
		}
		body["jobs"] = next
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleOptimization(c *gin.Context) {
	cfg := s.deps.Config
	body := gin.H{
		"features": cfg.Features,
		"cache": gin.H{
			"max_size":       cfg.Cache.MaxSize,
			"ttl_seconds":    cfg.Cache.TTL().Seconds(),
			"partial_update": cfg.Cache.PartialUpdate,
			"refresh_window": cfg.Cache.RefreshWindow().Seconds(),
		},
		"local_predictor": gin.H{
			"model_type":            cfg.LocalPredictor.ModelType,
			"importance_threshold":  cfg.LocalPredictor.ImportanceThreshold,
			"credibility_threshold": cfg.LocalPredictor.CredibilityThreshold,
		},
		"self_tuning": gin.H{
			"min_samples":       cfg.SelfTuning.MinSamples,
			"interval_days":     cfg.SelfTuning.IntervalDays,
			"replace_threshold": cfg.SelfTuning.ReplaceThreshold,
		},
		"autopublish": gin.H{
			"enabled":         cfg.Autopublish.Enabled,
			"dry_run":         cfg.Autopublish.DryRun,
			"min_gap_minutes": cfg.Autopublish.MinGapMinutes,
		},
	}
	if s.deps.Thresholds != nil {
		body["thresholds"] = s.deps.Thresholds.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleEvents(c *gin.Context) {
	events, cancel := s.deps.Hub.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev)
			return true
		}
	})
}

// Check runs every probe and aggregates them: any unhealthy component makes
// the service unhealthy, otherwise any degraded one makes it degraded.
func (s *Server) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     StatusHealthy,
		Components: map[string]ComponentHealth{},
		CheckedAt:  time.Now().UTC(),
	}

	db := ComponentHealth{Status: StatusHealthy}
	if s.deps.DB == nil {
		db = ComponentHealth{Status: StatusDegraded, Detail: "no database configured"}
	} else {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.deps.DB.Ping(pctx)
		cancel()
		if err != nil {
			db = ComponentHealth{Status: StatusUnhealthy, Detail: err.Error()}
		}
	}
	report.Components["db"] = db

	ch := ComponentHealth{Status: StatusHealthy}
	switch {
	case s.deps.Cache == nil:
		ch.Detail = "disabled"
	case s.deps.Cache.Stats().ParseAnomalies > 0:
		ch = ComponentHealth{Status: StatusDegraded, Detail: "parse anomalies recorded"}
	}
	report.Components["cache"] = ch

	mh := ComponentHealth{Status: StatusHealthy}
	snap := s.deps.Sink.Snapshot()
	if snap.Counters[metrics.LLMCalls] > 0 && snap.Rates["llm_error_rate"] >= degradedErrorRate {
		mh = ComponentHealth{Status: StatusDegraded, Detail: "large model error rate high"}
	}
	report.Components["metrics"] = mh

	cfgh := ComponentHealth{Status: StatusHealthy}
	if s.deps.Config.Autopublish.Enabled && !s.deps.Config.Autopublish.DryRun && s.deps.Config.Telegram.ChannelID == "" {
		cfgh = ComponentHealth{Status: StatusDegraded, Detail: "autopublish enabled without channel"}
	}
	report.Components["config"] = cfgh

	for _, comp := range report.Components {
		switch comp.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}
