// Package predictor is the cheap local scorer that sits between the cache
// and the large model.
package predictor

import (
	"fmt"
	"log/slog"
	"slices"

	"NewsDesk/internal/artifact"
	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/metrics"
)

// Backend tags.
const (
	BackendRules    = "rules"
	BackendML       = "ml"
	BackendDisabled = "disabled"
)

// Prediction is an (importance, credibility, confidence) triple.
type Prediction struct {
	Importance  float64
	Credibility float64
	Confidence  float64
	Backend     string
}

// Predictor selects between the rule and ML backends.
type Predictor struct {
	enabled bool
	useML   bool
	rules   ruleScorer
	store   *artifact.Store
	impMin  float64
	credMin float64
	sink    *metrics.Sink
	logger  *slog.Logger
}

// New builds a predictor. store may be nil, in which case only the rule
// backend is used.
func New(cfg config.Config, store *artifact.Store, sink *metrics.Sink, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	lp := cfg.LocalPredictor
	return &Predictor{
		enabled: cfg.Features.LocalPredictorEnabled,
		useML:   lp.ModelType != "" && lp.ModelType != BackendRules,
		rules:   newRuleScorer(lp.Weights),
		store:   store,
		impMin:  lp.ImportanceThreshold,
		credMin: lp.CredibilityThreshold,
		sink:    sink,
		logger:  logger.With("component", "predictor"),
	}
}

// Enabled reports whether predictions are evaluated.
func (p *Predictor) Enabled() bool { return p.enabled }

// Thresholds returns the skip thresholds for importance and credibility.
func (p *Predictor) Thresholds() (float64, float64) { return p.impMin, p.credMin }

// BelowThresholds reports whether both scores fall below the skip thresholds.
func (p *Predictor) BelowThresholds(pred Prediction) bool {
	return pred.Importance < p.impMin && pred.Credibility < p.credMin
}

// Predict scores item. A disabled predictor returns (0.5, 0.5, 0).
func (p *Predictor) Predict(item domain.NewsItem) Prediction {
	if !p.enabled {
		return Prediction{Importance: 0.5, Credibility: 0.5, Confidence: 0, Backend: BackendDisabled}
	}
	if p.useML && p.store != nil {
		if bundle := p.store.Current(); bundle != nil {
			pred, err := predictML(bundle, item)
			if err == nil {
				return pred
			}
			p.sink.Inc(metrics.PredictorFallback)
			p.logger.Warn("ml predictor failed, using rules", "error", err, "version", bundle.Meta.Version)
		}
	}
	return p.rules.predict(item)
}

// Rules evaluates only the rule backend.
func (p *Predictor) Rules(item domain.NewsItem) Prediction {
	return p.rules.predict(item)
}

func predictML(b *artifact.Bundle, item domain.NewsItem) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ml backend panic: %v", r)
		}
	}()

	if len(b.Meta.Features) > 0 && !slices.Equal(b.Meta.Features, features.Names()) {
		return Prediction{}, fmt.Errorf("artifact features do not match extractor (%d vs %d)", len(b.Meta.Features), features.Len())
	}
	scaled, err := b.Scaler.Transform(features.Extract(item))
	if err != nil {
		return Prediction{}, err
	}
	imp, err := b.Importance.PredictProba(scaled)
	if err != nil {
		return Prediction{}, fmt.Errorf("importance model: %w", err)
	}
	cred, err := b.Credibility.PredictProba(scaled)
	if err != nil {
		return Prediction{}, fmt.Errorf("credibility model: %w", err)
	}
	return Prediction{
		Importance:  domain.Clamp01(imp),
		Credibility: domain.Clamp01(cred),
		Confidence:  features.Completeness(item),
		Backend:     BackendML,
	}, nil
}
