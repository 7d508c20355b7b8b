package predictor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/artifact"
	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/mlmodel"
)

func strongItem() domain.NewsItem {
	return domain.NewsItem{
		Title:       "Fed officially announces record rate decision after inflation data",
		Body:        "According to the official statement the committee confirmed the move.",
		Source:      "Reuters",
		URL:         "https://reuters.com/a",
		Category:    "markets",
		PublishedAt: time.Date(2024, time.June, 12, 14, 0, 0, 0, time.UTC),
	}
}

func weakItem() domain.NewsItem {
	return domain.NewsItem{Title: "SHOCKING RUMOR!!!", Source: "telegram", Category: "other"}
}

func TestDisabledReturnsNeutralTriple(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Features.LocalPredictorEnabled = false
	p := New(cfg, nil, nil, logging.Discard())

	got := p.Predict(strongItem())
	assert.Equal(t, Prediction{Importance: 0.5, Credibility: 0.5, Confidence: 0, Backend: BackendDisabled}, got)
}

func TestRuleBackendOrdersItems(t *testing.T) {
	t.Parallel()

	p := New(config.Default(), nil, nil, logging.Discard())
	strong := p.Predict(strongItem())
	weak := p.Predict(weakItem())

	assert.Equal(t, BackendRules, strong.Backend)
	assert.Greater(t, strong.Importance, weak.Importance)
	assert.Greater(t, strong.Credibility, weak.Credibility)
	assert.Greater(t, strong.Confidence, weak.Confidence)
	assert.True(t, p.BelowThresholds(weak))
	assert.False(t, p.BelowThresholds(strong))

	for _, pred := range []Prediction{strong, weak} {
		assert.GreaterOrEqual(t, pred.Importance, 0.0)
		assert.LessOrEqual(t, pred.Importance, 1.0)
		assert.GreaterOrEqual(t, pred.Credibility, 0.0)
		assert.LessOrEqual(t, pred.Credibility, 1.0)
	}
}

func TestRuleBackendIsDeterministic(t *testing.T) {
	t.Parallel()

	p := New(config.Default(), nil, nil, logging.Discard())
	first := p.Predict(strongItem())
	for i := 0; i < 20; i++ {
		require.Equal(t, first, p.Predict(strongItem()))
	}
}

func TestTitleLengthScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, titleLengthScore(0))
	assert.InDelta(t, 0.5, titleLengthScore(3), 1e-9)
	assert.Equal(t, 1.0, titleLengthScore(6))
	assert.Equal(t, 1.0, titleLengthScore(15))
	assert.InDelta(t, 0.5, titleLengthScore(25), 1e-9)
	assert.Equal(t, 0.3, titleLengthScore(60))
}

func writeBundle(t *testing.T, dir *artifact.Dir, names []string) {
	t.Helper()
	width := features.Len()
	weights := make([]float64, width)
	weights[0] = 1
	model := &mlmodel.Model{Type: mlmodel.KindLogReg, LogReg: &mlmodel.LogisticRegression{Weights: weights, Bias: 0.2}}
	mean := make([]float64, width)
	scale := make([]float64, width)
	for i := range scale {
		scale[i] = 1
	}
	_, err := dir.Replace(context.Background(), &artifact.Bundle{
		Importance:  model,
		Credibility: model,
		Scaler:      &mlmodel.Scaler{Mean: mean, Scale: scale},
		Meta:        artifact.Metadata{ModelType: "logreg", Features: names},
	}, false)
	require.NoError(t, err)
}

func TestMLBackendUsesLoadedBundle(t *testing.T) {
	t.Parallel()

	dir := artifact.NewDir(t.TempDir(), logging.Discard())
	writeBundle(t, dir, features.Names())
	store := artifact.NewStore(dir, logging.Discard())
	_, err := store.Refresh()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.LocalPredictor.ModelType = "logreg"
	p := New(cfg, store, metrics.New(), logging.Discard())

	got := p.Predict(strongItem())
	assert.Equal(t, BackendML, got.Backend)
	assert.Greater(t, got.Importance, 0.99)
	assert.Equal(t, features.Completeness(strongItem()), got.Confidence)
}

func TestMLBackendFallsBackOnFeatureDrift(t *testing.T) {
	t.Parallel()

	dir := artifact.NewDir(t.TempDir(), logging.Discard())
	names := append([]string{}, features.Names()...)
	names[0], names[1] = names[1], names[0]
	writeBundle(t, dir, names)
	store := artifact.NewStore(dir, logging.Discard())
	_, err := store.Refresh()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.LocalPredictor.ModelType = "randomforest"
	sink := metrics.New()
	p := New(cfg, store, sink, logging.Discard())

	got := p.Predict(strongItem())
	assert.Equal(t, BackendRules, got.Backend)
	assert.Equal(t, 1.0, sink.Counter(metrics.PredictorFallback))
}

func TestMLBackendWithoutBundleUsesRules(t *testing.T) {
	t.Parallel()

	store := artifact.NewStore(artifact.NewDir(t.TempDir(), logging.Discard()), logging.Discard())
	cfg := config.Default()
	cfg.LocalPredictor.ModelType = "logreg"
	sink := metrics.New()
	p := New(cfg, store, sink, logging.Discard())

	assert.Equal(t, BackendRules, p.Predict(strongItem()).Backend)
	assert.Zero(t, sink.Counter(metrics.PredictorFallback))
}
