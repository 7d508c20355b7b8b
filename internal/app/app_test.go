package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/config"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
)

func testConfig(t *testing.T, listingURL, modelURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "newsdesk.db")
	cfg.Paths = config.PathsConfig{
		RejectionLog: filepath.Join(dir, "rejections.log"),
		DatasetFile:  filepath.Join(dir, "dataset.csv"),
		PublishLog:   filepath.Join(dir, "publish.log"),
		EventLog:     filepath.Join(dir, "events.log"),
	}
	cfg.LocalPredictor.ModelDir = filepath.Join(dir, "models")
	cfg.Cache.SnapshotPath = filepath.Join(dir, "cache.jsonl")
	cfg.HTTP.Addr = ""
	cfg.Features.LocalPredictorEnabled = false
	cfg.Features.SmartPosting.AdaptiveSchedule = false
	cfg.ChatGPT.Endpoint = modelURL
	cfg.ChatGPT.APIKey = "test-key"
	cfg.Sites = []config.SiteConfig{{
		Name:       "Coin Wire",
		Scanner:    "html",
		Category:   "crypto",
		Options:    map[string]string{"item": "li.story"},
		Categories: []config.CategoryConfig{{Name: "front", URL: listingURL}},
	}}
	return cfg
}

func newFakes(t *testing.T) (listing, model *httptest.Server, calls *atomic.Int32) {
	t.Helper()
	calls = &atomic.Int32{}
	listing = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `<ul><li class="story"><a href="/a/1">Regulators approve first spot bitcoin ETF listing</a></li></ul>`)
	}))
	model = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"importance=0.9, credibility=0.85\nsummary=Spot ETF approved"}}]}`)
	}))
	t.Cleanup(listing.Close)
	t.Cleanup(model.Close)
	return listing, model, calls
}

func TestIngestThenPublishDryRun(t *testing.T) {
	listing, model, calls := newFakes(t)
	cfg := testConfig(t, listing.URL+"/news", model.URL)

	ctx := context.Background()
	a, err := New(ctx, cfg, logging.Discard(), Options{DryRun: true})
	require.NoError(t, err)

	report, err := a.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Digests)
	assert.Equal(t, int32(1), calls.Load())

	again, err := a.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Known)
	assert.Equal(t, int32(1), calls.Load())

	cycle, err := a.Publish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.DryRun)
	assert.Equal(t, float64(1), a.Metrics().Counter(metrics.PublishDryRun))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.Cache.SnapshotPath)
	assert.NoError(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	listing, model, _ := newFakes(t)
	cfg := testConfig(t, listing.URL+"/news", model.URL)

	ctx := context.Background()
	a, err := New(ctx, cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	require.Error(t, a.Start(ctx))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Shutdown(ctx))
}

func TestTrainSkipsWithoutData(t *testing.T) {
	listing, model, _ := newFakes(t)
	cfg := testConfig(t, listing.URL+"/news", model.URL)
	cfg.Features.SelfTuningEnabled = false

	ctx := context.Background()
	a, err := New(ctx, cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	defer a.Close()

	report, err := a.Train(ctx, false)
	require.NoError(t, err)
	assert.False(t, report.Ran)
	assert.Equal(t, "self_tuning_disabled", report.Skipped)
}
