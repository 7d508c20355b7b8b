package training

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/logging"
)

type fakeItems struct {
	items []domain.ScoredItem
	err   error
}

func (f *fakeItems) AlreadyScored(context.Context, []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeItems) SaveScored(_ context.Context, item domain.ScoredItem) error {
	f.items = append(f.items, item)
	return nil
}

func (f *fakeItems) ScoredItems(_ context.Context, limit int) ([]domain.ScoredItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

type fakeDigests struct {
	engaged []domain.Digest
}

func (f *fakeDigests) SaveDigest(context.Context, domain.Digest) error { return nil }
func (f *fakeDigests) Digest(context.Context, string) (domain.Digest, error) {
	return domain.Digest{}, fmt.Errorf("not found")
}
func (f *fakeDigests) DigestsByStatus(context.Context, domain.DigestStatus, int) ([]domain.Digest, error) {
	return nil, nil
}
func (f *fakeDigests) UpdateStatus(context.Context, string, domain.DigestStatus) error { return nil }
func (f *fakeDigests) MarkPublished(context.Context, domain.PublicationRecord) (bool, error) {
	return true, nil
}
func (f *fakeDigests) UpdateEngagement(context.Context, string, float64, int) error { return nil }
func (f *fakeDigests) EngagedDigests(_ context.Context, threshold int) ([]domain.Digest, error) {
	var out []domain.Digest
	for _, d := range f.engaged {
		if d.ReactionTotal > threshold {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDigests) ExpireReady(context.Context, time.Time) (int, error) { return 0, nil }

func scored(title string, imp, cred float64) domain.ScoredItem {
	return domain.ScoredItem{
		Item: domain.NewsItem{
			Title:       title,
			Body:        "Body for " + title,
			Source:      "Reuters",
			Category:    "markets",
			PublishedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		},
		Scores: domain.Scores{Importance: imp, Credibility: cred},
	}
}

func collectorConfig(t *testing.T, minSamples int) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RejectionLog = filepath.Join(dir, "rejections.log")
	cfg.Paths.DatasetFile = filepath.Join(dir, "dataset.csv")
	cfg.SelfTuning.MinSamples = minSamples
	cfg.SelfTuning.MaxSamples = 100
	cfg.Feedback.SignalThreshold = 5
	return cfg
}

func TestCollectLabelsAllSources(t *testing.T) {
	t.Parallel()

	cfg := collectorConfig(t, 3)
	items := &fakeItems{items: []domain.ScoredItem{
		scored("Central bank raises rates by half a point", 0.65, 0.75),
		scored("Local bakery changes opening hours again", 0.2, 0.72),
		scored("Quarterly earnings beat analyst expectations widely", 0.59, 0.69),
	}}
	digests := &fakeDigests{engaged: []domain.Digest{
		{ID: "d1", Title: "Local bakery changes opening hours again", Credibility: 0.9, ReactionTotal: 8},
		{ID: "d2", Title: "Chip maker unveils new accelerator design", Credibility: 0.5, ReactionTotal: 12},
		{ID: "d3", Title: "Quiet digest nobody reacted to", ReactionTotal: 2},
	}}
	log := NewRejectionFile(cfg.Paths.RejectionLog)
	require.NoError(t, log.Append(context.Background(), domain.Rejection{Reason: "pre_filter", Title: "Sponsored giveaway for loyal readers"}))

	c := NewCollector(cfg, CollectorDeps{Items: items, Digests: digests, Logger: logging.Discard()})
	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Engagement)
	assert.Equal(t, 2, res.Internal)
	assert.Equal(t, 1, res.Rejections)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 5, res.Total())
	assert.True(t, res.Written)

	ds, err := ReadDataset(cfg.Paths.DatasetFile)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 5)

	byOrigin := map[string][]Sample{}
	for _, s := range ds.Samples {
		byOrigin[s.Origin] = append(byOrigin[s.Origin], s)
	}
	require.Len(t, byOrigin[OriginEngagement], 2)
	for _, s := range byOrigin[OriginEngagement] {
		assert.Equal(t, 1, s.ImportancePos)
	}
	require.Len(t, byOrigin[OriginRejection], 1)
	assert.Zero(t, byOrigin[OriginRejection][0].ImportancePos)
	assert.Zero(t, byOrigin[OriginRejection][0].CredibilityPos)

	require.Len(t, byOrigin[OriginInternal], 2)
	assert.Equal(t, 1, byOrigin[OriginInternal][0].ImportancePos)
	assert.Equal(t, 1, byOrigin[OriginInternal][0].CredibilityPos)
	assert.Zero(t, byOrigin[OriginInternal][1].ImportancePos)
	assert.Zero(t, byOrigin[OriginInternal][1].CredibilityPos)
}

func TestCollectInsufficientDataStillReports(t *testing.T) {
	t.Parallel()

	cfg := collectorConfig(t, 10)
	items := &fakeItems{items: []domain.ScoredItem{scored("Only one stored item in the table", 0.9, 0.9)}}
	c := NewCollector(cfg, CollectorDeps{Items: items, Logger: logging.Discard()})

	res, err := c.Collect(context.Background())
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 1, res.Total())
	assert.Equal(t, 10, res.MinSamples)
	assert.False(t, res.Written)
	assert.NoFileExists(t, cfg.Paths.DatasetFile)
}

func TestCollectRespectsMaxSamples(t *testing.T) {
	t.Parallel()

	cfg := collectorConfig(t, 1)
	cfg.SelfTuning.MaxSamples = 3
	items := &fakeItems{}
	for i := 0; i < 6; i++ {
		items.items = append(items.items, scored(fmt.Sprintf("Headline number %d about markets today", i), 0.7, 0.8))
	}
	c := NewCollector(cfg, CollectorDeps{Items: items, Logger: logging.Discard()})

	res, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total())
}

func TestDatasetHeaderAndDrift(t *testing.T) {
	t.Parallel()

	h := Header()
	assert.Equal(t, ColImportancePos, h[0])
	assert.Equal(t, ColCredibilityPos, h[1])
	assert.Equal(t, features.Names(), h[2:2+features.Len()])
	assert.Equal(t, []string{ColSource, ColCategory, ColTimestamp, ColOrigin}, h[2+features.Len():])

	sample := SampleFrom(domain.LabeledItem{Item: scored("Stable header round trip check", 0.7, 0.8).Item, ImportancePos: 1, Origin: OriginInternal})
	var buf bytes.Buffer
	require.NoError(t, EncodeDataset(&buf, []Sample{sample}))
	buf.WriteString("1,1,not-a-number\n")

	ds, err := DecodeDataset(&buf)
	require.NoError(t, err)
	require.Len(t, ds.Samples, 1)
	assert.Equal(t, 1, ds.Skipped)
	assert.Equal(t, sample.Features, ds.Samples[0].Features)
	assert.Equal(t, "markets", ds.Samples[0].Category)

	drifted := strings.Replace(strings.Join(Header(), ","), "title_chars", "title_len", 1) + "\n"
	_, err = DecodeDataset(strings.NewReader(drifted))
	require.ErrorIs(t, err, ErrFeatureDrift)
}
