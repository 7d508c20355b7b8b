// Package training builds labeled datasets from the pipeline's own decisions
// and retrains the local predictor from them.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/ports"
)

// Label cut-offs applied to stored scores.
const (
	ImportancePositive  = 0.6
	CredibilityPositive = 0.7
)

// ErrInsufficientData is returned when fewer than min_samples rows exist.
var ErrInsufficientData = errors.New("training: insufficient data")

// CollectResult summarizes one collection run. It is populated even when
// Collect returns an error.
type CollectResult struct {
	Samples        []Sample
	Internal       int
	Rejections     int
	Engagement     int
	Duplicates     int
	SkippedLines   int
	ImportancePos  int
	CredibilityPos int
	MinSamples     int
	MaxSamples     int
	DatasetPath    string
	Written        bool
}

// Total is the number of collected samples.
func (r CollectResult) Total() int { return len(r.Samples) }

// CollectorDeps are the sources read by the collector. Digests may be nil.
type CollectorDeps struct {
	Items   ports.ItemStore
	Digests ports.DigestStore
	Logger  *slog.Logger
}

// Collector assembles the training dataset.
type Collector struct {
	items           ports.ItemStore
	digests         ports.DigestStore
	rejectionPath   string
	datasetPath     string
	minSamples      int
	maxSamples      int
	signalThreshold int
	logger          *slog.Logger
}

// NewCollector wires the collector from configuration.
func NewCollector(cfg config.Config, deps CollectorDeps) *Collector {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		items:           deps.Items,
		digests:         deps.Digests,
		rejectionPath:   cfg.Paths.RejectionLog,
		datasetPath:     cfg.Paths.DatasetFile,
		minSamples:      cfg.SelfTuning.MinSamples,
		maxSamples:      cfg.SelfTuning.MaxSamples,
		signalThreshold: cfg.Feedback.SignalThreshold,
		logger:          logger.With("component", "collector"),
	}
}

// DatasetPath is where Collect writes its output.
func (c *Collector) DatasetPath() string { return c.datasetPath }

// Collect reads stored items, the rejection log and engaged digests, labels
// them and writes the dataset file. It returns ErrInsufficientData (wrapped)
// with a populated result when the min_samples floor is not met.
func (c *Collector) Collect(ctx context.Context) (CollectResult, error) {
	res := CollectResult{MinSamples: c.minSamples, MaxSamples: c.maxSamples, DatasetPath: c.datasetPath}
	seen := make(map[string]int)
	var labeled []domain.LabeledItem

	add := func(l domain.LabeledItem) bool {
		key := features.NormalizeTitle(l.Item.Title)
		if key == "" {
			return false
		}
		if idx, ok := seen[key]; ok {
			res.Duplicates++
			if l.Origin == OriginEngagement {
				labeled[idx].ImportancePos = 1
				labeled[idx].Origin = OriginEngagement
			}
			return false
		}
		seen[key] = len(labeled)
		labeled = append(labeled, l)
		return true
	}

	if c.digests != nil && c.signalThreshold > 0 {
		engaged, err := c.digests.EngagedDigests(ctx, c.signalThreshold)
		if err != nil {
			return res, fmt.Errorf("load engaged digests: %w", err)
		}
		for _, d := range engaged {
			if add(engagementSample(d)) {
				res.Engagement++
			}
		}
	}

	if c.items != nil {
		limit := c.maxSamples
		if limit <= 0 {
			limit = 100000
		}
		scored, err := c.items.ScoredItems(ctx, limit)
		if err != nil {
			return res, fmt.Errorf("load scored items: %w", err)
		}
		for _, s := range scored {
			if add(InternalSample(s)) {
				res.Internal++
			}
		}
	}

	if c.rejectionPath != "" {
		recs, skipped, err := ReadRejections(c.rejectionPath)
		res.SkippedLines = skipped
		if err != nil {
			c.logger.Warn("rejection log partially read", "path", c.rejectionPath, "error", err)
		}
		for _, r := range recs {
			if add(RejectionSample(r)) {
				res.Rejections++
			}
		}
	}

	if c.maxSamples > 0 && len(labeled) > c.maxSamples {
		labeled = labeled[:c.maxSamples]
	}
	res.Samples = make([]Sample, len(labeled))
	for i, l := range labeled {
		res.Samples[i] = SampleFrom(l)
		res.ImportancePos += l.ImportancePos
		res.CredibilityPos += l.CredibilityPos
	}

	c.logger.Info("training data collected",
		"total", res.Total(),
		"internal", res.Internal,
		"rejections", res.Rejections,
		"engagement", res.Engagement,
		"duplicates", res.Duplicates,
		"skipped_lines", res.SkippedLines,
	)

	if res.Total() < c.minSamples {
		return res, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, res.Total(), c.minSamples)
	}
	if c.datasetPath != "" {
		if err := WriteDataset(c.datasetPath, res.Samples); err != nil {
			return res, err
		}
		res.Written = true
	}
	return res, nil
}

// InternalSample labels a stored scored item.
func InternalSample(s domain.ScoredItem) domain.LabeledItem {
	return domain.LabeledItem{
		Item:           s.Item,
		ImportancePos:  positive(s.Scores.Importance, ImportancePositive),
		CredibilityPos: positive(s.Scores.Credibility, CredibilityPositive),
		Origin:         OriginInternal,
	}
}

// RejectionSample turns a rejection-log line into a negative sample.
func RejectionSample(r domain.Rejection) domain.LabeledItem {
	return domain.LabeledItem{
		Item: domain.NewsItem{
			Title:       r.Title,
			Source:      r.Source,
			URL:         r.URL,
			Category:    r.Category,
			PublishedAt: r.Timestamp,
		},
		Origin: OriginRejection,
	}
}

func engagementSample(d domain.Digest) domain.LabeledItem {
	at := d.CreatedAt
	if d.PublishedAt != nil {
		at = *d.PublishedAt
	}
	return domain.LabeledItem{
		Item: domain.NewsItem{
			ID:          d.ID,
			Title:       d.Title,
			Body:        d.Summary,
			Source:      d.Source,
			URL:         d.URL,
			Category:    d.Category,
			PublishedAt: at,
		},
		ImportancePos:  1,
		CredibilityPos: positive(d.Credibility, CredibilityPositive),
		Origin:         OriginEngagement,
	}
}

func positive(v, cut float64) int {
	if v >= cut {
		return 1
	}
	return 0
}

