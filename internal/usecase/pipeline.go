package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/cascade"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/reactor"
)

// Scorer is the slice of the cascade the pipeline drives.
type Scorer interface {
	Fingerprint(item domain.NewsItem) string
	ScoreBatch(ctx context.Context, items []domain.NewsItem) []cascade.Result
}

// PipelineDeps wires the driven adapters into the ingest pipeline.
type PipelineDeps struct {
	Source  ports.ItemSource
	Scorer  Scorer
	Items   ports.ItemStore
	Digests ports.DigestStore
	Reactor *reactor.Reactor
	Sink    *metrics.Sink
	Logger  *slog.Logger
}

// IngestReport summarizes one ProcessDay run.
type IngestReport struct {
	Day      time.Time
	Fetched  int
	Known    int
	Scored   int
	Rejected int
	Digests  int
	Stages   map[string]int
}

// Pipeline implements the news-ingestion workflow.
type Pipeline struct {
	source  ports.ItemSource
	scorer  Scorer
	items   ports.ItemStore
	digests ports.DigestStore
	reactor *reactor.Reactor
	sink    *metrics.Sink
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:  deps.Source,
		scorer:  deps.Scorer,
		items:   deps.Items,
		digests: deps.Digests,
		reactor: deps.Reactor,
		sink:    deps.Sink,
		logger:  logger.With("component", "pipeline"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ProcessDay fetches the day's items, scores the unseen ones, persists the
// verdicts and turns accepted items into ready digests.
func (p *Pipeline) ProcessDay(ctx context.Context, day time.Time) (IngestReport, error) {
	report := IngestReport{Day: day, Stages: map[string]int{}}
	if p.source == nil || p.scorer == nil {
		return report, nil
	}

	items, err := p.source.FetchDaily(ctx, day)
	if err != nil {
		return report, fmt.Errorf("fetch daily: %w", err)
	}
	report.Fetched = len(items)

	fps := make([]string, len(items))
	for i, item := range items {
		fps[i] = p.scorer.Fingerprint(item)
	}

	known := map[string]bool{}
	if p.items != nil && len(fps) > 0 {
		known, err = p.items.AlreadyScored(ctx, fps)
		if err != nil {
			return report, fmt.Errorf("load scored: %w", err)
		}
	}

	fresh := make([]domain.NewsItem, 0, len(items))
	batchSeen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if known[fps[i]] {
			report.Known++
			continue
		}
		if _, dup := batchSeen[fps[i]]; dup {
			report.Known++
			continue
		}
		batchSeen[fps[i]] = struct{}{}
		fresh = append(fresh, item)
	}

	results := p.scorer.ScoreBatch(ctx, fresh)
	for i, res := range results {
		item := fresh[i]
		report.Stages[res.Stage]++

		if !persistable(res) {
			if !res.Accepted() {
				report.Rejected++
			}
			continue
		}
		scored := domain.ScoredItem{
			Item:        item,
			Fingerprint: res.Fingerprint,
			Scores: domain.Scores{
				Importance:  res.Importance,
				Credibility: res.Credibility,
				Summary:     res.Summary,
				Scorer:      res.Stage,
			},
			ScoredAt: p.now().UTC(),
		}
		if p.items != nil {
			if err := p.items.SaveScored(ctx, scored); err != nil {
				return report, fmt.Errorf("persist item %s: %w", item.ID, err)
			}
		}
		report.Scored++

		if !publishWorthy(res) {
			continue
		}
		if err := p.createDigest(ctx, scored); err != nil {
			return report, err
		}
		report.Digests++
	}

	p.logger.Info("ingest done",
		"day", day.Format("2006-01-02"),
		"fetched", report.Fetched,
		"known", report.Known,
		"scored", report.Scored,
		"rejected", report.Rejected,
		"digests", report.Digests,
	)
	return report, nil
}

func (p *Pipeline) createDigest(ctx context.Context, s domain.ScoredItem) error {
	if p.digests == nil {
		return nil
	}
	d := BuildDigest(p.newID(), s, p.now().UTC())
	if err := p.digests.SaveDigest(ctx, d); err != nil {
		return fmt.Errorf("save digest for %s: %w", s.Item.ID, err)
	}
	p.sink.Inc(metrics.DigestsCreated)
	if p.reactor != nil {
		p.reactor.Emit(ctx, reactor.DigestCreated, "pipeline", map[string]any{
			"digest_id":   d.ID,
			"title":       d.Title,
			"category":    d.Category,
			"importance":  d.Importance,
			"credibility": d.Credibility,
		})
	}
	return nil
}

// BuildDigest turns a scored item into a ready digest.
func BuildDigest(id string, s domain.ScoredItem, now time.Time) domain.Digest {
	summary := strings.TrimSpace(s.Scores.Summary)
	if summary == "" {
		summary = features.PlainText(s.Item.Body)
	}
	return domain.Digest{
		ID:           id,
		Fingerprint:  s.Fingerprint,
		Title:        strings.TrimSpace(s.Item.Title),
		Summary:      summary,
		WhyImportant: WhyImportant(s),
		Category:     features.CanonicalCategory(s.Item.Category),
		Source:       s.Item.Source,
		URL:          features.CleanURL(s.Item.URL),
		Importance:   s.Scores.Importance,
		Credibility:  s.Scores.Credibility,
		Status:       domain.DigestReady,
		CreatedAt:    now,
	}
}

// WhyImportant explains the verdict in one line from scores and signals.
func WhyImportant(s domain.ScoredItem) string {
	var parts []string
	switch imp := s.Scores.Importance; {
	case imp >= 0.85:
		parts = append(parts, "Major development")
	case imp >= 0.7:
		parts = append(parts, "Significant development")
	default:
		parts = append(parts, "Noteworthy update")
	}
	if cat := features.CanonicalCategory(s.Item.Category); cat != domain.CategoryOther {
		parts[0] += " in " + cat
	}
	if rep := features.SourceReputation(s.Item.Source); rep >= 0.8 || s.Scores.Credibility >= 0.85 {
		parts = append(parts, "reported by a reputable source")
	}
	if hits := features.ImportantWordHits(s.Item.Title + " " + s.Item.Body); hits > 0 {
		parts = append(parts, fmt.Sprintf("%d high-impact signal(s)", hits))
	}
	return strings.Join(parts, "; ") + "."
}

// persistable reports whether res carries trustworthy scores worth keeping
// as training data.
func persistable(res cascade.Result) bool {
	switch res.Stage {
	case cascade.StageLargeModel:
		return res.Reason == cascade.ReasonScored
	case cascade.StageCache, cascade.StageCacheRefresh, cascade.StagePredictor:
		return res.Accepted()
	}
	return false
}

// publishWorthy reports whether res passed every gate with model-grade scores.
func publishWorthy(res cascade.Result) bool {
	if !res.Accepted() {
		return false
	}
	switch res.Stage {
	case cascade.StageLargeModel:
		return res.Reason == cascade.ReasonScored
	case cascade.StageCache, cascade.StageCacheRefresh:
		return true
	}
	return false
}
