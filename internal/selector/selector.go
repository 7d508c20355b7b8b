// Package selector ranks eligible digests for the next posting slot.
package selector

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

const neutralEngagement = 0.5

// RecentChecker reports ids published in the recent past.
type RecentChecker interface {
	RecentlyPublished(id string) bool
}

// Candidate is a digest with its priority score.
type Candidate struct {
	Digest domain.Digest
	Score  float64
}

// Selection is the ranked top-K.
type Selection struct {
	Items        []Candidate
	AverageScore float64
	Considered   int
	Eligible     int
}

// Digests returns the selected digests in rank order.
func (s Selection) Digests() []domain.Digest {
	out := make([]domain.Digest, len(s.Items))
	for i, c := range s.Items {
		out[i] = c.Digest
	}
	return out
}

// Selector scores and picks digests.
type Selector struct {
	enabled          bool
	topK             int
	importanceMin    float64
	credibilityMin   float64
	engagementWeight float64
	categoryBoosts   map[string]float64
	reputationBoost  float64
	reputable        []string
	recent           RecentChecker
	logger           *slog.Logger
}

// New builds a selector. recent may be nil.
func New(cfg config.Config, recent RecentChecker, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	sp := cfg.SmartPosting
	topK := sp.TopK
	if topK <= 0 {
		topK = 3
	}
	boosts := make(map[string]float64, len(sp.CategoryBoosts))
	for k, v := range sp.CategoryBoosts {
		boosts[features.CanonicalCategory(k)] = v
	}
	reputable := make([]string, 0, len(sp.ReputableSources))
	for _, r := range sp.ReputableSources {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			reputable = append(reputable, r)
		}
	}
	return &Selector{
		enabled:          cfg.SmartPostingEnabled(),
		topK:             topK,
		importanceMin:    sp.ImportanceMin,
		credibilityMin:   sp.CredibilityMin,
		engagementWeight: sp.EngagementWeight,
		categoryBoosts:   boosts,
		reputationBoost:  sp.ReputationBoost,
		reputable:        reputable,
		recent:           recent,
		logger:           logger.With("component", "selector"),
	}
}

// Priority is the geometric mean of the scores plus engagement, category and
// reputation terms.
func (s *Selector) Priority(d domain.Digest) float64 {
	score := math.Sqrt(domain.Clamp01(d.Importance) * domain.Clamp01(d.Credibility))

	engagement := neutralEngagement
	if d.EngagementScore != nil {
		engagement = domain.Clamp01(*d.EngagementScore)
	}
	score += s.engagementWeight * engagement
	score += s.categoryBoosts[features.CanonicalCategory(d.Category)]

	source := strings.ToLower(d.Source + " " + d.URL)
	for _, r := range s.reputable {
		if strings.Contains(source, r) {
			score += s.reputationBoost
			break
		}
	}
	return score
}

// Eligible applies the status, publication, recency and score gates.
func (s *Selector) Eligible(d domain.Digest) bool {
	if !d.Publishable() {
		return false
	}
	if s.recent != nil && s.recent.RecentlyPublished(d.ID) {
		return false
	}
	return d.Importance >= s.importanceMin && d.Credibility >= s.credibilityMin
}

// Select returns the top-K eligible digests by priority. When smart posting
// is off it returns the first K publishable digests in input order.
func (s *Selector) Select(digests []domain.Digest) Selection {
	sel := Selection{Considered: len(digests)}

	if !s.enabled {
		for _, d := range digests {
			if !d.Publishable() || (s.recent != nil && s.recent.RecentlyPublished(d.ID)) {
				continue
			}
			sel.Eligible++
			if len(sel.Items) < s.topK {
				sel.Items = append(sel.Items, Candidate{Digest: d, Score: s.Priority(d)})
			}
		}
		sel.AverageScore = average(sel.Items)
		return sel
	}

	cands := make([]Candidate, 0, len(digests))
	for _, d := range digests {
		if !s.Eligible(d) {
			continue
		}
		cands = append(cands, Candidate{Digest: d, Score: s.Priority(d)})
	}
	sel.Eligible = len(cands)

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Digest.CreatedAt.Before(cands[j].Digest.CreatedAt)
	})
	if len(cands) > s.topK {
		cands = cands[:s.topK]
	}
	sel.Items = cands
	sel.AverageScore = average(cands)

	s.logger.Debug("selected digests", "considered", sel.Considered, "eligible", sel.Eligible, "picked", len(sel.Items), "avg_score", sel.AverageScore)
	return sel
}

func average(cands []Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cands {
		sum += c.Score
	}
	return sum / float64(len(cands))
}
