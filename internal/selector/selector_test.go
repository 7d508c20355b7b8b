package selector

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/logging"
)

type recentSet map[string]bool

func (r recentSet) RecentlyPublished(id string) bool { return r[id] }

func ready(id string, imp, cred float64) domain.Digest {
	return domain.Digest{ID: id, Importance: imp, Credibility: cred, Status: domain.DigestReady, Category: "other", Source: "blog"}
}

func ptr(v float64) *float64 { return &v }

func TestPriorityTerms(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.SmartPosting.EngagementWeight = 0.2
	cfg.SmartPosting.CategoryBoosts = map[string]float64{"crypto": 0.05}
	cfg.SmartPosting.ReputationBoost = 0.03
	cfg.SmartPosting.ReputableSources = []string{"reuters"}
	s := New(cfg, nil, logging.Discard())

	base := ready("a", 0.64, 0.81)
	assert.InDelta(t, math.Sqrt(0.64*0.81)+0.2*0.5, s.Priority(base), 1e-9)

	engaged := base
	engaged.EngagementScore = ptr(1)
	assert.InDelta(t, 0.72+0.2, s.Priority(engaged), 1e-9)

	boosted := base
	boosted.Category = "Cryptocurrency"
	boosted.Source = "Reuters"
	assert.InDelta(t, 0.72+0.1+0.05+0.03, s.Priority(boosted), 1e-9)
}

func TestSelectRanksAndFilters(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.SmartPosting.TopK = 2
	cfg.SmartPosting.ImportanceMin = 0.5
	cfg.SmartPosting.CredibilityMin = 0.6
	s := New(cfg, recentSet{"recent": true}, logging.Discard())

	published := ready("published", 0.99, 0.99)
	published.Published = true
	draft := ready("draft", 0.99, 0.99)
	draft.Status = domain.DigestDraft

	sel := s.Select([]domain.Digest{
		ready("mid", 0.7, 0.7),
		published,
		draft,
		ready("recent", 0.95, 0.95),
		ready("low-cred", 0.9, 0.5),
		ready("top", 0.9, 0.9),
		ready("low", 0.55, 0.65),
	})

	require.Len(t, sel.Items, 2)
	assert.Equal(t, "top", sel.Items[0].Digest.ID)
	assert.Equal(t, "mid", sel.Items[1].Digest.ID)
	assert.GreaterOrEqual(t, sel.Items[0].Score, sel.Items[1].Score)
	assert.Equal(t, 3, sel.Eligible)
	assert.InDelta(t, (sel.Items[0].Score+sel.Items[1].Score)/2, sel.AverageScore, 1e-9)
	for _, c := range sel.Items {
		assert.False(t, c.Digest.Published)
	}
}

func TestSelectTieBreaksByAge(t *testing.T) {
	t.Parallel()

	s := New(config.Default(), nil, logging.Discard())
	older := ready("older", 0.8, 0.8)
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := ready("newer", 0.8, 0.8)
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	sel := s.Select([]domain.Digest{newer, older})
	assert.Equal(t, []string{"older", "newer"}, []string{sel.Items[0].Digest.ID, sel.Items[1].Digest.ID})
}

func TestSelectDisabledTakesFirstN(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.SmartPosting.Enabled = false
	cfg.SmartPosting.TopK = 2
	s := New(cfg, nil, logging.Discard())

	sel := s.Select([]domain.Digest{
		ready("first", 0.1, 0.1),
		ready("second", 0.2, 0.2),
		ready("third", 0.99, 0.99),
	})
	require.Len(t, sel.Items, 2)
	assert.Equal(t, "first", sel.Items[0].Digest.ID)
	assert.Equal(t, "second", sel.Items[1].Digest.ID)
}
