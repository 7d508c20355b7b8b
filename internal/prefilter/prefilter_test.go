package prefilter

import (
	"math"
	"testing"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
)

func testFilter() *Filter {
	return New(config.PrefilterConfig{
		MinTitleWords: 4,
		StopMarkers:   []string{"Sponsored", "click here"},
		ImportanceMarkers: map[string][]string{
			"crypto":  {"bitcoin", "etf", "sec"},
			"markets": {"fed", "rate"},
		},
		HighImpactKeywords: []string{"breaking"},
	}, true)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	f := testFilter()
	tests := []struct {
		name   string
		item   domain.NewsItem
		passed bool
		reason string
		score  float64
	}{
		{
			name:   "short title",
			item:   domain.NewsItem{Title: "Bitcoin up", Category: "crypto"},
			reason: ReasonPreFilter,
		},
		{
			name:   "stop marker in title",
			item:   domain.NewsItem{Title: "Sponsored: click here to buy", Category: "crypto"},
			reason: ReasonPreFilter,
		},
		{
			name:   "stop marker in html body",
			item:   domain.NewsItem{Title: "Bitcoin ETF sees inflows today", Body: "<p>SPONSORED content</p>", Category: "crypto"},
			reason: ReasonPreFilter,
		},
		{
			name:   "no marker hits",
			item:   domain.NewsItem{Title: "Local bakery opens new shop", Category: "crypto"},
			reason: ReasonLowRelevance,
		},
		{
			name:   "one hit",
			item:   domain.NewsItem{Title: "Bitcoin climbs above key level", Category: "crypto"},
			passed: true,
			reason: ReasonPassed,
			score:  0.4,
		},
		{
			name:   "three hits",
			item:   domain.NewsItem{Title: "SEC weighs bitcoin ETF filings", Body: "bitcoin etf sec", Category: "crypto"},
			passed: true,
			reason: ReasonPassed,
			score:  0.6,
		},
		{
			name:   "high impact boost",
			item:   domain.NewsItem{Title: "Breaking: bitcoin ETF approved now", Category: "crypto"},
			passed: true,
			reason: ReasonPassed,
			score:  0.7,
		},
		{
			name:   "unknown category uses all markers",
			item:   domain.NewsItem{Title: "Fed holds rate steady again", Category: "gardening"},
			passed: true,
			reason: ReasonPassed,
			score:  0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := f.Evaluate(tt.item)
			if got.Passed != tt.passed || got.Reason != tt.reason {
				t.Fatalf("got %+v, want passed=%v reason=%s", got, tt.passed, tt.reason)
			}
			if math.Abs(got.Score-tt.score) > 1e-9 {
				t.Fatalf("score %v, want %v", got.Score, tt.score)
			}
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	t.Parallel()

	f := testFilter()
	item := domain.NewsItem{Title: "Breaking: bitcoin ETF approved now", Category: "crypto"}
	first := f.Evaluate(item)
	for i := 0; i < 10; i++ {
		if got := f.Evaluate(item); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestDisabledPassesEverything(t *testing.T) {
	t.Parallel()

	f := New(config.PrefilterConfig{MinTitleWords: 10, StopMarkers: []string{"sponsored"}}, false)
	got := f.Evaluate(domain.NewsItem{Title: "Sponsored"})
	if !got.Passed || got.Reason != ReasonDisabled {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestNoMarkersConfigured(t *testing.T) {
	t.Parallel()

	f := New(config.PrefilterConfig{MinTitleWords: 2}, true)
	got := f.Evaluate(domain.NewsItem{Title: "Anything goes here"})
	if !got.Passed || got.Score != noMarkerScore {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestHasStopMarker(t *testing.T) {
	t.Parallel()

	f := testFilter()
	if !f.HasStopMarker("Please CLICK HERE now") {
		t.Fatal("expected stop marker match")
	}
	if f.HasStopMarker("plain headline") {
		t.Fatal("unexpected stop marker match")
	}
}
