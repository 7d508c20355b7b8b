// Package prefilter implements the rule gate that decides whether an item is
// worth scoring at all.
package prefilter

import (
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

// Reason tags.
const (
	ReasonPreFilter    = "pre_filter"
	ReasonLowRelevance = "low_relevance"
	ReasonPassed       = "passed"
	ReasonDisabled     = "prefilter_disabled"
)

const (
	minRelevance    = 0.3
	markerBase      = 0.3
	markerStep      = 0.1
	markerCap       = 0.8
	highImpactBoost = 0.2
	noMarkerScore   = 0.5
)

// Result is the prefilter verdict.
type Result struct {
	Passed bool
	Reason string
	Score  float64
}

// Filter is a stateless rule evaluator. It is safe for concurrent use.
type Filter struct {
	enabled       bool
	minTitleWords int
	stopMarkers   []string
	markers       map[string][]string
	highImpact    []string
}

// New builds a Filter from configuration.
func New(cfg config.PrefilterConfig, enabled bool) *Filter {
	markers := make(map[string][]string, len(cfg.ImportanceMarkers))
	for cat, list := range cfg.ImportanceMarkers {
		markers[strings.ToLower(strings.TrimSpace(cat))] = lowerAll(list)
	}
	return &Filter{
		enabled:       enabled,
		minTitleWords: cfg.MinTitleWords,
		stopMarkers:   lowerAll(cfg.StopMarkers),
		markers:       markers,
		highImpact:    lowerAll(cfg.HighImpactKeywords),
	}
}

// Enabled reports whether the rules are evaluated.
func (f *Filter) Enabled() bool {
	return f.enabled
}

// Evaluate applies the rules in order; the first failure wins.
func (f *Filter) Evaluate(item domain.NewsItem) Result {
	if !f.enabled {
		return Result{Passed: true, Reason: ReasonDisabled, Score: 1}
	}

	if len(features.Words(item.Title)) < f.minTitleWords {
		return Result{Reason: ReasonPreFilter}
	}

	title := strings.ToLower(item.Title)
	body := strings.ToLower(features.PlainText(item.Body))
	if f.hasStopMarker(title) || f.hasStopMarker(body) {
		return Result{Reason: ReasonPreFilter}
	}

	score := f.relevance(title+" "+body, item.Category)
	if score < minRelevance {
		return Result{Reason: ReasonLowRelevance, Score: score}
	}
	return Result{Passed: true, Reason: ReasonPassed, Score: score}
}

// HasStopMarker reports whether text contains any configured stop marker.
func (f *Filter) HasStopMarker(text string) bool {
	return f.hasStopMarker(strings.ToLower(text))
}

func (f *Filter) hasStopMarker(lowered string) bool {
	for _, m := range f.stopMarkers {
		if m != "" && strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

func (f *Filter) relevance(text, category string) float64 {
	if len(f.markers) == 0 {
		return noMarkerScore
	}

	hits := 0
	for _, m := range f.markersFor(category) {
		if strings.Contains(text, m) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	score := min(markerCap, markerBase+markerStep*float64(hits))
	for _, k := range f.highImpact {
		if k != "" && strings.Contains(text, k) {
			score = min(1.0, score+highImpactBoost)
			break
		}
	}
	return score
}

// markersFor returns the markers of the item's category, or the union of all
// categories when the item's category has none configured.
func (f *Filter) markersFor(category string) []string {
	if list, ok := f.markers[features.CanonicalCategory(category)]; ok && len(list) > 0 {
		return list
	}
	seen := make(map[string]struct{})
	var all []string
	for _, list := range f.markers {
		for _, m := range list {
			if _, dup := seen[m]; dup || m == "" {
				continue
			}
			seen[m] = struct{}{}
			all = append(all, m)
		}
	}
	return all
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
