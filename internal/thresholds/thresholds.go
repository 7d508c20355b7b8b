// Package thresholds resolves per-category acceptance minima.
package thresholds

import (
	"strings"
	"sync"

	"NewsDesk/internal/config"
)

// Reason tags returned by Check.
const (
	ReasonImportance  = "importance_below_threshold"
	ReasonCredibility = "credibility_below_threshold"
	ReasonPassed      = "thresholds_passed"
)

// Pair is an (importance, credibility) minimum.
type Pair struct {
	Importance  float64 `json:"importance"`
	Credibility float64 `json:"credibility"`
}

// Snapshot describes the active thresholds.
type Snapshot struct {
	Enabled    bool            `json:"enabled"`
	Defaults   Pair            `json:"defaults"`
	Categories map[string]Pair `json:"categories"`
}

// Adaptive returns category-specific thresholds. Safe for concurrent use.
type Adaptive struct {
	mu         sync.RWMutex
	enabled    bool
	defaults   Pair
	categories map[string]Pair
}

// New builds thresholds from the loaded configuration.
func New(cfg config.Config) *Adaptive {
	a := &Adaptive{}
	a.Reload(cfg)
	return a
}

// Reload swaps in thresholds from a reread configuration.
func (a *Adaptive) Reload(cfg config.Config) {
	categories := make(map[string]Pair, len(cfg.CategoryThresholds))
	for name, t := range cfg.CategoryThresholds {
		categories[normalize(name)] = Pair{Importance: t.Importance, Credibility: t.Credibility}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = cfg.Features.AdaptiveThresholdsEnabled
	a.defaults = Pair{Importance: cfg.DefaultThresholds.Importance, Credibility: cfg.DefaultThresholds.Credibility}
	a.categories = categories
}

// Get returns the thresholds for category, or the defaults when the category
// is unknown or the feature is disabled.
func (a *Adaptive) Get(category string) Pair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled {
		return a.defaults
	}
	if p, ok := a.categories[normalize(category)]; ok {
		return p
	}
	return a.defaults
}

// Check reports whether the scores clear the category's thresholds and names
// the first failing dimension otherwise.
func (a *Adaptive) Check(importance, credibility float64, category string) (bool, string) {
	p := a.Get(category)
	switch {
	case importance < p.Importance:
		return false, ReasonImportance
	case credibility < p.Credibility:
		return false, ReasonCredibility
	default:
		return true, ReasonPassed
	}
}

// Snapshot returns a copy of the active configuration.
func (a *Adaptive) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cats := make(map[string]Pair, len(a.categories))
	for k, v := range a.categories {
		cats[k] = v
	}
	return Snapshot{Enabled: a.enabled, Defaults: a.defaults, Categories: cats}
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
