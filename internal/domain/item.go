package domain

import "time"

// NewsItem is a fetched news entry or calendar-style event. Items are
// read-only after ingest. Source is the human-readable provider name
// ("Reuters", "coindesk"); the link lives in URL.
type NewsItem struct {
	ID          string
	Title       string
	Body        string
	Source      string
	URL         string
	Category    string
	PublishedAt time.Time
}

// Scores is the verdict produced by the scoring cascade.
type Scores struct {
	Importance  float64
	Credibility float64
	Summary     string
	// Scorer names the stage or model that produced the verdict.
	Scorer string
}

// ScoredItem is a NewsItem persisted together with its scores.
type ScoredItem struct {
	Item        NewsItem
	Fingerprint string
	Scores      Scores
	ScoredAt    time.Time
}

// Clamp01 coerces v into [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Canonical categories understood by features, thresholds and the scheduler.
const (
	CategoryCrypto   = "crypto"
	CategoryMarkets  = "markets"
	CategorySports   = "sports"
	CategoryTech     = "tech"
	CategoryPolitics = "politics"
	CategoryEconomy  = "economy"
	CategoryScience  = "science"
	CategoryWorld    = "world"
	CategoryOther    = "other"
)

// Categories lists canonical categories in a stable order.
func Categories() []string {
	return []string{
		CategoryCrypto,
		CategoryMarkets,
		CategorySports,
		CategoryTech,
		CategoryPolitics,
		CategoryEconomy,
		CategoryScience,
		CategoryWorld,
		CategoryOther,
	}
}

// Rejection is one line of the rejection log.
type Rejection struct {
	Timestamp   time.Time
	Reason      string
	Source      string
	Category    string
	URL         string
	Importance  float64
	Credibility float64
	Title       string
}

// LabeledItem is a NewsItem with binary training labels.
type LabeledItem struct {
	Item           NewsItem
	ImportancePos  int
	CredibilityPos int
	// Origin tags provenance: internal, rejection, engagement or a seed name.
	Origin string
}
