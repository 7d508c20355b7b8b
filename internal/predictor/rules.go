package predictor

import (
	"strings"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

var categoryRelevance = map[string]float64{
	domain.CategoryCrypto:   0.8,
	domain.CategoryMarkets:  0.8,
	domain.CategoryEconomy:  0.75,
	domain.CategoryPolitics: 0.7,
	domain.CategoryTech:     0.7,
	domain.CategoryWorld:    0.7,
	domain.CategoryScience:  0.6,
	domain.CategorySports:   0.5,
	domain.CategoryOther:    0.4,
}

var positiveCredibility = []string{
	"according to", "official", "confirmed", "statement", "data shows", "study", "filing", "report",
}

var negativeCredibility = []string{
	"rumor", "rumour", "unconfirmed", "allegedly", "shocking", "you won't believe", "leak", "!!!",
}

var weightKeys = []string{"title", "source", "category", "keywords"}

var defaultWeights = map[string]float64{
	"title":    0.2,
	"source":   0.35,
	"category": 0.15,
	"keywords": 0.3,
}

// ruleScorer is the deterministic backend.
type ruleScorer struct {
	weights map[string]float64
}

func newRuleScorer(weights map[string]float64) ruleScorer {
	w := make(map[string]float64, len(defaultWeights))
	for k, v := range defaultWeights {
		w[k] = v
	}
	for k, v := range weights {
		if _, ok := w[k]; ok && v >= 0 {
			w[k] = v
		}
	}
	return ruleScorer{weights: w}
}

func (r ruleScorer) predict(item domain.NewsItem) Prediction {
	title := strings.TrimSpace(item.Title)
	body := features.PlainText(item.Body)
	text := strings.ToLower(title + " " + body)
	words := len(features.Words(title))
	reputation := features.SourceReputation(item.Source)

	parts := map[string]float64{
		"title":    titleLengthScore(words),
		"source":   reputation,
		"category": categoryRelevance[features.CanonicalCategory(item.Category)],
		"keywords": min(1.0, float64(features.ImportantWordHits(text))/3),
	}
	var importance, total float64
	for _, k := range weightKeys {
		w := r.weights[k]
		importance += w * parts[k]
		total += w
	}
	if total > 0 {
		importance /= total
	}

	credibility := reputation
	credibility += min(0.2, 0.1*float64(countMarkers(text, positiveCredibility)))
	credibility -= 0.15 * float64(countMarkers(text, negativeCredibility))
	if features.UppercaseRatio(title) > 0.5 {
		credibility -= 0.15
	}

	return Prediction{
		Importance:  domain.Clamp01(importance),
		Credibility: domain.Clamp01(credibility),
		Confidence:  ruleConfidence(item, words),
		Backend:     BackendRules,
	}
}

// titleLengthScore peaks for titles of 6 to 15 words.
func titleLengthScore(words int) float64 {
	switch {
	case words <= 0:
		return 0
	case words < 6:
		return float64(words) / 6
	case words <= 15:
		return 1
	default:
		return max(0.3, 1-float64(words-15)/20)
	}
}

func ruleConfidence(item domain.NewsItem, words int) float64 {
	c := 0.3
	if strings.TrimSpace(item.Body) != "" {
		c += 0.2
	}
	if strings.TrimSpace(item.Source) != "" {
		c += 0.2
	}
	if !item.PublishedAt.IsZero() {
		c += 0.2
	}
	if strings.TrimSpace(item.URL) != "" {
		c += 0.1
	}
	if words < 5 {
		c -= 0.2
	}
	return domain.Clamp01(c)
}

func countMarkers(text string, markers []string) int {
	var n int
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}
