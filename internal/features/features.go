// Package features owns the one feature-extraction function shared by the
// predictor at inference time and by the training collector and baseline
// builder. Column order is part of the artifact format.
package features

import (
	"strings"
	"time"

	"NewsDesk/internal/domain"
)

var importantWords = []string{
	"breaking", "official", "announces", "announced", "record", "crisis", "regulation",
	"approval", "approved", "launch", "acquisition", "merger", "bankrupt", "sanctions",
	"election", "rate", "inflation", "earnings", "hack", "lawsuit", "ban",
}

var spamWords = []string{
	"sponsored", "giveaway", "airdrop", "click", "subscribe", "promo", "discount",
	"moon", "guaranteed", "free", "win", "!!!", "100x", "pump",
}

var scalarNames = []string{
	"title_chars",
	"body_chars",
	"title_words",
	"body_words",
	"source_trust",
}

var tailNames = []string{
	"important_word_ratio",
	"spam_word_ratio",
	"business_hours",
	"has_url",
	"uppercase_ratio",
	"has_timestamp",
}

// Names returns the ordered feature column names.
func Names() []string {
	names := make([]string, 0, len(scalarNames)+len(domain.Categories())+len(tailNames))
	names = append(names, scalarNames...)
	for _, c := range domain.Categories() {
		names = append(names, "cat_"+c)
	}
	names = append(names, tailNames...)
	return names
}

// Len is the feature vector length.
func Len() int {
	return len(scalarNames) + len(domain.Categories()) + len(tailNames)
}

// Extract builds the feature vector for item in Names() order.
func Extract(item domain.NewsItem) []float64 {
	title := strings.TrimSpace(item.Title)
	body := PlainText(item.Body)
	titleWords := Words(title)
	bodyWords := Words(body)

	vec := make([]float64, 0, Len())
	vec = append(vec,
		float64(len([]rune(title))),
		float64(len([]rune(body))),
		float64(len(titleWords)),
		float64(len(bodyWords)),
		SourceReputation(item.Source),
	)

	category := CanonicalCategory(item.Category)
	for _, c := range domain.Categories() {
		vec = append(vec, boolFloat(c == category))
	}

	text := strings.ToLower(title + " " + body)
	tokens := len(titleWords) + len(bodyWords)
	vec = append(vec,
		wordRatio(text, importantWords, tokens),
		wordRatio(text, spamWords, tokens),
		boolFloat(businessHours(item.PublishedAt)),
		boolFloat(strings.TrimSpace(item.URL) != ""),
		UppercaseRatio(title),
		boolFloat(!item.PublishedAt.IsZero()),
	)
	return vec
}

// Completeness estimates how much of the item was available to the model.
func Completeness(item domain.NewsItem) float64 {
	checks := []bool{
		len(Words(item.Title)) >= 5,
		strings.TrimSpace(item.Body) != "",
		strings.TrimSpace(item.Source) != "",
		strings.TrimSpace(item.URL) != "",
		!item.PublishedAt.IsZero(),
		CanonicalCategory(item.Category) != domain.CategoryOther,
	}
	var n int
	for _, ok := range checks {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(checks))
}

// CanonicalCategory maps a free-form category to the canonical set.
func CanonicalCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	for _, known := range domain.Categories() {
		if c == known {
			return c
		}
	}
	if alias, ok := categoryAliases[c]; ok {
		return alias
	}
	return domain.CategoryOther
}

var categoryAliases = map[string]string{
	"cryptocurrency": domain.CategoryCrypto,
	"blockchain":     domain.CategoryCrypto,
	"defi":           domain.CategoryCrypto,
	"finance":        domain.CategoryMarkets,
	"stocks":         domain.CategoryMarkets,
	"forex":          domain.CategoryMarkets,
	"business":       domain.CategoryEconomy,
	"macro":          domain.CategoryEconomy,
	"technology":     domain.CategoryTech,
	"ai":             domain.CategoryTech,
	"sport":          domain.CategorySports,
	"football":       domain.CategorySports,
	"soccer":         domain.CategorySports,
	"research":       domain.CategoryScience,
	"international":  domain.CategoryWorld,
}

func wordRatio(text string, words []string, tokens int) float64 {
	if tokens == 0 {
		return 0
	}
	var hits int
	for _, w := range words {
		hits += strings.Count(text, w)
	}
	r := float64(hits) / float64(tokens)
	if r > 1 {
		return 1
	}
	return r
}

func businessHours(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	t = t.UTC()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 18
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ImportantWordHits counts distinct important words present in text.
func ImportantWordHits(text string) int {
	text = strings.ToLower(text)
	var hits int
	for _, w := range importantWords {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return hits
}
