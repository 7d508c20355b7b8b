package features

import "strings"

const defaultReputation = 0.5

// reputation maps normalized source names (or host fragments) to trust.
var reputation = map[string]float64{
	"reuters":       0.95,
	"apnews":        0.92,
	"bloomberg":     0.93,
	"ft.com":        0.9,
	"wsj":           0.9,
	"bbc":           0.9,
	"nytimes":       0.88,
	"economist":     0.88,
	"cnbc":          0.82,
	"arxiv":         0.85,
	"coindesk":      0.8,
	"theblock":      0.78,
	"cointelegraph": 0.7,
	"decrypt":       0.7,
	"techcrunch":    0.8,
	"theverge":      0.78,
	"wired":         0.8,
	"espn":          0.82,
	"medium":        0.5,
	"reddit":        0.45,
	"twitter":       0.4,
	"x.com":         0.4,
	"telegram":      0.35,
}

// SourceReputation returns a trust score in [0,1] for a source name. Exact
// matches on the normalized name win; otherwise the longest known fragment
// contained in the name is used.
func SourceReputation(source string) float64 {
	name := NormalizeSource(source)
	if name == "" {
		return defaultReputation
	}
	if v, ok := reputation[name]; ok {
		return v
	}
	best, bestLen := defaultReputation, 0
	for key, v := range reputation {
		if strings.Contains(name, key) && len(key) > bestLen {
			best, bestLen = v, len(key)
		}
	}
	return best
}
