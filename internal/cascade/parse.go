package cascade

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

var (
	importanceExpr  = regexp.MustCompile(`(?i)importance\s*[=:]\s*(-?[0-9]*\.?[0-9]+)`)
	credibilityExpr = regexp.MustCompile(`(?i)credibility\s*[=:]\s*(-?[0-9]*\.?[0-9]+)`)
	summaryExpr     = regexp.MustCompile(`(?im)^\s*summary\s*[=:]\s*(.+)$`)
	numberExpr      = regexp.MustCompile(`-?[0-9]*\.?[0-9]+`)
)

const maxSummaryChars = 300

// ParseScores reads "importance=X,credibility=Y" from a model reply, falling
// back to the first two numbers in [0,1]. Labelled values are clamped.
func ParseScores(text string) (importance, credibility float64, summary string, ok bool) {
	summary = parseSummary(text)

	im := importanceExpr.FindStringSubmatch(text)
	cm := credibilityExpr.FindStringSubmatch(text)
	if im != nil && cm != nil {
		i, errI := strconv.ParseFloat(im[1], 64)
		c, errC := strconv.ParseFloat(cm[1], 64)
		if errI == nil && errC == nil {
			return coerce(i), coerce(c), summary, true
		}
	}

	scoreText := text
	if loc := summaryExpr.FindStringIndex(text); loc != nil {
		scoreText = text[:loc[0]]
	}
	var values []float64
	for _, raw := range numberExpr.FindAllString(scoreText, -1) {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			continue
		}
		values = append(values, v)
		if len(values) == 2 {
			return coerce(values[0]), coerce(values[1]), summary, true
		}
	}
	return 0.5, 0.5, summary, false
}

func coerce(v float64) float64 {
	return domain.Clamp01(v)
}

func parseSummary(text string) string {
	m := summaryExpr.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	s := strings.Trim(strings.TrimSpace(m[1]), `"`)
	if utf8.RuneCountInString(s) > maxSummaryChars {
		s = string([]rune(s)[:maxSummaryChars])
	}
	return s
}

// BuildPrompt renders the single-roundtrip scoring prompt.
func BuildPrompt(item domain.NewsItem) string {
	body := features.PlainText(item.Body)
	if utf8.RuneCountInString(body) > 600 {
		body = string([]rune(body)[:600])
	}
	var b strings.Builder
	b.WriteString("Rate the news item below for importance and credibility on a 0..1 scale.\n")
	b.WriteString("Reply on the first line exactly as: importance=X.XX,credibility=Y.YY\n")
	b.WriteString("On the second line write: summary=<one sentence, at most 30 words>\n\n")
	b.WriteString("Title: " + strings.TrimSpace(item.Title) + "\n")
	if item.Source != "" {
		b.WriteString("Source: " + item.Source + "\n")
	}
	if item.Category != "" {
		b.WriteString("Category: " + item.Category + "\n")
	}
	if body != "" {
		b.WriteString("Text: " + body + "\n")
	}
	return b.String()
}
