package features

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var spaceExpr = regexp.MustCompile(`\s+`)

// PlainText strips HTML markup from s and collapses whitespace. Input that is
// not HTML passes through with whitespace collapsed.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	doc.Find("script, style, noscript").Remove()
	return collapse(doc.Text())
}

// Words splits s into whitespace-separated tokens.
func Words(s string) []string {
	return strings.Fields(s)
}

// NormalizeTitle lowercases, strips non-alphanumerics and collapses whitespace.
func NormalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return collapse(b.String())
}

// NormalizeSource lowercases and trims a source name; URL-shaped sources are
// reduced to their host without a leading "www.".
func NormalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	return strings.TrimPrefix(s, "www.")
}

// UppercaseRatio is the share of uppercase letters among all letters.
func UppercaseRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}
