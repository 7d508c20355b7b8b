package publisher

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

// Message formats.
const (
	FormatV1 = "v1"
	FormatV2 = "v2"
)

const (
	// MaxLength is the transport's caption limit.
	MaxLength    = 1024
	maxURLLength = 80
	teaserLength = 200
	ellipsis     = "…"
)

// markdownSpecial is the MarkdownV2 set that must be backslash-escaped.
const markdownSpecial = "_*[]()~`>#+-=|{}.!"

var glyphs = map[string]string{
	domain.CategoryCrypto:   "🪙",
	domain.CategoryMarkets:  "📈",
	domain.CategorySports:   "🏆",
	domain.CategoryTech:     "💻",
	domain.CategoryPolitics: "🏛",
	domain.CategoryEconomy:  "💰",
	domain.CategoryScience:  "🔬",
	domain.CategoryWorld:    "🌍",
	domain.CategoryOther:    "📰",
}

// EscapeMarkdown prefixes every MarkdownV2 special character with a
// backslash. Backslashes themselves are escaped too.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for _, r := range s {
		if r == '\\' || strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Glyph returns the category marker used in v2 headers.
func Glyph(category string) string {
	return glyphs[features.CanonicalCategory(category)]
}

// DisplayURL strips tracking parameters and caps the length.
func DisplayURL(raw string) string {
	return truncate(features.CleanURL(raw), maxURLLength)
}

// DisplaySource is the cleaned source name for the footer.
func DisplaySource(source string) string {
	s := strings.TrimSpace(source)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	return s
}

// Teaser cuts text at the first sentence end or teaserLength runes.
func Teaser(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 && idx < len(text)-1 {
		text = text[:idx+1]
	}
	return truncate(text, teaserLength)
}

// Render formats a digest in the given layout and escapes it for MarkdownV2.
// The result never exceeds MaxLength runes.
func Render(d domain.Digest, format string, teaser bool) string {
	summary := d.Summary
	if teaser {
		summary = Teaser(summary)
	}
	if format == FormatV1 {
		return fit(summary, "", func(s, _ string) string { return renderV1(d, s) })
	}
	return fit(summary, d.WhyImportant, func(s, w string) string { return renderV2(d, s, w) })
}

func renderV1(d domain.Digest, summary string) string {
	var b strings.Builder
	b.WriteString("*" + EscapeMarkdown(d.Title) + "*")
	if summary != "" {
		b.WriteString("\n\n" + EscapeMarkdown(summary))
	}
	if d.URL != "" {
		b.WriteString("\n\n" + EscapeMarkdown(DisplayURL(d.URL)))
	}
	return b.String()
}

func renderV2(d domain.Digest, summary, why string) string {
	var b strings.Builder
	if g := Glyph(d.Category); g != "" {
		b.WriteString(g + " ")
	}
	b.WriteString("*" + EscapeMarkdown(d.Title) + "*")
	if summary != "" {
		b.WriteString("\n\n" + EscapeMarkdown(summary))
	}
	if why != "" {
		b.WriteString("\n\n_" + EscapeMarkdown("Why it matters:") + "_ " + EscapeMarkdown(why))
	}

	footer := make([]string, 0, 2)
	if at := digestDate(d); !at.IsZero() {
		footer = append(footer, at.Format("2006-01-02"))
	}
	if src := DisplaySource(d.Source); src != "" {
		footer = append(footer, src)
	}
	if len(footer) > 0 {
		b.WriteString("\n\n" + EscapeMarkdown(strings.Join(footer, " · ")))
	}
	if d.URL != "" {
		b.WriteString("\n" + EscapeMarkdown(DisplayURL(d.URL)))
	}
	return b.String()
}

// fit shortens summary and why proportionally until render fits MaxLength.
func fit(summary, why string, render func(summary, why string) string) string {
	out := render(summary, why)
	for attempt := 0; attempt < 8 && utf8.RuneCountInString(out) > MaxLength; attempt++ {
		ls, lw := utf8.RuneCountInString(summary), utf8.RuneCountInString(why)
		if ls+lw == 0 {
			break
		}
		over := utf8.RuneCountInString(out) - MaxLength
		// Escaping inflates text; cut a little more than the raw overflow.
		cut := over + over/4 + len(ellipsis)
		keep := ls + lw - cut
		if keep < 0 {
			keep = 0
		}
		ratio := float64(keep) / float64(ls+lw)
		summary = truncate(summary, int(float64(ls)*ratio))
		why = truncate(why, int(float64(lw)*ratio))
		out = render(summary, why)
	}
	if utf8.RuneCountInString(out) > MaxLength {
		out = hardCut(out, MaxLength)
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n == 1 {
		return ellipsis
	}
	return strings.TrimSpace(string(runes[:n-1])) + ellipsis
}

// hardCut trims rendered text to at most n runes. It backs off to the last
// word boundary outside any bold or italic span so no entity or escape
// pair is left open.
func hardCut(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	var bold, italic bool
	safe, word := 0, 0
scan:
	for i := 0; i < n; i++ {
		switch runes[i] {
		case '\\':
			if i+1 >= n {
				break scan
			}
			i++
		case '*':
			bold = !bold
		case '_':
			italic = !italic
		}
		if bold || italic {
			continue
		}
		safe = i + 1
		if unicode.IsSpace(runes[i+1]) {
			word = i + 1
		}
	}
	if word > 0 {
		safe = word
	}
	return strings.TrimRightFunc(string(runes[:safe]), unicode.IsSpace)
}

func digestDate(d domain.Digest) time.Time {
	if d.PublishedAt != nil {
		return *d.PublishedAt
	}
	return d.CreatedAt
}
