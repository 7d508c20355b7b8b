package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

// DefaultKeyFormat joins the four identity fields with "|".
const DefaultKeyFormat = "{title}|{url}|{source}|{date}"

// Fingerprint hashes the normalized identity of item. format is a template
// over {title}, {url}, {source} and {date}; an empty format uses
// DefaultKeyFormat.
func Fingerprint(item domain.NewsItem, format string) string {
	if strings.TrimSpace(format) == "" {
		format = DefaultKeyFormat
	}
	date := ""
	if !item.PublishedAt.IsZero() {
		date = item.PublishedAt.UTC().Format("2006-01-02")
	}
	key := strings.NewReplacer(
		"{title}", features.NormalizeTitle(item.Title),
		"{url}", features.NormalizeURL(item.URL),
		"{source}", features.NormalizeSource(item.Source),
		"{date}", date,
	).Replace(format)

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
