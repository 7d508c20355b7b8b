package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/scanner"
)

const maxBodyChars = 4000

// ListingOptions are the site options understood by the HTML listing provider.
type ListingOptions struct {
	Item      string
	Title     string
	Link      string
	Summary   string
	Date      string
	FetchBody bool
	MaxItems  int
}

// ParseListingOptions reads provider options; "item" is required.
func ParseListingOptions(opts map[string]string) (ListingOptions, error) {
	lo := ListingOptions{
		Item:    strings.TrimSpace(opts["item"]),
		Title:   strings.TrimSpace(opts["title"]),
		Link:    strings.TrimSpace(opts["link"]),
		Summary: strings.TrimSpace(opts["summary"]),
		Date:    strings.TrimSpace(opts["date"]),
	}
	if lo.Item == "" {
		return ListingOptions{}, errors.New("html provider: option item is required")
	}
	if lo.Title == "" {
		lo.Title = "a"
	}
	if lo.Link == "" {
		lo.Link = "a"
	}
	if v := opts["fetch_body"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ListingOptions{}, fmt.Errorf("html provider: fetch_body: %w", err)
		}
		lo.FetchBody = b
	}
	if v := opts["max_items"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ListingOptions{}, fmt.Errorf("html provider: bad max_items %q", v)
		}
		lo.MaxItems = n
	}
	return lo, nil
}

// HTMLListing scrapes a news listing page with CSS selectors and can pull
// the article body of each link through readability extraction.
type HTMLListing struct {
	client *http.Client
	opts   ListingOptions
	logger *slog.Logger
}

// NewHTMLListingConstructor returns a registry constructor sharing client.
func NewHTMLListingConstructor(client *http.Client, logger *slog.Logger) scanner.Constructor {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(options map[string]string) (scanner.Provider, error) {
		opts, err := ParseListingOptions(options)
		if err != nil {
			return nil, err
		}
		return &HTMLListing{client: client, opts: opts, logger: logger.With("component", "html_listing")}, nil
	}
}

// Name identifies the provider inside the registry.
func (h *HTMLListing) Name() string { return "html" }

// Scan extracts items from each listing URL. Entries with a parseable date
// on another day are skipped; undated entries are stamped with req.Day.
func (h *HTMLListing) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsItem, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no listing urls provided for site %s", req.SiteName)
	}
	targetDay := req.Day.UTC().Truncate(24 * time.Hour)

	var out []domain.NewsItem
	seen := map[string]struct{}{}
	for _, cat := range req.Categories {
		base, err := url.Parse(cat.URL)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", cat.Name, err)
		}
		doc, err := fetchDocument(ctx, h.client, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", cat.Name, err)
		}

		items := h.extract(doc, base, req, targetDay)
		for _, item := range items {
			if _, ok := seen[item.URL]; ok {
				continue
			}
			seen[item.URL] = struct{}{}
			if h.opts.FetchBody && item.URL != "" {
				if body, err := h.articleText(ctx, item.URL); err != nil {
					h.logger.Debug("body extraction failed", "url", item.URL, "error", err)
				} else if body != "" {
					item.Body = body
				}
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (h *HTMLListing) extract(doc *goquery.Document, base *url.URL, req scanner.Request, targetDay time.Time) []domain.NewsItem {
	var items []domain.NewsItem
	doc.Find(h.opts.Item).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if h.opts.MaxItems > 0 && len(items) >= h.opts.MaxItems {
			return false
		}
		title := strings.TrimSpace(sel.Find(h.opts.Title).First().Text())
		if title == "" {
			return true
		}
		href, _ := sel.Find(h.opts.Link).First().Attr("href")
		link := resolveLink(base, href)

		publishedAt := targetDay
		if h.opts.Date != "" {
			dateSel := sel.Find(h.opts.Date).First()
			raw, ok := dateSel.Attr("datetime")
			if !ok {
				raw = dateSel.Text()
			}
			if t, err := dateparse.ParseAny(strings.TrimSpace(raw)); err == nil {
				if !t.UTC().Truncate(24 * time.Hour).Equal(targetDay) {
					return true
				}
				publishedAt = t.UTC()
			}
		}

		var summary string
		if h.opts.Summary != "" {
			summary = features.PlainText(sel.Find(h.opts.Summary).First().Text())
		}

		id := link
		if id == "" {
			id = req.SiteName + ":" + features.NormalizeTitle(title)
		}
		items = append(items, domain.NewsItem{
			ID:          id,
			Title:       title,
			Body:        summary,
			Source:      req.SiteName,
			URL:         link,
			Category:    req.Category,
			PublishedAt: publishedAt,
		})
		return true
	})
	return items
}

func (h *HTMLListing) articleText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("article returned %s", resp.Status)
	}

	article, err := readability.FromReader(resp.Body, req.URL)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	text := features.PlainText(article.TextContent)
	if r := []rune(text); len(r) > maxBodyChars {
		text = string(r[:maxBodyChars])
	}
	return text, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return features.CleanURL(base.ResolveReference(ref).String())
}
