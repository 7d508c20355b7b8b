package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/scanner"
)

// DefaultRegistry registers the built-in providers.
func DefaultRegistry(client *http.Client, logger *slog.Logger) *scanner.Registry {
	reg := scanner.NewRegistry()
	reg.RegisterProvider(NewArxivScanner(client, logger))
	reg.Register("html", NewHTMLListingConstructor(client, logger))
	return reg
}

// Source implements ItemSource over config-defined sites.
type Source struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	sink     *metrics.Sink
	logger   *slog.Logger
}

var _ ports.ItemSource = (*Source)(nil)

// NewSource wires the provider registry with configured sites.
func NewSource(reg *scanner.Registry, sites []config.SiteConfig, sink *metrics.Sink, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		registry: reg,
		sites:    sites,
		sink:     sink,
		logger:   logger.With("component", "source"),
	}
}

// FetchDaily runs every site's provider. A failing site is logged and
// skipped; an error is returned only when every site failed.
func (s *Source) FetchDaily(ctx context.Context, day time.Time) ([]domain.NewsItem, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("provider registry is not configured")
	}
	s.logger.Debug("fetch daily", "sites", len(s.sites), "day", day.Format("2006-01-02"))

	var (
		aggregated []domain.NewsItem
		errs       []error
	)
	for _, site := range s.sites {
		items, err := s.fetchSite(ctx, site, day)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.sink.Inc(metrics.FetchErrors)
			s.logger.Warn("site failed", "site", site.Name, "provider", site.Scanner, "error", err)
			errs = append(errs, fmt.Errorf("site %s: %w", site.Name, err))
			continue
		}
		s.logger.Debug("site produced items", "site", site.Name, "count", len(items))
		aggregated = append(aggregated, items...)
	}

	if len(errs) > 0 && len(errs) == len(s.sites) {
		return nil, errors.Join(errs...)
	}
	s.sink.Add(metrics.ItemsFetched, float64(len(aggregated)))
	s.logger.Info("fetch done", "items", len(aggregated), "failed_sites", len(errs))
	return aggregated, nil
}

func (s *Source) fetchSite(ctx context.Context, site config.SiteConfig, day time.Time) ([]domain.NewsItem, error) {
	provider, err := s.registry.Build(site.Scanner, site.Options)
	if err != nil {
		return nil, err
	}

	category := ""
	if site.Category != "" {
		category = features.CanonicalCategory(site.Category)
	}
	req := scanner.Request{
		Day:        day,
		SiteName:   site.Name,
		Category:   category,
		Options:    site.Options,
		Categories: toScannerCategories(site.Categories),
	}
	items, err := provider.Scan(ctx, req)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Source == "" {
			items[i].Source = site.Name
		}
		if items[i].Category == "" {
			items[i].Category = domain.CategoryOther
			if category != "" {
				items[i].Category = category
			}
		}
	}
	return items, nil
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}
