package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/prefilter"
)

// Drop reasons counted in the baseline report.
const (
	DropDuplicate  = "duplicate"
	DropShortTitle = "short_title"
	DropStopMarker = "stop_marker"
	DropBlacklist  = "blacklist"
	DropSeedError  = "seed_error"
)

// ErrClassFloor is returned when a label class falls below min_per_class.
var ErrClassFloor = errors.New("training: class count below floor")

// SeedLoader fetches one external seed dataset.
type SeedLoader interface {
	Load(ctx context.Context, seed config.SeedConfig) ([]domain.LabeledItem, error)
}

// ClassBalance counts both label columns.
type ClassBalance struct {
	ImportancePos  int `json:"importance_pos"`
	ImportanceNeg  int `json:"importance_neg"`
	CredibilityPos int `json:"credibility_pos"`
	CredibilityNeg int `json:"credibility_neg"`
}

// BaselineReport is written next to the baseline dataset.
type BaselineReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Total       int            `json:"total"`
	Sources     map[string]int `json:"sources"`
	Dropped     map[string]int `json:"dropped"`
	Before      ClassBalance   `json:"before_balance"`
	After       ClassBalance   `json:"class_balance"`
	Categories  map[string]int `json:"categories"`
	Balanced    bool           `json:"balanced"`
	MinPerClass int            `json:"min_per_class"`
	Output      string         `json:"output"`
	Seed        int64          `json:"seed"`
}

// Baseline assembles a balanced seed dataset from stored items and external
// seeds.
type Baseline struct {
	cfg     config.BaselineConfig
	items   ports.ItemStore
	loader  SeedLoader
	filter  *prefilter.Filter
	aliases map[string]string
	black   []string
	now     func() time.Time
	logger  *slog.Logger
}

// NewBaseline wires the builder. items and loader may be nil.
func NewBaseline(cfg config.Config, items ports.ItemStore, loader SeedLoader, logger *slog.Logger) *Baseline {
	if logger == nil {
		logger = slog.Default()
	}
	aliases := make(map[string]string, len(cfg.Baseline.CategoryAliases))
	for k, v := range cfg.Baseline.CategoryAliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	black := make([]string, 0, len(cfg.Baseline.Blacklist))
	for _, b := range cfg.Baseline.Blacklist {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			black = append(black, b)
		}
	}
	return &Baseline{
		cfg:     cfg.Baseline,
		items:   items,
		loader:  loader,
		filter:  prefilter.New(cfg.Prefilter, true),
		aliases: aliases,
		black:   black,
		now:     time.Now,
		logger:  logger.With("component", "baseline"),
	}
}

// Build assembles the dataset and writes it to out and the report to
// reportPath. Empty paths fall back to configuration. On ErrClassFloor the
// report is still written but the dataset is not.
func (b *Baseline) Build(ctx context.Context, out, reportPath string) (BaselineReport, error) {
	if out == "" {
		out = b.cfg.Output
	}
	if reportPath == "" {
		reportPath = b.cfg.Report
	}
	report := BaselineReport{
		GeneratedAt: b.now().UTC(),
		Sources:     map[string]int{},
		Dropped:     map[string]int{},
		Categories:  map[string]int{},
		MinPerClass: b.cfg.MinPerClass,
		Output:      out,
		Seed:        b.cfg.Seed,
	}

	var pool []domain.LabeledItem
	if b.items != nil {
		scored, err := b.items.ScoredItems(ctx, 0)
		if err != nil {
			return report, fmt.Errorf("load stored items: %w", err)
		}
		for _, s := range scored {
			pool = append(pool, InternalSample(s))
		}
	}
	if b.loader != nil {
		for _, seed := range b.cfg.Seeds {
			items, err := b.loader.Load(ctx, seed)
			if err != nil {
				report.Dropped[DropSeedError]++
				b.logger.Warn("seed dataset unavailable", "seed", seed.Name, "error", err)
				continue
			}
			for _, it := range items {
				if it.Origin == "" {
					it.Origin = seed.Name
				}
				if it.Item.Category == "" {
					it.Item.Category = seed.Category
				}
				pool = append(pool, it)
			}
		}
	}

	kept := b.clean(pool, report.Dropped)
	report.Before = balanceOf(kept)
	if b.cfg.Balance {
		kept = undersample(kept, b.cfg.Seed)
		report.Balanced = true
	}
	report.After = balanceOf(kept)
	report.Total = len(kept)
	for _, it := range kept {
		report.Sources[it.Origin]++
		report.Categories[it.Item.Category]++
	}

	floorErr := b.checkFloor(report.After)
	if floorErr == nil && out != "" {
		samples := make([]Sample, len(kept))
		for i, it := range kept {
			samples[i] = SampleFrom(it)
		}
		if err := WriteDataset(out, samples); err != nil {
			return report, err
		}
	}
	if reportPath != "" {
		if err := writeReport(reportPath, report); err != nil {
			return report, err
		}
	}

	b.logger.Info("baseline dataset built",
		"total", report.Total,
		"importance_pos", report.After.ImportancePos,
		"importance_neg", report.After.ImportanceNeg,
		"dropped", report.Dropped,
	)
	return report, floorErr
}

func (b *Baseline) clean(pool []domain.LabeledItem, dropped map[string]int) []domain.LabeledItem {
	minWords := b.cfg.MinTitleWords
	seen := make(map[string]struct{}, len(pool))
	out := make([]domain.LabeledItem, 0, len(pool))
	for _, it := range pool {
		key := features.NormalizeTitle(it.Item.Title)
		if _, dup := seen[key]; dup || key == "" {
			dropped[DropDuplicate]++
			continue
		}
		if len(features.Words(it.Item.Title)) < minWords {
			dropped[DropShortTitle]++
			continue
		}
		text := it.Item.Title + " " + it.Item.Body
		if b.filter.HasStopMarker(text) {
			dropped[DropStopMarker]++
			continue
		}
		if b.blacklisted(text, it.Item.Source) {
			dropped[DropBlacklist]++
			continue
		}
		seen[key] = struct{}{}
		it.Item.Category = b.category(it.Item.Category)
		out = append(out, it)
	}
	return out
}

func (b *Baseline) blacklisted(text, source string) bool {
	text = strings.ToLower(text)
	source = features.NormalizeSource(source)
	for _, w := range b.black {
		if strings.Contains(text, w) || strings.Contains(source, w) {
			return true
		}
	}
	return false
}

func (b *Baseline) category(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := b.aliases[c]; ok {
		c = alias
	}
	return features.CanonicalCategory(c)
}

func (b *Baseline) checkFloor(cb ClassBalance) error {
	floor := b.cfg.MinPerClass
	if floor <= 0 {
		return nil
	}
	counts := map[string]int{
		"importance_pos": cb.ImportancePos,
		"importance_neg": cb.ImportanceNeg,
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if counts[k] < floor {
			return fmt.Errorf("%w: %s=%d, floor %d", ErrClassFloor, k, counts[k], floor)
		}
	}
	return nil
}

// undersample trims the larger importance class to the size of the smaller
// one. Order within the result follows the input order.
func undersample(items []domain.LabeledItem, seed int64) []domain.LabeledItem {
	var pos, neg []int
	for i, it := range items {
		if it.ImportancePos == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	major, minor := pos, neg
	if len(neg) > len(pos) {
		major, minor = neg, pos
	}
	if len(major) == len(minor) {
		return items
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(major), func(i, j int) { major[i], major[j] = major[j], major[i] })
	keep := make(map[int]bool, 2*len(minor))
	for _, i := range minor {
		keep[i] = true
	}
	for _, i := range major[:len(minor)] {
		keep[i] = true
	}

	out := make([]domain.LabeledItem, 0, len(keep))
	for i, it := range items {
		if keep[i] {
			out = append(out, it)
		}
	}
	return out
}

func balanceOf(items []domain.LabeledItem) ClassBalance {
	var cb ClassBalance
	for _, it := range items {
		if it.ImportancePos == 1 {
			cb.ImportancePos++
		} else {
			cb.ImportanceNeg++
		}
		if it.CredibilityPos == 1 {
			cb.CredibilityPos++
		} else {
			cb.CredibilityNeg++
		}
	}
	return cb
}

func writeReport(path string, report BaselineReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write baseline report: %w", err)
	}
	return nil
}
