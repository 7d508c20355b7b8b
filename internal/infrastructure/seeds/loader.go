package seeds

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/training"
)

// Supported seed formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

const maxSeedBytes = 64 << 20

// Record is one seed row. Labels accept 0/1, booleans or scores in [0,1];
// a score of 0.5 or more counts as positive.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	Category    string `json:"category"`
	PublishedAt string `json:"published_at"`
	Importance  any    `json:"importance"`
	Credibility any    `json:"credibility"`
}

// Loader reads seed datasets from local files or HTTP endpoints.
type Loader struct {
	http    *http.Client
	baseDir string
	logger  *slog.Logger
}

var _ training.SeedLoader = (*Loader)(nil)

// NewLoader resolves relative paths against baseDir.
func NewLoader(client *http.Client, baseDir string, logger *slog.Logger) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{http: client, baseDir: baseDir, logger: logger.With("component", "seeds")}
}

// Load fetches and decodes one seed dataset.
func (l *Loader) Load(ctx context.Context, seed config.SeedConfig) ([]domain.LabeledItem, error) {
	rc, err := l.open(ctx, seed)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	format := strings.ToLower(strings.TrimSpace(seed.Format))
	if format == "" {
		format = guessFormat(seed)
	}

	var records []Record
	switch format {
	case FormatCSV:
		records, err = DecodeCSV(io.LimitReader(rc, maxSeedBytes))
	case FormatJSONL, "ndjson":
		records, err = DecodeJSONL(io.LimitReader(rc, maxSeedBytes))
	default:
		return nil, fmt.Errorf("seed %s: unsupported format %q", seed.Name, seed.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", seed.Name, err)
	}

	items := make([]domain.LabeledItem, 0, len(records))
	skipped := 0
	for i, rec := range records {
		item, ok := ToLabeled(rec, seed, i)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}
	l.logger.Info("seed loaded", "seed", seed.Name, "items", len(items), "skipped", skipped)
	return items, nil
}

func (l *Loader) open(ctx context.Context, seed config.SeedConfig) (io.ReadCloser, error) {
	if seed.URL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, seed.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		resp, err := l.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			closeErr := resp.Body.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
			}
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	}
	if seed.Path == "" {
		return nil, errors.New("seed has neither path nor url")
	}
	path := seed.Path
	if !filepath.IsAbs(path) && l.baseDir != "" {
		path = filepath.Join(l.baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	return f, nil
}

func guessFormat(seed config.SeedConfig) string {
	name := seed.Path
	if name == "" {
		name = seed.URL
	}
	switch strings.ToLower(filepath.Ext(strings.SplitN(name, "?", 2)[0])) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// DecodeCSV reads a headered CSV; unknown columns are ignored.
func DecodeCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["title"]; !ok {
		return nil, errors.New("csv header has no title column")
	}
	get := func(row []string, names ...string) string {
		for _, n := range names {
			if i, ok := index[n]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, Record{
			ID:          get(row, "id"),
			Title:       get(row, "title", "headline"),
			Body:        get(row, "body", "description", "summary"),
			Source:      get(row, "source"),
			URL:         get(row, "url", "link"),
			Category:    get(row, "category"),
			PublishedAt: get(row, "published_at", "date"),
			Importance:  get(row, "importance", "label_importance"),
			Credibility: get(row, "credibility", "label_credibility"),
		})
	}
	return out, nil
}

// DecodeJSONL reads one JSON object per line; malformed lines are skipped.
func DecodeJSONL(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var out []Record
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}
	return out, nil
}

// ToLabeled converts a record; rows without a title or importance label are
// rejected. A missing credibility label counts as positive.
func ToLabeled(rec Record, seed config.SeedConfig, row int) (domain.LabeledItem, bool) {
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		return domain.LabeledItem{}, false
	}
	imp, ok := label(rec.Importance)
	if !ok {
		return domain.LabeledItem{}, false
	}
	cred, ok := label(rec.Credibility)
	if !ok {
		cred = 1
	}

	var published time.Time
	if rec.PublishedAt != "" {
		if t, err := dateparse.ParseAny(rec.PublishedAt); err == nil {
			published = t.UTC()
		}
	}
	category := rec.Category
	if category == "" {
		category = seed.Category
	}
	id := rec.ID
	if id == "" {
		id = fmt.Sprintf("%s:%d", seed.Name, row)
	}
	source := rec.Source
	if source == "" {
		source = seed.Name
	}

	return domain.LabeledItem{
		Item: domain.NewsItem{
			ID:          id,
			Title:       title,
			Body:        features.PlainText(rec.Body),
			Source:      source,
			URL:         rec.URL,
			Category:    category,
			PublishedAt: published,
		},
		ImportancePos:  imp,
		CredibilityPos: cred,
		Origin:         seed.Name,
	}, true
}

func label(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		return threshold(x), true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch s {
		case "":
			return 0, false
		case "true", "yes", "pos", "positive":
			return 1, true
		case "false", "no", "neg", "negative":
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return threshold(f), true
	}
	return 0, false
}

func threshold(f float64) int {
	if f >= 0.5 {
		return 1
	}
	return 0
}
