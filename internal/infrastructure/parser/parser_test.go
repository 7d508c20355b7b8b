package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	u, err := buildPageURL("https://export.arxiv.org/list/cs.AI/pastweek", 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}
	q := parsed.Query()
	if q.Get("skip") != "200" || q.Get("show") != "100" {
		t.Fatalf("unexpected paging query: %s", parsed.RawQuery)
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt><span class="list-identifier"><a href="/abs/1234.56789">arXiv:1234.56789</a></span></dt>
	  <dd>
	    <div class="list-date">Date: 8 Nov 2025</div>
	    <div class="list-title mathjax">Title: Sample Title</div>
	    <p class="mathjax">Abstract: Sample <b>abstract</b> text.</p>
	  </dd>
	</dl>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	item, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), "arxiv-ai", "cs.AI")
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}
	if item.ID != "arXiv:1234.56789" {
		t.Fatalf("unexpected id: %s", item.ID)
	}
	if item.Title != "Sample Title" {
		t.Fatalf("unexpected title: %s", item.Title)
	}
	if item.Body != "Sample abstract text." {
		t.Fatalf("unexpected body: %q", item.Body)
	}
	if item.Source != "arxiv-ai/cs.AI" || item.URL != "https://arxiv.org/abs/1234.56789" {
		t.Fatalf("unexpected source/url: %s %s", item.Source, item.URL)
	}
	if item.PublishedAt.Format("2006-01-02") != "2025-11-08" {
		t.Fatalf("unexpected published date: %v", item.PublishedAt)
	}
}

const arxivPage = `
<dl>
  <dt><span class="list-identifier"><a href="/abs/2501.00001">arXiv:2501.00001</a></span></dt>
  <dd>
    <div class="list-date">Date: 8 Nov 2025</div>
    <div class="list-title mathjax">Title: Fresh Article</div>
    <p class="mathjax">Abstract: brand new.</p>
  </dd>
  <dt><span class="list-identifier"><a href="/abs/2501.00002">arXiv:2501.00002</a></span></dt>
  <dd>
    <div class="list-date">Date: 7 Nov 2025</div>
    <div class="list-title mathjax">Title: Old Article</div>
    <p class="mathjax">Abstract: older.</p>
  </dd>
</dl>`

func TestArxivScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(arxivPage))
	}))
	defer server.Close()

	sc := NewArxivScanner(server.Client(), logging.Discard())
	sc.pageSize = 10

	items, err := sc.Scan(context.Background(), scanner.Request{
		Day:        time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC),
		SiteName:   "arxiv-ai",
		Categories: []scanner.Category{{Name: "cs.AI", URL: server.URL + "/list/cs.AI"}},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ID != "arXiv:2501.00001" || items[0].Body != "brand new." {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if items[0].Category != domain.CategoryScience {
		t.Fatalf("unexpected category: %s", items[0].Category)
	}
}

func TestHTMLListingScan(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `
		<ul>
		  <li class="story"><a href="/a/1?utm_source=x">Central bank raises rates</a>
		      <time datetime="2025-11-08T09:30:00Z"></time><p>Policy <em>shift</em>.</p></li>
		  <li class="story"><a href="/a/2">Yesterday's story</a><time datetime="2025-11-07T09:30:00Z"></time></li>
		  <li class="story"><a href="/a/3">Undated story</a></li>
		  <li class="story"><span>no title link</span></li>
		</ul>`)
	})
	mux.HandleFunc("/a/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `<html><head><title>Undated story</title></head><body><article>
		<h1>Undated story</h1><p>`+strings.Repeat("The full article text is long enough to be extracted. ", 20)+`</p>
		</article></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctor := NewHTMLListingConstructor(server.Client(), logging.Discard())
	p, err := ctor(map[string]string{"item": "li.story", "date": "time", "summary": "p", "fetch_body": "true"})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}

	items, err := p.Scan(context.Background(), scanner.Request{
		Day:        time.Date(2025, time.November, 8, 15, 0, 0, 0, time.UTC),
		SiteName:   "Daily Wire",
		Category:   domain.CategoryEconomy,
		Categories: []scanner.Category{{Name: "front", URL: server.URL + "/news"}},
	})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	if items[0].URL != server.URL+"/a/1" {
		t.Fatalf("tracking params should be stripped: %s", items[0].URL)
	}
	if items[0].Body != "Policy shift." || items[0].Category != domain.CategoryEconomy {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Title != "Undated story" || items[1].PublishedAt.Format("2006-01-02") != "2025-11-08" {
		t.Fatalf("unexpected undated item: %+v", items[1])
	}
	if !strings.Contains(items[1].Body, "full article text") {
		t.Fatalf("expected extracted body, got %q", items[1].Body)
	}
}

func TestParseListingOptions(t *testing.T) {
	t.Parallel()

	if _, err := ParseListingOptions(map[string]string{}); err == nil {
		t.Fatal("expected error without item selector")
	}
	if _, err := ParseListingOptions(map[string]string{"item": "li", "fetch_body": "maybe"}); err == nil {
		t.Fatal("expected error for bad fetch_body")
	}
	lo, err := ParseListingOptions(map[string]string{"item": "li", "fetch_body": "true", "max_items": "5"})
	if err != nil {
		t.Fatalf("ParseListingOptions: %v", err)
	}
	if !lo.FetchBody || lo.MaxItems != 5 || lo.Title != "a" || lo.Link != "a" {
		t.Fatalf("unexpected options: %+v", lo)
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "broken" }

func (failingProvider) Scan(context.Context, scanner.Request) ([]domain.NewsItem, error) {
	return nil, fmt.Errorf("upstream down")
}

type fixedProvider struct{}

func (fixedProvider) Name() string { return "fixed" }

func (fixedProvider) Scan(context.Context, scanner.Request) ([]domain.NewsItem, error) {
	return []domain.NewsItem{{ID: "1", Title: "t"}}, nil
}

func TestSourceSkipsFailingSites(t *testing.T) {
	t.Parallel()

	reg := scanner.NewRegistry()
	reg.RegisterProvider(failingProvider{})
	reg.RegisterProvider(fixedProvider{})
	sink := metrics.New()

	src := NewSource(reg, []config.SiteConfig{
		{Name: "bad", Scanner: "broken"},
		{Name: "Good Wire", Scanner: "fixed", Category: "business"},
	}, sink, logging.Discard())

	items, err := src.FetchDaily(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if len(items) != 1 || items[0].Source != "Good Wire" || items[0].Category != domain.CategoryEconomy {
		t.Fatalf("unexpected items: %+v", items)
	}
	if sink.Counter(metrics.FetchErrors) != 1 || sink.Counter(metrics.ItemsFetched) != 1 {
		t.Fatalf("unexpected counters: %+v", sink.Snapshot())
	}

	only := NewSource(reg, []config.SiteConfig{{Name: "bad", Scanner: "broken"}}, nil, nil)
	if _, err := only.FetchDaily(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error when every site fails")
	}
}
