package training

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

const rejectedMarker = "REJECTED:"

var (
	stampExpr = regexp.MustCompile(`^\s*\[([^\]]+)\]`)
	pairExpr  = regexp.MustCompile(`([a-z_]+)=("(?:[^"\\]|\\.)*"|\S+)`)
)

// RejectionFile appends rejection lines to a file. It is safe for
// concurrent use within one process.
type RejectionFile struct {
	mu   sync.Mutex
	path string
}

var _ ports.RejectionLog = (*RejectionFile)(nil)

// NewRejectionFile returns an appender for path.
func NewRejectionFile(path string) *RejectionFile {
	return &RejectionFile{path: path}
}

// Append writes one formatted line.
func (f *RejectionFile) Append(_ context.Context, rec domain.Rejection) error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create rejection log dir: %w", err)
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open rejection log: %w", err)
	}
	defer fh.Close()
	if _, err := fh.WriteString(FormatRejection(rec) + "\n"); err != nil {
		return fmt.Errorf("append rejection log: %w", err)
	}
	return nil
}

// FormatRejection renders `[<ISO-8601>] REJECTED: key=value ... title="<quoted>"`.
func FormatRejection(rec domain.Rejection) string {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString("[" + ts.UTC().Format(time.RFC3339) + "] " + rejectedMarker)
	writePair(&b, "reason", rec.Reason)
	writePair(&b, "source", rec.Source)
	writePair(&b, "category", rec.Category)
	writePair(&b, "url", rec.URL)
	b.WriteString(fmt.Sprintf(" importance=%.2f credibility=%.2f", rec.Importance, rec.Credibility))
	b.WriteString(" title=" + strconv.Quote(rec.Title))
	return b.String()
}

func writePair(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	if strings.ContainsAny(value, " \t\"") {
		value = strconv.Quote(value)
	}
	b.WriteString(" " + key + "=" + value)
}

// ParseRejection parses one log line. Lines without the REJECTED marker or a
// title are rejected; every other field is optional.
func ParseRejection(line string) (domain.Rejection, bool) {
	idx := strings.Index(line, rejectedMarker)
	if idx < 0 {
		return domain.Rejection{}, false
	}

	var rec domain.Rejection
	if m := stampExpr.FindStringSubmatch(line[:idx]); m != nil {
		if ts, err := dateparse.ParseAny(strings.TrimSpace(m[1])); err == nil {
			rec.Timestamp = ts.UTC()
		}
	}

	for _, m := range pairExpr.FindAllStringSubmatch(line[idx+len(rejectedMarker):], -1) {
		value := m[2]
		if strings.HasPrefix(value, `"`) {
			if unq, err := strconv.Unquote(value); err == nil {
				value = unq
			} else {
				value = strings.Trim(value, `"`)
			}
		}
		switch m[1] {
		case "reason":
			rec.Reason = value
		case "source":
			rec.Source = value
		case "category":
			rec.Category = value
		case "url":
			rec.URL = value
		case "importance":
			rec.Importance, _ = strconv.ParseFloat(value, 64)
		case "credibility":
			rec.Credibility, _ = strconv.ParseFloat(value, 64)
		case "title":
			rec.Title = value
		}
	}
	if strings.TrimSpace(rec.Title) == "" {
		return domain.Rejection{}, false
	}
	return rec, true
}

// ReadRejections parses every well-formed line of the log at path. A missing
// file yields no records.
func ReadRejections(path string) (recs []domain.Rejection, skipped int, err error) {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open rejection log: %w", err)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, ok := ParseRejection(line)
		if !ok {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return recs, skipped, fmt.Errorf("read rejection log: %w", err)
	}
	return recs, skipped, nil
}
