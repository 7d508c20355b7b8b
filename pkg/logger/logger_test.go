package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "publish.log")
	for i := 0; i < 2; i++ {
		f, err := NewFile(path, "publisher")
		if err != nil {
			t.Fatalf("NewFile: %v", err)
		}
		f.Info("attempt", "digest_id", "d1")
		if err := f.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 appended lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"component":"publisher"`) {
		t.Fatalf("missing component attr: %s", lines[0])
	}
}

func TestNewFileEmptyPathDiscards(t *testing.T) {
	t.Parallel()

	f, err := NewFile("", "events")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	f.Info("dropped")
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
