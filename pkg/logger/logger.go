package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// File is an append-only JSON-lines logger bound to a component.
type File struct {
	*slog.Logger
	closer io.Closer
}

// NewFile opens (or creates) path for appending and returns a logger that
// tags every record with the component name.
func NewFile(path, component string) (*File, error) {
	if path == "" {
		return &File{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &File{
		Logger: slog.New(handler).With("component", component),
		closer: f,
	}, nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	if f == nil || f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
