package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store caches the loaded bundle and swaps it when the on-disk version
// changes. Readers never see a partially replaced pair.
type Store struct {
	dir     *Dir
	current atomic.Pointer[Bundle]
	logger  *slog.Logger
	onSwap  func(*Bundle)
}

// NewStore returns a store over dir. Call Refresh to load the first bundle.
func NewStore(dir *Dir, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With("component", "artifact_store")}
}

// OnSwap registers a callback invoked after a new bundle is installed.
func (s *Store) OnSwap(fn func(*Bundle)) {
	s.onSwap = fn
}

// Dir returns the underlying directory.
func (s *Store) Dir() *Dir { return s.dir }

// Current returns the loaded bundle, or nil when none is available.
func (s *Store) Current() *Bundle {
	return s.current.Load()
}

// Refresh reloads the bundle when the on-disk version differs from the
// cached one. It reports whether a new bundle was installed.
func (s *Store) Refresh() (bool, error) {
	meta, ok, err := s.dir.Metadata()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if cur := s.current.Load(); cur != nil && cur.Meta.Version == meta.Version && cur.Meta.Timestamp.Equal(meta.Timestamp) {
		return false, nil
	}

	b, err := s.dir.Load()
	if errors.Is(err, ErrNoArtifact) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload artifacts: %w", err)
	}
	s.current.Store(b)
	s.logger.Info("model bundle loaded", "version", b.Meta.Version, "model_type", b.Meta.ModelType)
	if s.onSwap != nil {
		s.onSwap(b)
	}
	return true, nil
}

// Watch reloads on metadata changes until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create artifact watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir.Path()); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir.Path(), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != MetadataFile || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if _, err := s.Refresh(); err != nil {
				s.logger.Warn("artifact reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("artifact watcher error", "error", err)
		}
	}
}
