// Package artifact manages the on-disk model bundle: two classifiers, a
// scaler and metadata, replaced atomically with timestamped backups.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"NewsDesk/internal/mlmodel"
	"NewsDesk/internal/ports"
)

// File names inside the model directory.
const (
	ImportanceFile  = "importance_model.json"
	CredibilityFile = "credibility_model.json"
	ScalerFile      = "scaler.json"
	MetadataFile    = "metadata.json"
	BackupDir       = "backups"
	LockFile        = ".train.lock"

	backupStamp = "20060102_150405"
	staleLock   = 6 * time.Hour
	loadRetries = 3
)

// Model keys in Metadata.PerModelMetrics.
const (
	ModelImportance  = "importance"
	ModelCredibility = "credibility"
)

var (
	// ErrNoArtifact is returned when the directory holds no bundle yet.
	ErrNoArtifact = errors.New("artifact: no model bundle")
	// ErrLocked is returned when another trainer holds the directory lock.
	ErrLocked = errors.New("artifact: model directory locked")
	// ErrInconsistent is returned when the bundle kept changing during load.
	ErrInconsistent = errors.New("artifact: bundle changed during load")
)

// ModelMetrics are the held-out evaluation results of one classifier.
type ModelMetrics struct {
	F1       float64 `json:"f1"`
	Accuracy float64 `json:"accuracy"`
	AUC      float64 `json:"auc,omitempty"`
	CVF1Mean float64 `json:"cv_f1_mean"`
	CVF1Std  float64 `json:"cv_f1_std"`
}

// Metadata describes the bundle currently on disk.
type Metadata struct {
	Timestamp       time.Time               `json:"timestamp"`
	Version         int                     `json:"version"`
	DatasetSize     int                     `json:"dataset_size"`
	ModelType       string                  `json:"model_type"`
	Features        []string                `json:"features"`
	PerModelMetrics map[string]ModelMetrics `json:"per_model_metrics"`
}

// F1 returns the recorded F1 for a model key, zero when absent.
func (m Metadata) F1(model string) float64 {
	return m.PerModelMetrics[model].F1
}

// Bundle is a consistent set of artifacts.
type Bundle struct {
	Importance  *mlmodel.Model
	Credibility *mlmodel.Model
	Scaler      *mlmodel.Scaler
	Meta        Metadata
}

// Dir is a model directory. Readers may load concurrently; Replace holds an
// exclusive in-process lock only while files are swapped.
type Dir struct {
	path   string
	mu     sync.RWMutex
	now    func() time.Time
	mirror ports.ArtifactMirror
	logger *slog.Logger
}

// Option customizes a Dir.
type Option func(*Dir)

// WithClock overrides the time source used for stamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dir) { d.now = now }
}

// WithMirror uploads every backup through m.
func WithMirror(m ports.ArtifactMirror) Option {
	return func(d *Dir) { d.mirror = m }
}

// NewDir returns a handle on the model directory at path.
func NewDir(path string, logger *slog.Logger, opts ...Option) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dir{path: path, now: time.Now, logger: logger.With("component", "artifact")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Metadata reads metadata.json; ok is false when it does not exist.
func (d *Dir) Metadata() (Metadata, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readMetadata()
}

// Load reads the full bundle. Metadata is re-read after the model files; a
// version change in between triggers a retry.
func (d *Dir) Load() (*Bundle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for attempt := 0; attempt < loadRetries; attempt++ {
		before, ok, err := d.readMetadata()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoArtifact
		}

		b := &Bundle{Meta: before}
		if err := d.readJSON(ImportanceFile, &b.Importance); err != nil {
			return nil, err
		}
		if err := d.readJSON(CredibilityFile, &b.Credibility); err != nil {
			return nil, err
		}
		if err := d.readJSON(ScalerFile, &b.Scaler); err != nil {
			return nil, err
		}

		after, _, err := d.readMetadata()
		if err != nil {
			return nil, err
		}
		if after.Version == before.Version && after.Timestamp.Equal(before.Timestamp) {
			return b, nil
		}
		d.logger.Debug("artifact changed during load, retrying", "before", before.Version, "after", after.Version)
	}
	return nil, ErrInconsistent
}

// Replace backs up the current files (when backup is set), writes the new
// bundle and bumps the version. Metadata is written last. The returned
// metadata is what landed on disk.
func (d *Dir) Replace(ctx context.Context, b *Bundle, backup bool) (Metadata, error) {
	if b == nil || b.Importance == nil || b.Credibility == nil || b.Scaler == nil {
		return Metadata{}, fmt.Errorf("replace artifact: incomplete bundle")
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("create model dir: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, hadPrev, err := d.readMetadata()
	if err != nil {
		d.logger.Warn("existing metadata unreadable, starting a new version line", "error", err)
	}
	now := d.now()

	var backups []string
	if backup && hadPrev {
		backups, err = d.backupLocked(now)
		if err != nil {
			return Metadata{}, err
		}
	}

	meta := b.Meta
	meta.Timestamp = now.UTC()
	meta.Version = prev.Version + 1

	writes := []struct {
		name string
		v    any
	}{
		{ImportanceFile, b.Importance},
		{CredibilityFile, b.Credibility},
		{ScalerFile, b.Scaler},
		{MetadataFile, meta},
	}
	for _, w := range writes {
		if err := d.writeAtomic(w.name, w.v); err != nil {
			return Metadata{}, err
		}
	}

	d.logger.Info("model bundle replaced", "version", meta.Version, "backups", len(backups))
	d.mirrorBackups(ctx, backups)
	return meta, nil
}

// Backups lists backup file names, oldest first.
func (d *Dir) Backups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.path, BackupDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Lock takes the exclusive trainer lock on the directory. Locks older than
// six hours are considered abandoned and broken.
func (d *Dir) Lock() (func() error, error) {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	path := filepath.Join(d.path, LockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("release model lock: %w", err)
				}
				return nil
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire model lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || d.now().Sub(info.ModTime()) < staleLock {
			return nil, ErrLocked
		}
		d.logger.Warn("breaking stale model lock", "path", path, "age", d.now().Sub(info.ModTime()))
		_ = os.Remove(path)
	}
	return nil, ErrLocked
}

func (d *Dir) readMetadata() (Metadata, bool, error) {
	var meta Metadata
	err := d.readJSON(MetadataFile, &meta)
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}

func (d *Dir) readJSON(name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (d *Dir) writeAtomic(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.path, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (d *Dir) backupLocked(now time.Time) ([]string, error) {
	dir := filepath.Join(d.path, BackupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	stamp := now.UTC().Format(backupStamp)

	var written []string
	for _, name := range []string{ImportanceFile, CredibilityFile, ScalerFile, MetadataFile} {
		src := filepath.Join(d.path, name)
		raw, err := os.ReadFile(src)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("backup %s: %w", name, err)
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		dst := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, stamp, filepath.Ext(name)))
		if err := os.WriteFile(dst, raw, 0o644); err != nil {
			return written, fmt.Errorf("backup %s: %w", name, err)
		}
		written = append(written, dst)
	}
	return written, nil
}

func (d *Dir) mirrorBackups(ctx context.Context, paths []string) {
	if d.mirror == nil {
		return
	}
	for _, p := range paths {
		if err := d.upload(ctx, p); err != nil {
			d.logger.Warn("mirror backup failed", "file", p, "error", err)
		}
	}
}

func (d *Dir) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.mirror.Upload(ctx, filepath.ToSlash(filepath.Join(BackupDir, filepath.Base(path))), f)
}
