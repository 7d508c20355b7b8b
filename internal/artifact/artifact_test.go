package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/logging"
	"NewsDesk/internal/mlmodel"
)

type recordingMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *recordingMirror) Upload(_ context.Context, key string, body io.Reader) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return nil
}

func testBundle(f1 float64) *Bundle {
	model := &mlmodel.Model{Type: mlmodel.KindLogReg, LogReg: &mlmodel.LogisticRegression{Weights: []float64{0.5, -0.5}, Bias: f1}}
	return &Bundle{
		Importance:  model,
		Credibility: model,
		Scaler:      &mlmodel.Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}},
		Meta: Metadata{
			DatasetSize: 10,
			ModelType:   "logreg",
			Features:    []string{"a", "b"},
			PerModelMetrics: map[string]ModelMetrics{
				ModelImportance:  {F1: f1},
				ModelCredibility: {F1: f1},
			},
		},
	}
}

func TestLoadEmptyDir(t *testing.T) {
	t.Parallel()

	d := NewDir(t.TempDir(), logging.Discard())
	_, err := d.Load()
	require.ErrorIs(t, err, ErrNoArtifact)

	_, ok, err := d.Metadata()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceWritesBundleAndBumpsVersion(t *testing.T) {
	t.Parallel()

	clock := time.Date(2024, time.May, 2, 10, 30, 0, 0, time.UTC)
	mirror := &recordingMirror{}
	d := NewDir(t.TempDir(), logging.Discard(), WithClock(func() time.Time { return clock }), WithMirror(mirror))

	meta, err := d.Replace(context.Background(), testBundle(0.8), true)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)
	assert.Empty(t, mirror.keys, "first replace has nothing to back up")

	clock = clock.Add(time.Hour)
	meta, err = d.Replace(context.Background(), testBundle(0.84), true)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Version)

	loaded, err := d.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Meta.Version)
	assert.InDelta(t, 0.84, loaded.Meta.F1(ModelImportance), 1e-9)

	backups, err := d.Backups()
	require.NoError(t, err)
	assert.Contains(t, backups, "importance_model_20240502_113000.json")
	assert.Contains(t, backups, "metadata_20240502_113000.json")
	assert.Len(t, mirror.keys, 4)

	old, err := os.ReadFile(filepath.Join(d.Path(), BackupDir, "metadata_20240502_113000.json"))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(old, []byte(`"version": 1`)))
}

func TestReplaceRejectsIncompleteBundle(t *testing.T) {
	t.Parallel()

	d := NewDir(t.TempDir(), logging.Discard())
	_, err := d.Replace(context.Background(), &Bundle{}, false)
	assert.Error(t, err)
}

func TestLockIsExclusive(t *testing.T) {
	t.Parallel()

	d := NewDir(t.TempDir(), logging.Discard())
	unlock, err := d.Lock()
	require.NoError(t, err)

	_, err = d.Lock()
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())
	unlock, err = d.Lock()
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestStaleLockIsBroken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, LockFile)
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))
	old := time.Now().Add(-7 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	unlock, err := NewDir(dir, logging.Discard()).Lock()
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestStoreRefreshSwapsOnVersionChange(t *testing.T) {
	t.Parallel()

	d := NewDir(t.TempDir(), logging.Discard())
	s := NewStore(d, logging.Discard())
	swapped := 0
	s.OnSwap(func(*Bundle) { swapped++ })

	changed, err := s.Refresh()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, s.Current())

	_, err = d.Replace(context.Background(), testBundle(0.7), false)
	require.NoError(t, err)
	changed, err = s.Refresh()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, s.Current().Meta.Version)

	changed, err = s.Refresh()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, swapped)
}

func TestConcurrentLoadDuringReplace(t *testing.T) {
	t.Parallel()

	d := NewDir(t.TempDir(), logging.Discard())
	_, err := d.Replace(context.Background(), testBundle(0.5), false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b, err := d.Load()
				if err != nil {
					t.Errorf("load: %v", err)
					return
				}
				if b.Importance.LogReg.Bias != b.Meta.F1(ModelImportance) {
					t.Errorf("torn bundle: bias %v, metadata f1 %v", b.Importance.LogReg.Bias, b.Meta.F1(ModelImportance))
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := d.Replace(context.Background(), testBundle(0.5+float64(i)/100), false)
		require.NoError(t, err)
	}
	wg.Wait()
}
