package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsDesk/internal/artifact"
	"NewsDesk/internal/config"
	"NewsDesk/internal/features"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/mlmodel"
	"NewsDesk/internal/reactor"
)

const (
	testFraction = 0.2
	cvFolds      = 3
	// replaceEpsilon absorbs float noise when a delta equals the threshold.
	replaceEpsilon = 1e-9
)

// Outcomes recorded in TrainResult.Reason.
const (
	OutcomeReplaced  = "replaced"
	OutcomeNoGain    = "no_improvement"
	OutcomeRegressed = "regression"
)

// ErrSingleClass is returned when a label column has only one class.
var ErrSingleClass = errors.New("training: label has a single class")

// Candidate is a freshly trained bundle with its held-out metrics.
type Candidate struct {
	Bundle      *artifact.Bundle
	Metrics     map[string]artifact.ModelMetrics
	DatasetSize int
}

// TrainResult reports what Apply did.
type TrainResult struct {
	Replaced    bool
	Reason      string
	Version     int
	DatasetSize int
	PreviousF1  map[string]float64
	CandidateF1 map[string]float64
	Metrics     map[string]artifact.ModelMetrics
}

// Trainer fits the two classifiers and swaps them in when they beat the
// current bundle.
type Trainer struct {
	dir       *artifact.Dir
	kind      mlmodel.Kind
	threshold float64
	backup    bool
	seed      int64
	reactor   *reactor.Reactor
	sink      *metrics.Sink
	logger    *slog.Logger
}

// NewTrainer validates the configured model type.
func NewTrainer(cfg config.Config, dir *artifact.Dir, rx *reactor.Reactor, sink *metrics.Sink, logger *slog.Logger) (*Trainer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	modelType := cfg.LocalPredictor.ModelType
	if modelType == "" || modelType == "rules" {
		modelType = string(mlmodel.KindLogReg)
	}
	kind, err := mlmodel.ParseKind(modelType)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	return &Trainer{
		dir:       dir,
		kind:      kind,
		threshold: cfg.SelfTuning.ReplaceThreshold,
		backup:    cfg.SelfTuning.BackupEnabled,
		seed:      cfg.SelfTuning.Seed,
		reactor:   rx,
		sink:      sink,
		logger:    logger.With("component", "trainer"),
	}, nil
}

// Train loads the dataset, fits a candidate and applies it under the
// directory lock.
func (t *Trainer) Train(ctx context.Context, datasetPath string) (TrainResult, error) {
	unlock, err := t.dir.Lock()
	if err != nil {
		return TrainResult{}, err
	}
	defer func() {
		if err := unlock(); err != nil {
			t.logger.Warn("release model lock", "error", err)
		}
	}()

	ds, err := ReadDataset(datasetPath)
	if err != nil {
		return TrainResult{}, err
	}
	if ds.Skipped > 0 {
		t.logger.Warn("dataset rows skipped", "count", ds.Skipped)
	}
	cand, err := t.Fit(ds)
	if err != nil {
		return TrainResult{DatasetSize: len(ds.Samples)}, err
	}
	return t.Apply(ctx, cand)
}

// Fit splits, scales, trains and evaluates both classifiers.
func (t *Trainer) Fit(ds Dataset) (*Candidate, error) {
	x, yImp, yCred := ds.Matrix()
	if len(x) == 0 {
		return nil, mlmodel.ErrEmptyDataset
	}
	if err := bothClasses(yImp); err != nil {
		return nil, fmt.Errorf("importance: %w", err)
	}
	if err := bothClasses(yCred); err != nil {
		return nil, fmt.Errorf("credibility: %w", err)
	}

	trainIdx, testIdx := mlmodel.StratifiedSplit(yImp, testFraction, t.seed)
	scaler, err := mlmodel.FitScaler(rows(x, trainIdx))
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.TransformAll(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}
	xTrain, xTest := rows(scaled, trainIdx), rows(scaled, testIdx)

	cand := &Candidate{
		Bundle: &artifact.Bundle{
			Scaler: scaler,
			Meta: artifact.Metadata{
				DatasetSize: len(x),
				ModelType:   string(t.kind),
				Features:    features.Names(),
			},
		},
		Metrics:     make(map[string]artifact.ModelMetrics, 2),
		DatasetSize: len(x),
	}

	targets := []struct {
		key string
		y   []int
		dst **mlmodel.Model
	}{
		{artifact.ModelImportance, yImp, &cand.Bundle.Importance},
		{artifact.ModelCredibility, yCred, &cand.Bundle.Credibility},
	}
	for i, tg := range targets {
		model, err := mlmodel.Train(t.kind, xTrain, labels(tg.y, trainIdx), t.seed+int64(i))
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", tg.key, err)
		}
		m, err := evaluate(model, t.kind, xTest, labels(tg.y, testIdx), t.seed)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", tg.key, err)
		}
		*tg.dst = model
		cand.Metrics[tg.key] = m
	}
	cand.Bundle.Meta.PerModelMetrics = cand.Metrics
	return cand, nil
}

// Apply compares the candidate with the metadata on disk and replaces the
// bundle when ShouldReplace allows it. A skipped candidate leaves every file
// untouched.
func (t *Trainer) Apply(ctx context.Context, cand *Candidate) (TrainResult, error) {
	prevMeta, _, err := t.dir.Metadata()
	if err != nil {
		t.logger.Warn("existing metadata unreadable, treating as empty", "error", err)
		prevMeta = artifact.Metadata{}
	}
	res := TrainResult{
		DatasetSize: cand.DatasetSize,
		Version:     prevMeta.Version,
		PreviousF1:  f1s(prevMeta.PerModelMetrics),
		CandidateF1: f1s(cand.Metrics),
		Metrics:     cand.Metrics,
	}

	replace, reason := ShouldReplace(res.PreviousF1, res.CandidateF1, t.threshold)
	res.Reason = reason
	if !replace {
		t.sink.Inc(metrics.ModelTrainingSkipped)
		t.logger.Info("candidate kept out",
			"reason", reason,
			"previous", res.PreviousF1,
			"candidate", res.CandidateF1,
			"threshold", t.threshold,
		)
		return res, nil
	}

	meta, err := t.dir.Replace(ctx, cand.Bundle, t.backup)
	if err != nil {
		return res, fmt.Errorf("replace model bundle: %w", err)
	}
	res.Replaced = true
	res.Version = meta.Version

	t.sink.Inc(metrics.ModelRetrained)
	t.sink.SetGauge(metrics.ModelVersion, float64(meta.Version))
	t.logger.Info("model bundle retrained", "version", meta.Version, "f1", res.CandidateF1, "dataset_size", cand.DatasetSize)

	if t.reactor != nil {
		t.reactor.Emit(ctx, reactor.ModelRetrained, "trainer", map[string]any{
			"version":      meta.Version,
			"model_type":   meta.ModelType,
			"dataset_size": meta.DatasetSize,
			"previous_f1":  res.PreviousF1,
			"f1":           res.CandidateF1,
			"trained_at":   meta.Timestamp.Format(time.RFC3339),
		})
	}
	return res, nil
}

// ShouldReplace accepts a candidate iff at least one model improves by the
// threshold and none regresses by more than it. Missing previous scores
// count as zero.
func ShouldReplace(previous, candidate map[string]float64, threshold float64) (bool, string) {
	improved := false
	for _, key := range []string{artifact.ModelImportance, artifact.ModelCredibility} {
		delta := candidate[key] - previous[key]
		if delta < -threshold-replaceEpsilon {
			return false, OutcomeRegressed
		}
		if delta+replaceEpsilon >= threshold {
			improved = true
		}
	}
	if !improved {
		return false, OutcomeNoGain
	}
	return true, OutcomeReplaced
}

func evaluate(model *mlmodel.Model, kind mlmodel.Kind, x [][]float64, y []int, seed int64) (artifact.ModelMetrics, error) {
	if len(x) == 0 {
		return artifact.ModelMetrics{}, mlmodel.ErrEmptyDataset
	}
	probs, err := model.PredictProbaAll(x)
	if err != nil {
		return artifact.ModelMetrics{}, err
	}
	pred := mlmodel.Labels(probs)
	m := artifact.ModelMetrics{
		F1:       mlmodel.WeightedF1(y, pred),
		Accuracy: mlmodel.Accuracy(y, pred),
	}
	if auc, ok := mlmodel.AUC(y, probs); ok {
		m.AUC = auc
	}
	mean, std, err := mlmodel.CrossValF1(kind, x, y, cvFolds, seed)
	if err != nil {
		return artifact.ModelMetrics{}, fmt.Errorf("cross-validate: %w", err)
	}
	m.CVF1Mean, m.CVF1Std = mean, std
	return m, nil
}

func bothClasses(y []int) error {
	var pos int
	for _, v := range y {
		pos += v
	}
	if pos == 0 || pos == len(y) {
		return ErrSingleClass
	}
	return nil
}

func rows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func labels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

func f1s(m map[string]artifact.ModelMetrics) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v.F1
	}
	return out
}
