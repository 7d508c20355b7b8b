// Package mlmodel is a small native implementation of the two classifier
// families the predictor uses: logistic regression and a random forest, plus
// the scaler and evaluation helpers the trainer needs.
package mlmodel

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyDataset is returned when there is nothing to fit.
	ErrEmptyDataset = errors.New("mlmodel: empty dataset")
	// ErrDimension is returned when a vector does not match the fitted width.
	ErrDimension = errors.New("mlmodel: feature dimension mismatch")
)

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and standard deviation. Constant columns
// get a scale of 1.
func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, ErrEmptyDataset
	}
	width := len(x[0])
	mean := make([]float64, width)
	for _, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("fit scaler: %w", ErrDimension)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}
	return &Scaler{Mean: mean, Scale: scale}, nil
}

// Width is the number of features the scaler was fitted on.
func (s *Scaler) Width() int {
	return len(s.Mean)
}

// Transform scales a single vector.
func (s *Scaler) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) || len(s.Scale) != len(s.Mean) {
		return nil, fmt.Errorf("scale vector of %d features, fitted on %d: %w", len(v), len(s.Mean), ErrDimension)
	}
	out := make([]float64, len(v))
	for j := range v {
		out[j] = (v[j] - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll scales every row.
func (s *Scaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
