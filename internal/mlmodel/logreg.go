package mlmodel

import (
	"fmt"
	"math"
)

// LogRegParams tunes batch gradient descent.
type LogRegParams struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

// DefaultLogRegParams works well for ~20 standardized features.
func DefaultLogRegParams() LogRegParams {
	return LogRegParams{LearningRate: 0.1, Epochs: 500, L2: 0.01}
}

// LogisticRegression is a binary linear classifier.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// TrainLogisticRegression fits weights with L2-regularized batch gradient
// descent. Labels are 0 or 1.
func TrainLogisticRegression(x [][]float64, y []int, p LogRegParams) (*LogisticRegression, error) {
	if len(x) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("train logreg: %d rows, %d labels: %w", len(x), len(y), ErrDimension)
	}
	if p.Epochs <= 0 {
		p = DefaultLogRegParams()
	}

	width := len(x[0])
	m := &LogisticRegression{Weights: make([]float64, width)}
	grad := make([]float64, width)
	n := float64(len(x))

	for epoch := 0; epoch < p.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, row := range x {
			if len(row) != width {
				return nil, fmt.Errorf("train logreg row %d: %w", i, ErrDimension)
			}
			diff := sigmoid(m.linear(row)) - float64(y[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= p.LearningRate * (grad[j]/n + p.L2*m.Weights[j])
		}
		m.Bias -= p.LearningRate * gradBias / n
	}
	return m, nil
}

// PredictProba returns the positive-class probability.
func (m *LogisticRegression) PredictProba(v []float64) (float64, error) {
	if len(v) != len(m.Weights) {
		return 0, fmt.Errorf("logreg predict: %w", ErrDimension)
	}
	return sigmoid(m.linear(v)), nil
}

func (m *LogisticRegression) linear(v []float64) float64 {
	z := m.Bias
	for j, w := range m.Weights {
		z += w * v[j]
	}
	return z
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
