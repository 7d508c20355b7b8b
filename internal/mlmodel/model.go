package mlmodel

import (
	"fmt"
	"strings"
)

// Kind names a classifier family.
type Kind string

const (
	KindLogReg       Kind = "logreg"
	KindRandomForest Kind = "randomforest"
)

// ParseKind maps a configured model type onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "logreg", "logistic", "logistic_regression":
		return KindLogReg, nil
	case "randomforest", "random_forest", "rf":
		return KindRandomForest, nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// Model is the serialized envelope of one binary classifier.
type Model struct {
	Type   Kind                `json:"type"`
	LogReg *LogisticRegression `json:"logreg,omitempty"`
	Forest *RandomForest       `json:"forest,omitempty"`
}

// Train fits a classifier of the given kind.
func Train(kind Kind, x [][]float64, y []int, seed int64) (*Model, error) {
	switch kind {
	case KindLogReg:
		m, err := TrainLogisticRegression(x, y, DefaultLogRegParams())
		if err != nil {
			return nil, err
		}
		return &Model{Type: kind, LogReg: m}, nil
	case KindRandomForest:
		m, err := TrainRandomForest(x, y, DefaultForestParams(seed))
		if err != nil {
			return nil, err
		}
		return &Model{Type: kind, Forest: m}, nil
	default:
		return nil, fmt.Errorf("train: unknown model type %q", kind)
	}
}

// PredictProba returns the positive-class probability for one scaled vector.
func (m *Model) PredictProba(v []float64) (float64, error) {
	switch {
	case m == nil:
		return 0, fmt.Errorf("predict: nil model")
	case m.Type == KindLogReg && m.LogReg != nil:
		return m.LogReg.PredictProba(v)
	case m.Type == KindRandomForest && m.Forest != nil:
		return m.Forest.PredictProba(v)
	default:
		return 0, fmt.Errorf("predict: malformed %q model", m.Type)
	}
}

// PredictProbaAll scores every row.
func (m *Model) PredictProbaAll(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		p, err := m.PredictProba(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Labels thresholds probabilities at 0.5.
func Labels(probs []float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= 0.5 {
			out[i] = 1
		}
	}
	return out
}
