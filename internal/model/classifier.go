package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrFeatureCount  = errors.New("model: feature count mismatch")
	ErrMalformedTree = errors.New("model: malformed tree")
)

// Classifier returns the probability of the positive class (team A wins).
type Classifier interface {
	PredictProba(x []float64) (float64, error)
	// NumFeatures is the input width the classifier was fitted on, or 0 if unknown.
	NumFeatures() int
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func checkWidth(c Classifier, x []float64) error {
	if n := c.NumFeatures(); n > 0 && len(x) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), n)
	}
	return nil
}

func checkFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("model: feature %d is not finite", i)
		}
	}
	return nil
}

// LogisticRegression is a fitted binary logistic model.
type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *LogisticRegression) NumFeatures() int { return len(m.Coef) }

func (m *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if err := checkWidth(m, x); err != nil {
		return 0, err
	}
	if err := checkFinite(x); err != nil {
		return 0, err
	}
	z := m.Intercept
	for i, c := range m.Coef {
		z += c * x[i]
	}
	return sigmoid(z), nil
}
