// Package predict turns caller input into model feature vectors and wraps
// each trained artifact with confidence tiers and heuristic fallback.
package predict

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrModelUnavailable = errors.New("predict: model unavailable")
	ErrVectorLength     = errors.New("predict: feature vector does not match artifact")
	ErrTeamSize         = errors.New("predict: each team needs 1 to 5 champions")
)

// MissingFeatureError is returned when an artifact asks for a feature the
// builder cannot supply.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("predict: missing feature %q", e.Feature)
}

// Confidence is a coarse bucket of a prediction's distance from a coin flip.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	highThreshold   = 0.15
	mediumThreshold = 0.08
)

// ConfidenceFor buckets |p - 0.5|.
func ConfidenceFor(p float64) Confidence {
	d := math.Abs(p - 0.5)
	switch {
	case d > highThreshold:
		return ConfidenceHigh
	case d > mediumThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Result is the outcome of one prediction. Blue is team A.
type Result struct {
	BlueWinProbability float64            `json:"blue_win_probability"`
	RedWinProbability  float64            `json:"red_win_probability"`
	Confidence         Confidence         `json:"confidence"`
	Diff               map[string]float64 `json:"diff"`
	Model              string             `json:"model"`
	Degraded           bool               `json:"degraded"`
	// Corrections maps fuzzy-matched inputs to the names actually used.
	Corrections map[string]string `json:"corrections,omitempty"`
}

func newResult(blue float64, model string, degraded bool, diff map[string]float64) *Result {
	blue = clamp01(blue)
	return &Result{
		BlueWinProbability: blue,
		RedWinProbability:  1 - blue,
		Confidence:         ConfidenceFor(blue),
		Diff:               diff,
		Model:              model,
		Degraded:           degraded,
	}
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0.5
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// ratio returns a/(a+b), or 0.5 when both are zero.
func ratio(a, b float64) float64 {
	if a+b <= 0 {
		return 0.5
	}
	return a / (a + b)
}
