package model

import "fmt"

// Tree is a binary decision tree in flat array form. Node i is a leaf when
// ChildrenLeft[i] == -1. Samples go left when x[Feature[i]] <= Threshold[i].
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

func (t *Tree) validate(numFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 || len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("%w: inconsistent node arrays", ErrMalformedTree)
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == -1 {
			if len(t.Value[i]) == 0 {
				return fmt.Errorf("%w: leaf %d has no value", ErrMalformedTree, i)
			}
			continue
		}
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("%w: node %d has bad children", ErrMalformedTree, i)
		}
		if f := t.Feature[i]; f < 0 || (numFeatures > 0 && f >= numFeatures) {
			return fmt.Errorf("%w: node %d splits on feature %d", ErrMalformedTree, i, f)
		}
	}
	return nil
}

// leaf walks the tree and returns the value vector of the reached leaf.
func (t *Tree) leaf(x []float64) ([]float64, error) {
	i := 0
	for steps := 0; steps <= len(t.ChildrenLeft); steps++ {
		if i < 0 || i >= len(t.ChildrenLeft) {
			return nil, fmt.Errorf("%w: node %d out of range", ErrMalformedTree, i)
		}
		if t.ChildrenLeft[i] == -1 {
			return t.Value[i], nil
		}
		f := t.Feature[i]
		if f < 0 || f >= len(x) {
			return nil, fmt.Errorf("%w: feature %d out of range", ErrMalformedTree, f)
		}
		if x[f] <= t.Threshold[i] {
			i = t.ChildrenLeft[i]
		} else {
			i = t.ChildrenRight[i]
		}
	}
	return nil, fmt.Errorf("%w: cycle detected", ErrMalformedTree)
}

// RandomForest averages the positive-class fraction of each tree's leaf.
type RandomForest struct {
	Features int    `json:"n_features"`
	Trees    []Tree `json:"trees"`
}

func (m *RandomForest) NumFeatures() int { return m.Features }

func (m *RandomForest) PredictProba(x []float64) (float64, error) {
	if err := checkWidth(m, x); err != nil {
		return 0, err
	}
	if err := checkFinite(x); err != nil {
		return 0, err
	}
	if len(m.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest has no trees", ErrMalformedTree)
	}

	var sum float64
	for i := range m.Trees {
		v, err := m.Trees[i].leaf(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += positiveFraction(v)
	}
	return sum / float64(len(m.Trees)), nil
}

// positiveFraction turns a leaf's class counts into P(class 1). A single
// value is taken as the probability itself.
func positiveFraction(v []float64) float64 {
	if len(v) == 1 {
		return v[0]
	}
	total := 0.0
	for _, c := range v {
		total += c
	}
	if total == 0 {
		return 0.5
	}
	return v[1] / total
}

// GradientBoosting sums regression-tree outputs in log-odds space.
type GradientBoosting struct {
	Features     int     `json:"n_features"`
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

func (m *GradientBoosting) NumFeatures() int { return m.Features }

func (m *GradientBoosting) PredictProba(x []float64) (float64, error) {
	if err := checkWidth(m, x); err != nil {
		return 0, err
	}
	if err := checkFinite(x); err != nil {
		return 0, err
	}

	z := m.Init
	for i := range m.Trees {
		v, err := m.Trees[i].leaf(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		z += m.LearningRate * v[0]
	}
	return sigmoid(z), nil
}
