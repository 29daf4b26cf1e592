// Package model loads trained classifier artifacts and evaluates them.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Families of prediction models
const (
	FamilyDraft     = "draft"
	FamilyGameState = "game_state"
	FamilySnapshot  = "snapshot"
)

// Classifier kinds understood by Decode
const (
	TypeLogistic         = "logistic_regression"
	TypeRandomForest     = "random_forest"
	TypeGradientBoosting = "gradient_boosting"
)

var ErrUnknownModelType = errors.New("model: unknown model type")

// Metadata describes how an artifact was trained.
type Metadata struct {
	Accuracy           float64 `json:"accuracy"`
	ROCAUC             float64 `json:"roc_auc"`
	TrainingMatchCount int     `json:"training_match_count"`
	SnapshotMinute     int     `json:"snapshot_minute,omitempty"`
	Version            string  `json:"version"`
}

// Artifact is a loaded model file. It is read-only after Load.
type Artifact struct {
	Family          string         `json:"family"`
	ModelType       string         `json:"model_type"`
	FeatureNames    []string       `json:"feature_names"`
	Metadata        Metadata       `json:"metadata"`
	ChampionEncoder map[string]int `json:"champion_encoder,omitempty"`

	Classifier Classifier `json:"-"`
	Path       string     `json:"-"`
}

// artifactFile is the on-disk shape; the classifier body depends on model_type.
type artifactFile struct {
	Artifact
	RawClassifier json.RawMessage `json:"classifier"`
}

// Load reads an artifact from path. Files ending in .gz are gunzipped.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip artifact %s: %w", path, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gunzip artifact %s: %w", path, err)
		}
	}

	a, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Path = path
	return a, nil
}

// Decode parses an artifact document and checks it is self-consistent.
func Decode(data []byte) (*Artifact, error) {
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	a := f.Artifact

	switch a.ModelType {
	case TypeLogistic:
		var m LogisticRegression
		if err := json.Unmarshal(f.RawClassifier, &m); err != nil {
			return nil, fmt.Errorf("decode logistic regression: %w", err)
		}
		a.Classifier = &m
	case TypeRandomForest:
		var m RandomForest
		if err := json.Unmarshal(f.RawClassifier, &m); err != nil {
			return nil, fmt.Errorf("decode random forest: %w", err)
		}
		for i := range m.Trees {
			if err := m.Trees[i].validate(m.Features); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		a.Classifier = &m
	case TypeGradientBoosting:
		var m GradientBoosting
		if err := json.Unmarshal(f.RawClassifier, &m); err != nil {
			return nil, fmt.Errorf("decode gradient boosting: %w", err)
		}
		for i := range m.Trees {
			if err := m.Trees[i].validate(m.Features); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		a.Classifier = &m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelType, a.ModelType)
	}

	if len(a.FeatureNames) == 0 {
		return nil, errors.New("model: artifact has no feature_names")
	}
	if n := a.Classifier.NumFeatures(); n > 0 && n != len(a.FeatureNames) {
		return nil, fmt.Errorf("%w: classifier expects %d, feature_names has %d",
			ErrFeatureCount, n, len(a.FeatureNames))
	}
	if a.Family == FamilySnapshot && a.Metadata.SnapshotMinute == 0 {
		a.Metadata.SnapshotMinute = DefaultSnapshotMinute
	}
	return &a, nil
}

// DefaultSnapshotMinute is assumed for snapshot artifacts that do not record one.
const DefaultSnapshotMinute = 20

// Name identifies the artifact in results and logs.
func (a *Artifact) Name() string {
	if a.Metadata.Version != "" {
		return a.Family + "_" + a.ModelType + "@" + a.Metadata.Version
	}
	return a.Family + "_" + a.ModelType
}
