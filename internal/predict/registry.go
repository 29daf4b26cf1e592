package predict

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"winpredict/internal/model"
)

// RegistryConfig names the artifact files to load. Empty paths are skipped.
type RegistryConfig struct {
	DraftPath       string
	GameStateRFPath string
	GameStateLRPath string
	SnapshotPath    string

	WinRates WinRateSource
	Logger   *zap.Logger
}

// ModelInfo is the public description of a loaded artifact.
type ModelInfo struct {
	Family             string   `json:"family"`
	ModelType          string   `json:"model_type"`
	Name               string   `json:"name"`
	Features           int      `json:"features"`
	Accuracy           float64  `json:"accuracy"`
	ROCAUC             float64  `json:"roc_auc"`
	TrainingMatchCount int      `json:"training_match_count"`
	SnapshotMinute     int      `json:"snapshot_minute,omitempty"`
	Version            string   `json:"version,omitempty"`
	FeatureNames       []string `json:"feature_names,omitempty"`
}

// Registry holds one predictor per family. It is immutable once built.
type Registry struct {
	draft     *DraftPredictor
	gameState *GameStatePredictor
	snapshot  *SnapshotPredictor
}

// LoadRegistry loads every configured artifact. A family whose artifact is
// missing or invalid is left unavailable and logged. For game state the
// random forest is preferred and the logistic model is the fallback.
func LoadRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Sugar().Named("predict")

	r := &Registry{}

	if a := loadFamily(log, cfg.DraftPath, model.FamilyDraft); a != nil {
		p, err := NewDraftPredictor(a, cfg.WinRates, logger)
		if err != nil {
			log.Warnw("draft model rejected", "path", cfg.DraftPath, "error", err)
		} else {
			r.draft = p
		}
	}

	for _, path := range []string{cfg.GameStateRFPath, cfg.GameStateLRPath} {
		a := loadFamily(log, path, model.FamilyGameState)
		if a == nil {
			continue
		}
		p, err := NewGameStatePredictor(a, logger)
		if err != nil {
			log.Warnw("game state model rejected", "path", path, "error", err)
			continue
		}
		r.gameState = p
		break
	}

	if a := loadFamily(log, cfg.SnapshotPath, model.FamilySnapshot); a != nil {
		r.snapshot = NewSnapshotPredictor(a, logger)
	}

	if r.draft == nil && r.gameState == nil && r.snapshot == nil {
		return nil, fmt.Errorf("%w: no artifact could be loaded", ErrModelUnavailable)
	}
	for _, m := range r.Models() {
		log.Infow("model loaded", "family", m.Family, "name", m.Name, "features", m.Features, "accuracy", m.Accuracy)
	}
	return r, nil
}

func loadFamily(log *zap.SugaredLogger, path, family string) *model.Artifact {
	if path == "" {
		return nil
	}
	a, err := model.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infow("model file not found", "family", family, "path", path)
		} else {
			log.Warnw("model failed to load", "family", family, "path", path, "error", err)
		}
		return nil
	}
	if a.Family != family {
		log.Warnw("model family mismatch", "path", path, "got", a.Family, "want", family)
		return nil
	}
	return a
}

func (r *Registry) Draft() (*DraftPredictor, error) {
	if r == nil || r.draft == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, model.FamilyDraft)
	}
	return r.draft, nil
}

func (r *Registry) GameState() (*GameStatePredictor, error) {
	if r == nil || r.gameState == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, model.FamilyGameState)
	}
	return r.gameState, nil
}

func (r *Registry) Snapshot() (*SnapshotPredictor, error) {
	if r == nil || r.snapshot == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, model.FamilySnapshot)
	}
	return r.snapshot, nil
}

// Models lists the loaded artifacts.
func (r *Registry) Models() []ModelInfo {
	if r == nil {
		return nil
	}
	var out []ModelInfo
	if r.draft != nil {
		out = append(out, infoOf(r.draft.artifact, false))
	}
	if r.gameState != nil {
		out = append(out, infoOf(r.gameState.artifact, true))
	}
	if r.snapshot != nil {
		out = append(out, infoOf(r.snapshot.artifact, true))
	}
	return out
}

func infoOf(a *model.Artifact, withNames bool) ModelInfo {
	info := ModelInfo{
		Family:             a.Family,
		ModelType:          a.ModelType,
		Name:               a.Name(),
		Features:           len(a.FeatureNames),
		Accuracy:           a.Metadata.Accuracy,
		ROCAUC:             a.Metadata.ROCAUC,
		TrainingMatchCount: a.Metadata.TrainingMatchCount,
		SnapshotMinute:     a.Metadata.SnapshotMinute,
		Version:            a.Metadata.Version,
	}
	if withNames {
		info.FeatureNames = a.FeatureNames
	}
	return info
}

// Holder publishes the current Registry and swaps it atomically on reload.
type Holder struct {
	cur atomic.Pointer[Registry]
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.cur.Store(r)
	return h
}

func (h *Holder) Get() *Registry { return h.cur.Load() }

// Reload builds a fresh registry and swaps it in. On failure the current
// registry stays in place.
func (h *Holder) Reload(cfg RegistryConfig) error {
	r, err := LoadRegistry(cfg)
	if err != nil {
		return err
	}
	h.cur.Store(r)
	return nil
}
