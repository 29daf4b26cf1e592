package predict

import (
	"fmt"

	"go.uber.org/zap"

	"winpredict/internal/model"
)

// GameStateFields is the raw game-state vector order. Artifacts of the
// game_state family must list exactly these names.
var GameStateFields = []string{
	"game_duration",
	"blue_kills", "blue_deaths", "blue_assists", "blue_gold",
	"blue_towers", "blue_dragons", "blue_barons", "blue_vision_score",
	"red_kills", "red_deaths", "red_assists", "red_gold",
	"red_towers", "red_dragons", "red_barons", "red_vision_score",
}

// GameState is an in-game scoreboard. Duration is in minutes.
type GameState struct {
	GameDuration    float64 `json:"game_duration" validate:"gte=0"`
	BlueKills       float64 `json:"blue_kills" validate:"gte=0"`
	BlueDeaths      float64 `json:"blue_deaths" validate:"gte=0"`
	BlueAssists     float64 `json:"blue_assists" validate:"gte=0"`
	BlueGold        float64 `json:"blue_gold" validate:"gte=0"`
	BlueTowers      float64 `json:"blue_towers" validate:"gte=0,lte=11"`
	BlueDragons     float64 `json:"blue_dragons" validate:"gte=0"`
	BlueBarons      float64 `json:"blue_barons" validate:"gte=0"`
	BlueVisionScore float64 `json:"blue_vision_score" validate:"gte=0"`
	RedKills        float64 `json:"red_kills" validate:"gte=0"`
	RedDeaths       float64 `json:"red_deaths" validate:"gte=0"`
	RedAssists      float64 `json:"red_assists" validate:"gte=0"`
	RedGold         float64 `json:"red_gold" validate:"gte=0"`
	RedTowers       float64 `json:"red_towers" validate:"gte=0,lte=11"`
	RedDragons      float64 `json:"red_dragons" validate:"gte=0"`
	RedBarons       float64 `json:"red_barons" validate:"gte=0"`
	RedVisionScore  float64 `json:"red_vision_score" validate:"gte=0"`
}

// Vector returns the state in GameStateFields order.
func (g GameState) Vector() []float64 {
	return []float64{
		g.GameDuration,
		g.BlueKills, g.BlueDeaths, g.BlueAssists, g.BlueGold,
		g.BlueTowers, g.BlueDragons, g.BlueBarons, g.BlueVisionScore,
		g.RedKills, g.RedDeaths, g.RedAssists, g.RedGold,
		g.RedTowers, g.RedDragons, g.RedBarons, g.RedVisionScore,
	}
}

func (g GameState) diff() map[string]float64 {
	return map[string]float64{
		"gold_diff":   g.BlueGold - g.RedGold,
		"kill_diff":   g.BlueKills - g.RedKills,
		"tower_diff":  g.BlueTowers - g.RedTowers,
		"dragon_diff": g.BlueDragons - g.RedDragons,
		"baron_diff":  g.BlueBarons - g.RedBarons,
	}
}

// CheckGameStateSchema verifies an artifact was trained on GameStateFields.
func CheckGameStateSchema(a *model.Artifact) error {
	if len(a.FeatureNames) != len(GameStateFields) {
		return fmt.Errorf("%w: %d features, want %d", ErrVectorLength, len(a.FeatureNames), len(GameStateFields))
	}
	for i, name := range GameStateFields {
		if a.FeatureNames[i] != name {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrVectorLength, i, a.FeatureNames[i], name)
		}
	}
	return nil
}

// GameStatePredictor predicts from a raw scoreboard.
type GameStatePredictor struct {
	artifact *model.Artifact
	log      *zap.SugaredLogger
}

func NewGameStatePredictor(a *model.Artifact, logger *zap.Logger) (*GameStatePredictor, error) {
	if err := CheckGameStateSchema(a); err != nil {
		return nil, err
	}
	return &GameStatePredictor{artifact: a, log: logger.Sugar().Named("predict")}, nil
}

func (p *GameStatePredictor) Artifact() *model.Artifact { return p.artifact }

func (p *GameStatePredictor) Predict(g GameState) (*Result, error) {
	x := g.Vector()
	if len(x) != len(p.artifact.FeatureNames) {
		return nil, ErrVectorLength
	}

	predictionsTotal.WithLabelValues(model.FamilyGameState).Inc()
	prob, err := p.artifact.Classifier.PredictProba(x)
	if err != nil {
		p.log.Warnw("classifier failed, using gold-ratio fallback", "model", p.artifact.Name(), "error", err)
		fallbacksTotal.WithLabelValues(model.FamilyGameState).Inc()
		return newResult(ratio(g.BlueGold, g.RedGold), p.artifact.Name(), true, g.diff()), nil
	}
	return newResult(prob, p.artifact.Name(), false, g.diff()), nil
}
