package predict

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"winpredict/internal/model"
	"winpredict/internal/snapshot"
)

// SnapshotInput is a team-state snapshot keyed by column names such as
// "blue_gold" or "t15_blue_gold". Minute 0 means the artifact's own minute.
type SnapshotInput struct {
	Minute int                `json:"minute" validate:"gte=0,lte=60"`
	Fields map[string]float64 `json:"fields" validate:"required,min=1"`
}

// FromSnapshot converts an extracted snapshot into predictor input.
func FromSnapshot(s snapshot.Snapshot) SnapshotInput {
	prefix := fmt.Sprintf("t%d_", s.Minute)
	fields := make(map[string]float64, 19)
	for k, v := range s.Fields() {
		fields[strings.TrimPrefix(k, prefix)] = v
	}
	return SnapshotInput{Minute: s.Minute, Fields: fields}
}

// MinuteMismatchError is returned when the input minute differs from the
// minute the artifact was trained on.
type MinuteMismatchError struct {
	Got, Want int
}

func (e *MinuteMismatchError) Error() string {
	return fmt.Sprintf("predict: snapshot minute %d, model expects %d", e.Got, e.Want)
}

// SnapshotBuilder emits values in the artifact's feature_names order,
// looking each one up by name.
type SnapshotBuilder struct {
	minute int
	names  []string
}

func NewSnapshotBuilder(a *model.Artifact) *SnapshotBuilder {
	return &SnapshotBuilder{minute: a.Metadata.SnapshotMinute, names: a.FeatureNames}
}

func (b *SnapshotBuilder) Minute() int { return b.minute }

func (b *SnapshotBuilder) Build(in SnapshotInput) ([]float64, error) {
	if in.Minute != 0 && in.Minute != b.minute {
		return nil, &MinuteMismatchError{Got: in.Minute, Want: b.minute}
	}

	fields := b.normalize(in.Fields)
	prefix := fmt.Sprintf("t%d_", b.minute)

	x := make([]float64, len(b.names))
	for i, name := range b.names {
		v, ok := fields[strings.TrimPrefix(name, prefix)]
		if !ok {
			v, ok = fields[name]
		}
		if !ok {
			return nil, &MissingFeatureError{Feature: name}
		}
		x[i] = v
	}
	return x, nil
}

// normalize strips the builder's "t{minute}_" prefix from field names and
// derives missing diffs. An unprefixed key wins over its prefixed twin.
func (b *SnapshotBuilder) normalize(in map[string]float64) map[string]float64 {
	prefix := fmt.Sprintf("t%d_", b.minute)
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if short := strings.TrimPrefix(k, prefix); short != k {
			if _, dup := in[short]; dup {
				continue
			}
			k = short
		}
		out[k] = v
	}
	return withDerivedDiffs(out)
}

// withDerivedDiffs fills gold/xp/kill diffs from their halves when absent.
func withDerivedDiffs(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	for _, stat := range []string{"gold", "xp"} {
		derive(out, stat+"_diff", "blue_"+stat, "red_"+stat)
	}
	derive(out, "kill_diff", "blue_kills", "red_kills")
	return out
}

func derive(m map[string]float64, key, blue, red string) {
	if _, ok := m[key]; ok {
		return
	}
	b, okB := m[blue]
	r, okR := m[red]
	if okB && okR {
		m[key] = b - r
	}
}

func snapshotDiff(f map[string]float64) map[string]float64 {
	d := func(blue, red string) float64 { return f[blue] - f[red] }
	return map[string]float64{
		"gold_diff":   d("blue_gold", "red_gold"),
		"xp_diff":     d("blue_xp", "red_xp"),
		"kill_diff":   d("blue_kills", "red_kills"),
		"tower_diff":  d("blue_towers", "red_towers"),
		"dragon_diff": d("blue_dragons", "red_dragons"),
		"baron_diff":  d("blue_barons", "red_barons"),
	}
}

// SnapshotPredictor predicts from a timeline snapshot at a fixed minute.
type SnapshotPredictor struct {
	artifact *model.Artifact
	builder  *SnapshotBuilder
	log      *zap.SugaredLogger
}

func NewSnapshotPredictor(a *model.Artifact, logger *zap.Logger) *SnapshotPredictor {
	return &SnapshotPredictor{
		artifact: a,
		builder:  NewSnapshotBuilder(a),
		log:      logger.Sugar().Named("predict"),
	}
}

func (p *SnapshotPredictor) Artifact() *model.Artifact { return p.artifact }

func (p *SnapshotPredictor) Minute() int { return p.builder.Minute() }

func (p *SnapshotPredictor) Predict(in SnapshotInput) (*Result, error) {
	fields := p.builder.normalize(in.Fields)
	x, err := p.builder.Build(SnapshotInput{Minute: in.Minute, Fields: fields})
	if err != nil {
		return nil, err
	}
	if len(x) != len(p.artifact.FeatureNames) {
		return nil, ErrVectorLength
	}

	diff := snapshotDiff(fields)
	diff["minute"] = float64(p.builder.Minute())

	predictionsTotal.WithLabelValues(model.FamilySnapshot).Inc()
	prob, err := p.artifact.Classifier.PredictProba(x)
	if err != nil {
		p.log.Warnw("classifier failed, using gold-ratio fallback", "model", p.artifact.Name(), "error", err)
		fallbacksTotal.WithLabelValues(model.FamilySnapshot).Inc()
		return newResult(ratio(fields["blue_gold"], fields["red_gold"]), p.artifact.Name(), true, diff), nil
	}
	return newResult(prob, p.artifact.Name(), false, diff), nil
}
