package predict

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"winpredict/internal/champions"
	"winpredict/internal/model"
)

const (
	// TeamSize is the number of champion slots per side.
	TeamSize = 5
	// EmptySlotID fills unpicked champion slots.
	EmptySlotID = 0

	draftVectorLen = 7 + 2*TeamSize
)

// DraftBuilder turns two champion lists into
// [blue avg, red avg, blue max, red max, blue min, red min, avg diff, 5 blue ids, 5 red ids].
type DraftBuilder struct {
	encoder  map[string]int
	resolver *champions.Resolver
	winRates WinRateSource
}

func NewDraftBuilder(encoder map[string]int, winRates WinRateSource) *DraftBuilder {
	keys := make([]string, 0, len(encoder))
	for k := range encoder {
		keys = append(keys, k)
	}
	return &DraftBuilder{
		encoder:  encoder,
		resolver: champions.NewResolver(keys),
		winRates: winRates,
	}
}

// Draft is a built draft vector plus the values the caller may want to show.
type Draft struct {
	Vector      []float64
	BlueAvg     float64
	RedAvg      float64
	Complete    bool
	Corrections map[string]string
}

type teamStats struct {
	ids           [TeamSize]int
	avg, max, min float64
}

// Build resolves every name and assembles the vector. Unknown names fail
// with *champions.UnknownNameError.
func (b *DraftBuilder) Build(blue, red []string) (*Draft, error) {
	if len(blue) == 0 || len(blue) > TeamSize || len(red) == 0 || len(red) > TeamSize {
		return nil, fmt.Errorf("%w: got %d vs %d", ErrTeamSize, len(blue), len(red))
	}

	d := &Draft{Complete: len(blue) == TeamSize && len(red) == TeamSize}
	bs, err := b.team(blue, d)
	if err != nil {
		return nil, err
	}
	rs, err := b.team(red, d)
	if err != nil {
		return nil, err
	}

	v := make([]float64, 0, draftVectorLen)
	v = append(v, bs.avg, rs.avg, bs.max, rs.max, bs.min, rs.min, bs.avg-rs.avg)
	for _, id := range bs.ids {
		v = append(v, float64(id))
	}
	for _, id := range rs.ids {
		v = append(v, float64(id))
	}

	d.Vector = v
	d.BlueAvg, d.RedAvg = bs.avg, rs.avg
	return d, nil
}

func (b *DraftBuilder) team(names []string, d *Draft) (teamStats, error) {
	var ts teamStats
	for i := range ts.ids {
		ts.ids[i] = EmptySlotID
	}

	var sum float64
	for i, name := range names {
		res, err := b.resolver.Resolve(name)
		if err != nil {
			return ts, err
		}
		if !res.Exact {
			if d.Corrections == nil {
				d.Corrections = make(map[string]string)
			}
			d.Corrections[name] = res.Key
		}
		ts.ids[i] = b.encoder[res.Key]

		wr := winRateOf(b.winRates, res.Key)
		sum += wr
		if i == 0 || wr > ts.max {
			ts.max = wr
		}
		if i == 0 || wr < ts.min {
			ts.min = wr
		}
	}
	ts.avg = sum / float64(len(names))
	return ts, nil
}

// DraftPredictor predicts from champion picks alone.
type DraftPredictor struct {
	artifact *model.Artifact
	builder  *DraftBuilder
	log      *zap.SugaredLogger
}

func NewDraftPredictor(a *model.Artifact, winRates WinRateSource, logger *zap.Logger) (*DraftPredictor, error) {
	if len(a.FeatureNames) != draftVectorLen {
		return nil, fmt.Errorf("%w: draft artifact has %d features, want %d",
			ErrVectorLength, len(a.FeatureNames), draftVectorLen)
	}
	if len(a.ChampionEncoder) == 0 {
		return nil, errors.New("predict: draft artifact has no champion_encoder")
	}
	return &DraftPredictor{
		artifact: a,
		builder:  NewDraftBuilder(a.ChampionEncoder, winRates),
		log:      logger.Sugar().Named("predict"),
	}, nil
}

func (p *DraftPredictor) Artifact() *model.Artifact { return p.artifact }

// Predict returns the blue side's win probability for a draft. Drafts with
// fewer than five picks on either side are always low confidence.
func (p *DraftPredictor) Predict(blue, red []string) (*Result, error) {
	d, err := p.builder.Build(blue, red)
	if err != nil {
		return nil, err
	}
	if len(d.Vector) != len(p.artifact.FeatureNames) {
		return nil, ErrVectorLength
	}

	diff := map[string]float64{
		"blue_avg_winrate": d.BlueAvg,
		"red_avg_winrate":  d.RedAvg,
		"winrate_diff":     d.BlueAvg - d.RedAvg,
	}

	var res *Result
	prob, err := p.artifact.Classifier.PredictProba(d.Vector)
	if err != nil {
		p.log.Warnw("classifier failed, using win-rate fallback", "model", p.artifact.Name(), "error", err)
		fallbacksTotal.WithLabelValues(model.FamilyDraft).Inc()
		res = newResult(ratio(d.BlueAvg, d.RedAvg), p.artifact.Name(), true, diff)
	} else {
		res = newResult(prob, p.artifact.Name(), false, diff)
	}

	if !d.Complete {
		res.Confidence = ConfidenceLow
	}
	res.Corrections = d.Corrections
	predictionsTotal.WithLabelValues(model.FamilyDraft).Inc()
	return res, nil
}
