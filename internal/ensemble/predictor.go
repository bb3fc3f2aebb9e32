package ensemble

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/models"
)

// maxVoteVariance is the largest possible variance of values in [0,1],
// used to normalize disagreement into a confidence discount.
const maxVoteVariance = 0.25

var log = logger.Component("ensemble")

// Predictor fans a feature vector out to every registered scorer and
// aggregates the votes. The caller bounds the run through ctx; on expiry
// the votes already collected are used, and only an empty vote set is an
// error.
type Predictor struct {
	scorers []Scorer
	weights map[string]TargetWeights
	now     func() time.Time
}

// NewPredictor builds a predictor over the given scorers. Models missing
// from weights vote with weight 1 on both targets.
func NewPredictor(scorers []Scorer, weights map[string]TargetWeights) *Predictor {
	return &Predictor{
		scorers: scorers,
		weights: weights,
		now:     time.Now,
	}
}

// WithClock overrides the prediction timestamp source.
func (p *Predictor) WithClock(now func() time.Time) *Predictor {
	p.now = now
	return p
}

// ModelCount returns the number of registered scorers.
func (p *Predictor) ModelCount() int { return len(p.scorers) }

func (p *Predictor) weightFor(name string, t Target) float64 {
	w, ok := p.weights[name]
	if !ok {
		return 1
	}
	v := w.forTarget(t)
	if v <= 0 {
		return 1
	}
	return v
}

type voteResult struct {
	name string
	vote models.ModelVote
	err  error
}

func (p *Predictor) score(ctx context.Context, sc Scorer, fv models.FeatureVector) voteResult {
	leak, err := sc.Score(ctx, fv, TargetLeak)
	if err != nil {
		return voteResult{name: sc.Name(), err: err}
	}
	burst, err := sc.Score(ctx, fv, TargetBurst)
	if err != nil {
		return voteResult{name: sc.Name(), err: err}
	}
	return voteResult{
		name: sc.Name(),
		vote: models.ModelVote{Leak: clamp01(leak), Burst: clamp01(burst)},
	}
}

// Predict runs all scorers concurrently and combines their votes into a
// weighted prediction. A scorer that errors is excluded; when ctx expires
// the partial vote set is used. Predict fails only when no votes arrived.
func (p *Predictor) Predict(ctx context.Context, fv models.FeatureVector) (models.Prediction, error) {
	if len(p.scorers) == 0 {
		return models.Prediction{}, ErrInferenceUnavailable
	}

	results := make(chan voteResult, len(p.scorers))
	for _, sc := range p.scorers {
		go func(sc Scorer) {
			results <- p.score(ctx, sc, fv)
		}(sc)
	}

	votes := make(map[string]models.ModelVote, len(p.scorers))
collect:
	for received := 0; received < len(p.scorers); received++ {
		select {
		case r := <-results:
			if r.err != nil {
				log.Warn("scorer %s excluded for sensor %s: %v", r.name, fv.SensorID, r.err)
				continue
			}
			votes[r.name] = r.vote
		case <-ctx.Done():
			log.Warn("prediction deadline hit for sensor %s: %d/%d votes collected",
				fv.SensorID, len(votes), len(p.scorers))
			break collect
		}
	}

	if len(votes) == 0 {
		return models.Prediction{}, ErrInferenceUnavailable
	}
	return p.aggregate(votes), nil
}

// aggregate computes the weighted mean probability per target and derives
// confidence from how much the models disagree: identical votes give
// confidence 1, maximal spread gives 0.
func (p *Predictor) aggregate(votes map[string]models.ModelVote) models.Prediction {
	leak, leakConf := p.combine(votes, TargetLeak)
	burst, burstConf := p.combine(votes, TargetBurst)

	return models.Prediction{
		LeakProbability:  leak,
		BurstProbability: burst,
		Confidence:       (leakConf + burstConf) / 2,
		ModelVotes:       votes,
		ModelCount:       len(votes),
		GeneratedAt:      p.now(),
	}
}

func (p *Predictor) combine(votes map[string]models.ModelVote, t Target) (prob, confidence float64) {
	xs := make([]float64, 0, len(votes))
	ws := make([]float64, 0, len(votes))
	for name, v := range votes {
		x := v.Leak
		if t == TargetBurst {
			x = v.Burst
		}
		xs = append(xs, x)
		ws = append(ws, p.weightFor(name, t))
	}

	prob = clamp01(stat.Mean(xs, ws))
	variance := stat.Moment(2, xs, ws)
	confidence = 1 - clamp01(variance/maxVoteVariance)
	return prob, confidence
}
