package ensemble

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aquasentry/aquasentry/internal/models"
)

// stubScorer returns fixed votes, optionally failing or blocking until the
// context is cancelled.
type stubScorer struct {
	name  string
	leak  float64
	burst float64
	err   error
	block bool
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.err != nil {
		return 0, s.err
	}
	if target == TargetBurst {
		return s.burst, nil
	}
	return s.leak, nil
}

func testVector() models.FeatureVector {
	return models.FeatureVector{SensorID: "WDN-0042", Pressure: 4.2, Flow: 12}
}

func TestPredictIdenticalVotes(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "a", leak: 0.4, burst: 0.1},
		&stubScorer{name: "b", leak: 0.4, burst: 0.1},
		&stubScorer{name: "c", leak: 0.4, burst: 0.1},
	}, nil)

	pred, err := p.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.ModelCount != 3 {
		t.Errorf("model count = %d, want 3", pred.ModelCount)
	}
	if math.Abs(pred.LeakProbability-0.4) > 1e-12 {
		t.Errorf("leak = %v, want 0.4", pred.LeakProbability)
	}
	if math.Abs(pred.BurstProbability-0.1) > 1e-12 {
		t.Errorf("burst = %v, want 0.1", pred.BurstProbability)
	}
	if math.Abs(pred.Confidence-1) > 1e-12 {
		t.Errorf("confidence with identical votes = %v, want 1", pred.Confidence)
	}
}

func TestPredictConfidenceDropsWithDisagreement(t *testing.T) {
	narrow := NewPredictor([]Scorer{
		&stubScorer{name: "a", leak: 0.48, burst: 0.48},
		&stubScorer{name: "b", leak: 0.52, burst: 0.52},
	}, nil)
	wide := NewPredictor([]Scorer{
		&stubScorer{name: "a", leak: 0.1, burst: 0.1},
		&stubScorer{name: "b", leak: 0.9, burst: 0.9},
	}, nil)

	np, err := narrow.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatal(err)
	}
	wp, err := wide.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatal(err)
	}

	if np.Confidence <= wp.Confidence {
		t.Errorf("confidence should fall with disagreement: narrow %v, wide %v",
			np.Confidence, wp.Confidence)
	}
	// Votes at opposite extremes hit the maximal variance for [0,1].
	if math.Abs(wp.Confidence-0.36) > 1e-9 {
		// variance of {0.1, 0.9} is 0.16; 1 - 0.16/0.25 = 0.36
		t.Errorf("wide confidence = %v, want 0.36", wp.Confidence)
	}
}

func TestPredictWeightedMean(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "a", leak: 0.2, burst: 0.2},
		&stubScorer{name: "b", leak: 0.8, burst: 0.8},
	}, map[string]TargetWeights{
		"a": {Leak: 3, Burst: 3},
		"b": {Leak: 1, Burst: 1},
	})

	pred, err := p.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatal(err)
	}
	want := (3*0.2 + 1*0.8) / 4
	if math.Abs(pred.LeakProbability-want) > 1e-12 {
		t.Errorf("weighted leak = %v, want %v", pred.LeakProbability, want)
	}
}

func TestPredictExcludesFailingScorer(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "a", leak: 0.6, burst: 0.2},
		&stubScorer{name: "broken", err: errors.New("model file corrupt")},
		&stubScorer{name: "c", leak: 0.6, burst: 0.2},
	}, nil)

	pred, err := p.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatalf("Predict should tolerate a failing scorer: %v", err)
	}
	if pred.ModelCount != 2 {
		t.Errorf("model count = %d, want 2", pred.ModelCount)
	}
	if _, ok := pred.ModelVotes["broken"]; ok {
		t.Error("failed scorer must not contribute a vote")
	}
}

func TestPredictAllScorersFail(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "a", err: errors.New("boom")},
		&stubScorer{name: "b", err: errors.New("boom")},
	}, nil)

	_, err := p.Predict(context.Background(), testVector())
	if !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("error = %v, want ErrInferenceUnavailable", err)
	}
}

func TestPredictNoScorers(t *testing.T) {
	p := NewPredictor(nil, nil)
	if _, err := p.Predict(context.Background(), testVector()); !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("error = %v, want ErrInferenceUnavailable", err)
	}
}

// A hung model must not stall the ensemble: the deadline fires, the votes
// already collected are used, and the pipeline moves on.
func TestPredictTimeoutUsesPartialVotes(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "fast1", leak: 0.3, burst: 0.3},
		&stubScorer{name: "fast2", leak: 0.5, burst: 0.5},
		&stubScorer{name: "hung", block: true},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	pred, err := p.Predict(ctx, testVector())
	if err != nil {
		t.Fatalf("Predict with partial votes: %v", err)
	}
	if pred.ModelCount != 2 {
		t.Errorf("model count = %d, want 2", pred.ModelCount)
	}
	if _, ok := pred.ModelVotes["hung"]; ok {
		t.Error("hung scorer must not contribute a vote")
	}
	if math.Abs(pred.LeakProbability-0.4) > 1e-12 {
		t.Errorf("leak from partial votes = %v, want 0.4", pred.LeakProbability)
	}
}

func TestPredictTimeoutNoVotes(t *testing.T) {
	p := NewPredictor([]Scorer{
		&stubScorer{name: "hung1", block: true},
		&stubScorer{name: "hung2", block: true},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Predict(ctx, testVector()); !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("error = %v, want ErrInferenceUnavailable", err)
	}
}

func TestPredictClockStampsResult(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p := NewPredictor([]Scorer{&stubScorer{name: "a", leak: 0.2}}, nil).
		WithClock(func() time.Time { return fixed })

	pred, err := p.Predict(context.Background(), testVector())
	if err != nil {
		t.Fatal(err)
	}
	if !pred.GeneratedAt.Equal(fixed) {
		t.Errorf("generated at = %v, want %v", pred.GeneratedAt, fixed)
	}
}
