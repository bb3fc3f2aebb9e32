// Package ensemble runs the registered model scorers over a feature
// vector and combines their votes into a single prediction.
package ensemble

import (
	"context"
	"errors"

	"github.com/aquasentry/aquasentry/internal/models"
)

// Target selects which failure mode a scorer is voting on.
type Target string

const (
	TargetLeak  Target = "leak"
	TargetBurst Target = "burst"
)

// ErrInferenceUnavailable reports that no scorer produced a vote. The
// caller falls back to its last known prediction.
var ErrInferenceUnavailable = errors.New("inference unavailable: no model votes")

// Scorer produces a probability in [0,1] for one target. Implementations
// must be safe for concurrent use and should return promptly once ctx is
// done.
type Scorer interface {
	Name() string
	Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error)
}

// TargetWeights holds one model's vote weights per target.
type TargetWeights struct {
	Leak  float64 `json:"leak"`
	Burst float64 `json:"burst"`
}

func (w TargetWeights) forTarget(t Target) float64 {
	switch t {
	case TargetBurst:
		return w.Burst
	default:
		return w.Leak
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
