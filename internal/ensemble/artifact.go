package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact describes one trained model on disk: its scorer family, its
// vote weights, and inference parameters per target. Which parameter
// fields apply depends on the type.
type Artifact struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Weights TargetWeights `json:"weights"`
	Leak    TargetParams  `json:"leak"`
	Burst   TargetParams  `json:"burst"`
}

// TargetParams is the per-target parameter block of an artifact.
type TargetParams struct {
	// linear and margin families.
	Coefficients map[string]float64 `json:"coefficients,omitempty"`
	Bias         float64            `json:"bias,omitempty"`
	PlattA       float64            `json:"platt_a,omitempty"`
	PlattB       float64            `json:"platt_b,omitempty"`

	// tree_ensemble and boosted_trees families.
	Trees     []*TreeNode `json:"trees,omitempty"`
	BaseScore float64     `json:"base_score,omitempty"`

	// shallow_net family.
	Features      []string    `json:"features,omitempty"`
	HiddenWeights [][]float64 `json:"hidden_weights,omitempty"`
	HiddenBias    []float64   `json:"hidden_bias,omitempty"`
	OutputWeights []float64   `json:"output_weights,omitempty"`
	OutputBias    float64     `json:"output_bias,omitempty"`
}

// NewScorer builds a scorer from an artifact definition, validating the
// parameters the artifact's type requires.
func NewScorer(a Artifact) (Scorer, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("model artifact missing name")
	}
	sc, err := buildScorer(a)
	if err != nil {
		return nil, fmt.Errorf("artifact %q: %w", a.Name, err)
	}
	return sc, nil
}

func buildScorer(a Artifact) (Scorer, error) {
	switch a.Type {
	case TypeLinear:
		if len(a.Leak.Coefficients) == 0 || len(a.Burst.Coefficients) == 0 {
			return nil, fmt.Errorf("linear model needs coefficients for both targets")
		}
		return &linearScorer{
			name:      a.Name,
			leakCoef:  a.Leak.Coefficients,
			burstCoef: a.Burst.Coefficients,
			leakBias:  a.Leak.Bias,
			burstBias: a.Burst.Bias,
		}, nil

	case TypeMargin:
		leak, err := newPlattParams(a.Leak)
		if err != nil {
			return nil, fmt.Errorf("leak: %w", err)
		}
		burst, err := newPlattParams(a.Burst)
		if err != nil {
			return nil, fmt.Errorf("burst: %w", err)
		}
		return &marginScorer{name: a.Name, leak: leak, burst: burst}, nil

	case TypeTreeEnsemble:
		if err := validateTrees(a.Leak.Trees, a.Burst.Trees); err != nil {
			return nil, err
		}
		return &treeEnsembleScorer{name: a.Name, leak: a.Leak.Trees, burst: a.Burst.Trees}, nil

	case TypeBoostedTrees:
		if err := validateTrees(a.Leak.Trees, a.Burst.Trees); err != nil {
			return nil, err
		}
		return &boostedTreesScorer{
			name:      a.Name,
			leak:      a.Leak.Trees,
			burst:     a.Burst.Trees,
			leakBase:  a.Leak.BaseScore,
			burstBase: a.Burst.BaseScore,
		}, nil

	case TypeShallowNet:
		leak, err := newNetParams(a.Leak.Features, a.Leak.HiddenWeights, a.Leak.HiddenBias, a.Leak.OutputWeights, a.Leak.OutputBias)
		if err != nil {
			return nil, fmt.Errorf("leak: %w", err)
		}
		burst, err := newNetParams(a.Burst.Features, a.Burst.HiddenWeights, a.Burst.HiddenBias, a.Burst.OutputWeights, a.Burst.OutputBias)
		if err != nil {
			return nil, fmt.Errorf("burst: %w", err)
		}
		return &shallowNetScorer{name: a.Name, leak: leak, burst: burst}, nil

	default:
		return nil, fmt.Errorf("unknown model type %q", a.Type)
	}
}

func newPlattParams(t TargetParams) (plattParams, error) {
	if len(t.Coefficients) == 0 {
		return plattParams{}, fmt.Errorf("margin model needs coefficients")
	}
	if t.PlattA == 0 {
		return plattParams{}, fmt.Errorf("margin model needs a nonzero platt_a")
	}
	return plattParams{coef: t.Coefficients, bias: t.Bias, a: t.PlattA, b: t.PlattB}, nil
}

func validateTrees(leak, burst []*TreeNode) error {
	if len(leak) == 0 || len(burst) == 0 {
		return fmt.Errorf("tree model needs trees for both targets")
	}
	for i, t := range leak {
		if err := validateTree(t); err != nil {
			return fmt.Errorf("leak tree %d: %w", i, err)
		}
	}
	for i, t := range burst {
		if err := validateTree(t); err != nil {
			return fmt.Errorf("burst tree %d: %w", i, err)
		}
	}
	return nil
}

// LoadDir reads every .json artifact under dir and returns the scorer set
// with its vote weights. An empty or missing artifact directory is an
// error: the engine must not start without models.
func LoadDir(dir string) ([]Scorer, map[string]TargetWeights, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read models dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	scorers := make([]Scorer, 0, len(names))
	weights := make(map[string]TargetWeights, len(names))
	seen := make(map[string]string, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
		}
		var a Artifact
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
		}
		if prev, dup := seen[a.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate model name %q in %s and %s", a.Name, prev, name)
		}
		seen[a.Name] = name

		sc, err := NewScorer(a)
		if err != nil {
			return nil, nil, fmt.Errorf("model artifact %s: %w", path, err)
		}
		scorers = append(scorers, sc)
		weights[a.Name] = a.Weights
	}

	if len(scorers) == 0 {
		return nil, nil, fmt.Errorf("no model artifacts in %s", dir)
	}
	return scorers, weights, nil
}
