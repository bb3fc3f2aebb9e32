package ensemble

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aquasentry/aquasentry/internal/models"
)

// The built-in scorer families. Each is instantiated from a trained model
// artifact; several artifacts of the same family may coexist under
// different names and parameters. Training happens offline, the engine
// only evaluates.
const (
	TypeLinear       = "linear"
	TypeMargin       = "margin"
	TypeTreeEnsemble = "tree_ensemble"
	TypeBoostedTrees = "boosted_trees"
	TypeShallowNet   = "shallow_net"
)

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// linearScorer is the logistic-regression baseline over the named feature
// map. Coefficients and bias come from the artifact, one set per target.
type linearScorer struct {
	name      string
	leakCoef  map[string]float64
	burstCoef map[string]float64
	leakBias  float64
	burstBias float64
}

func (s *linearScorer) Name() string { return s.name }

func (s *linearScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	coef, bias := s.leakCoef, s.leakBias
	if target == TargetBurst {
		coef, bias = s.burstCoef, s.burstBias
	}

	features := fv.Map()
	sum := bias
	for name, c := range coef {
		sum += c * features[name]
	}
	return clamp01(sigmoid(sum)), nil
}

// marginScorer is a margin classifier with Platt scaling: the raw margin
// w·x + bias is mapped to a probability via 1/(1+exp(a·m+b)). A trained
// `a` is negative, so larger margins read as higher probabilities.
type marginScorer struct {
	name  string
	leak  plattParams
	burst plattParams
}

type plattParams struct {
	coef map[string]float64
	bias float64
	a    float64
	b    float64
}

func (s *marginScorer) Name() string { return s.name }

func (s *marginScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := s.leak
	if target == TargetBurst {
		p = s.burst
	}

	features := fv.Map()
	margin := p.bias
	for name, c := range p.coef {
		margin += c * features[name]
	}
	return clamp01(1 / (1 + math.Exp(p.a*margin+p.b))), nil
}

// TreeNode is one node of a decision tree. Internal nodes route on a
// named feature against a threshold (<= goes left); leaves carry the
// tree's output value. Features the vector does not carry read as zero.
type TreeNode struct {
	Feature   string    `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     float64   `json:"value,omitempty"`
}

func (n *TreeNode) eval(features map[string]float64) float64 {
	if n.Left == nil && n.Right == nil {
		return n.Value
	}
	if features[n.Feature] <= n.Threshold {
		return n.Left.eval(features)
	}
	return n.Right.eval(features)
}

func validateTree(n *TreeNode) error {
	if n == nil {
		return errors.New("empty tree node")
	}
	if n.Left == nil && n.Right == nil {
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return errors.New("tree split missing a branch")
	}
	if n.Feature == "" {
		return errors.New("tree split missing feature name")
	}
	if err := validateTree(n.Left); err != nil {
		return err
	}
	return validateTree(n.Right)
}

// treeEnsembleScorer averages the leaf probabilities of a bagged forest.
// Leaves hold probabilities in [0,1].
type treeEnsembleScorer struct {
	name  string
	leak  []*TreeNode
	burst []*TreeNode
}

func (s *treeEnsembleScorer) Name() string { return s.name }

func (s *treeEnsembleScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trees := s.leak
	if target == TargetBurst {
		trees = s.burst
	}

	features := fv.Map()
	sum := 0.0
	for _, t := range trees {
		sum += t.eval(features)
	}
	return clamp01(sum / float64(len(trees))), nil
}

// boostedTreesScorer sums the raw margins of a boosted stage sequence on
// top of a base score and squashes through a sigmoid. Leaves hold
// margins, not probabilities.
type boostedTreesScorer struct {
	name      string
	leak      []*TreeNode
	burst     []*TreeNode
	leakBase  float64
	burstBase float64
}

func (s *boostedTreesScorer) Name() string { return s.name }

func (s *boostedTreesScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trees, base := s.leak, s.leakBase
	if target == TargetBurst {
		trees, base = s.burst, s.burstBase
	}

	features := fv.Map()
	sum := base
	for _, t := range trees {
		sum += t.eval(features)
	}
	return clamp01(sigmoid(sum)), nil
}

// shallowNetScorer is a one-hidden-layer network: tanh hidden units over
// an ordered feature slice, sigmoid output. Weights come from the
// artifact as dense matrices.
type shallowNetScorer struct {
	name  string
	leak  *netParams
	burst *netParams
}

type netParams struct {
	features   []string
	hidden     *mat.Dense
	hiddenBias *mat.VecDense
	output     *mat.VecDense
	outputBias float64
}

func newNetParams(features []string, hiddenWeights [][]float64, hiddenBias, outputWeights []float64, outputBias float64) (*netParams, error) {
	if len(features) == 0 {
		return nil, errors.New("network missing feature list")
	}
	h := len(hiddenWeights)
	if h == 0 {
		return nil, errors.New("network missing hidden weights")
	}
	if len(hiddenBias) != h || len(outputWeights) != h {
		return nil, errors.New("hidden bias and output weights must match hidden layer size")
	}
	flat := make([]float64, 0, h*len(features))
	for _, row := range hiddenWeights {
		if len(row) != len(features) {
			return nil, errors.New("hidden weight row length must match feature count")
		}
		flat = append(flat, row...)
	}
	return &netParams{
		features:   features,
		hidden:     mat.NewDense(h, len(features), flat),
		hiddenBias: mat.NewVecDense(h, hiddenBias),
		output:     mat.NewVecDense(h, outputWeights),
		outputBias: outputBias,
	}, nil
}

func (p *netParams) eval(features map[string]float64) float64 {
	x := mat.NewVecDense(len(p.features), nil)
	for i, name := range p.features {
		x.SetVec(i, features[name])
	}

	h := mat.NewVecDense(p.hiddenBias.Len(), nil)
	h.MulVec(p.hidden, x)
	h.AddVec(h, p.hiddenBias)
	for i := 0; i < h.Len(); i++ {
		h.SetVec(i, math.Tanh(h.AtVec(i)))
	}
	return sigmoid(mat.Dot(p.output, h) + p.outputBias)
}

func (s *shallowNetScorer) Name() string { return s.name }

func (s *shallowNetScorer) Score(ctx context.Context, fv models.FeatureVector, target Target) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := s.leak
	if target == TargetBurst {
		p = s.burst
	}
	return clamp01(p.eval(fv.Map())), nil
}
