// Package boost implements a gradient-boosted decision tree classifier for
// per-lead completion probability, with the encoders and feature layout it
// was trained on.
package boost

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/funnelcast/funnelcast/internal/stats"
)

var (
	ErrTooFewSamples = errors.New("boost: not enough samples")
	ErrOneClass      = errors.New("boost: both outcomes are required")
)

type Config struct {
	MaxDepth      int     `yaml:"max_depth"`
	Rounds        int     `yaml:"rounds"`
	LearningRate  float64 `yaml:"learning_rate"`
	MinLeaf       int     `yaml:"min_leaf"`
	Lambda        float64 `yaml:"lambda"`
	EarlyStopping int     `yaml:"early_stopping_rounds"`
	TestFraction  float64 `yaml:"test_fraction"`
	Seed          uint64  `yaml:"seed"`
	MinSamples    int     `yaml:"min_samples"`
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:      4,
		Rounds:        100,
		LearningRate:  0.1,
		MinLeaf:       5,
		Lambda:        1,
		EarlyStopping: 10,
		TestFraction:  0.2,
		Seed:          42,
		MinSamples:    50,
	}
}

// Node is a split (Leaf false) or a leaf carrying a raw score. Samples with
// x[Feature] < Threshold go Left.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) score(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Model is the trained ensemble. It round-trips through JSON.
type Model struct {
	Base         float64 `json:"base_score"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
	NumFeatures  int     `json:"num_features"`
}

// Predict returns the completion probability for x.
func (m *Model) Predict(x []float64) float64 {
	return sigmoid(m.margin(x))
}

func (m *Model) margin(x []float64) float64 {
	s := m.Base
	for i := range m.Trees {
		s += m.LearningRate * m.Trees[i].score(x)
	}
	return s
}

// Report describes a training run.
type Report struct {
	Train             stats.Classification `json:"train"`
	Test              stats.Classification `json:"test"`
	Rounds            int                  `json:"rounds"`
	BestIteration     int                  `json:"best_iteration"`
	TestLogLoss       float64              `json:"test_logloss"`
	FeatureImportance []Importance         `json:"feature_importance"`
}

type Importance struct {
	Feature string  `json:"feature"`
	Gain    float64 `json:"gain"`
}

// Train fits the ensemble on a stratified split of (X, y) and stops early
// when held-out log loss stops improving.
func Train(X [][]float64, y []bool, names []string, cfg Config) (*Model, *Report, error) {
	if len(X) < cfg.MinSamples {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(X), cfg.MinSamples)
	}
	trainIdx, testIdx, err := split(y, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}

	var pos int
	for _, i := range trainIdx {
		if y[i] {
			pos++
		}
	}
	rate := float64(pos) / float64(len(trainIdx))
	m := &Model{
		Base:         math.Log(rate / (1 - rate)),
		LearningRate: cfg.LearningRate,
		NumFeatures:  len(X[0]),
	}

	margin := make([]float64, len(X))
	for i := range margin {
		margin[i] = m.Base
	}
	grad := make([]float64, len(X))
	hess := make([]float64, len(X))
	gains := make([]float64, m.NumFeatures)
	treeGains := make([][]float64, 0, cfg.Rounds)

	best, bestLoss := 0, logLoss(y, margin, testIdx)
	for round := 0; round < cfg.Rounds; round++ {
		for _, i := range trainIdx {
			p := sigmoid(margin[i])
			t := 0.0
			if y[i] {
				t = 1
			}
			grad[i] = p - t
			hess[i] = math.Max(p*(1-p), 1e-12)
		}

		b := &builder{X: X, grad: grad, hess: hess, cfg: cfg, gains: make([]float64, m.NumFeatures)}
		b.grow(append([]int(nil), trainIdx...), 0)
		tree := Tree{Nodes: b.nodes}
		m.Trees = append(m.Trees, tree)
		treeGains = append(treeGains, b.gains)

		for i := range X {
			margin[i] += cfg.LearningRate * tree.score(X[i])
		}

		loss := logLoss(y, margin, testIdx)
		if loss < bestLoss {
			best, bestLoss = round+1, loss
		} else if cfg.EarlyStopping > 0 && round+1-best >= cfg.EarlyStopping {
			break
		}
	}

	report := &Report{Rounds: len(m.Trees), BestIteration: best, TestLogLoss: bestLoss}
	m.Trees = m.Trees[:best]
	for _, g := range treeGains[:best] {
		floats.Add(gains, g)
	}
	if total := floats.Sum(gains); total > 0 {
		floats.Scale(1/total, gains)
	}
	for j, g := range gains {
		name := fmt.Sprintf("f%d", j)
		if j < len(names) {
			name = names[j]
		}
		report.FeatureImportance = append(report.FeatureImportance, Importance{Feature: name, Gain: g})
	}

	report.Train = m.evaluate(X, y, trainIdx)
	report.Test = m.evaluate(X, y, testIdx)
	return m, report, nil
}

func (m *Model) evaluate(X [][]float64, y []bool, idx []int) stats.Classification {
	labels := make([]bool, len(idx))
	probs := make([]float64, len(idx))
	for k, i := range idx {
		labels[k] = y[i]
		probs[k] = m.Predict(X[i])
	}
	return stats.Classify(labels, probs, 0.5)
}

// split is a seeded stratified train/test split. Each class contributes
// round(frac * n) samples to the test set, and at least one to each side.
func split(y []bool, frac float64, seed uint64) (train, test []int, err error) {
	var pos, neg []int
	for i, v := range y {
		if v {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) < 2 || len(neg) < 2 {
		return nil, nil, fmt.Errorf("%w: %d completed, %d not completed", ErrOneClass, len(pos), len(neg))
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	for _, class := range [][]int{pos, neg} {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		k := int(math.Round(frac * float64(len(class))))
		k = max(1, min(k, len(class)-1))
		test = append(test, class[:k]...)
		train = append(train, class[k:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

func logLoss(y []bool, margin []float64, idx []int) float64 {
	var loss float64
	for _, i := range idx {
		p := math.Min(math.Max(sigmoid(margin[i]), 1e-15), 1-1e-15)
		if y[i] {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}
	return loss / float64(len(idx))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

type builder struct {
	X          [][]float64
	grad, hess []float64
	cfg        Config
	nodes      []Node
	gains      []float64
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int {
	var G, H float64
	for _, i := range idx {
		G += b.grad[i]
		H += b.hess[i]
	}
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: -G / (H + b.cfg.Lambda)})
	if depth >= b.cfg.MaxDepth || len(idx) < 2*b.cfg.MinLeaf {
		return self
	}

	parent := G * G / (H + b.cfg.Lambda)
	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	sorted := make([]int, len(idx))
	for f := 0; f < len(b.X[idx[0]]); f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var GL, HL float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			GL += b.grad[i]
			HL += b.hess[i]
			left := k + 1
			if left < b.cfg.MinLeaf || len(sorted)-left < b.cfg.MinLeaf {
				continue
			}
			lo, hi := b.X[i][f], b.X[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			GR, HR := G-GL, H-HL
			gain := GL*GL/(HL+b.cfg.Lambda) + GR*GR/(HR+b.cfg.Lambda) - parent
			if gain > bestGain+1e-12 {
				bestGain, bestFeature, bestThreshold = gain, f, (lo+hi)/2
			}
		}
	}
	if bestFeature < 0 {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][bestFeature] < bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.gains[bestFeature] += bestGain
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: bestFeature, Threshold: bestThreshold, Left: l, Right: r}
	return self
}
