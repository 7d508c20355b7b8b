package mlmodel

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ForestParams tunes the random forest.
type ForestParams struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

// DefaultForestParams is a modest forest for ~20 features.
func DefaultForestParams(seed int64) ForestParams {
	return ForestParams{Trees: 50, MaxDepth: 8, MinLeaf: 2, Seed: seed}
}

// TreeNode is one node of a flattened decision tree. Leaves carry the share
// of positive samples that reached them.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a flattened Gini decision tree; Nodes[0] is the root.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// RandomForest averages the leaf probabilities of its trees.
type RandomForest struct {
	Width int    `json:"width"`
	Trees []Tree `json:"trees"`
}

// TrainRandomForest grows trees on bootstrap samples with sqrt(width)
// features considered per split. Results are deterministic for a seed.
func TrainRandomForest(x [][]float64, y []int, p ForestParams) (*RandomForest, error) {
	if len(x) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("train forest: %d rows, %d labels: %w", len(x), len(y), ErrDimension)
	}
	if p.Trees <= 0 {
		p = DefaultForestParams(p.Seed)
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("train forest row %d: %w", i, ErrDimension)
		}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	mtry := int(math.Max(1, math.Round(math.Sqrt(float64(width)))))
	forest := &RandomForest{Width: width, Trees: make([]Tree, 0, p.Trees)}
	for t := 0; t < p.Trees; t++ {
		sample := make([]int, len(x))
		for i := range sample {
			sample[i] = rng.Intn(len(x))
		}
		b := &treeBuilder{x: x, y: y, params: p, mtry: mtry, rng: rng}
		b.grow(sample, 0)
		forest.Trees = append(forest.Trees, Tree{Nodes: b.nodes})
	}
	return forest, nil
}

// PredictProba returns the mean positive-class probability across trees.
func (f *RandomForest) PredictProba(v []float64) (float64, error) {
	if len(v) != f.Width {
		return 0, fmt.Errorf("forest predict: %w", ErrDimension)
	}
	if len(f.Trees) == 0 {
		return 0, ErrEmptyDataset
	}
	var sum float64
	for _, t := range f.Trees {
		p, err := t.predict(v)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

func (t Tree) predict(v []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if i < 0 || i >= len(t.Nodes) {
			return 0, fmt.Errorf("forest predict: node %d out of range", i)
		}
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(v) {
			return 0, fmt.Errorf("forest predict: feature %d: %w", n.Feature, ErrDimension)
		}
		if v[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, fmt.Errorf("forest predict: cycle in tree")
}

type treeBuilder struct {
	x      [][]float64
	y      []int
	params ForestParams
	mtry   int
	rng    *rand.Rand
	nodes  []TreeNode
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	value := float64(pos) / float64(len(idx))
	self := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Leaf: true, Value: value})

	if depth >= b.params.MaxDepth || len(idx) < 2*b.params.MinLeaf || pos == 0 || pos == len(idx) {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}
	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: value}
	return self
}

func (b *treeBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	width := len(b.x[0])
	features := b.rng.Perm(width)[:b.mtry]
	n := len(idx)
	bestGini := gini(pos, n)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for _, f := range features {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		leftPos := 0
		for k := 0; k < n-1; k++ {
			leftPos += b.y[sorted[k]]
			cur, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if cur == next {
				continue
			}
			leftN := k + 1
			rightN := n - leftN
			if leftN < b.params.MinLeaf || rightN < b.params.MinLeaf {
				continue
			}
			g := (float64(leftN)*gini(leftPos, leftN) + float64(rightN)*gini(pos-leftPos, rightN)) / float64(n)
			if g < bestGini-1e-12 {
				bestGini, bestFeature, bestThreshold, found = g, f, (cur+next)/2, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
