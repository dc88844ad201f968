package classifier

import (
	"math/rand"
	"sort"
)

// Node is one node of a flattened binary tree. Leaves have Feature == -1 and
// carry Value: class probabilities for classification trees, a single output
// for regression trees.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf walks the tree for x and returns the value of the reached leaf.
func (t *Tree) Leaf(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type treeParams struct {
	MaxDepth        int // <= 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // <= 0 or >= nFeatures means every feature
}

func (p treeParams) normalized(nFeatures int) treeParams {
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MaxFeatures <= 0 || p.MaxFeatures > nFeatures {
		p.MaxFeatures = nFeatures
	}
	return p
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// treeBuilder grows a CART tree. Classification trees split on gini impurity,
// regression trees on squared error.
type treeBuilder struct {
	x           [][]float64
	params      treeParams
	rng         *rand.Rand
	nFeatures   int
	nodes       []Node
	importances []float64

	// classification
	y        []int
	nClasses int

	// regression
	target    []float64
	leafValue func(idx []int) float64
}

func newClassificationBuilder(x [][]float64, y []int, nClasses int, params treeParams, rng *rand.Rand) *treeBuilder {
	nf := len(x[0])
	return &treeBuilder{
		x: x, y: y, nClasses: nClasses,
		params: params.normalized(nf), rng: rng, nFeatures: nf,
		importances: make([]float64, nf),
	}
}

func newRegressionBuilder(x [][]float64, target []float64, leafValue func(idx []int) float64, params treeParams, rng *rand.Rand) *treeBuilder {
	nf := len(x[0])
	return &treeBuilder{
		x: x, target: target, leafValue: leafValue,
		params: params.normalized(nf), rng: rng, nFeatures: nf,
		importances: make([]float64, nf),
	}
}

func (b *treeBuilder) classification() bool {
	return b.y != nil
}

func (b *treeBuilder) build(idx []int) *Tree {
	b.nodes = b.nodes[:0]
	b.grow(idx, 0)
	return &Tree{Nodes: append([]Node(nil), b.nodes...)}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	n := len(idx)
	stop := n < b.params.MinSamplesSplit ||
		n < 2*b.params.MinSamplesLeaf ||
		(b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		b.pure(idx)
	var best *split
	if !stop {
		best = b.bestSplit(idx)
	}
	if best == nil {
		b.nodes[self].Value = b.leaf(idx)
		return self
	}

	b.importances[best.feature] += best.gain
	left := b.grow(best.left, depth+1)
	right := b.grow(best.right, depth+1)
	b.nodes[self] = Node{Feature: best.feature, Threshold: best.threshold, Left: left, Right: right}
	return self
}

func (b *treeBuilder) pure(idx []int) bool {
	if b.classification() {
		first := b.y[idx[0]]
		for _, i := range idx[1:] {
			if b.y[i] != first {
				return false
			}
		}
		return true
	}
	first := b.target[idx[0]]
	for _, i := range idx[1:] {
		if b.target[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) leaf(idx []int) []float64 {
	if !b.classification() {
		return []float64{b.leafValue(idx)}
	}
	probs := make([]float64, b.nClasses)
	for _, i := range idx {
		probs[b.y[i]]++
	}
	for k := range probs {
		probs[k] /= float64(len(idx))
	}
	return probs
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.params.MaxFeatures >= b.nFeatures {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(b.nFeatures)[:b.params.MaxFeatures]
}

// bestSplit scans every candidate feature in sorted order and keeps the split
// with the largest impurity decrease (weighted by sample count).
func (b *treeBuilder) bestSplit(idx []int) *split {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf
	sorted := make([]int, n)

	var parentScore float64
	var totalCounts []int
	var totalSum float64
	if b.classification() {
		totalCounts = make([]int, b.nClasses)
		for _, i := range idx {
			totalCounts[b.y[i]]++
		}
		parentScore = sumSquares(totalCounts) / float64(n)
	} else {
		for _, i := range idx {
			totalSum += b.target[i]
		}
		parentScore = totalSum * totalSum / float64(n)
	}

	bestFeature, bestPos := -1, -1
	bestScore := parentScore + 1e-12
	var bestThreshold float64
	leftCounts := make([]int, b.nClasses)
	rightCounts := make([]int, b.nClasses)

	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })
		if b.x[sorted[0]][f] == b.x[sorted[n-1]][f] {
			continue
		}

		var sqL, sqR float64
		var sumL float64
		if b.classification() {
			for k := range leftCounts {
				leftCounts[k] = 0
				rightCounts[k] = totalCounts[k]
			}
			sqR = sumSquares(totalCounts)
		}
		for k := 0; k < n-1; k++ {
			i := sorted[k]
			if b.classification() {
				c := b.y[i]
				sqL += float64(2*leftCounts[c] + 1)
				sqR -= float64(2*rightCounts[c] - 1)
				leftCounts[c]++
				rightCounts[c]--
			} else {
				sumL += b.target[i]
			}
			nl := k + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			v, next := b.x[i][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			var score float64
			if b.classification() {
				score = sqL/float64(nl) + sqR/float64(nr)
			} else {
				sumR := totalSum - sumL
				score = sumL*sumL/float64(nl) + sumR*sumR/float64(nr)
			}
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestPos = k
				bestThreshold = v + (next-v)/2
			}
		}
	}
	if bestFeature < 0 {
		return nil
	}

	copy(sorted, idx)
	sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][bestFeature] < b.x[sorted[c]][bestFeature] })
	left := append([]int(nil), sorted[:bestPos+1]...)
	right := append([]int(nil), sorted[bestPos+1:]...)
	return &split{
		feature:   bestFeature,
		threshold: bestThreshold,
		gain:      bestScore - parentScore,
		left:      left,
		right:     right,
	}
}

func sumSquares(counts []int) float64 {
	var s float64
	for _, c := range counts {
		s += float64(c) * float64(c)
	}
	return s
}
