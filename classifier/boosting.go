package classifier

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

type GradientBoostingParams struct {
	NEstimators     int     `json:"n_estimators"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split,omitempty"`
	MinSamplesLeaf  int     `json:"min_samples_leaf,omitempty"`
	Subsample       float64 `json:"subsample"`
	Seed            int64   `json:"seed"`
}

func DefaultGradientBoostingParams() GradientBoostingParams {
	return GradientBoostingParams{NEstimators: 100, LearningRate: 0.1, MaxDepth: 3, Subsample: 1, Seed: 42}
}

// GradientBoosting fits one regression tree per class and stage against the
// multinomial deviance gradient. Leaves take a single Newton step.
type GradientBoosting struct {
	Params     GradientBoostingParams `json:"params"`
	ClassNames []string               `json:"classes"`
	NFeatures  int                    `json:"n_features"`
	Prior      []float64              `json:"prior"`
	// Stages[m][k] is the tree of stage m for class k.
	Stages [][]*Tree `json:"stages"`
}

func NewGradientBoosting(p GradientBoostingParams) *GradientBoosting {
	d := DefaultGradientBoostingParams()
	if p.NEstimators <= 0 {
		p.NEstimators = d.NEstimators
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = 1
	}
	return &GradientBoosting{Params: p}
}

func (g *GradientBoosting) Kind() string { return KindGradientBoosting }

func (g *GradientBoosting) Classes() []string { return g.ClassNames }

func (g *GradientBoosting) NumFeatures() int { return g.NFeatures }

func (g *GradientBoosting) Fit(x [][]float64, y []string) error {
	if err := validateFit(x, y); err != nil {
		return err
	}
	classes, enc := encodeLabels(y)
	n, k := len(x), len(classes)

	prior := make([]float64, k)
	for _, c := range enc {
		prior[c]++
	}
	for c := range prior {
		prior[c] = math.Log(prior[c] / float64(n))
	}
	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = append([]float64(nil), prior...)
	}

	tp := treeParams{
		MaxDepth:        g.Params.MaxDepth,
		MinSamplesSplit: g.Params.MinSamplesSplit,
		MinSamplesLeaf:  g.Params.MinSamplesLeaf,
	}
	rng := rand.New(rand.NewSource(g.Params.Seed))
	sampleSize := max(1, int(g.Params.Subsample*float64(n)))
	residual := make([][]float64, k)
	for c := range residual {
		residual[c] = make([]float64, n)
	}
	stages := make([][]*Tree, 0, g.Params.NEstimators)
	probs := make([]float64, k)

	for m := 0; m < g.Params.NEstimators; m++ {
		for i := range x {
			softmax(raw[i], probs)
			for c := 0; c < k; c++ {
				target := 0.0
				if enc[i] == c {
					target = 1
				}
				residual[c][i] = target - probs[c]
			}
		}

		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		if sampleSize < n {
			perm := rng.Perm(n)
			idx = perm[:sampleSize]
		}

		stage := make([]*Tree, k)
		eg, _ := errgroup.WithContext(context.Background())
		for c := 0; c < k; c++ {
			eg.Go(func() error {
				r := residual[c]
				leaf := func(leafIdx []int) float64 {
					var num, den float64
					for _, i := range leafIdx {
						num += r[i]
						den += math.Abs(r[i]) * (1 - math.Abs(r[i]))
					}
					if den < 1e-150 {
						return 0
					}
					return float64(k-1) / float64(k) * num / den
				}
				b := newRegressionBuilder(x, r, leaf, tp, nil)
				stage[c] = b.build(idx)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		for i, row := range x {
			for c, t := range stage {
				raw[i][c] += g.Params.LearningRate * t.Leaf(row)[0]
			}
		}
		stages = append(stages, stage)
	}

	g.ClassNames = classes
	g.NFeatures = len(x[0])
	g.Prior = prior
	g.Stages = stages
	return nil
}

func (g *GradientBoosting) PredictProba(x []float64) ([]float64, error) {
	if err := checkFeatures(g.ClassNames, g.NFeatures, x); err != nil {
		return nil, err
	}
	raw := append([]float64(nil), g.Prior...)
	for _, stage := range g.Stages {
		for c, t := range stage {
			raw[c] += g.Params.LearningRate * t.Leaf(x)[0]
		}
	}
	probs := make([]float64, len(raw))
	softmax(raw, probs)
	return probs, nil
}

func softmax(raw, out []float64) {
	hi := math.Inf(-1)
	for _, v := range raw {
		hi = math.Max(hi, v)
	}
	var sum float64
	for i, v := range raw {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
