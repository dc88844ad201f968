package classifier

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
	MaxFeaturesAll  = "all"
)

type RandomForestParams struct {
	NEstimators     int    `json:"n_estimators"`
	MaxDepth        int    `json:"max_depth,omitempty"`
	MinSamplesSplit int    `json:"min_samples_split,omitempty"`
	MinSamplesLeaf  int    `json:"min_samples_leaf,omitempty"`
	MaxFeatures     string `json:"max_features,omitempty"`
	Bootstrap       bool   `json:"bootstrap"`
	Seed            int64  `json:"seed"`
	// Jobs caps parallel tree fitting; 0 uses GOMAXPROCS.
	Jobs int `json:"-"`
}

// DefaultRandomForestParams mirrors the usual library defaults: 100 bootstrapped
// trees, unlimited depth and sqrt(n) features per split.
func DefaultRandomForestParams() RandomForestParams {
	return RandomForestParams{NEstimators: 100, MaxFeatures: MaxFeaturesSqrt, Bootstrap: true, Seed: 42}
}

type RandomForest struct {
	Params      RandomForestParams `json:"params"`
	ClassNames  []string           `json:"classes"`
	NFeatures   int                `json:"n_features"`
	Trees       []*Tree            `json:"trees"`
	Importances []float64          `json:"feature_importances"`
}

func NewRandomForest(p RandomForestParams) *RandomForest {
	if p.NEstimators <= 0 {
		p.NEstimators = 100
	}
	if p.MaxFeatures == "" {
		p.MaxFeatures = MaxFeaturesSqrt
	}
	return &RandomForest{Params: p}
}

func (f *RandomForest) Kind() string { return KindRandomForest }

func (f *RandomForest) Classes() []string { return f.ClassNames }

func (f *RandomForest) NumFeatures() int { return f.NFeatures }

func (f *RandomForest) FeatureImportances() []float64 { return f.Importances }

func maxFeatures(mode string, nf int) int {
	switch mode {
	case MaxFeaturesSqrt:
		return max(1, int(math.Sqrt(float64(nf))))
	case MaxFeaturesLog2:
		return max(1, int(math.Log2(float64(nf))))
	default:
		return nf
	}
}

func (f *RandomForest) Fit(x [][]float64, y []string) error {
	if err := validateFit(x, y); err != nil {
		return err
	}
	classes, enc := encodeLabels(y)
	nf := len(x[0])
	tp := treeParams{
		MaxDepth:        f.Params.MaxDepth,
		MinSamplesSplit: f.Params.MinSamplesSplit,
		MinSamplesLeaf:  f.Params.MinSamplesLeaf,
		MaxFeatures:     maxFeatures(f.Params.MaxFeatures, nf),
	}

	trees := make([]*Tree, f.Params.NEstimators)
	importances := make([][]float64, f.Params.NEstimators)
	jobs := f.Params.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(jobs)
	for t := range trees {
		g.Go(func() error {
			// one generator per tree keeps the forest independent of scheduling
			rng := rand.New(rand.NewSource(f.Params.Seed + int64(t)))
			idx := make([]int, len(x))
			for i := range idx {
				if f.Params.Bootstrap {
					idx[i] = rng.Intn(len(x))
				} else {
					idx[i] = i
				}
			}
			b := newClassificationBuilder(x, enc, len(classes), tp, rng)
			trees[t] = b.build(idx)
			importances[t] = normalize(b.importances)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := make([]float64, nf)
	for _, imp := range importances {
		for i, v := range imp {
			total[i] += v
		}
	}
	f.ClassNames = classes
	f.NFeatures = nf
	f.Trees = trees
	f.Importances = normalize(total)
	return nil
}

// PredictProba averages the leaf class distributions of every tree.
func (f *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if err := checkFeatures(f.ClassNames, f.NFeatures, x); err != nil {
		return nil, err
	}
	probs := make([]float64, len(f.ClassNames))
	for _, t := range f.Trees {
		for k, v := range t.Leaf(x) {
			probs[k] += v
		}
	}
	for k := range probs {
		probs[k] /= float64(len(f.Trees))
	}
	return probs, nil
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
