package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"YogaPoseServer/classifier"
)

// byLabel groups sample indices by label, labels in sorted order.
func byLabel(labels []string) ([]string, map[string][]int) {
	groups := map[string][]int{}
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	names := make([]string, 0, len(groups))
	for l := range groups {
		names = append(names, l)
	}
	sort.Strings(names)
	return names, groups
}

// StratifiedSplit partitions d into train and test sets keeping the label
// proportions of d. Every label needs at least two samples so that it appears
// on both sides.
func StratifiedSplit(d *Dataset, testSize float64, seed int64) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %.2f must be in (0, 1)", testSize)
	}
	names, groups := byLabel(d.Labels)
	if len(names) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 labels to train a classifier, got %d", len(names))
	}
	rng := rand.New(rand.NewSource(seed))
	var trainIdx, testIdx []int
	for _, l := range names {
		idx := append([]int(nil), groups[l]...)
		if len(idx) < 2 {
			return nil, nil, fmt.Errorf("label %q has only %d sample; at least 2 are required to stratify", l, len(idx))
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(testSize * float64(len(idx))))
		nTest = min(max(nTest, 1), len(idx)-1)
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
	rng.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })
	return d.Subset(trainIdx), d.Subset(testIdx), nil
}

// StratifiedKFold assigns every sample to one of k folds so that each label is
// spread evenly, in sample order. It returns the held-out indices per fold.
func StratifiedKFold(labels []string, k int) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("k-fold needs k >= 2, got %d", k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", len(labels), k)
	}
	folds := make([][]int, k)
	names, groups := byLabel(labels)
	next := 0
	for _, l := range names {
		for _, i := range groups[l] {
			folds[next%k] = append(folds[next%k], i)
			next++
		}
	}
	for f := range folds {
		sort.Ints(folds[f])
	}
	return folds, nil
}

// CrossValidate fits a fresh model per fold and returns the held-out accuracy
// of each fold. Folds run in parallel.
func CrossValidate(ctx context.Context, newModel func() classifier.Model, d *Dataset, k int, step func()) ([]float64, error) {
	folds, err := StratifiedKFold(d.Labels, k)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, k)
	g, ctx := errgroup.WithContext(ctx)
	for f, held := range folds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			inFold := make([]bool, d.Len())
			for _, i := range held {
				inFold[i] = true
			}
			var trainIdx []int
			for i := range inFold {
				if !inFold[i] {
					trainIdx = append(trainIdx, i)
				}
			}
			train, test := d.Subset(trainIdx), d.Subset(held)
			m := newModel()
			if err := m.Fit(train.Features, train.Labels); err != nil {
				return fmt.Errorf("fold %d: %w", f+1, err)
			}
			pred, err := classifier.PredictAll(m, test.Features)
			if err != nil {
				return fmt.Errorf("fold %d: %w", f+1, err)
			}
			scores[f] = Accuracy(test.Labels, pred)
			if step != nil {
				step()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// MeanStd returns the mean and population standard deviation of scores.
func MeanStd(scores []float64) (mean, std float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(scores, nil)
}
