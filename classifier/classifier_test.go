package classifier

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns three well separated gaussian clusters in 4 dimensions.
func blobs(perClass int, seed int64) ([][]float64, []string) {
	rng := rand.New(rand.NewSource(seed))
	centers := map[string][]float64{
		"tree":    {0, 0, 0, 0},
		"warrior": {6, 6, 0, 0},
		"downdog": {0, 6, 6, 6},
	}
	var x [][]float64
	var y []string
	for _, label := range []string{"tree", "warrior", "downdog"} {
		c := centers[label]
		for i := 0; i < perClass; i++ {
			row := make([]float64, len(c))
			for j := range c {
				row[j] = c[j] + rng.NormFloat64()*0.6
			}
			x = append(x, row)
			y = append(y, label)
		}
	}
	return x, y
}

func accuracy(t *testing.T, m Model, x [][]float64, y []string) float64 {
	t.Helper()
	pred, err := PredictAll(m, x)
	require.NoError(t, err)
	hit := 0
	for i := range pred {
		if pred[i] == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y))
}

func TestStandardScaler(t *testing.T) {
	s := NewStandardScaler()
	require.NoError(t, s.Fit([][]float64{{1, 5}, {3, 5}}))
	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale, "constant column keeps unit scale")

	out, err := s.Transform([]float64{3, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out)

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
	assert.Error(t, NewStandardScaler().Fit(nil))
}

func TestTreeSeparatesClasses(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {10}, {11}, {12}}
	y := []int{0, 0, 0, 1, 1, 1}
	idx := []int{0, 1, 2, 3, 4, 5}
	b := newClassificationBuilder(x, y, 2, treeParams{}, rand.New(rand.NewSource(1)))
	tree := b.build(idx)

	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, []float64{1, 0}, tree.Leaf([]float64{-3}))
	assert.Equal(t, []float64{0, 1}, tree.Leaf([]float64{6.5}))
	assert.InDelta(t, 6.0, tree.Nodes[0].Threshold, 1e-9)
}

func TestTreeRespectsMaxDepth(t *testing.T) {
	x, labels := blobs(20, 3)
	_, y := encodeLabels(labels)
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	b := newClassificationBuilder(x, y, 3, treeParams{MaxDepth: 1}, rand.New(rand.NewSource(1)))
	assert.LessOrEqual(t, b.build(idx).Depth(), 1)
}

func TestRandomForest(t *testing.T) {
	x, y := blobs(30, 1)
	rf := NewRandomForest(RandomForestParams{NEstimators: 25, Bootstrap: true, Seed: 42})
	require.NoError(t, rf.Fit(x, y))

	assert.Equal(t, []string{"downdog", "tree", "warrior"}, rf.Classes())
	assert.GreaterOrEqual(t, accuracy(t, rf, x, y), 0.95)

	var sum float64
	for _, v := range rf.FeatureImportances() {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	probs, err := rf.PredictProba(x[0])
	require.NoError(t, err)
	var total float64
	for _, p := range probs {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	again := NewRandomForest(RandomForestParams{NEstimators: 25, Bootstrap: true, Seed: 42, Jobs: 1})
	require.NoError(t, again.Fit(x, y))
	for _, row := range x {
		a, _ := rf.PredictProba(row)
		b, _ := again.PredictProba(row)
		assert.Equal(t, a, b, "same seed gives the same forest")
	}

	_, err = rf.PredictProba([]float64{1, 2})
	assert.Error(t, err)
}

func TestGradientBoosting(t *testing.T) {
	x, y := blobs(25, 2)
	gb := NewGradientBoosting(GradientBoostingParams{NEstimators: 30, LearningRate: 0.2, MaxDepth: 2, Subsample: 0.8, Seed: 42})
	require.NoError(t, gb.Fit(x, y))
	assert.GreaterOrEqual(t, accuracy(t, gb, x, y), 0.95)
	assert.Len(t, gb.Stages, 30)
	assert.Len(t, gb.Stages[0], 3)
}

func TestSVM(t *testing.T) {
	x, y := blobs(25, 4)
	svm := NewSVM(SVMParams{C: 10})
	require.NoError(t, svm.Fit(x, y))
	assert.Greater(t, svm.GammaValue, 0.0)
	assert.Len(t, svm.Machines, 3)
	assert.GreaterOrEqual(t, accuracy(t, svm, x, y), 0.95)

	label, err := Predict(svm, []float64{6, 6, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "warrior", label)
}

func TestFitValidation(t *testing.T) {
	rf := NewRandomForest(DefaultRandomForestParams())
	assert.Error(t, rf.Fit(nil, nil))
	assert.Error(t, rf.Fit([][]float64{{1}, {2}}, []string{"a"}))
	assert.Error(t, rf.Fit([][]float64{{1}, {2, 3}}, []string{"a", "b"}))

	_, err := NewSVM(DefaultSVMParams()).PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func trainedModels(t *testing.T, x [][]float64, y []string) []Model {
	t.Helper()
	models := []Model{
		NewRandomForest(RandomForestParams{NEstimators: 10, MaxDepth: 6, Bootstrap: true, Seed: 7}),
		NewGradientBoosting(GradientBoostingParams{NEstimators: 10, MaxDepth: 2, Seed: 7}),
		NewSVM(SVMParams{C: 1}),
	}
	for _, m := range models {
		require.NoError(t, m.Fit(x, y))
	}
	return models
}

func TestArtifactRoundTripPredictions(t *testing.T) {
	x, y := blobs(15, 5)
	scaler := NewStandardScaler()
	require.NoError(t, scaler.Fit(x))
	scaled, err := scaler.TransformAll(x)
	require.NoError(t, err)

	for _, m := range trainedModels(t, scaled, y) {
		for _, name := range []string{"model.pkl.zst", "model.json"} {
			t.Run(m.Kind()+"/"+name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), name)
				a := &Artifact{
					Model:     m,
					Scaler:    scaler,
					Accuracy:  0.93,
					Poses:     m.Classes(),
					PoseCount: len(m.Classes()),
					Algorithm: m.Kind(),
					TrainedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
				}
				require.NoError(t, Save(path, a))

				loaded, err := Load(path)
				require.NoError(t, err)
				assert.Equal(t, 0.93, loaded.Accuracy)
				assert.Equal(t, m.Classes(), loaded.Poses)
				assert.Equal(t, a.TrainedAt, loaded.TrainedAt.UTC())
				require.NotNil(t, loaded.Scaler)

				before, err := NewPoseClassifier(a)
				require.NoError(t, err)
				after, err := NewPoseClassifier(loaded)
				require.NoError(t, err)
				for _, row := range x {
					want, err := before.Predict(row)
					require.NoError(t, err)
					got, err := after.Predict(row)
					require.NoError(t, err)
					assert.Equal(t, want, got)
				}
			})
		}
	}
}

func TestCompressedArtifactHasZstdMagic(t *testing.T) {
	x, y := blobs(5, 6)
	rf := NewRandomForest(RandomForestParams{NEstimators: 3, Seed: 1})
	require.NoError(t, rf.Fit(x, y))

	path := filepath.Join(t.TempDir(), "m.pkl.zst")
	require.NoError(t, Save(path, &Artifact{Model: rf}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, zstdMagic))
}

func TestDecodeBareModel(t *testing.T) {
	x, y := blobs(10, 8)
	rf := NewRandomForest(RandomForestParams{NEstimators: 5, Seed: 3})
	require.NoError(t, rf.Fit(x, y))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Artifact{Model: rf, Bare: true}, true))

	a, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, a.Bare)
	assert.Nil(t, a.Scaler)
	assert.Equal(t, KindRandomForest, a.Algorithm)
	assert.Equal(t, 3, a.PoseCount)

	pc, err := NewPoseClassifier(a)
	require.NoError(t, err)
	label, err := pc.Predict(x[0])
	require.NoError(t, err)
	assert.Equal(t, y[0], label)
	assert.False(t, pc.Info().HasScaler)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, body := range []string{"", "not json", `{"foo": 1}`, `{"kind": "knn", "payload": {}}`, `{"model": {"kind": "svm", "payload": {}}}`} {
		_, err := Decode(bytes.NewReader([]byte(body)))
		assert.ErrorIs(t, err, ErrInvalidArtifact, body)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.pkl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPoseClassifier(t *testing.T) {
	x, y := blobs(10, 9)
	rf := NewRandomForest(RandomForestParams{NEstimators: 5, Seed: 3})
	require.NoError(t, rf.Fit(x, y))
	scaler := NewStandardScaler()
	require.NoError(t, scaler.Fit([][]float64{{0, 0, 0, 0}, {2, 2, 2, 2}}))

	pc, err := NewPoseClassifier(&Artifact{Model: rf, Scaler: scaler, Accuracy: 0.9, PoseCount: 3, Algorithm: "Random Forest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"downdog", "tree", "warrior"}, pc.Labels())
	assert.Equal(t, "Random Forest", pc.Info().Algorithm)
	assert.True(t, pc.Info().HasScaler)

	_, err = pc.Predict(make([]float64, 132))
	assert.Error(t, err, "feature count mismatch")

	_, err = NewPoseClassifier(nil)
	assert.Error(t, err)
}

func TestOpenUsesGetter(t *testing.T) {
	x, y := blobs(10, 10)
	rf := NewRandomForest(RandomForestParams{NEstimators: 5, Seed: 3})
	require.NoError(t, rf.Fit(x, y))
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Artifact{Model: rf, Accuracy: 0.8}, true))

	get := func(_ context.Context, path string) ([]byte, error) {
		if path != "s3://models/pose.pkl.zst" {
			return nil, os.ErrNotExist
		}
		return buf.Bytes(), nil
	}
	pc, err := Open(context.Background(), get, "s3://models/pose.pkl.zst")
	require.NoError(t, err)
	assert.Equal(t, 0.8, pc.Info().Accuracy)

	_, err = Open(context.Background(), get, "other")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
