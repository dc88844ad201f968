package classifier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/floats"
)

const (
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
	KindSVM              = "svm"
)

var ErrNotFitted = errors.New("model is not fitted")

// Model is a multi-class classifier over dense float features.
type Model interface {
	Kind() string
	Fit(x [][]float64, y []string) error
	// PredictProba returns one score per entry of Classes, summing to 1.
	PredictProba(x []float64) ([]float64, error)
	Classes() []string
	NumFeatures() int
}

// Predict returns the class with the highest score.
func Predict(m Model, x []float64) (string, error) {
	probs, err := m.PredictProba(x)
	if err != nil {
		return "", err
	}
	return m.Classes()[floats.MaxIdx(probs)], nil
}

// PredictAll predicts every row of x.
func PredictAll(m Model, x [][]float64) ([]string, error) {
	out := make([]string, len(x))
	for i, row := range x {
		label, err := Predict(m, row)
		if err != nil {
			return nil, err
		}
		out[i] = label
	}
	return out, nil
}

// FeatureImportancer is implemented by models that expose normalized feature importances.
type FeatureImportancer interface {
	FeatureImportances() []float64
}

func validateFit(x [][]float64, y []string) error {
	if len(x) == 0 {
		return errors.New("no training samples")
	}
	if len(x) != len(y) {
		return fmt.Errorf("got %d samples but %d labels", len(x), len(y))
	}
	nf := len(x[0])
	if nf == 0 {
		return errors.New("samples have no features")
	}
	for i, row := range x {
		if len(row) != nf {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(row), nf)
		}
	}
	return nil
}

func checkFeatures(classes []string, nFeatures int, x []float64) error {
	if len(classes) == 0 {
		return ErrNotFitted
	}
	if len(x) != nFeatures {
		return fmt.Errorf("expected %d features, got %d", nFeatures, len(x))
	}
	return nil
}

// encodeLabels maps labels to indices into the sorted set of distinct labels.
func encodeLabels(y []string) ([]string, []int) {
	set := map[string]struct{}{}
	for _, l := range y {
		set[l] = struct{}{}
	}
	classes := make([]string, 0, len(set))
	for l := range set {
		classes = append(classes, l)
	}
	sort.Strings(classes)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	enc := make([]int, len(y))
	for i, l := range y {
		enc[i] = index[l]
	}
	return classes, enc
}

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalModel encodes a model together with its kind tag.
func MarshalModel(m Model) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Kind: m.Kind(), Payload: payload})
}

// UnmarshalModel decodes a model written by MarshalModel.
func UnmarshalModel(data []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode model envelope: %w", err)
	}
	m, err := newModel(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", env.Kind, err)
	}
	if len(m.Classes()) == 0 {
		return nil, fmt.Errorf("%s: %w", env.Kind, ErrNotFitted)
	}
	return m, nil
}

func newModel(kind string) (Model, error) {
	switch kind {
	case KindRandomForest:
		return &RandomForest{}, nil
	case KindGradientBoosting:
		return &GradientBoosting{}, nil
	case KindSVM:
		return &SVM{}, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}
