package classifier

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each feature on its mean and divides by its
// population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return errors.New("scaler: no samples")
	}
	nf := len(x[0])
	s.Mean = make([]float64, nf)
	s.Scale = make([]float64, nf)
	col := make([]float64, len(x))
	for f := 0; f < nf; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[f] = mean
		if std == 0 {
			std = 1
		}
		s.Scale[f] = std
	}
	return nil
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: expected %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

func (s *StandardScaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
