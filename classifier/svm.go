package classifier

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const GammaScale = 0

type SVMParams struct {
	C float64 `json:"C"`
	// Gamma of the RBF kernel. GammaScale picks 1 / (n_features * Var(X)).
	Gamma   float64 `json:"gamma"`
	Tol     float64 `json:"tol"`
	MaxIter int     `json:"max_iter"`
}

func DefaultSVMParams() SVMParams {
	return SVMParams{C: 1, Gamma: GammaScale, Tol: 1e-3, MaxIter: 100000}
}

// binarySVM separates Positive (+1) from Negative (-1).
type binarySVM struct {
	Positive       int         `json:"pos"`
	Negative       int         `json:"neg"`
	SupportVectors [][]float64 `json:"sv"`
	Coef           []float64   `json:"coef"`
	Rho            float64     `json:"rho"`
}

// SVM is an RBF kernel support vector classifier trained one-vs-one with SMO.
type SVM struct {
	Params     SVMParams    `json:"params"`
	ClassNames []string     `json:"classes"`
	NFeatures  int          `json:"n_features"`
	GammaValue float64      `json:"gamma_value"`
	Machines   []*binarySVM `json:"machines"`
}

func NewSVM(p SVMParams) *SVM {
	d := DefaultSVMParams()
	if p.C <= 0 {
		p.C = d.C
	}
	if p.Tol <= 0 {
		p.Tol = d.Tol
	}
	if p.MaxIter <= 0 {
		p.MaxIter = d.MaxIter
	}
	return &SVM{Params: p}
}

func (s *SVM) Kind() string { return KindSVM }

func (s *SVM) Classes() []string { return s.ClassNames }

func (s *SVM) NumFeatures() int { return s.NFeatures }

func (s *SVM) Fit(x [][]float64, y []string) error {
	if err := validateFit(x, y); err != nil {
		return err
	}
	classes, enc := encodeLabels(y)
	gamma := s.Params.Gamma
	if gamma <= 0 {
		flat := make([]float64, 0, len(x)*len(x[0]))
		for _, row := range x {
			flat = append(flat, row...)
		}
		v := stat.PopVariance(flat, nil)
		if v == 0 {
			v = 1
		}
		gamma = 1 / (float64(len(x[0])) * v)
	}

	byClass := make([][]int, len(classes))
	for i, c := range enc {
		byClass[c] = append(byClass[c], i)
	}

	var pairs [][2]int
	for a := 0; a < len(classes); a++ {
		for b := a + 1; b < len(classes); b++ {
			pairs = append(pairs, [2]int{a, b})
		}
	}
	machines := make([]*binarySVM, len(pairs))
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for p, pair := range pairs {
		g.Go(func() error {
			var rows [][]float64
			var labels []float64
			for _, i := range byClass[pair[0]] {
				rows = append(rows, x[i])
				labels = append(labels, 1)
			}
			for _, i := range byClass[pair[1]] {
				rows = append(rows, x[i])
				labels = append(labels, -1)
			}
			m := trainBinary(rows, labels, gamma, s.Params)
			m.Positive, m.Negative = pair[0], pair[1]
			machines[p] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.ClassNames = classes
	s.NFeatures = len(x[0])
	s.GammaValue = gamma
	s.Machines = machines
	return nil
}

// PredictProba returns the normalized one-vs-one vote counts.
func (s *SVM) PredictProba(x []float64) ([]float64, error) {
	if err := checkFeatures(s.ClassNames, s.NFeatures, x); err != nil {
		return nil, err
	}
	votes := make([]float64, len(s.ClassNames))
	if len(s.Machines) == 0 {
		votes[0] = 1
		return votes, nil
	}
	for _, m := range s.Machines {
		if m.decision(x, s.GammaValue) > 0 {
			votes[m.Positive]++
		} else {
			votes[m.Negative]++
		}
	}
	floats.Scale(1/float64(len(s.Machines)), votes)
	return votes, nil
}

func (m *binarySVM) decision(x []float64, gamma float64) float64 {
	sum := -m.Rho
	for i, sv := range m.SupportVectors {
		sum += m.Coef[i] * rbf(sv, x, gamma)
	}
	return sum
}

func rbf(a, b []float64, gamma float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-gamma * d * d)
}

// trainBinary solves the dual problem with SMO using the maximal violating pair.
func trainBinary(x [][]float64, y []float64, gamma float64, p SVMParams) *binarySVM {
	n := len(x)
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		k[i][i] = 1
		for j := i + 1; j < n; j++ {
			v := rbf(x[i], x[j], gamma)
			k[i][j], k[j][i] = v, v
		}
	}
	q := func(i, j int) float64 { return y[i] * y[j] * k[i][j] }

	c := p.C
	alpha := make([]float64, n)
	grad := make([]float64, n)
	for i := range grad {
		grad[i] = -1
	}
	const tau = 1e-12

	for iter := 0; iter < p.MaxIter; iter++ {
		i, j := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			v := -y[t] * grad[t]
			if (y[t] > 0 && alpha[t] < c) || (y[t] < 0 && alpha[t] > 0) {
				if v >= gmax {
					gmax, i = v, t
				}
			}
			if (y[t] > 0 && alpha[t] > 0) || (y[t] < 0 && alpha[t] < c) {
				if v <= gmin {
					gmin, j = v, t
				}
			}
		}
		if i < 0 || j < 0 || gmax-gmin < p.Tol {
			break
		}

		oldI, oldJ := alpha[i], alpha[j]
		if y[i] != y[j] {
			quad := q(i, i) + q(j, j) + 2*q(i, j)
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j], alpha[i] = 0, diff
				}
			} else if alpha[i] < 0 {
				alpha[i], alpha[j] = 0, -diff
			}
			if diff > 0 {
				if alpha[i] > c {
					alpha[i], alpha[j] = c, c-diff
				}
			} else if alpha[j] > c {
				alpha[j], alpha[i] = c, c+diff
			}
		} else {
			quad := q(i, i) + q(j, j) - 2*q(i, j)
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > c {
				if alpha[i] > c {
					alpha[i], alpha[j] = c, sum-c
				}
			} else if alpha[j] < 0 {
				alpha[j], alpha[i] = 0, sum
			}
			if sum > c {
				if alpha[j] > c {
					alpha[j], alpha[i] = c, sum-c
				}
			} else if alpha[i] < 0 {
				alpha[i], alpha[j] = 0, sum
			}
		}

		di, dj := alpha[i]-oldI, alpha[j]-oldJ
		for t := 0; t < n; t++ {
			grad[t] += q(i, t)*di + q(j, t)*dj
		}
	}

	// rho: mean of y*grad over free vectors, else the midpoint of the bounds
	ub, lb := math.Inf(1), math.Inf(-1)
	var freeSum float64
	free := 0
	for t := 0; t < n; t++ {
		yg := y[t] * grad[t]
		switch {
		case alpha[t] >= c:
			if y[t] < 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case alpha[t] <= 0:
			if y[t] > 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			free++
			freeSum += yg
		}
	}
	var rho float64
	switch {
	case free > 0:
		rho = freeSum / float64(free)
	case math.IsInf(ub, 1):
		rho = lb
	case math.IsInf(lb, -1):
		rho = ub
	default:
		rho = (ub + lb) / 2
	}

	m := &binarySVM{Rho: rho}
	for t := 0; t < n; t++ {
		if alpha[t] > 0 {
			m.SupportVectors = append(m.SupportVectors, x[t])
			m.Coef = append(m.Coef, alpha[t]*y[t])
		}
	}
	return m
}
