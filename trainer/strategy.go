package trainer

import (
	"fmt"
	"strings"

	"YogaPoseServer/classifier"
)

type Strategy string

const (
	Basic        Strategy = "basic"
	Improved     Strategy = "improved"
	HighAccuracy Strategy = "high_accuracy"
	QuickBoost   Strategy = "quick_boost"
)

var Strategies = []Strategy{Basic, Improved, HighAccuracy, QuickBoost}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == strings.ToLower(s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q (want one of %v)", s, Strategies)
}

// DefaultOutput is where each strategy writes its artifact when no output is given.
func (s Strategy) DefaultOutput() string {
	switch s {
	case Basic:
		return "models/pose_classifier.pkl.zst"
	case Improved:
		return "models/improved_pose_classifier.pkl.zst"
	case HighAccuracy:
		return "models/high_accuracy_pose_classifier.pkl.zst"
	default:
		return "models/high_accuracy_model.pkl.zst"
	}
}

// Candidate is one model configuration competing within a strategy.
type Candidate struct {
	Name string
	New  func() classifier.Model
}

type plan struct {
	// minSamples > 0 drops labels with fewer samples.
	minSamples int
	// topN > 0 keeps only the most frequent labels.
	topN       int
	scale      bool
	cv         bool
	bare       bool
	candidates []Candidate
}

func planFor(s Strategy, seed int64, jobs int) (plan, error) {
	forest := func(p classifier.RandomForestParams) Candidate {
		p.Seed, p.Jobs = seed, jobs
		return Candidate{Name: "Random Forest", New: func() classifier.Model { return classifier.NewRandomForest(p) }}
	}
	boosting := func(p classifier.GradientBoostingParams) Candidate {
		p.Seed = seed
		return Candidate{Name: "Gradient Boosting", New: func() classifier.Model { return classifier.NewGradientBoosting(p) }}
	}

	switch s {
	case Basic:
		return plan{
			bare: true,
			candidates: []Candidate{
				forest(classifier.DefaultRandomForestParams()),
			},
		}, nil
	case Improved:
		gb := classifier.DefaultGradientBoostingParams()
		gb.NEstimators, gb.MaxDepth = 200, 8
		svm := classifier.DefaultSVMParams()
		svm.C = 10
		return plan{
			minSamples: 5,
			candidates: []Candidate{
				forest(classifier.RandomForestParams{NEstimators: 200, MaxDepth: 15, MaxFeatures: classifier.MaxFeaturesSqrt, Bootstrap: true}),
				boosting(gb),
				{Name: "SVM", New: func() classifier.Model { return classifier.NewSVM(svm) }},
			},
		}, nil
	case HighAccuracy:
		return plan{
			minSamples: 10,
			scale:      true,
			cv:         true,
			candidates: []Candidate{
				forest(classifier.RandomForestParams{
					NEstimators:     300,
					MaxDepth:        20,
					MinSamplesSplit: 5,
					MinSamplesLeaf:  2,
					MaxFeatures:     classifier.MaxFeaturesSqrt,
					Bootstrap:       true,
				}),
				boosting(classifier.GradientBoostingParams{NEstimators: 300, MaxDepth: 10, LearningRate: 0.1, Subsample: 0.8}),
			},
		}, nil
	case QuickBoost:
		return plan{
			topN:  30,
			scale: true,
			cv:    true,
			candidates: []Candidate{
				forest(classifier.RandomForestParams{
					NEstimators:     500,
					MaxDepth:        25,
					MinSamplesSplit: 3,
					MinSamplesLeaf:  1,
					MaxFeatures:     classifier.MaxFeaturesSqrt,
					Bootstrap:       true,
				}),
			},
		}, nil
	}
	return plan{}, fmt.Errorf("unknown strategy %q", s)
}
