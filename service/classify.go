package service

import (
	"fmt"
	"math"

	iface "YogaPoseServer/interface"
)

const (
	VisibilityThreshold = 0.5
	MinVisibleLandmarks = 20
	MinVisibleKeyParts  = 4
	// below this many visible landmarks the confidence is scaled down
	FullConfidenceLandmarks = 25
	MaxConfidence           = 0.95

	LabelInsufficient = "Insufficient pose data"
	LabelNotVisible   = "Body not fully visible"
)

// KeyLandmarks are nose, both shoulders, both hips and both knees.
var KeyLandmarks = []int{0, 11, 12, 23, 24, 25, 26}

// Classification is the outcome of classifying one pose. A nil Label means no
// prediction could be made.
type Classification struct {
	Label      *string
	Confidence float64
}

func (c Classification) LabelOrEmpty() string {
	if c.Label == nil {
		return ""
	}
	return *c.Label
}

// CountVisible counts entries of visibility above VisibilityThreshold.
func CountVisible(visibility []float64) int {
	n := 0
	for _, v := range visibility {
		if v > VisibilityThreshold {
			n++
		}
	}
	return n
}

func countVisibleKeyParts(visibility []float64) int {
	n := 0
	for _, idx := range KeyLandmarks {
		if idx < len(visibility) && visibility[idx] > VisibilityThreshold {
			n++
		}
	}
	return n
}

// Confidence is the visibility based score reported alongside a prediction.
func Confidence(visible int) float64 {
	c := math.Min(MaxConfidence, 0.6+float64(visible)/float64(iface.NumLandmarks)*0.35)
	if visible < FullConfidenceLandmarks {
		c *= 0.8
	}
	return math.Max(0, math.Min(MaxConfidence, c))
}

// Classify applies the visibility gates and then asks clf for a label. Any
// failure inside the classifier yields a nil label and zero confidence.
func Classify(clf iface.Classifier, keypoints, visibility []float64) (c Classification, err error) {
	if clf == nil {
		return Classification{}, nil
	}
	visible := CountVisible(visibility)
	if visible < MinVisibleLandmarks {
		return labelled(LabelInsufficient, 0), nil
	}
	if countVisibleKeyParts(visibility) < MinVisibleKeyParts {
		return labelled(LabelNotVisible, 0), nil
	}

	defer func() {
		if r := recover(); r != nil {
			c = Classification{}
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	label, err := clf.Predict(keypoints)
	if err != nil {
		return Classification{}, err
	}
	return labelled(label, Confidence(visible)), nil
}

func labelled(label string, confidence float64) Classification {
	return Classification{Label: &label, Confidence: confidence}
}
