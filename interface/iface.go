package iface

import "context"

const (
	// NumLandmarks is the number of body landmarks tracked per pose.
	NumLandmarks = 33
	// KeypointsLen is the fixed length of the flattened keypoint vector.
	KeypointsLen = 132
	// VisibilityLen is the fixed length of the visibility vector.
	VisibilityLen = NumLandmarks
)

// Landmark is a single tracked body point in normalized image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// LandmarkSet is the set of landmarks of one detected pose, in detector order.
type LandmarkSet struct {
	Landmarks []Landmark
}

// Flatten turns the set into the fixed-length keypoint vector (x, y, z per
// landmark) and the per-landmark visibility vector. Both are zero padded or
// truncated: keypoints to KeypointsLen, visibility to VisibilityLen.
func (s *LandmarkSet) Flatten() (keypoints []float64, visibility []float64) {
	keypoints = make([]float64, 0, KeypointsLen)
	visibility = make([]float64, 0, VisibilityLen)
	if s != nil {
		for _, lm := range s.Landmarks {
			keypoints = append(keypoints, lm.X, lm.Y, lm.Z)
			visibility = append(visibility, lm.Visibility)
		}
	}
	return fit(keypoints, KeypointsLen), fit(visibility, VisibilityLen)
}

func fit(v []float64, n int) []float64 {
	if len(v) > n {
		return v[:n]
	}
	for len(v) < n {
		v = append(v, 0)
	}
	return v
}

// ImageData is a decoded BGR pixel grid. Encoded keeps the original upload bytes
// for estimators that need them.
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
	Encoded  []byte
}

// Shape returns the image shape as [height, width, channels].
func (img ImageData) Shape() []int {
	return []int{img.Height, img.Width, img.Channels}
}

type ImageDecoder interface {
	Decode(data []byte) (ImageData, error)
}

// PoseEstimator produces zero or one landmark set for an image.
// A nil set with a nil error means no pose was found.
type PoseEstimator interface {
	Estimate(ctx context.Context, img ImageData) (*LandmarkSet, error)
	Close() error
}

// Classifier predicts a pose label from a keypoint vector.
type Classifier interface {
	Predict(features []float64) (string, error)
	Labels() []string
}

// ClassifierInfo describes a loaded classifier artifact.
type ClassifierInfo struct {
	Algorithm string
	Accuracy  float64
	PoseCount int
	HasScaler bool
}

type EngineConfig struct {
	Backend    string
	ModelPath  string
	Conf       float32
	InputSize  int
	Layout     string
	WorkersNum int
}
