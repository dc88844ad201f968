package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "YogaPoseServer/interface"
)

type stubDecoder struct{}

func (stubDecoder) Decode(data []byte) (iface.ImageData, error) {
	if string(data) == "not an image" {
		return iface.ImageData{}, errors.New("imdecode failed")
	}
	return iface.ImageData{Width: 640, Height: 480, Channels: 3, Encoded: data}, nil
}

type stubEstimator struct {
	set *iface.LandmarkSet
	err error
}

func (s *stubEstimator) Estimate(context.Context, iface.ImageData) (*iface.LandmarkSet, error) {
	return s.set, s.err
}

func (s *stubEstimator) Close() error { return nil }

type stubClassifier struct {
	label  string
	err    error
	panics bool
	seen   []float64
}

func (s *stubClassifier) Predict(features []float64) (string, error) {
	if s.panics {
		panic("model exploded")
	}
	s.seen = features
	return s.label, s.err
}

func (s *stubClassifier) Labels() []string { return []string{s.label} }

type recordingObserver struct {
	mu      sync.Mutex
	results []string
	labels  []string
}

func (r *recordingObserver) ObserveDetection(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingObserver) ObserveClassification(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, label)
}

// poseSet builds 33 landmarks; the first `visible` are visible, and key
// landmarks are hidden when hideKeys is set.
func poseSet(visible int, hideKeys bool) *iface.LandmarkSet {
	set := &iface.LandmarkSet{}
	for i := 0; i < iface.NumLandmarks; i++ {
		vis := 0.1
		if i < visible {
			vis = 0.9
		}
		set.Landmarks = append(set.Landmarks, iface.Landmark{X: 0.5, Y: 0.5, Z: -0.1, Visibility: vis})
	}
	if hideKeys {
		for _, k := range KeyLandmarks {
			set.Landmarks[k].Visibility = 0.2
		}
	}
	return set
}

func visibility(set *iface.LandmarkSet) []float64 {
	_, vis := set.Flatten()
	return vis
}

func TestConfidence(t *testing.T) {
	for n := 0; n <= iface.NumLandmarks; n++ {
		c := Confidence(n)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, MaxConfidence)
	}
	assert.InDelta(t, 0.95, Confidence(33), 1e-12)
	assert.InDelta(t, (0.6+20.0/33*0.35)*0.8, Confidence(20), 1e-12)
	assert.InDelta(t, 0.6+25.0/33*0.35, Confidence(25), 1e-12)
}

func TestClassify(t *testing.T) {
	clf := &stubClassifier{label: "Tree_Pose"}

	t.Run("Test Insufficient", func(t *testing.T) {
		c, err := Classify(clf, make([]float64, 132), visibility(poseSet(19, false)))
		require.NoError(t, err)
		require.NotNil(t, c.Label)
		assert.Equal(t, LabelInsufficient, *c.Label)
		assert.Equal(t, 0.0, c.Confidence)
	})

	t.Run("Test Body Not Visible", func(t *testing.T) {
		vis := visibility(poseSet(33, true))
		require.GreaterOrEqual(t, CountVisible(vis), MinVisibleLandmarks)
		c, err := Classify(clf, make([]float64, 132), vis)
		require.NoError(t, err)
		assert.Equal(t, LabelNotVisible, *c.Label)
		assert.Equal(t, 0.0, c.Confidence)
	})

	t.Run("Test Prediction", func(t *testing.T) {
		kp := make([]float64, 132)
		kp[0] = 0.25
		c, err := Classify(clf, kp, visibility(poseSet(33, false)))
		require.NoError(t, err)
		assert.Equal(t, "Tree_Pose", *c.Label)
		assert.InDelta(t, 0.95, c.Confidence, 1e-12)
		assert.Equal(t, kp, clf.seen)
	})

	t.Run("Test Reduced Confidence", func(t *testing.T) {
		// key landmarks first, then fill up to 22 visible
		vis := make([]float64, iface.VisibilityLen)
		for _, k := range KeyLandmarks {
			vis[k] = 0.9
		}
		for i := 0; CountVisible(vis) < 22; i++ {
			vis[i] = 0.9
		}
		c, err := Classify(clf, make([]float64, 132), vis)
		require.NoError(t, err)
		assert.InDelta(t, Confidence(22), c.Confidence, 1e-12)
		assert.Less(t, c.Confidence, 0.8)
	})

	t.Run("Test Classifier Error", func(t *testing.T) {
		c, err := Classify(&stubClassifier{err: errors.New("shape mismatch")}, make([]float64, 132), visibility(poseSet(33, false)))
		assert.Error(t, err)
		assert.Nil(t, c.Label)
		assert.Equal(t, 0.0, c.Confidence)
	})

	t.Run("Test Classifier Panic", func(t *testing.T) {
		c, err := Classify(&stubClassifier{panics: true}, make([]float64, 132), visibility(poseSet(33, false)))
		assert.Error(t, err)
		assert.Nil(t, c.Label)
		assert.Equal(t, 0.0, c.Confidence)
	})

	t.Run("Test No Classifier", func(t *testing.T) {
		c, err := Classify(nil, make([]float64, 132), visibility(poseSet(33, false)))
		require.NoError(t, err)
		assert.Nil(t, c.Label)
		assert.Equal(t, 0.0, c.Confidence)
	})
}

func newTestService(t *testing.T, est iface.PoseEstimator, clf iface.Classifier, obs Observer) *Service {
	t.Helper()
	s, err := New(Options{
		Estimator:  est,
		Decoder:    stubDecoder{},
		Classifier: clf,
		ModelPath:  "models/high_accuracy_model.pkl.zst",
		Observer:   obs,
	})
	require.NoError(t, err)
	return s
}

func TestDetect(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestService(t, &stubEstimator{set: poseSet(33, false)}, &stubClassifier{label: "Warrior_II"}, obs)

	res, err := s.Detect(context.Background(), []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.True(t, res.PoseFound)
	assert.Len(t, res.Keypoints, iface.KeypointsLen)
	assert.Len(t, res.Visibility, iface.VisibilityLen)
	assert.Len(t, res.Landmarks, iface.NumLandmarks)
	assert.Equal(t, []int{480, 640, 3}, res.ImageShape)
	assert.Equal(t, "Warrior_II", res.Classification.LabelOrEmpty())

	body, err := json.Marshal(res.Document())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "Warrior_II", doc["pose_classification"])
	assert.Len(t, doc["keypoints"], 132)
	assert.Len(t, doc["landmarks"], 33)
	assert.Equal(t, []any{480.0, 640.0, 3.0}, doc["image_shape"])
	assert.NotContains(t, doc, "error")

	assert.Equal(t, []string{ResultPose}, obs.results)
	assert.Equal(t, []string{"Warrior_II"}, obs.labels)
}

func TestDetectNoPose(t *testing.T) {
	s := newTestService(t, &stubEstimator{}, &stubClassifier{label: "x"}, nil)

	res, err := s.Detect(context.Background(), []byte("empty room"))
	require.NoError(t, err)
	assert.False(t, res.PoseFound)

	body, err := json.Marshal(res.Document())
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"No pose detected in image","keypoints":null,"pose_classification":null,"confidence":0}`, string(body))
}

func TestDetectBadInput(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestService(t, &stubEstimator{set: poseSet(33, false)}, nil, obs)

	_, err := s.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))

	_, err = s.Detect(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, ErrDecodeImage)
	assert.Equal(t, "Could not decode image", err.Error())

	assert.Equal(t, []string{ResultInvalid, ResultInvalid}, obs.results)
}

func TestDetectEstimatorFailure(t *testing.T) {
	s := newTestService(t, &stubEstimator{err: errors.New("net forward failed")}, nil, nil)
	_, err := s.Detect(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Contains(t, err.Error(), "net forward failed")
}

func TestDetectionOnlyMode(t *testing.T) {
	s := newTestService(t, &stubEstimator{set: poseSet(33, false)}, nil, nil)
	res, err := s.Detect(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	assert.True(t, res.PoseFound)
	assert.Nil(t, res.Classification.Label)
	assert.Equal(t, 0.0, res.Classification.Confidence)

	h := s.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.False(t, h.ClassifierLoaded)
	assert.Equal(t, "models/high_accuracy_model.pkl.zst", h.ModelPath)
	assert.False(t, s.Index().ClassifierLoaded)
	assert.Contains(t, s.Index().Endpoints, "detect_pose")
}

func TestNewRequiresCapabilities(t *testing.T) {
	_, err := New(Options{Decoder: stubDecoder{}})
	assert.Error(t, err)
	_, err = New(Options{Estimator: &stubEstimator{}})
	assert.Error(t, err)
}

func TestErrorMatching(t *testing.T) {
	assert.True(t, errors.Is(ErrNoImage, NewError(http.StatusBadRequest, "No image file provided")))
	assert.False(t, errors.Is(ErrNoImage, ErrNoImageSelected))
	assert.Equal(t, http.StatusBadRequest, StatusOf(ErrNoImageSelected))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
