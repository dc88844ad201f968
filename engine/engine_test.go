package engine

import (
	iface "YogaPoseServer/interface"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSet(n int, vis float64) *iface.LandmarkSet {
	set := &iface.LandmarkSet{}
	for i := 0; i < n; i++ {
		set.Landmarks = append(set.Landmarks, iface.Landmark{
			X: float64(i), Y: float64(i) + 0.1, Z: float64(i) + 0.2, Visibility: vis,
		})
	}
	return set
}

func TestDecodeLandmarks(t *testing.T) {
	raw := make([]float32, 39*defaultStride)
	for i := 0; i < 39; i++ {
		raw[i*defaultStride] = 128
		raw[i*defaultStride+1] = 64
		raw[i*defaultStride+2] = 32
		raw[i*defaultStride+3] = 10
	}
	box := letterbox{scaledW: 256, scaledH: 128, padX: 0, padY: 64}

	set, err := decodeLandmarks(raw, 0.9, box, 0.5)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Len(t, set.Landmarks, iface.NumLandmarks)
	assert.InDelta(t, 0.5, set.Landmarks[0].X, 1e-9)
	assert.InDelta(t, 0.0, set.Landmarks[0].Y, 1e-9)
	assert.InDelta(t, 0.125, set.Landmarks[0].Z, 1e-9)
	assert.Greater(t, set.Landmarks[0].Visibility, 0.99)

	set, err = decodeLandmarks(raw, 0.2, box, 0.5)
	require.NoError(t, err)
	assert.Nil(t, set)

	// logits outside [0,1] are squashed before the threshold check
	set, err = decodeLandmarks(raw, 4, box, 0.5)
	require.NoError(t, err)
	assert.NotNil(t, set)
}

type MockEstimator struct {
	calls  atomic.Int32
	panics bool
	closed atomic.Bool
}

func (m *MockEstimator) Estimate(ctx context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	m.calls.Add(1)
	if m.panics {
		panic("boom")
	}
	return makeSet(33, 0.9), nil
}

func (m *MockEstimator) Close() error {
	m.closed.Store(true)
	return nil
}

func TestPool(t *testing.T) {
	mocks := []*MockEstimator{{}, {}}
	var idx int
	pool, err := NewPool(2, func() (iface.PoseEstimator, error) {
		m := mocks[idx]
		idx++
		return m, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())

	for i := 0; i < 10; i++ {
		set, err := pool.Estimate(context.Background(), iface.ImageData{})
		require.NoError(t, err)
		assert.Len(t, set.Landmarks, 33)
	}
	assert.Equal(t, int32(10), mocks[0].calls.Load()+mocks[1].calls.Load())

	require.NoError(t, pool.Close())
	assert.True(t, mocks[0].closed.Load())
	assert.True(t, mocks[1].closed.Load())

	_, err = pool.Estimate(context.Background(), iface.ImageData{})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolRecoversPanic(t *testing.T) {
	mock := &MockEstimator{panics: true}
	pool, err := NewPool(1, func() (iface.PoseEstimator, error) { return mock, nil })
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Estimate(context.Background(), iface.ImageData{})
	assert.Error(t, err)
	// the worker keeps serving after a panic
	_, err = pool.Estimate(context.Background(), iface.ImageData{})
	assert.Error(t, err)
	assert.Equal(t, int32(2), mock.calls.Load())
}

func TestPoolFactoryError(t *testing.T) {
	_, err := NewPool(1, func() (iface.PoseEstimator, error) { return nil, errors.New("no model") })
	assert.Error(t, err)
}

func TestRemoteEstimator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"no image"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"landmarks":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"landmarks":[{"x":0.1,"y":0.2,"z":0.3,"visibility":0.9}]}`))
	}))
	defer srv.Close()

	est, err := NewRemoteEstimator(srv.URL+"/detect", time.Second)
	require.NoError(t, err)
	set, err := est.Estimate(context.Background(), iface.ImageData{Encoded: []byte("img")})
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, 0.9, set.Landmarks[0].Visibility)

	est, err = NewRemoteEstimator(srv.URL+"/empty", time.Second)
	require.NoError(t, err)
	set, err = est.Estimate(context.Background(), iface.ImageData{Encoded: []byte("img")})
	require.NoError(t, err)
	assert.Nil(t, set)

	_, err = est.Estimate(context.Background(), iface.ImageData{})
	assert.Error(t, err)

	_, err = NewRemoteEstimator("", 0)
	assert.Error(t, err)
}
