package proto

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	iface "YogaPoseServer/interface"
	"YogaPoseServer/service"
)

type MockDecoder struct{}

func (MockDecoder) Decode(data []byte) (iface.ImageData, error) {
	if string(data) == "garbage" {
		return iface.ImageData{}, errors.New("imdecode failed")
	}
	return iface.ImageData{Width: 224, Height: 224, Channels: 3, Encoded: data}, nil
}

type MockEstimator struct{}

func (MockEstimator) Estimate(_ context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	switch string(img.Encoded) {
	case "nobody":
		return nil, nil
	case "crash":
		panic("mock crash")
	}
	set := &iface.LandmarkSet{}
	for i := 0; i < iface.NumLandmarks; i++ {
		set.Landmarks = append(set.Landmarks, iface.Landmark{X: 0.5, Y: 0.5, Visibility: 0.95})
	}
	return set, nil
}

func (MockEstimator) Close() error { return nil }

type MockClassifier struct{}

func (MockClassifier) Predict([]float64) (string, error) { return "mock", nil }

func (MockClassifier) Labels() []string { return []string{"mock"} }

type countObserver struct{ n atomic.Int32 }

func (c *countObserver) ObserveGRPC(string) { c.n.Add(1) }

func startBufServer(t *testing.T) (PoseServiceClient, *Server, *countObserver) {
	t.Helper()
	svc, err := service.New(service.Options{
		Estimator:  MockEstimator{},
		Decoder:    MockDecoder{},
		Classifier: MockClassifier{},
		ModelPath:  "mock.pkl.zst",
	})
	require.NoError(t, err)

	obs := &countObserver{}
	srv := NewServer(svc, obs)
	lis := bufconn.Listen(1 << 20)
	g := NewGRPCServer(srv)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewPoseServiceClient(conn), srv, obs
}

func TestMockEngine(t *testing.T) {
	client, srv, obs := startBufServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Test DetectPose", func(t *testing.T) {
		resp, err := client.DetectPose(ctx, wrapperspb.Bytes([]byte("jpeg")))
		require.NoError(t, err)
		doc := resp.AsMap()
		assert.Equal(t, "mock", doc["pose_classification"])
		assert.InDelta(t, 0.95, doc["confidence"], 1e-9)
		assert.Len(t, doc["keypoints"], iface.KeypointsLen)
		assert.Equal(t, []any{224.0, 224.0, 3.0}, doc["image_shape"])
	})

	t.Run("Test No Pose", func(t *testing.T) {
		resp, err := client.DetectPose(ctx, wrapperspb.Bytes([]byte("nobody")))
		require.NoError(t, err)
		doc := resp.AsMap()
		assert.Equal(t, service.MsgNoPose, doc["error"])
		assert.Nil(t, doc["pose_classification"])
	})

	t.Run("Test Invalid Image", func(t *testing.T) {
		_, err := client.DetectPose(ctx, wrapperspb.Bytes([]byte("garbage")))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Equal(t, "Could not decode image", status.Convert(err).Message())

		_, err = client.DetectPose(ctx, wrapperspb.Bytes(nil))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test Panic", func(t *testing.T) {
		_, err := client.DetectPose(ctx, wrapperspb.Bytes([]byte("crash")))
		assert.Equal(t, codes.Internal, status.Code(err))
	})

	t.Run("Test Health", func(t *testing.T) {
		resp, err := client.Health(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		assert.Equal(t, "healthy", resp.AsMap()["status"])
		assert.Equal(t, true, resp.AsMap()["classifier_loaded"])
	})

	t.Run("Test Shutdown", func(t *testing.T) {
		_, err := client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		select {
		case <-srv.CloseChannel:
		case <-time.After(time.Second):
			t.Fatal("CloseChannel was not closed")
		}
		// a second request must not panic on the closed channel
		_, err = client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
	})

	assert.Equal(t, int32(8), obs.n.Load())
}
