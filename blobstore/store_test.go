package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("s3://models/yoga/high_accuracy_model.pkl.zst")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "models", Key: "yoga/high_accuracy_model.pkl.zst"}, loc)

	for _, bad := range []string{"models/a.pkl", "s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, IsRemote("s3://a/b"))
	assert.False(t, IsRemote("/tmp/a"))
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "nested/model.bin", []byte("weights")))
	data, err := s.Get(ctx, "nested/model.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)

	require.NoError(t, s.Put(ctx, "nested/model.bin", []byte("v2")))
	data, err = s.Get(ctx, "nested/model.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	_, err = s.Get(ctx, "missing.bin")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRouterLocalPaths(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(MinioOptions{})
	path := filepath.Join(t.TempDir(), "artifact.json")

	require.NoError(t, r.Put(ctx, path, []byte("{}")))
	data, err := r.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = r.Get(ctx, "s3://models/pose.pkl")
	assert.Error(t, err, "no endpoint configured")
}

// TestMinioStoreIntegration requires a running MinIO instance.
func TestMinioStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	ctx := context.Background()
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
	})
	require.NoError(t, err)
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	bucket := "yoga-pose-test"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	s := NewMinioStore(client, bucket, "artifacts/")
	require.NoError(t, s.Put(ctx, "model.pkl.zst", []byte("payload")))
	data, err := s.Get(ctx, "model.pkl.zst")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
