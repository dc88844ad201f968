package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, DefaultModelPath, cfg.Model.Path)
	assert.Equal(t, "onnx", cfg.Model.Backend)
	assert.Equal(t, float32(0.5), cfg.Model.MinDetectionConfidence)
	assert.Equal(t, 1, cfg.Model.WorkersNum)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  httpPort: 8080
  corsOrigins: ["http://localhost:5173"]
model:
  path: s3://models/pose.pkl.zst
  workersNum: 3
log:
  mode: development
`)
	t.Setenv("POSE_HTTP_PORT", "9090")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CorsOrigins)
	assert.Equal(t, "s3://models/pose.pkl.zst", cfg.Model.Path)
	assert.Equal(t, 3, cfg.Model.WorkersNum)
	assert.Equal(t, "development", cfg.Log.Mode)
	assert.Equal(t, "minio:9000", cfg.Storage.Endpoint)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "model:\n  backend: tflite\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "model:\n  backend: remote\n"))
	assert.Error(t, err, "remote backend requires an endpoint")

	_, err = Load(writeConfig(t, "model:\n  minDetectionConfidence: 1.5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [1, 2"))
	assert.Error(t, err)

	t.Setenv("POSE_GRPC_PORT", "abc")
	_, err = Load(writeConfig(t, ""))
	assert.Error(t, err)
}
