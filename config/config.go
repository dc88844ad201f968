package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPPort     int      `yaml:"httpPort" validate:"min=1,max=65535"`
	GRPCPort     int      `yaml:"grpcPort" validate:"min=0,max=65535"`
	MetricsPort  int      `yaml:"metricsPort" validate:"min=0,max=65535"`
	MaxUploadMB  int      `yaml:"maxUploadMB" validate:"min=1"`
	CorsOrigins  []string `yaml:"corsOrigins"`
	RateLimitRPS float64  `yaml:"rateLimitRPS" validate:"min=0"`
	RateBurst    int      `yaml:"rateBurst" validate:"min=0"`
}

type ModelConfig struct {
	Path                   string  `yaml:"path" validate:"required"`
	Backend                string  `yaml:"backend" validate:"oneof=onnx remote"`
	DetectorPath           string  `yaml:"detectorPath"`
	InputSize              int     `yaml:"inputSize" validate:"min=32"`
	InputLayout            string  `yaml:"inputLayout" validate:"oneof=nhwc nchw"`
	MinDetectionConfidence float32 `yaml:"minDetectionConfidence" validate:"min=0,max=1"`
	WorkersNum             int     `yaml:"workersNum" validate:"min=1"`
	RemoteEndpoint         string  `yaml:"remoteEndpoint" validate:"required_if=Backend remote"`
	RemoteTimeoutMs        int     `yaml:"remoteTimeoutMs" validate:"min=0"`
}

func (m ModelConfig) RemoteTimeout() time.Duration {
	return time.Duration(m.RemoteTimeoutMs) * time.Millisecond
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" validate:"omitempty,oneof=production development dev"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type RegistryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host" validate:"required_if=Enabled true"`
	Port    int    `yaml:"port" validate:"min=0,max=65535"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Registry RegistryConfig `yaml:"registry"`
}

const DefaultModelPath = "models/high_accuracy_model.pkl.zst"

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 5000
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 50051
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 50053
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 16
	}
	if c.Model.Path == "" {
		c.Model.Path = DefaultModelPath
	}
	if c.Model.Backend == "" {
		c.Model.Backend = "onnx"
	}
	if c.Model.DetectorPath == "" {
		c.Model.DetectorPath = "models/pose_landmark_full.onnx"
	}
	if c.Model.InputSize == 0 {
		c.Model.InputSize = 256
	}
	if c.Model.InputLayout == "" {
		c.Model.InputLayout = "nhwc"
	}
	if c.Model.MinDetectionConfidence == 0 {
		c.Model.MinDetectionConfidence = 0.5
	}
	if c.Model.WorkersNum <= 0 {
		c.Model.WorkersNum = 1
	}
	if c.Model.RemoteTimeoutMs == 0 {
		c.Model.RemoteTimeoutMs = 10000
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "production"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

// Load reads the YAML file at path (a missing file yields defaults), applies a
// .env file when present, then environment overrides, defaults and validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	ints := map[string]*int{
		"POSE_HTTP_PORT":    &c.Server.HTTPPort,
		"POSE_GRPC_PORT":    &c.Server.GRPCPort,
		"POSE_METRICS_PORT": &c.Server.MetricsPort,
		"POSE_WORKERS":      &c.Model.WorkersNum,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s=%q: %w", key, v, err)
			}
			*dst = n
		}
	}
	strs := map[string]*string{
		"POSE_MODEL_PATH":     &c.Model.Path,
		"POSE_DETECTOR_MODEL": &c.Model.DetectorPath,
		"POSE_BACKEND":        &c.Model.Backend,
		"POSE_LOG_MODE":       &c.Log.Mode,
		"MINIO_ENDPOINT":      &c.Storage.Endpoint,
		"MINIO_ACCESS_KEY":    &c.Storage.AccessKey,
		"MINIO_SECRET_KEY":    &c.Storage.SecretKey,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

var validate = validator.New()

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
