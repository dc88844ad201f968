package engine

import (
	iface "YogaPoseServer/interface"
	"fmt"
	"time"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const BUSY = 0x0004

const (
	BackendOnnx   = "onnx"
	BackendRemote = "remote"
)

// LoadEngine builds the configured landmark estimator, wrapped in a worker pool.
func LoadEngine(cfg iface.EngineConfig, remoteEndpoint string, remoteTimeout time.Duration) (*Pool, error) {
	var factory func() (iface.PoseEstimator, error)
	switch cfg.Backend {
	case BackendOnnx, "":
		opts := OnnxOptions{
			ModelPath:              cfg.ModelPath,
			InputSize:              cfg.InputSize,
			Layout:                 cfg.Layout,
			MinDetectionConfidence: cfg.Conf,
		}
		factory = func() (iface.PoseEstimator, error) {
			return NewOnnxEstimator(opts)
		}
	case BackendRemote:
		factory = func() (iface.PoseEstimator, error) {
			return NewRemoteEstimator(remoteEndpoint, remoteTimeout)
		}
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
	return NewPool(cfg.WorkersNum, factory)
}
