package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"YogaPoseServer/config"
	"YogaPoseServer/engine"
	"YogaPoseServer/extractor"
	iface "YogaPoseServer/interface"
	"YogaPoseServer/logger"
)

type Config struct {
	configPath string
	datasetDir string
	outputPath string
	workers    int
	quiet      bool
}

var cfg Config

func main() {
	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to the service config (detector settings)")
	flag.StringVar(&cfg.datasetDir, "dataset", "data/raw", "Dataset root holding one folder per pose")
	flag.StringVar(&cfg.outputPath, "out", "data/processed/yoga_keypoints.csv", "Output CSV")
	flag.IntVar(&cfg.workers, "workers", 0, "Parallel detectors (default: model.workersNum from config)")
	flag.BoolVar(&cfg.quiet, "quiet", false, "Disable the progress bar")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "extraction failed:", err)
		os.Exit(1)
	}
}

func run() error {
	svcCfg, err := config.Load(cfg.configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(svcCfg.Log.Mode, logger.FileOptions{}); err != nil {
		return err
	}
	defer logger.Sync()

	workers := cfg.workers
	if workers <= 0 {
		workers = svcCfg.Model.WorkersNum
	}
	m := svcCfg.Model
	pool, err := engine.LoadEngine(iface.EngineConfig{
		Backend:    m.Backend,
		ModelPath:  m.DetectorPath,
		Conf:       m.MinDetectionConfidence,
		InputSize:  m.InputSize,
		Layout:     m.InputLayout,
		WorkersNum: workers,
	}, m.RemoteEndpoint, m.RemoteTimeout())
	if err != nil {
		return fmt.Errorf("failed to load detector: %w", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := extractor.Run(ctx, extractor.Options{
		DatasetDir: cfg.datasetDir,
		OutputPath: cfg.outputPath,
		Workers:    workers,
		Progress:   !cfg.quiet,
		Read:       engine.ReadImageFile,
		Estimator:  pool,
	})
	if err != nil {
		return err
	}
	logger.Log().Info("Saved keypoints", zap.String("output", cfg.outputPath), zap.Int("rows", st.Rows), zap.Int("poses", st.Labels))
	return nil
}
