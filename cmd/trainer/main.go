package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"YogaPoseServer/blobstore"
	"YogaPoseServer/config"
	"YogaPoseServer/logger"
	"YogaPoseServer/trainer"
)

type Config struct {
	configPath string
	dataPath   string
	outputPath string
	strategy   string
	seed       int64
	testSize   float64
	folds      int
	threads    int
	quiet      bool
}

var cfg Config

func main() {
	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to the service config (storage and log settings)")
	flag.StringVar(&cfg.dataPath, "data", "data/processed/yoga_keypoints.csv", "Path to the keypoints CSV")
	flag.StringVar(&cfg.outputPath, "out", "", "Artifact output path or s3://bucket/key (default depends on strategy)")
	flag.StringVar(&cfg.strategy, "strategy", string(trainer.QuickBoost), "basic, improved, high_accuracy or quick_boost")
	flag.Int64Var(&cfg.seed, "seed", 42, "Random seed")
	flag.Float64Var(&cfg.testSize, "test-size", 0.2, "Held-out fraction")
	flag.IntVar(&cfg.folds, "folds", 5, "Cross-validation folds")
	flag.IntVar(&cfg.threads, "threads", runtime.NumCPU(), "Number of threads per forest")
	flag.BoolVar(&cfg.quiet, "quiet", false, "Disable the progress bar")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "training failed:", err)
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

	strategy, err := trainer.ParseStrategy(cfg.strategy)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log().Info("=== Yoga Pose Classifier Training ===", zap.String("strategy", string(strategy)), zap.String("data", cfg.dataPath))
	res, err := trainer.Run(ctx, trainer.Options{
		Strategy:   strategy,
		DataPath:   cfg.dataPath,
		OutputPath: cfg.outputPath,
		TestSize:   cfg.testSize,
		Seed:       cfg.seed,
		Folds:      cfg.folds,
		Jobs:       cfg.threads,
		Progress:   !cfg.quiet,
		Out:        os.Stdout,
		Uploader:   blobstore.NewRouter(blobstore.MinioOptions(svcCfg.Storage)),
	})
	if err != nil {
		return err
	}
	fmt.Printf("\n=== Training Complete! ===\nModel: %s (%s, %.1f%% accuracy)\n", res.OutputPath, res.Best.Name, res.Best.Accuracy*100)
	return nil
}
