package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	adhoc "YogaPoseServer/Adhoc"
	"YogaPoseServer/blobstore"
	"YogaPoseServer/classifier"
	"YogaPoseServer/config"
	"YogaPoseServer/engine"
	backend "YogaPoseServer/gRPC"
	iface "YogaPoseServer/interface"
	"YogaPoseServer/logger"
	"YogaPoseServer/monitor"
	"YogaPoseServer/server"
	"YogaPoseServer/service"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 是 Google DNS，这里只是为了建立路由路径得到本地出口 IP
	// 实际并没有真正的物理连接，所以不需要联网也可以（只要有路由表）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

// loadClassifier loads the artifact once. Any failure leaves the service in
// detection-only mode.
func loadClassifier(ctx context.Context, store *blobstore.Router, path string) *classifier.PoseClassifier {
	log := logger.Log().With(zap.String("model_path", path))
	clf, err := classifier.Open(ctx, store.Get, path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			log.Warn("Classifier artifact not found, running in detection-only mode")
		} else {
			log.Warn("Failed to load classifier artifact, running in detection-only mode", zap.Error(err))
		}
		return nil
	}
	info := clf.Info()
	log.Info("Classifier loaded",
		zap.String("algorithm", info.Algorithm),
		zap.Float64("accuracy", info.Accuracy),
		zap.Int("poses", info.PoseCount),
		zap.Bool("scaler", info.HasScaler))
	return clf
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	err = logger.Init(cfg.Log.Mode, logger.FileOptions{
		Filename:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if cfg.Log.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	CPUNum := runtime.NumCPU()
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" HTTP    Port:", cfg.Server.HTTPPort)
	fmt.Println(" gRPC    Port:", cfg.Server.GRPCPort)
	fmt.Println(" Metrics Port:", cfg.Server.MetricsPort)
	fmt.Println("Configured Workers Num:", cfg.Model.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.Model.WorkersNum > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that workersNum exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := monitor.NewMetrics()
	store := blobstore.NewRouter(blobstore.MinioOptions(cfg.Storage))

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	clf := loadClassifier(loadCtx, store, cfg.Model.Path)
	loadCancel()

	m := cfg.Model
	pool, err := engine.LoadEngine(iface.EngineConfig{
		Backend:    m.Backend,
		ModelPath:  m.DetectorPath,
		Conf:       m.MinDetectionConfidence,
		InputSize:  m.InputSize,
		Layout:     m.InputLayout,
		WorkersNum: m.WorkersNum,
	}, m.RemoteEndpoint, m.RemoteTimeout())
	if err != nil {
		logger.Fatal("Failed to load landmark detector", zap.Error(err))
	}

	opts := service.Options{
		Estimator: pool,
		Decoder:   engine.GocvDecoder{},
		ModelPath: cfg.Model.Path,
		Observer:  metrics,
		Logger:    logger.Log(),
	}
	if clf != nil {
		opts.Classifier = clf
		opts.ClassifierInfo = clf.Info()
	}
	metrics.SetClassifierLoaded(clf != nil)
	svc, err := service.New(opts)
	if err != nil {
		logger.Fatal("Failed to build service", zap.Error(err))
	}
	defer svc.Close()

	var wg sync.WaitGroup

	//gRPC server setup
	grpcSrv := backend.NewServer(svc, metrics)
	g, err := backend.StartGRPCServer(cfg.Server.GRPCPort, grpcSrv)
	if err != nil {
		logger.Fatal("Failed to start gRPC server", zap.Error(err))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.StartMon(ctx, cfg.Server.MetricsPort); err != nil {
			logger.Log().Error("Metrics server stopped", zap.Error(err))
		}
	}()

	//Adhoc server setup
	if cfg.Registry.Enabled {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Warn("Failed to get outbound IP", zap.Error(err))
			ip = "127.0.0.1"
		}
		var reg adhoc.RegServerConfig
		reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, &wg, reg, adhoc.Instance{
			IP:               ip,
			HTTPPort:         cfg.Server.HTTPPort,
			GRPCPort:         cfg.Server.GRPCPort,
			ClassifierLoaded: clf != nil,
		})
	} else {
		logger.Log().Info("Registry disabled, skipping registration")
	}

	httpSrv := server.New(svc, server.Options{
		MaxUploadMB:  cfg.Server.MaxUploadMB,
		CorsOrigins:  cfg.Server.CorsOrigins,
		RateLimitRPS: cfg.Server.RateLimitRPS,
		RateBurst:    cfg.Server.RateBurst,
		Observer:     metrics,
		Logger:       logger.Log(),
	})
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpSrv.Run(ctx, fmt.Sprintf(":%d", cfg.Server.HTTPPort))
	}()

	select {
	case <-ctx.Done():
		logger.Log().Info("Signal received, shutting down")
	case <-grpcSrv.CloseChannel:
		logger.Log().Info("Shutdown requested, shutting down")
	case err := <-httpErr:
		logger.Log().Error("HTTP server stopped", zap.Error(err))
		httpErr <- nil
	}
	cancel()
	g.GracefulStop()
	if err := <-httpErr; err != nil {
		logger.Log().Error("HTTP server shutdown", zap.Error(err))
	}
	wg.Wait()
	logger.Log().Info("Safely exited")
}
