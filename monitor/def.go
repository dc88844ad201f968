package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"YogaPoseServer/logger"
)

// Metrics owns a private registry so several instances (tests) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	grpcRequests     *prometheus.CounterVec
	detections       *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	detectDuration   prometheus.Histogram
	classifierLoaded prometheus.Gauge
	memUsage         prometheus.Gauge
	cpuUsage         prometheus.Gauge

	pid *process.Process
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})
	m.grpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	}, []string{"method"})
	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_detections_total",
		Help: "Detect-pose requests by outcome",
	}, []string{"result"})
	m.classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_classifications_total",
		Help: "Classified poses by label",
	}, []string{"label"})
	m.detectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pose_detect_duration_seconds",
		Help:    "Time spent decoding, detecting and classifying one image",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.classifierLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pose_classifier_loaded",
		Help: "1 when a classifier artifact is loaded, 0 in detection-only mode",
	})
	m.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	m.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	m.Registry.MustRegister(
		m.httpRequests, m.grpcRequests, m.detections, m.classifications,
		m.detectDuration, m.classifierLoaded, m.memUsage, m.cpuUsage,
	)
	return m
}

func (m *Metrics) ObserveRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveGRPC(method string) {
	m.grpcRequests.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveDetection(result string, elapsed time.Duration) {
	m.detections.WithLabelValues(result).Inc()
	m.detectDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveClassification(label string) {
	m.classifications.WithLabelValues(label).Inc()
}

func (m *Metrics) SetClassifierLoaded(loaded bool) {
	if loaded {
		m.classifierLoaded.Set(1)
	} else {
		m.classifierLoaded.Set(0)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) CheckProcessInfo() {
	if m.pid == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			logger.Log().Warn("failed to open own process", zap.Error(err))
			return
		}
		m.pid = p
	}
	if memInfo, err := m.pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and refreshes the process gauges every
// 500ms until ctx is cancelled.
func (m *Metrics) StartMon(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return m.Serve(ctx, lis)
}

func (m *Metrics) Serve(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server Serve error", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
