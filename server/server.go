package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"YogaPoseServer/service"
)

// RequestObserver is notified once per handled request. monitor.Metrics implements it.
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

type Options struct {
	MaxUploadMB  int
	CorsOrigins  []string
	RateLimitRPS float64
	RateBurst    int
	// IdleTimeout closes websocket sessions that stop sending frames.
	IdleTimeout time.Duration
	Observer    RequestObserver
	Logger      *zap.Logger
}

type Server struct {
	svc       *service.Service
	engine    *gin.Engine
	log       *zap.Logger
	maxUpload int64
	idle      time.Duration

	sessionMu sync.RWMutex
	sessions  map[string]*instance
}

func New(svc *service.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	s := &Server{
		svc:       svc,
		log:       opts.Logger,
		maxUpload: int64(opts.MaxUploadMB) << 20,
		idle:      opts.IdleTimeout,
		sessions:  map[string]*instance{},
	}

	r := gin.New()
	r.MaxMultipartMemory = s.maxUpload
	r.Use(requestID(), accessLog(s.log), recovery(s.log))
	if opts.Observer != nil {
		r.Use(observe(opts.Observer))
	}
	if len(opts.CorsOrigins) == 0 {
		r.Use(cors.Default())
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CorsOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", RequestIDKey},
			ExposeHeaders: []string{RequestIDKey},
			MaxAge:        12 * time.Hour,
		}))
	}

	detect := r.Group("/")
	if opts.RateLimitRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimitRPS) + 1
		}
		detect.Use(newRateLimiter(rate.Limit(opts.RateLimitRPS), burst).middleware(s.log))
	}

	r.GET("/", s.index)
	r.GET("/health", s.health)
	detect.POST("/detect-pose", limitBody(s.maxUpload+1<<20), s.detectPose)
	detect.GET("/ws/detect-pose", s.streamPose)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("HTTP server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.closeSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Index())
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Health())
}

func (s *Server) detectPose(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image file too large"})
			return
		}
		s.abortWithError(c, service.ErrNoImage)
		return
	}
	if fh.Filename == "" {
		s.abortWithError(c, service.ErrNoImageSelected)
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	res, err := s.svc.Detect(c.Request.Context(), data)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res.Document())
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := service.StatusOf(err)
	if status >= 500 {
		s.log.Error("Error in detect_pose", zap.String("request_id", getRequestID(c)), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
