package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/monitor"

	"github.com/gin-gonic/gin"
)

// DefaultRequestTimeout bounds a single API request, including the backtests
// it runs.
const DefaultRequestTimeout = 5 * time.Minute

// Server wires HTTP endpoints around the backtest service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
	Log       *slog.Logger

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// Options configures a Server. Bus and Metrics are optional; an empty
// JWTSecret disables authentication.
type Options struct {
	Engine         engine.Service
	Bus            *events.Bus
	Metrics        *monitor.Metrics
	JWTSecret      string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	Logger         *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())                               // Request ID tracking
	r.Use(RequestLogger(opts.Metrics, opts.Logger))            // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst)) // Rate limiting
	r.Use(CORSMiddleware())                                    // CORS (last before routes)

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Bus:       opts.Bus,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
		Log:       opts.Logger,
	}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	{
		api.GET("/system/status", s.getSystemStatus)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/backtests", s.runBacktest)
			protected.GET("/backtests", s.listBacktests)
			protected.GET("/backtests/:id", s.getBacktest)
			protected.GET("/backtests/:id/equity", s.getEquity)
			protected.GET("/backtests/:id/report", s.getReport)
			protected.DELETE("/backtests/:id", s.deleteBacktest)

			protected.POST("/sweeps", s.runSweep)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
