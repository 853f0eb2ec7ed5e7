// Package server implements the pipeline's admin HTTP surface: health and
// readiness probes, Prometheus metrics, and the live decision feed
// (HTML page plus its WebSocket). It owns the stream processor's
// lifecycle but exposes no ingest or query API — both are out of scope
// per spec.md §1, and the live feed is fed exclusively by the bus's
// Outbound fan-out rather than a read path into the decision store.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/mbd888/fraudpipeline/internal/bus"
	"github.com/mbd888/fraudpipeline/internal/config"
	"github.com/mbd888/fraudpipeline/internal/decision"
	"github.com/mbd888/fraudpipeline/internal/features"
	"github.com/mbd888/fraudpipeline/internal/health"
	"github.com/mbd888/fraudpipeline/internal/logging"
	"github.com/mbd888/fraudpipeline/internal/metrics"
	"github.com/mbd888/fraudpipeline/internal/modelclient"
	"github.com/mbd888/fraudpipeline/internal/security"
	"github.com/mbd888/fraudpipeline/internal/sink"
	"github.com/mbd888/fraudpipeline/internal/statestore"
	"github.com/mbd888/fraudpipeline/internal/stream"
)

// Server wraps the HTTP admin surface and the pipeline components whose
// lifecycle it owns.
type Server struct {
	cfg *config.Config

	db            *sql.DB // nil if using in-memory stores
	stateStore    statestore.Store
	decisionStore decision.Store
	bus           bus.Bus
	model         *modelclient.Client
	processor     *stream.Processor
	decisionSink  *sink.Sink
	feedHub       *bus.FeedHub
	healthReg     *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New wires the admin server and every pipeline component it owns.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initStores(); err != nil {
		return nil, err
	}

	s.bus = bus.New(cfg.BusBufferSize, s.logger)
	s.feedHub = bus.NewFeedHub(s.logger)

	if cfg.MLEnabled() {
		model, err := modelclient.New(cfg.ModelServiceURL,
			time.Duration(cfg.ModelTimeoutMs)*time.Millisecond,
			cfg.ModelBreakerFailN,
			time.Duration(cfg.ModelBreakerCooldownMs)*time.Millisecond)
		if err != nil {
			s.logger.Warn("model client disabled: invalid model service url", "error", err)
		} else if contract, ferr := model.Features(context.Background()); ferr == nil && len(contract.Features) != features.Width {
			s.logger.Error("model client disabled: model feature count does not match the pipeline's",
				"model_features", len(contract.Features), "pipeline_features", features.Width, "model_version", contract.ModelVersion)
		} else {
			s.model = model
			s.logger.Info("model scoring enabled", "url", cfg.ModelServiceURL)
		}
	} else {
		s.logger.Info("model scoring disabled, scoring on rules alone")
	}

	rulesCfg, err := config.RulesConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule overrides: %w", err)
	}

	s.decisionSink = sink.New(s.decisionStore, s.bus, s.logger, sink.Config{
		MaxAttempts: cfg.SinkRetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.SinkRetryBaseDelayMs) * time.Millisecond,
	})

	var model stream.Model
	if s.model != nil {
		model = s.model
	}
	s.processor = stream.New(s.bus, s.stateStore, s.decisionStore, model, s.decisionSink, s.logger, stream.Config{
		RulesConfig: rulesCfg,
		CombinerConfig: decision.CombinerConfig{
			RuleWeight:      cfg.RuleWeight,
			ModelWeight:     cfg.ModelWeight,
			HighRiskProb:    cfg.ModelHighRiskProb,
			ReviewThreshold: cfg.ReviewThreshold,
			BlockThreshold:  cfg.BlockThreshold,
		},
		OrderingFallback: cfg.OrderingFallback,
		MaxRedeliveries:  cfg.MaxRedeliveries,
	})

	s.healthReg = health.NewRegistry()
	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) initStores() error {
	if s.cfg.DatabaseURL == "" {
		s.stateStore = statestore.NewMemoryStore()
		s.decisionStore = decision.NewMemoryStore()
		s.logger.Info("using in-memory stores (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.stateStore = statestore.NewPostgresStore(db)
	s.decisionStore = decision.NewPostgresStore(db)
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	if s.model != nil {
		s.healthReg.Register("model-service", func(ctx context.Context) health.Status {
			if !s.model.IsHealthy(ctx) {
				return health.Status{Name: "model-service", Healthy: false, Detail: "unreachable"}
			}
			return health.Status{Name: "model-service", Healthy: true}
		})
	}
}

func maskDSN(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:12] + "***"
	}
	return "***"
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered", "error", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/feed", feedPageHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.feedHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/feed")
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the payload for /healthz.
type HealthResponse struct {
	Status    string          `json:"status"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)
	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server, the stream processor, and the feed hub with
// graceful shutdown on SIGINT/SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.feedHub.Run(runCtx, s.bus)
	go s.processor.Run(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server and every background component.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
