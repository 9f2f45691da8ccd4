// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/stockhaul/stockhaul/internal/config"
	"github.com/stockhaul/stockhaul/internal/disputes"
	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/idgen"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/loads"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
	"github.com/stockhaul/stockhaul/internal/offers"
	"github.com/stockhaul/stockhaul/internal/payments"
	"github.com/stockhaul/stockhaul/internal/ratelimit"
	"github.com/stockhaul/stockhaul/internal/realtime"
	"github.com/stockhaul/stockhaul/internal/security"
	"github.com/stockhaul/stockhaul/internal/trips"
	"github.com/stockhaul/stockhaul/internal/validation"
	"github.com/stockhaul/stockhaul/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	loadStore    loads.Store
	offerSvc     *offers.Service
	tripSvc      *trips.Service
	paymentSvc   *payments.Service
	disputeSvc   *disputes.Service
	webhookStore webhooks.Store
	dispatcher   *webhooks.Dispatcher
	realtimeHub  *realtime.Hub
	releaseTimer *payments.Timer
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		offerStore   offers.Store
		tripStore    trips.Store
		paymentStore payments.Store
		disputeStore disputes.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.loadStore = loads.NewPostgresStore(db)
		offerStore = offers.NewPostgresStore(db)
		tripStore = trips.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		disputeStore = disputes.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.loadStore = loads.NewMemoryStore()
		offerStore = offers.NewMemoryStore()
		tripStore = trips.NewMemoryStore()
		paymentStore = payments.NewMemoryStore()
		disputeStore = disputes.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Event fan-out: outbound webhooks plus the websocket hub.
	bus := events.NewBus()
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, 4)
	s.realtimeHub = realtime.NewHub()
	bus.Attach(s.dispatcher)
	bus.Attach(s.realtimeHub)

	// Escrow pipeline. The payment service is built first because trips,
	// offers, and disputes all hold a reference to it; the reverse edges
	// (auto-release asking trips to close, sweeps asking disputes whether a
	// payment is frozen) are wired afterwards through narrow interfaces.
	provider := payments.NewProvider(cfg.ProviderName, cfg.ProviderWebhookSecret)
	s.paymentSvc = payments.NewService(paymentStore, provider, cfg.EscrowHoldWindow).WithEvents(bus)
	s.tripSvc = trips.NewService(tripStore, s.loadStore, s.paymentSvc).WithEvents(bus)
	s.disputeSvc = disputes.NewService(disputeStore, s.tripSvc, s.paymentSvc).WithEvents(bus)
	s.offerSvc = offers.NewService(offerStore, s.loadStore, s.tripSvc, s.paymentSvc).WithEvents(bus)
	s.paymentSvc.WithTrips(s.tripSvc).WithDisputes(s.disputeSvc)

	s.releaseTimer = payments.NewTimer(s.paymentSvc, cfg.SweepInterval)
	s.logger.Info("escrow auto-release enabled",
		"holdWindow", cfg.EscrowHoldWindow.String(),
		"sweepInterval", cfg.SweepInterval.String(),
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
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

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	// V1 API group. The identity middleware resolves the caller from a
	// bearer token; routes that need a caller gate themselves with
	// RequireIdentity so the provider webhook can share the group.
	v1 := s.router.Group("/v1")
	v1.Use(identity.Middleware(s.cfg.JWTSecret))

	loads.NewHandler(s.loadStore).RegisterRoutes(v1)
	offers.NewHandler(s.offerSvc).RegisterRoutes(v1)
	trips.NewHandler(s.tripSvc).RegisterRoutes(v1)

	paymentHandler := payments.NewHandler(s.paymentSvc)
	paymentHandler.RegisterRoutes(v1)
	// Provider webhook authenticates with a shared secret, not a bearer token.
	paymentHandler.RegisterProviderRoutes(v1)

	disputeHandler := disputes.NewHandler(s.disputeSvc)
	disputeHandler.RegisterRoutes(v1)

	webhooks.NewHandler(s.webhookStore).RegisterRoutes(v1)

	// WebSocket event stream
	realtime.NewHandler(s.realtimeHub, s.cfg.JWTSecret).RegisterRoutes(v1)

	// Adjudication and back-office operations
	admin := v1.Group("/admin")
	admin.Use(identity.RequireIdentity(), identity.RequireAdmin())
	paymentHandler.RegisterAdminRoutes(admin)
	disputeHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Stockhaul",
		"description": "Livestock haulage marketplace with escrowed payments",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the escrow auto-release sweep
	s.releaseTimer.Start(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the auto-release sweep
	if s.releaseTimer != nil {
		s.releaseTimer.Stop()
		s.logger.Info("auto-release timer stopped")
	}

	// Drain queued webhook deliveries
	if s.dispatcher != nil {
		s.dispatcher.Close()
		s.logger.Info("webhook dispatcher stopped")
	}

	// Disconnect websocket clients
	if s.realtimeHub != nil {
		s.realtimeHub.Close()
		s.logger.Info("realtime hub stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
