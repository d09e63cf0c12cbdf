package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spot-trading-engine/internal/auth"
	"spot-trading-engine/internal/autopilot"
	"spot-trading-engine/internal/circuit"
	"spot-trading-engine/internal/database"
	"spot-trading-engine/internal/events"
	"spot-trading-engine/internal/logging"
	"spot-trading-engine/internal/scanner"
)

// StatusSource reports the control loop state
type StatusSource interface {
	Status() autopilot.Status
}

// Book exposes the lifecycle manager's pending and open books
type Book interface {
	Positions() []database.Position
	Pending() []autopilot.PendingOrder
	Blocked() []autopilot.BlockedSymbol
	Balance() float64
	ClosePosition(ctx context.Context, symbol, reason string) error
}

// ProtectionSource reports capital protection
type ProtectionSource interface {
	Status() circuit.ProtectionState
}

// BreakerSource reports the daily loss breaker
type BreakerSource interface {
	Stats() circuit.BreakerStats
}

// ScanSource returns the latest scan report
type ScanSource interface {
	LastReport() *scanner.ScanReport
}

// TradeSource reads the trade journal
type TradeSource interface {
	GetTradesSince(ctx context.Context, since time.Time) ([]*database.Trade, error)
	GetDailyStats(ctx context.Context, since time.Time) (*database.DailyStats, error)
}

// HealthChecker is a dependency probed by /api/health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a plain probe function to HealthChecker
type HealthFunc func(ctx context.Context) error

// HealthCheck calls f
func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ProductionMode  bool
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	RequestsPerSec  float64 // per client; 0 disables rate limiting
	Burst           int
}

// Deps are the engine components the API reads. Tokens nil disables auth.
type Deps struct {
	Controller StatusSource
	Book       Book
	Protection ProtectionSource
	Breaker    BreakerSource
	Scanner    ScanSource
	Trades     TradeSource
	Health     map[string]HealthChecker
	Events     *events.EventBus
	Gatherer   prometheus.Gatherer
	Tokens     *auth.TokenManager
	Logger     *logging.Logger
}

// Server is the engine's HTTP API
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	hub        *Hub
	logger     *logging.Logger
	startedAt  time.Time
}

// NewServer creates the API server and subscribes its websocket hub to the
// event bus
func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	logger := deps.Logger.WithComponent("API")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	if cfg.RequestsPerSec > 0 {
		router.Use(newClientLimiter(cfg.RequestsPerSec, cfg.Burst).middleware())
	}

	s := &Server{
		router:    router,
		config:    cfg,
		deps:      deps,
		hub:       NewHub(logger),
		logger:    logger,
		startedAt: time.Now(),
	}
	if deps.Events != nil {
		deps.Events.SubscribeAll(s.hub.BroadcastEvent)
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	if s.deps.Tokens != nil {
		api.Use(tokenFromQuery(), auth.Middleware(s.deps.Tokens))
	}
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/pending", s.handlePending)
		api.GET("/protection", s.handleProtection)
		api.GET("/scan", s.handleScan)
		api.GET("/blocked", s.handleBlocked)
		api.GET("/stats/daily", s.handleDailyStats)
		api.GET("/trades", s.handleTrades)
		api.GET("/ws", s.handleWebSocket)

		if s.deps.Tokens != nil {
			api.POST("/positions/:symbol/close", auth.RequireOperate(), s.handleClosePosition)
		} else {
			api.POST("/positions/:symbol/close", s.handleClosePosition)
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// tokenFromQuery lets browser websocket clients pass the token as ?token=
func tokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if token := c.Query("token"); token != "" {
				c.Request.Header.Set("Authorization", "Bearer "+token)
			}
		}
		c.Next()
	}
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("HTTP request failed", kv...)
			return
		}
		logger.Debug("HTTP request", kv...)
	}
}
