// Package api exposes finished runs and launches new ones over HTTP. One
// backtest runs at a time; progress streams to WebSocket subscribers while
// results land in PostgreSQL for the report endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"elliott-backtester/config"
	"elliott-backtester/internal/market"
	"elliott-backtester/internal/store"
)

// RateLimiter provides simple in-memory rate limiting per key.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// SeriesLoader loads one candle series per timeframe. The store's cached
// loader satisfies it; anything that can produce validated series will do.
type SeriesLoader interface {
	Load(ctx context.Context, symbol string, tf market.Timeframe, optional bool) (*market.Series, error)
}

// runState tracks the single in-flight backtest.
type runState struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Profile   string    `json:"profile"`
	StartedAt time.Time `json:"started_at"`
	Stage     string    `json:"stage"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`

	cancel context.CancelFunc
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.ServerConfig
	runCfg     config.Config
	store      *store.Store       // nil when persistence is disabled
	cache      *store.CandleCache // health reporting only
	loader     SeriesLoader
	router     *gin.Engine
	httpServer *http.Server
	hub        *Hub
	tokens     *TokenManager // nil when auth is disabled
	metrics    *Metrics
	limiter    *RateLimiter
	logger     zerolog.Logger

	mu      sync.Mutex
	current *runState
}

// NewServer creates the API server. A nil store disables the report
// endpoints; an empty auth secret leaves all routes open.
func NewServer(
	cfg config.ServerConfig,
	runCfg config.Config,
	st *store.Store,
	cache *store.CandleCache,
	loader SeriesLoader,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	var tokens *TokenManager
	if cfg.AuthSecret != "" {
		tokens = NewTokenManager(cfg.AuthSecret, 24*time.Hour)
	}

	server := &Server{
		cfg:     cfg,
		runCfg:  runCfg,
		store:   st,
		cache:   cache,
		loader:  loader,
		router:  router,
		tokens:  tokens,
		metrics: NewMetrics(),
		limiter: NewRateLimiter(10, time.Minute),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	router.Use(server.metrics.Middleware())

	server.hub = NewHub(server.metrics, server.logger)
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.tokens != nil})
	})

	api := s.router.Group("/api/v1")
	if s.tokens != nil {
		api.Use(s.tokens.Middleware())
	}
	{
		api.GET("/profiles", s.handleListProfiles)

		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.GET("/runs/:id/trades", s.handleGetRunTrades)
		api.GET("/runs/:id/curve", s.handleGetRunCurve)

		api.POST("/backtests", s.handleStartBacktest)
		api.GET("/backtests/current", s.handleCurrentBacktest)
		api.DELETE("/backtests/current", s.handleCancelBacktest)
	}

	// Progress stream; token arrives as a query parameter because browser
	// WebSocket clients cannot set headers.
	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the WebSocket hub and serves HTTP until the listener fails or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	readTimeout := 15 * time.Second
	if s.cfg.ReadTimeout > 0 {
		readTimeout = time.Duration(s.cfg.ReadTimeout) * time.Second
	}
	writeTimeout := 15 * time.Second
	if s.cfg.WriteTimeout > 0 {
		writeTimeout = time.Duration(s.cfg.WriteTimeout) * time.Second
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.tokens != nil).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and cancels any running backtest.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil && s.current.cancel != nil {
		s.current.cancel()
	}
	s.mu.Unlock()

	s.logger.Info().Msg("HTTP server shutting down")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := gin.H{"status": "healthy"}

	if s.store != nil {
		if err := s.store.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["database"] = "unhealthy"
		} else {
			health["database"] = "healthy"
		}
	} else {
		health["database"] = "disabled"
	}

	if s.cache.Enabled() {
		if err := s.cache.Ping(ctx); err != nil {
			health["cache"] = "unhealthy"
		} else {
			health["cache"] = "healthy"
		}
	} else {
		health["cache"] = "disabled"
	}

	c.JSON(status, health)
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": true, "message": message})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
