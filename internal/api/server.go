package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ea-license-server/config"
	"ea-license-server/internal/actionlog"
	"ea-license-server/internal/auth"
	"ea-license-server/internal/cache"
	"ea-license-server/internal/commands"
	"ea-license-server/internal/database"
	"ea-license-server/internal/email"
	"ea-license-server/internal/events"
	"ea-license-server/internal/license"
	"ea-license-server/internal/logging"
	"ea-license-server/internal/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
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

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	agentCfg   config.AgentConfig

	repo      *database.Repository
	authority *license.Authority
	ingester  *telemetry.Ingester
	queue     *commands.Queue
	recorder  *actionlog.Recorder
	eventBus  *events.EventBus

	authService *auth.Service
	jwtManager  *auth.JWTManager
	authEnabled bool

	emailService *email.Service       // nil when SMTP unused
	cacheService *cache.CacheService  // nil when Redis disabled

	rateLimiter *RateLimiter // throttles agent endpoints per source IP
	logger      *logging.Logger
	hub         *Hub
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
}

// Services bundles the domain services a server needs
type Services struct {
	Repo      *database.Repository
	Authority *license.Authority
	Ingester  *telemetry.Ingester
	Queue     *commands.Queue
	Recorder  *actionlog.Recorder
	EventBus  *events.EventBus

	AuthService *auth.Service // nil disables operator auth
	JWTManager  *auth.JWTManager

	EmailService *email.Service      // optional
	CacheService *cache.CacheService // optional
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig, agentCfg config.AgentConfig, svc Services) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		config:       cfg,
		agentCfg:     agentCfg,
		repo:         svc.Repo,
		authority:    svc.Authority,
		ingester:     svc.Ingester,
		queue:        svc.Queue,
		recorder:     svc.Recorder,
		eventBus:     svc.EventBus,
		authService:  svc.AuthService,
		jwtManager:   svc.JWTManager,
		authEnabled:  svc.AuthService != nil,
		emailService: svc.EmailService,
		cacheService: svc.CacheService,
		rateLimiter:  NewRateLimiter(120, time.Minute),
		logger:       logging.WithComponent("api"),
	}

	server.hub = NewHub(svc.EventBus)
	server.setupRoutes()

	return server
}

// agentRateLimit throttles agent endpoints by source IP. Agents poll
// every few seconds; anything past the limit is a runaway or an
// attack.
func (s *Server) agentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/health", s.handleHealth)

	// Agent endpoints: authenticated by license key, rate limited
	ea := s.router.Group("/api/ea")
	ea.Use(s.agentRateLimit())
	{
		ea.POST("/verify", s.handleVerify)
		ea.POST("/telemetry", s.handleTelemetry)
		ea.POST("/commands/poll", s.handlePollCommands)
		ea.POST("/commands/report", s.handleReportCommand)
		ea.POST("/logs", s.handleAgentLogs)
	}

	// Public catalog
	s.router.GET("/api/plans", s.handleListPlans)

	// Operator login
	if s.authEnabled {
		s.router.POST("/api/auth/login", s.handleLogin)
	}
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	// Operator routes, JWT protected when auth is enabled
	admin := s.router.Group("/api/admin")
	if s.authEnabled {
		admin.Use(auth.Middleware(s.jwtManager))
	}
	{
		admin.GET("/me", s.handleMe)
		admin.POST("/change-password", s.handleChangePassword)

		admin.GET("/licenses", s.handleListLicenses)
		admin.POST("/licenses", s.handleIssueLicense)
		admin.GET("/licenses/:id", s.handleGetLicense)
		admin.DELETE("/licenses/:id", s.handleDeleteLicense)
		admin.POST("/licenses/:id/suspend", s.handleSuspendLicense)
		admin.POST("/licenses/:id/reactivate", s.handleReactivateLicense)
		admin.POST("/licenses/:id/cancel", s.handleCancelLicense)
		admin.POST("/licenses/:id/extend", s.handleExtendLicense)
		admin.GET("/licenses/:id/bindings", s.handleListBindings)
		admin.DELETE("/licenses/:id/bindings/:account", s.handleUnbindAccount)
		admin.GET("/licenses/:id/verifications", s.handleListVerifications)

		admin.GET("/licenses/:id/telemetry", s.handleGetTelemetry)
		admin.GET("/licenses/:id/logs", s.handleListActionLogs)
		admin.GET("/agents/stale", s.handleStaleAgents)

		admin.GET("/licenses/:id/commands", s.handleCommandHistory)
		admin.POST("/licenses/:id/commands/close-position", s.handleClosePosition)
		admin.POST("/licenses/:id/commands/close-bulk", s.handleCloseBulk)
		admin.POST("/licenses/:id/commands/close-top-loss", s.handleCloseTopLoss)
		admin.POST("/licenses/:id/commands/close-all", s.handleCloseAll)
		admin.POST("/licenses/:id/commands/close-all-buy", s.handleCloseAllBuy)
		admin.POST("/licenses/:id/commands/close-all-sell", s.handleCloseAllSell)

		admin.GET("/verifications", s.handleListVerifications)

		// Plan management is admin only
		plans := admin.Group("/plans")
		if s.authEnabled {
			plans.Use(auth.RequireRole(auth.RoleAdmin))
		}
		plans.POST("", s.handleCreatePlan)
		plans.GET("", s.handleListAllPlans)
		plans.PUT("/:id", s.handleUpdatePlan)
		plans.DELETE("/:id", s.handleDeactivatePlan)

		admin.GET("/ws", s.hub.HandleWS)
	}
}

// Start runs the HTTP server until shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	resp := gin.H{
		"status":   "healthy",
		"database": "healthy",
		"time":     time.Now().Format(time.RFC3339),
	}
	if s.cacheService != nil {
		resp["cache"] = map[bool]string{true: "healthy", false: "degraded"}[s.cacheService.IsHealthy()]
	}
	c.JSON(http.StatusOK, resp)
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
