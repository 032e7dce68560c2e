// Package server exposes the authorization core over HTTP: the
// authorize check, token issuance and revocation, policy
// administration, health and metrics.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/credential"
	"github.com/vyrodovalexey/avaccess/internal/gate"
	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Server is the HTTP surface of the authorization service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.ServerConfig

	gate      gate.Gate
	authority token.Authority
	store     policy.Store

	logger   observability.Logger
	auditor  audit.Logger
	registry *prometheus.Registry

	mu      sync.Mutex
	running bool
}

// Option is a functional option for the server.
type Option func(*Server)

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAuditTrail sets the audit logger recording administrative
// mutations of authorization state.
func WithAuditTrail(auditor audit.Logger) Option {
	return func(s *Server) {
		s.auditor = auditor
	}
}

// WithRegistry sets the Prometheus registry served at /metrics.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// New creates the HTTP server and registers its routes.
func New(cfg *config.ServerConfig, g gate.Gate, authority token.Authority, store policy.Store, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:    gin.New(),
		cfg:       cfg,
		gate:      g,
		authority: authority,
		store:     store,
		logger:    observability.NopLogger(),
		auditor:   audit.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	s.engine.Use(s.recoveryMiddleware(), s.loggingMiddleware())
	s.registerRoutes()

	return s
}

// registerRoutes wires the API surface.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/authorize", s.handleAuthorize)

		v1.POST("/tokens", s.handleIssueToken)
		v1.DELETE("/tokens", s.handleRevokeToken)
	}

	admin := v1.Group("", s.adminAuthMiddleware())
	{
		admin.POST("/policies", s.handleCreatePolicy)
		admin.GET("/policies", s.handleListPolicies)
		admin.GET("/policies/:id", s.handleGetPolicy)
		admin.PUT("/policies/:id", s.handleUpdatePolicy)
		admin.DELETE("/policies/:id", s.handleDeletePolicy)

		admin.POST("/policies/:id/rules", s.handleCreateRule)
		admin.GET("/policies/:id/rules", s.handleListRules)
		admin.DELETE("/policies/:id/rules/:ruleId", s.handleDeleteRule)

		admin.POST("/role-policies", s.handleCreateRolePolicy)
		admin.DELETE("/role-policies/:role/:id", s.handleDeleteRolePolicy)

		admin.POST("/user-policies", s.handleCreateUserPolicy)
		admin.DELETE("/user-policies/:userId/:id", s.handleDeleteUserPolicy)

		admin.POST("/admin/blacklist/clear", s.handleClearBlacklist)
	}
}

// adminAuthMiddleware guards the administrative endpoints with the
// configured bcrypt password hash. An empty hash leaves them open, for
// deployments fronted by their own auth.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminPasswordHash == "" {
			c.Next()
			return
		}

		_, password, ok := c.Request.BasicAuth()
		if !ok || !credential.VerifyPassword(s.cfg.AdminPasswordHash, password) {
			c.Header("WWW-Authenticate", `Basic realm="avaccess"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}

// Engine returns the underlying gin engine, used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("http server listening", observability.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.httpServer == nil {
		return nil
	}
	s.running = false

	timeout := s.cfg.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
