// Package api exposes the concordance calculator over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/concordance-score-server/internal/domain"
	"github.com/concordance-score-server/internal/rules"
	"github.com/concordance-score-server/internal/service"
)

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	calculator    domain.Calculator
	scorer        *service.ScorerService
	registry      *rules.Registry
	cache         *service.ResultCache
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance. The registry may be nil when
// no rules file is configured; callers then have to supply rules inline.
func NewServer(
	configManager domain.ConfigManager,
	logger *logrus.Logger,
	calculator domain.Calculator,
	scorer *service.ScorerService,
	registry *rules.Registry,
	cache *service.ResultCache,
) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	limits := configManager.GetLimitsConfig()
	limiter := rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.Burst)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())
	router.Use(requestLogMiddleware(logger))
	router.Use(rateLimitMiddleware(limiter))

	server := &Server{
		configManager: configManager,
		logger:        logger,
		calculator:    calculator,
		scorer:        scorer,
		registry:      registry,
		cache:         cache,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.logger.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/concordance", s.handleConcordance)
		v1.POST("/concordance/batch", s.handleConcordanceBatch)
		v1.GET("/rules", s.handleRules)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	hits, misses, size := s.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
		"cache": gin.H{
			"hits":   hits,
			"misses": misses,
			"size":   size,
		},
	})
}
