// Package server exposes the HTTP surface: the workspace webhook receiver
// and a small token-guarded admin API.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"calmirror/internal/dispatch"
	"calmirror/internal/engine"
	"calmirror/internal/store"
)

// SyncRunner is the part of the engine the admin API drives.
type SyncRunner interface {
	RunFull(ctx context.Context, opts engine.RunOpts) (engine.Report, error)
}

// Config carries the server's own settings.
type Config struct {
	// AdminToken guards the /admin group. When empty the admin routes
	// are not registered at all.
	AdminToken string

	Logger *slog.Logger
}

// Server wires the handlers over the shared store, engine and dispatcher.
type Server struct {
	store      store.Store
	runner     SyncRunner
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	router     *gin.Engine
}

// New builds the router. Gin runs in release mode; request logging goes
// through the shared structured logger instead of gin's own writer.
func New(st store.Store, runner SyncRunner, disp *dispatch.Dispatcher, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		store:      st,
		runner:     runner,
		dispatcher: disp,
		logger:     logger,
		router:     router,
	}

	router.GET("/healthz", s.handleHealth)
	router.POST("/webhook/workspace", s.handleWebhook)

	if cfg.AdminToken != "" {
		admin := router.Group("/admin", bearerAuth(cfg.AdminToken))
		{
			admin.POST("/sync", s.handleAdminSync)
			admin.GET("/status", s.handleAdminStatus)
			admin.PUT("/settings", s.handleAdminSettings)
		}
	} else {
		logger.Warn("admin token not configured; admin endpoints disabled")
	}

	return s
}

// Handler returns the underlying router for the HTTP server and for
// tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// bearerAuth guards a route group with a constant-time bearer token
// comparison.
func bearerAuth(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(started),
		)
	}
}
