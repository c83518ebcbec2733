// Package api exposes the HTTP surface: the worker-facing REST ingestion
// endpoints, the WebSocket upgrade points, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/hub"
	"github.com/runlens/runlens/pkg/services"
	"github.com/runlens/runlens/pkg/version"
	"github.com/runlens/runlens/pkg/workerenv"
)

// Server wires the HTTP handlers to the hub and services.
type Server struct {
	db        *database.Client
	hub       *hub.Hub
	runs      *services.RunService
	replies   *services.ReplyService
	spans     *services.SpanService
	assistant *services.AssistantService
	workerCfg *workerenv.Manager

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(
	db *database.Client,
	h *hub.Hub,
	runs *services.RunService,
	replies *services.ReplyService,
	spans *services.SpanService,
	assistant *services.AssistantService,
	workerCfg *workerenv.Manager,
) *Server {
	s := &Server{
		db:        db,
		hub:       h,
		runs:      runs,
		replies:   replies,
		spans:     spans,
		assistant: assistant,
		workerCfg: workerCfg,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.Health)
	r.GET("/ws", s.observerWS)
	r.GET("/ws/worker", s.workerWS)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/runs", s.RegisterRun)
		v1.GET("/runs/:id", s.GetRunSnapshot)
		v1.PUT("/runs/:id/status", s.ChangeRunStatus)
		v1.DELETE("/runs/:id/input-requests", s.ClearInputRequests)

		v1.POST("/replies", s.RegisterReply)
		v1.POST("/replies/:id/finish", s.FinishReply)
		v1.POST("/messages", s.PushMessage)
		v1.POST("/spans", s.PushSpans)
		v1.POST("/input-requests", s.RegisterInputRequest)

		v1.POST("/assistant/messages", s.PushAssistantMessage)
		v1.POST("/assistant/replies/:id/finish", s.FinishAssistantReply)

		v1.GET("/worker-config", s.GetWorkerConfig)
		v1.PUT("/worker-config", s.UpdateWorkerConfig)
		v1.POST("/worker-config/verify", s.VerifyWorkerEnv)
		v1.POST("/worker-config/install", s.InstallWorkerRequirements)
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server on addr. Blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Health returns server health including database connectivity and pool stats.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"version":     version.Full(),
		"database":    dbHealth,
		"connections": s.hub.ActiveConnections(),
	})
}
