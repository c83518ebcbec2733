package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// observerWS handles GET /ws: upgrades a dashboard client and hands the
// connection to the hub, which owns it until disconnect.
func (s *Server) observerWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checking happens at the reverse proxy
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket connection", "error", err)
		return
	}

	s.hub.HandleConnection(c.Request.Context(), conn)
}

// workerWS handles GET /ws/worker?run_id=. The worker's control channel is
// keyed by run id; the run must have been registered first.
func (s *Server) workerWS(c *gin.Context) {
	runID := c.Query("run_id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
		return
	}

	exists, err := s.runs.RunExists(c.Request.Context(), runID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("Failed to accept worker WebSocket connection", "run_id", runID, "error", err)
		return
	}

	s.hub.HandleWorkerConnection(c.Request.Context(), conn, runID)
}
