package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runlens/runlens/pkg/models"
	"github.com/runlens/runlens/pkg/workerenv"
)

// PushAssistantMessage handles POST /api/v1/assistant/messages. The
// assistant worker streams reply chunks here; each chunk is accumulated
// into its reply and the merged reply is fanned out to the assistant room.
func (s *Server) PushAssistantMessage(c *gin.Context) {
	var req models.PushAssistantMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := s.assistant.SaveMessage(c.Request.Context(), req, false)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.AssistantReplyChanged(reply, false)
	c.JSON(http.StatusOK, reply)
}

// FinishAssistantReply handles POST /api/v1/assistant/replies/:id/finish.
// The worker marks the end of a streamed turn.
func (s *Server) FinishAssistantReply(c *gin.Context) {
	reply, err := s.assistant.FinishReply(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.AssistantReplyChanged(reply, false)
	c.JSON(http.StatusOK, reply)
}

// GetWorkerConfig handles GET /api/v1/worker-config.
func (s *Server) GetWorkerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.workerCfg.Config())
}

// UpdateWorkerConfig handles PUT /api/v1/worker-config. The new config is
// persisted and used for subsequent assistant launches.
func (s *Server) UpdateWorkerConfig(c *gin.Context) {
	var cfg workerenv.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.workerCfg.Update(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type pythonEnvRequest struct {
	PythonEnv string `json:"pythonEnv" binding:"required"`
}

// VerifyWorkerEnv handles POST /api/v1/worker-config/verify. Verification
// failures are part of the normal flow, so they come back as 200 with
// valid=false rather than an HTTP error.
func (s *Server) VerifyWorkerEnv(c *gin.Context) {
	var req pythonEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := workerenv.VerifyPythonEnv(c.Request.Context(), req.PythonEnv); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// InstallWorkerRequirements handles POST /api/v1/worker-config/install.
func (s *Server) InstallWorkerRequirements(c *gin.Context) {
	var req pythonEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := workerenv.InstallRequirements(c.Request.Context(), req.PythonEnv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
