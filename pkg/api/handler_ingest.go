package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runlens/runlens/pkg/merge"
	"github.com/runlens/runlens/pkg/models"
)

// RegisterRun handles POST /api/v1/runs. Workers call it once at startup;
// re-registration of the same run id refreshes pid and status.
func (s *Server) RegisterRun(c *gin.Context) {
	var req models.RegisterRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.runs.RegisterRun(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.RunRegistered(c.Request.Context(), run)
	c.JSON(http.StatusOK, run)
}

// GetRunSnapshot handles GET /api/v1/runs/:id. REST fallback for clients
// that need a full reload outside a room join.
func (s *Server) GetRunSnapshot(c *gin.Context) {
	snap, err := s.hub.RunSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type changeStatusRequest struct {
	Status models.RunStatus `json:"status" binding:"required"`
}

// ChangeRunStatus handles PUT /api/v1/runs/:id/status.
func (s *Server) ChangeRunStatus(c *gin.Context) {
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.hub.ChangeRunStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClearInputRequests handles DELETE /api/v1/runs/:id/input-requests. The
// worker signals that it no longer waits for any answer.
func (s *Server) ClearInputRequests(c *gin.Context) {
	if err := s.hub.ClearInputRequests(c.Request.Context(), c.Param("id")); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RegisterReply handles POST /api/v1/replies.
func (s *Server) RegisterReply(c *gin.Context) {
	var req models.RegisterReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := s.replies.SaveReply(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.ReplyChanged(req.RunID, reply)
	c.JSON(http.StatusOK, reply)
}

type finishReplyRequest struct {
	RunID      string    `json:"runId" binding:"required"`
	FinishedAt time.Time `json:"finishedAt" binding:"required"`
}

// FinishReply handles POST /api/v1/replies/:id/finish. The worker stamps the
// end of a streamed reply.
func (s *Server) FinishReply(c *gin.Context) {
	var req finishReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	replyID := c.Param("id")
	if err := s.replies.FinishReply(c.Request.Context(), replyID, req.FinishedAt); err != nil {
		abortWithServiceError(c, err)
		return
	}
	reply, err := s.replies.GetReply(c.Request.Context(), replyID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.ReplyChanged(req.RunID, reply)
	c.JSON(http.StatusOK, reply)
}

// PushMessage handles POST /api/v1/messages. The stored reply comes back
// with its messages merged and sorted, and is fanned out to the run room.
func (s *Server) PushMessage(c *gin.Context) {
	var req models.PushMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Message.Content.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := s.replies.SaveMessage(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.ReplyChanged(req.RunID, reply)
	c.JSON(http.StatusOK, reply)
}

type pushSpansRequest struct {
	RunID string        `json:"runId" binding:"required"`
	Spans []models.Span `json:"spans" binding:"required"`
}

// PushSpans handles POST /api/v1/spans. Spans arrive in batches; each batch
// triggers one fan-out with the re-derived trace aggregates.
func (s *Server) PushSpans(c *gin.Context) {
	var req pushSpansRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i := range req.Spans {
		req.Spans[i].ConversationID = req.RunID
	}
	// A batch can carry the same span twice (opened, then finished). Collapse
	// it so the latest state per span id is the one written.
	req.Spans = merge.Spans(nil, req.Spans)

	if err := s.spans.UpsertSpans(c.Request.Context(), req.Spans); err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.hub.SpansChanged(c.Request.Context(), req.RunID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RegisterInputRequest handles POST /api/v1/input-requests. Arrival blocks
// the run: the hub persists, announces, and transitions running → pending.
func (s *Server) RegisterInputRequest(c *gin.Context) {
	var req models.RegisterInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.hub.InputRequestArrived(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
