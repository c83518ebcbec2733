package models

// InputRequest is an outstanding request for human input blocking a run.
// Consumed (deleted) exactly once when a human supplies input; the per-run
// queue is FIFO for display, but deletion is by RequestID.
type InputRequest struct {
	RequestID       string         `json:"requestId"`
	RunID           string         `json:"runId,omitempty"`
	AgentID         string         `json:"agentId"`
	AgentName       string         `json:"agentName"`
	StructuredInput map[string]any `json:"structuredInput"`
}

// RegisterInputRequest is the worker-facing payload for registering an
// input request against a run.
type RegisterInputRequest struct {
	RequestID       string         `json:"requestId" binding:"required"`
	RunID           string         `json:"runId" binding:"required"`
	AgentID         string         `json:"agentId" binding:"required"`
	AgentName       string         `json:"agentName" binding:"required"`
	StructuredInput map[string]any `json:"structuredInput"`
}
