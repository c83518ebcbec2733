package models

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusPending RunStatus = "pending"
	StatusDone    RunStatus = "done"
	StatusUnknown RunStatus = "unknown"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusPending, StatusDone, StatusUnknown:
		return true
	}
	return false
}

// Run is one execution instance of an agent program, scoped to a project.
// The worker process that backs it registers the run with its OS pid so the
// server can reconcile status after an ungraceful restart.
type Run struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Pid       int       `json:"pid"`
	Status    RunStatus `json:"status"`
}

// RegisterRunRequest is the worker-facing payload for registering a run.
type RegisterRunRequest struct {
	ID        string    `json:"id" binding:"required"`
	Project   string    `json:"project" binding:"required"`
	Name      string    `json:"name" binding:"required"`
	CreatedAt time.Time `json:"createdAt" binding:"required"`
	Pid       int       `json:"pid" binding:"required"`
	Status    RunStatus `json:"status" binding:"required"`
}

// RunSnapshot bundles everything a connection receives when joining a run room.
type RunSnapshot struct {
	Run           *Run              `json:"run"`
	InputRequests []InputRequest    `json:"inputRequests"`
	Replies       []Reply           `json:"replies"`
	Spans         []Span            `json:"spans"`
	SpanTree      []*SpanNode       `json:"spanTree,omitempty"`
	Trace         *Trace            `json:"trace,omitempty"`
	Invocations   *ModelInvocations `json:"modelInvocations,omitempty"`
}
