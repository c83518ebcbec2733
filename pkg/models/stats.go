package models

import "time"

// ProjectStats is the per-project aggregate shown on the project list:
// run counts by status plus the earliest run timestamp.
type ProjectStats struct {
	Project   string    `json:"project"`
	Running   int       `json:"running"`
	Pending   int       `json:"pending"`
	Finished  int       `json:"finished"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecentProject is one entry of the overview "recently updated" list.
type RecentProject struct {
	Name           string    `json:"name"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	RunCount       int       `json:"runCount"`
}

// OverviewData is the dashboard-level aggregate pushed to the overview room.
type OverviewData struct {
	TotalProjects  int             `json:"totalProjects"`
	TotalRuns      int             `json:"totalRuns"`
	RecentProjects []RecentProject `json:"recentProjects"`
}

// ModelInvocations summarizes the model-invocation spans of one run.
type ModelInvocations struct {
	RunID       string           `json:"runId"`
	Invocations int              `json:"invocations"`
	TotalNs     int64            `json:"totalNs"`
	ByModel     []ModelCallCount `json:"byModel"`
}

// ModelCallCount is the invocation count for one model name.
type ModelCallCount struct {
	ModelName   string `json:"modelName"`
	Invocations int    `json:"invocations"`
}

// CommandResult is the structured outcome of any mutating client command.
// Failures travel as data, never as transport-level errors.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
