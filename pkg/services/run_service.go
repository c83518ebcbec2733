package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/models"
)

// RunService manages the run registry and the project-level aggregates
// derived from it.
type RunService struct {
	client *database.Client
}

// NewRunService creates a new RunService
func NewRunService(client *database.Client) *RunService {
	return &RunService{client: client}
}

// RegisterRun inserts a run, or refreshes pid/status when a worker
// re-registers an id it already owns (restart of the same run).
func (s *RunService) RegisterRun(ctx context.Context, req models.RegisterRunRequest) (*models.Run, error) {
	if req.ID == "" {
		return nil, NewValidationError("id", "required")
	}
	if req.Project == "" {
		return nil, NewValidationError("project", "required")
	}
	if !req.Status.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", req.Status))
	}

	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO runs (id, project, name, created_at, pid, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET pid = EXCLUDED.pid, status = EXCLUDED.status`,
		req.ID, req.Project, req.Name, req.CreatedAt, req.Pid, string(req.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	return s.GetRun(ctx, req.ID)
}

// GetRun fetches one run by id.
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.client.DB().QueryRowContext(ctx, `
		SELECT id, project, name, created_at, pid, status
		FROM runs WHERE id = $1`, runID)

	var r models.Run
	var status string
	err := row.Scan(&r.ID, &r.Project, &r.Name, &r.CreatedAt, &r.Pid, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.Status = models.RunStatus(status)
	return &r, nil
}

// RunExists reports whether a run with the given id is registered.
func (s *RunService) RunExists(ctx context.Context, runID string) (bool, error) {
	var exists bool
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check run existence: %w", err)
	}
	return exists, nil
}

// ProjectExists reports whether any run belongs to the named project.
func (s *RunService) ProjectExists(ctx context.Context, project string) (bool, error) {
	var exists bool
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE project = $1)`, project).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return exists, nil
}

// ListRunsByProject returns a project's runs, newest first.
func (s *RunService) ListRunsByProject(ctx context.Context, project string) ([]models.Run, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, project, name, created_at, pid, status
		FROM runs WHERE project = $1
		ORDER BY created_at DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListRunsByStatus returns every run in any of the given lifecycle states.
func (s *RunService) ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]models.Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	// database/sql has no array binding for the stdlib driver, so build the
	// placeholder list by hand.
	args := make([]any, len(statuses))
	placeholders := ""
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}

	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, project, name, created_at, pid, status
		FROM runs WHERE status IN (`+placeholders+`)
		ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs by status: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ChangeStatus transitions a run to the given lifecycle state.
func (s *RunService) ChangeStatus(ctx context.Context, runID string, status models.RunStatus) (*models.Run, error) {
	if !status.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE runs SET status = $2 WHERE id = $1`, runID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to change run status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.GetRun(ctx, runID)
}

// DeleteRuns removes the given runs. All dependent rows cascade.
// Returns the set of projects the deleted runs belonged to.
func (s *RunService) DeleteRuns(ctx context.Context, runIDs []string) ([]string, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(runIDs))
	placeholders := ""
	for i, id := range runIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.client.DB().QueryContext(ctx,
		`DELETE FROM runs WHERE id IN (`+placeholders+`) RETURNING project`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete runs: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan deleted run: %w", err)
		}
		if !seen[p] {
			seen[p] = true
			projects = append(projects, p)
		}
	}
	return projects, rows.Err()
}

// DeleteProjects removes every run of the named projects.
func (s *RunService) DeleteProjects(ctx context.Context, projects []string) error {
	if len(projects) == 0 {
		return nil
	}
	args := make([]any, len(projects))
	placeholders := ""
	for i, p := range projects {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = p
	}

	_, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM runs WHERE project IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete projects: %w", err)
	}
	return nil
}

// ProjectStats aggregates per-project run counts by status plus the earliest
// run timestamp, newest projects first.
func (s *RunService) ProjectStats(ctx context.Context) ([]models.ProjectStats, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT project,
		       COUNT(*) FILTER (WHERE status = 'running')  AS running,
		       COUNT(*) FILTER (WHERE status = 'pending')  AS pending,
		       COUNT(*) FILTER (WHERE status = 'done')     AS finished,
		       COUNT(*)                                    AS total,
		       MIN(created_at)                             AS created_at
		FROM runs
		GROUP BY project
		ORDER BY MIN(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate project stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ProjectStats
	for rows.Next() {
		var ps models.ProjectStats
		if err := rows.Scan(&ps.Project, &ps.Running, &ps.Pending, &ps.Finished, &ps.Total, &ps.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project stats: %w", err)
		}
		stats = append(stats, ps)
	}
	return stats, rows.Err()
}

// Overview computes the dashboard aggregate: global totals plus the four
// most recently active projects.
func (s *RunService) Overview(ctx context.Context) (*models.OverviewData, error) {
	var out models.OverviewData
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT project), COUNT(*) FROM runs`).
		Scan(&out.TotalProjects, &out.TotalRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT project, MAX(created_at) AS last_update, COUNT(*) AS run_count
		FROM runs
		GROUP BY project
		ORDER BY MAX(created_at) DESC
		LIMIT 4`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rp models.RecentProject
		if err := rows.Scan(&rp.Name, &rp.LastUpdateTime, &rp.RunCount); err != nil {
			return nil, fmt.Errorf("failed to scan recent project: %w", err)
		}
		out.RecentProjects = append(out.RecentProjects, rp)
	}
	return &out, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]models.Run, error) {
	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var status string
		if err := rows.Scan(&r.ID, &r.Project, &r.Name, &r.CreatedAt, &r.Pid, &status); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = models.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PurgeFinishedBefore removes done runs created before the cutoff. Replies,
// spans, and input requests go with them through the cascade. Returns how
// many runs were removed.
func (s *RunService) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM runs WHERE status = $1 AND created_at < $2`,
		string(models.StatusDone), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished runs: %w", err)
	}
	return res.RowsAffected()
}
