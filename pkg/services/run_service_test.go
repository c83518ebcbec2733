package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
	testdb "github.com/runlens/runlens/test/database"
)

func registerReq(project string) models.RegisterRunRequest {
	return models.RegisterRunRequest{
		ID:        uuid.New().String(),
		Project:   project,
		Name:      "demo-run",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Pid:       4321,
		Status:    models.StatusRunning,
	}
}

func TestRunService_RegisterRun(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewRunService(client)
	ctx := context.Background()

	t.Run("creates run", func(t *testing.T) {
		req := registerReq("proj-a")
		run, err := service.RegisterRun(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, req.ID, run.ID)
		assert.Equal(t, "proj-a", run.Project)
		assert.Equal(t, models.StatusRunning, run.Status)
		assert.Equal(t, 4321, run.Pid)
	})

	t.Run("re-registration refreshes pid and status", func(t *testing.T) {
		req := registerReq("proj-a")
		_, err := service.RegisterRun(ctx, req)
		require.NoError(t, err)

		req.Pid = 9999
		req.Status = models.StatusPending
		run, err := service.RegisterRun(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 9999, run.Pid)
		assert.Equal(t, models.StatusPending, run.Status)
	})

	t.Run("validates required fields", func(t *testing.T) {
		_, err := service.RegisterRun(ctx, models.RegisterRunRequest{Project: "p"})
		assert.True(t, IsValidationError(err))

		req := registerReq("proj-a")
		req.Status = "bogus"
		_, err = service.RegisterRun(ctx, req)
		assert.True(t, IsValidationError(err))
	})
}

func TestRunService_GetAndExists(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewRunService(client)
	ctx := context.Background()

	req := registerReq("proj-b")
	_, err := service.RegisterRun(ctx, req)
	require.NoError(t, err)

	t.Run("get existing", func(t *testing.T) {
		run, err := service.GetRun(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, req.ID, run.ID)
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		_, err := service.GetRun(ctx, "no-such-run")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("existence checks", func(t *testing.T) {
		exists, err := service.RunExists(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = service.ProjectExists(ctx, "proj-b")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = service.ProjectExists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestRunService_ListAndStatus(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewRunService(client)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	older := registerReq("proj-c")
	older.CreatedAt = base.Add(-time.Hour)
	newer := registerReq("proj-c")
	newer.CreatedAt = base
	newer.Status = models.StatusPending

	_, err := service.RegisterRun(ctx, older)
	require.NoError(t, err)
	_, err = service.RegisterRun(ctx, newer)
	require.NoError(t, err)

	t.Run("list by project is newest first", func(t *testing.T) {
		runs, err := service.ListRunsByProject(ctx, "proj-c")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, newer.ID, runs[0].ID)
		assert.Equal(t, older.ID, runs[1].ID)
	})

	t.Run("list by status filters", func(t *testing.T) {
		runs, err := service.ListRunsByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, newer.ID, runs[0].ID)

		runs, err = service.ListRunsByStatus(ctx, models.StatusRunning, models.StatusPending)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})

	t.Run("change status", func(t *testing.T) {
		run, err := service.ChangeStatus(ctx, older.ID, models.StatusDone)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDone, run.Status)

		_, err = service.ChangeStatus(ctx, "no-such-run", models.StatusDone)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRunService_DeleteRuns(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewRunService(client)
	ctx := context.Background()

	a := registerReq("proj-del")
	b := registerReq("proj-keep")
	_, err := service.RegisterRun(ctx, a)
	require.NoError(t, err)
	_, err = service.RegisterRun(ctx, b)
	require.NoError(t, err)

	projects, err := service.DeleteRuns(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-del"}, projects)

	exists, err := service.RunExists(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, service.DeleteProjects(ctx, []string{"proj-keep"}))
	exists, err = service.ProjectExists(ctx, "proj-keep")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunService_ProjectStatsAndOverview(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewRunService(client)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, st := range []models.RunStatus{models.StatusRunning, models.StatusPending, models.StatusDone} {
		req := registerReq("proj-stats")
		req.Status = st
		req.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := service.RegisterRun(ctx, req)
		require.NoError(t, err)
	}
	other := registerReq("proj-other")
	other.CreatedAt = base.Add(time.Hour)
	_, err := service.RegisterRun(ctx, other)
	require.NoError(t, err)

	t.Run("project stats", func(t *testing.T) {
		stats, err := service.ProjectStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		byName := map[string]models.ProjectStats{}
		for _, ps := range stats {
			byName[ps.Project] = ps
		}
		ps := byName["proj-stats"]
		assert.Equal(t, 1, ps.Running)
		assert.Equal(t, 1, ps.Pending)
		assert.Equal(t, 1, ps.Finished)
		assert.Equal(t, 3, ps.Total)
	})

	t.Run("overview", func(t *testing.T) {
		overview, err := service.Overview(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, overview.TotalProjects)
		assert.Equal(t, 4, overview.TotalRuns)
		require.NotEmpty(t, overview.RecentProjects)
		assert.Equal(t, "proj-other", overview.RecentProjects[0].Name,
			"most recently active project comes first")
	})
}
