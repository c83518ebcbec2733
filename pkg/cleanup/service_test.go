package cleanup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
	"github.com/runlens/runlens/pkg/services"
	testdb "github.com/runlens/runlens/test/database"
)

func seedRun(t *testing.T, runs *services.RunService, id string, status models.RunStatus, age time.Duration) {
	t.Helper()
	_, err := runs.RegisterRun(context.Background(), models.RegisterRunRequest{
		ID:        id,
		Project:   "proj-retention",
		Name:      "run " + id,
		CreatedAt: time.Now().Add(-age),
		Pid:       1,
		Status:    status,
	})
	require.NoError(t, err)
}

func seedAssistantTurn(t *testing.T, assistant *services.AssistantService, id string, age time.Duration, finished bool) {
	t.Helper()
	_, err := assistant.SaveMessage(context.Background(), models.PushAssistantMessageRequest{
		ReplyID: id,
		Message: models.AssistantMessage{
			ID:        id,
			Name:      "Friday",
			Role:      "assistant",
			Content:   []models.ContentBlock{{Type: models.BlockTypeText, Text: "old news"}},
			Timestamp: time.Now().Add(-age),
		},
	}, finished)
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	client := testdb.NewTestClient(t)
	runs := services.NewRunService(client)
	assistant := services.NewAssistantService(client)
	ctx := context.Background()

	day := 24 * time.Hour

	t.Run("purges only finished runs past retention", func(t *testing.T) {
		seedRun(t, runs, "run-old-done", models.StatusDone, 40*day)
		seedRun(t, runs, "run-fresh-done", models.StatusDone, 2*day)
		seedRun(t, runs, "run-old-running", models.StatusRunning, 40*day)

		svc := NewService(&RetentionConfig{
			RunRetentionDays:       30,
			AssistantRetentionDays: 30,
			SweepInterval:          time.Hour,
		}, runs, assistant)
		svc.Sweep(ctx)

		_, err := runs.GetRun(ctx, "run-old-done")
		assert.True(t, errors.Is(err, services.ErrNotFound))

		for _, id := range []string{"run-fresh-done", "run-old-running"} {
			_, err := runs.GetRun(ctx, id)
			assert.NoError(t, err, id)
		}
	})

	t.Run("purges only finished assistant turns past retention", func(t *testing.T) {
		seedAssistantTurn(t, assistant, "turn-old-finished", 40*day, true)
		seedAssistantTurn(t, assistant, "turn-old-open", 40*day, false)
		seedAssistantTurn(t, assistant, "turn-fresh", 2*day, true)

		svc := NewService(&RetentionConfig{
			RunRetentionDays:       30,
			AssistantRetentionDays: 30,
			SweepInterval:          time.Hour,
		}, runs, assistant)
		svc.Sweep(ctx)

		_, err := assistant.GetReply(ctx, "turn-old-finished")
		assert.True(t, errors.Is(err, services.ErrNotFound))

		for _, id := range []string{"turn-old-open", "turn-fresh"} {
			_, err := assistant.GetReply(ctx, id)
			assert.NoError(t, err, id)
		}
	})

	t.Run("zero retention disables purging", func(t *testing.T) {
		seedRun(t, runs, "run-ancient", models.StatusDone, 400*day)

		svc := NewService(&RetentionConfig{SweepInterval: time.Hour}, runs, assistant)
		svc.Sweep(ctx)

		_, err := runs.GetRun(ctx, "run-ancient")
		assert.NoError(t, err)
	})
}

func TestLoadRetentionFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadRetentionFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.RunRetentionDays)
		assert.Equal(t, 90, cfg.AssistantRetentionDays)
		assert.Equal(t, time.Hour, cfg.SweepInterval)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RETENTION_RUN_DAYS", "7")
		t.Setenv("RETENTION_ASSISTANT_DAYS", "0")
		t.Setenv("RETENTION_SWEEP_INTERVAL", "15m")

		cfg, err := LoadRetentionFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.RunRetentionDays)
		assert.Equal(t, 0, cfg.AssistantRetentionDays)
		assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		t.Setenv("RETENTION_RUN_DAYS", "soon")
		_, err := LoadRetentionFromEnv()
		require.Error(t, err)
		assert.Contains(t, fmt.Sprint(err), "RETENTION_RUN_DAYS")
	})
}
