package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
	testdb "github.com/runlens/runlens/test/database"
)

func TestInputRequestService_Lifecycle(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewInputRequestService(client)
	ctx := context.Background()

	runID := mustRegisterRun(t, client, "proj-input")

	t.Run("save and get", func(t *testing.T) {
		saved, err := service.Save(ctx, models.RegisterInputRequest{
			RequestID: "q1",
			RunID:     runID,
			AgentID:   "agent-1",
			AgentName: "alice",
			StructuredInput: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"answer": map[string]any{"type": "string"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "q1", saved.RequestID)
		assert.Equal(t, "alice", saved.AgentName)
		assert.Contains(t, saved.StructuredInput, "properties")
	})

	t.Run("duplicate save is ignored", func(t *testing.T) {
		saved, err := service.Save(ctx, models.RegisterInputRequest{
			RequestID: "q1",
			RunID:     runID,
			AgentID:   "agent-other",
			AgentName: "mallory",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", saved.AgentName)
	})

	t.Run("list is FIFO", func(t *testing.T) {
		_, err := service.Save(ctx, models.RegisterInputRequest{
			RequestID: "q2", RunID: runID, AgentID: "agent-2", AgentName: "bob",
		})
		require.NoError(t, err)

		pending, err := service.ListByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "q1", pending[0].RequestID)
		assert.Equal(t, "q2", pending[1].RequestID)

		n, err := service.CountByRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("delete consumes exactly once", func(t *testing.T) {
		require.NoError(t, service.Delete(ctx, "q1"))
		assert.ErrorIs(t, service.Delete(ctx, "q1"), ErrNotFound)

		_, err := service.Get(ctx, "q1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete by run clears the queue", func(t *testing.T) {
		require.NoError(t, service.DeleteByRun(ctx, runID))
		pending, err := service.ListByRun(ctx, runID)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}
