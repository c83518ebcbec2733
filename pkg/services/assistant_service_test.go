package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
	testdb "github.com/runlens/runlens/test/database"
)

func assistantChunk(replyID, msgID, text string, ts time.Time) models.PushAssistantMessageRequest {
	return models.PushAssistantMessageRequest{
		ReplyID: replyID,
		Message: models.AssistantMessage{
			ID:        msgID,
			Name:      "Friday",
			Role:      "assistant",
			Content:   []models.ContentBlock{{Type: models.BlockTypeText, Text: text}},
			Timestamp: ts,
		},
	}
}

func TestAssistantService_StreamingReply(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewAssistantService(client)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("chunks accumulate in order", func(t *testing.T) {
		_, err := service.SaveMessage(ctx, assistantChunk("ar1", "c1", "Hello", base), false)
		require.NoError(t, err)
		reply, err := service.SaveMessage(ctx, assistantChunk("ar1", "c2", " world", base.Add(time.Second)), false)
		require.NoError(t, err)

		assert.False(t, reply.Finished)
		require.Len(t, reply.Content, 2)
		assert.Equal(t, "Hello", reply.Content[0].Text)
		assert.Equal(t, " world", reply.Content[1].Text)
	})

	t.Run("finish stamps the reply", func(t *testing.T) {
		reply, err := service.FinishReply(ctx, "ar1")
		require.NoError(t, err)
		assert.True(t, reply.Finished)
		assert.NotNil(t, reply.EndTimestamp)

		_, err = service.FinishReply(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("user message is finished immediately", func(t *testing.T) {
		req := assistantChunk("ar2", "u1", "What is the status?", base.Add(time.Minute))
		req.Message.Role = "user"
		req.Message.Name = "user"
		reply, err := service.SaveMessage(ctx, req, true)
		require.NoError(t, err)
		assert.True(t, reply.Finished)
		assert.Equal(t, "user", reply.Role)
	})
}

func TestAssistantService_HistoryPaging(t *testing.T) {
	client := testdb.NewTestClient(t)
	service := NewAssistantService(client)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ar%d", i)
		_, err := service.SaveMessage(ctx,
			assistantChunk(id, id+"-m", fmt.Sprintf("turn %d", i), base.Add(time.Duration(i)*time.Minute)),
			false)
		require.NoError(t, err)
	}

	t.Run("first page is the newest slice in display order", func(t *testing.T) {
		page, err := service.History(ctx, nil, 3)
		require.NoError(t, err)
		assert.True(t, page.HasMore)
		require.Len(t, page.Replies, 3)
		assert.Equal(t, "ar2", page.Replies[0].ID)
		assert.Equal(t, "ar4", page.Replies[2].ID)
	})

	t.Run("cursor walks backwards", func(t *testing.T) {
		first, err := service.History(ctx, nil, 3)
		require.NoError(t, err)
		cursor := first.Replies[0].StartTimestamp

		older, err := service.History(ctx, &cursor, 3)
		require.NoError(t, err)
		assert.False(t, older.HasMore)
		require.Len(t, older.Replies, 2)
		assert.Equal(t, "ar0", older.Replies[0].ID)
		assert.Equal(t, "ar1", older.Replies[1].ID)
	})

	t.Run("clean history removes everything", func(t *testing.T) {
		require.NoError(t, service.CleanHistory(ctx))
		page, err := service.History(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, page.Replies)
		assert.False(t, page.HasMore)
	})
}
