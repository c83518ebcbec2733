package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlens/runlens/pkg/models"
)

func msg(id string, ts time.Time) models.Message {
	return models.Message{
		ID:        id,
		Name:      "agent",
		Role:      "assistant",
		Content:   models.TextContent("content of " + id),
		Timestamp: ts,
	}
}

func TestMessages_SortsByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Arrive out of order.
	out := Messages(nil, []models.Message{
		msg("m3", base.Add(3*time.Second)),
		msg("m1", base.Add(1*time.Second)),
	})
	out = Messages(out, []models.Message{
		msg("m2", base.Add(2*time.Second)),
	})

	require.Len(t, out, 3)
	assert.Equal(t, "m1", out[0].ID)
	assert.Equal(t, "m2", out[1].ID)
	assert.Equal(t, "m3", out[2].ID)
}

func TestMessages_EqualTimestampsKeepInputOrder(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out := Messages(nil, []models.Message{
		msg("a", ts), msg("b", ts), msg("c", ts),
	})

	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestMessages_Idempotent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []models.Message{
		msg("m1", base),
		msg("m2", base.Add(time.Second)),
	}

	once := Messages(nil, batch)
	twice := Messages(once, batch)

	assert.Equal(t, once, twice)
}

func TestMessages_DoesNotMutateExisting(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	existing := Messages(nil, []models.Message{msg("m1", base)})

	replacement := msg("m1", base)
	replacement.Content = models.TextContent("updated")
	_ = Messages(existing, []models.Message{replacement})

	assert.Equal(t, "content of m1", existing[0].Content.Raw)
}

func TestReplies_ReplaceOrAppend(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r1 := models.Reply{ReplyID: "r1", ReplyName: "agent", CreatedAt: base,
		Messages: []models.Message{msg("m1", base)}}
	r2 := models.Reply{ReplyID: "r2", ReplyName: "agent", CreatedAt: base.Add(time.Minute)}

	out := Replies(nil, []models.Reply{r1, r2})
	require.Len(t, out, 2)

	// Streaming update: same reply arrives with a second message chunk.
	update := models.Reply{ReplyID: "r1", ReplyName: "agent", CreatedAt: base,
		Messages: []models.Message{msg("m2", base.Add(time.Second))}}
	out = Replies(out, []models.Reply{update})

	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].ReplyID, "replies keep insertion order")
	require.Len(t, out[0].Messages, 2, "nested messages concatenation-merge")
	assert.Equal(t, "m1", out[0].Messages[0].ID)
	assert.Equal(t, "m2", out[0].Messages[1].ID)
}

func TestReplies_NestedMessageReplacedByID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := Replies(nil, []models.Reply{{
		ReplyID:  "r1",
		Messages: []models.Message{msg("m1", base)},
	}})

	updated := msg("m1", base)
	updated.Content = models.TextContent("final text")
	out = Replies(out, []models.Reply{{
		ReplyID:  "r1",
		Messages: []models.Message{updated},
	}})

	require.Len(t, out[0].Messages, 1)
	assert.Equal(t, "final text", out[0].Messages[0].Content.Raw)
}

func span(id, start, end string) models.Span {
	return models.Span{
		SpanID:            id,
		ConversationID:    "run-1",
		Name:              "op-" + id,
		StartTimeUnixNano: start,
		EndTimeUnixNano:   end,
		Status:            models.SpanStatus{Code: models.SpanStatusCodeOK},
	}
}

func TestSpans_SortedByStartNano(t *testing.T) {
	out := Spans(nil, []models.Span{
		span("s2", "2000000000", "3000000000"),
		span("s1", "1000000000", "4000000000"),
	})
	out = Spans(out, []models.Span{
		span("s3", "1500000000", "1600000000"),
	})

	require.Len(t, out, 3)
	assert.Equal(t, "s1", out[0].SpanID)
	assert.Equal(t, "s3", out[1].SpanID)
	assert.Equal(t, "s2", out[2].SpanID)
}

func TestSpans_ReplaceSameID(t *testing.T) {
	out := Spans(nil, []models.Span{span("s1", "100", "0")})

	finished := span("s1", "100", "900")
	finished.Status = models.SpanStatus{Code: models.SpanStatusCodeError}
	out = Spans(out, []models.Span{finished})

	require.Len(t, out, 1)
	assert.Equal(t, "900", out[0].EndTimeUnixNano)
	assert.Equal(t, models.SpanStatusCodeError, out[0].Status.Code)
}

func TestSpans_Idempotent(t *testing.T) {
	batch := []models.Span{
		span("s1", "100", "500"),
		span("s2", "200", "900"),
	}
	once := Spans(nil, batch)
	twice := Spans(once, batch)
	assert.Equal(t, once, twice)
}

func TestInputRequests_FIFOAndIdempotent(t *testing.T) {
	batch := []models.InputRequest{
		{RequestID: "q1", AgentID: "a1", AgentName: "alice"},
		{RequestID: "q2", AgentID: "a2", AgentName: "bob"},
	}

	once := InputRequests(nil, batch)
	require.Len(t, once, 2)
	assert.Equal(t, "q1", once[0].RequestID)

	twice := InputRequests(once, batch)
	assert.Equal(t, once, twice)
}

func TestAssistantReplies_Override(t *testing.T) {
	existing := []models.AssistantReply{{ID: "a"}, {ID: "b"}}

	merged := AssistantReplies(existing, []models.AssistantReply{{ID: "c"}}, false)
	assert.Len(t, merged, 3)

	overridden := AssistantReplies(existing, []models.AssistantReply{{ID: "c"}}, true)
	require.Len(t, overridden, 1)
	assert.Equal(t, "c", overridden[0].ID)

	cleared := AssistantReplies(existing, nil, true)
	assert.Empty(t, cleared)
}
