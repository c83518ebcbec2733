package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/runlens/runlens/pkg/models"
)

// assistantLaunchTimeout bounds one assistant worker turn end to end.
const assistantLaunchTimeout = 10 * time.Minute

// Replying reports the assistant busy flag.
func (h *Hub) Replying() bool {
	h.replyingMu.Lock()
	defer h.replyingMu.Unlock()
	return h.replying
}

// tryBeginReplying atomically raises the busy flag. Returns false when a
// turn is already in flight, so two racing senders cannot both launch.
func (h *Hub) tryBeginReplying() bool {
	h.replyingMu.Lock()
	if h.replying {
		h.replyingMu.Unlock()
		return false
	}
	h.replying = true
	h.replyingMu.Unlock()
	h.publish(RoomFridayApp, ReplyingStatePayload{
		Type:     FactReplyingState,
		Replying: true,
	})
	return true
}

// setReplying flips the busy flag and announces it to the friday-app room.
func (h *Hub) setReplying(replying bool) {
	h.replyingMu.Lock()
	changed := h.replying != replying
	h.replying = replying
	if !replying {
		h.turnCancel = nil
	}
	h.replyingMu.Unlock()
	if !changed {
		return
	}
	h.publish(RoomFridayApp, ReplyingStatePayload{
		Type:     FactReplyingState,
		Replying: replying,
	})
}

// AssistantReplyChanged publishes one assistant reply to the friday-app
// room. With override set, the client replaces its local history wholesale
// instead of merging.
func (h *Hub) AssistantReplyChanged(reply *models.AssistantReply, override bool) {
	h.publish(RoomFridayApp, AssistantReplyPayload{
		Type:     FactAssistantReply,
		Reply:    reply,
		Override: override,
	})
}

// handleAssistantMessage starts one assistant turn: persist the user's
// message, announce it, raise the busy flag, and launch the worker. The
// flag is released on every exit path of the turn goroutine.
func (h *Hub) handleAssistantMessage(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if cmd.Msg == nil || cmd.Msg.ID == "" {
		h.result(c, cmd.Seq, false, "msg with an id is required", nil)
		return
	}
	if !h.tryBeginReplying() {
		h.result(c, cmd.Seq, false, "assistant is already replying", nil)
		return
	}

	reply, err := h.assistant.SaveMessage(ctx, models.PushAssistantMessageRequest{
		ReplyID: cmd.Msg.ID,
		Message: *cmd.Msg,
	}, true)
	if err != nil {
		h.setReplying(false)
		h.result(c, cmd.Seq, false, "failed to save message", nil)
		return
	}
	query, err := json.Marshal(cmd.Msg.Content)
	if err != nil {
		h.setReplying(false)
		h.result(c, cmd.Seq, false, "failed to encode query", nil)
		return
	}

	h.AssistantReplyChanged(reply, false)
	h.result(c, cmd.Seq, true, "", nil)

	launchCtx, cancel := context.WithTimeout(context.Background(), assistantLaunchTimeout)
	h.replyingMu.Lock()
	h.turnCancel = cancel
	h.replyingMu.Unlock()

	go func() {
		defer h.setReplying(false)
		defer cancel()

		if err := h.launcher.LaunchAssistant(launchCtx, string(query)); err != nil {
			slog.Error("Assistant worker failed", "error", err)
			h.sendJSON(c, ProcessFailurePayload{
				Type:    FactProcessFailure,
				Message: err.Error(),
			})
		}
	}()
}

// handleInterruptAssistant cancels the in-flight turn, killing the worker
// process. The replying flag is released by the turn goroutine as it exits.
func (h *Hub) handleInterruptAssistant(c *Connection, cmd *ClientCommand) {
	h.replyingMu.Lock()
	cancel := h.turnCancel
	replying := h.replying
	h.turnCancel = nil
	h.replyingMu.Unlock()

	if !replying || cancel == nil {
		h.result(c, cmd.Seq, false, "assistant is not replying", nil)
		return
	}
	cancel()
	h.result(c, cmd.Seq, true, "", nil)
}

// handleAssistantHistory pages backwards through assistant history.
func (h *Hub) handleAssistantHistory(ctx context.Context, c *Connection, cmd *ClientCommand) {
	page, err := h.assistant.History(ctx, cmd.Before, 0)
	if err != nil {
		h.result(c, cmd.Seq, false, "failed to load history", nil)
		return
	}
	h.result(c, cmd.Seq, true, "", page)
}

// handleCleanHistory wipes the assistant conversation and tells every
// friday-app member to drop its local copy.
func (h *Hub) handleCleanHistory(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if h.Replying() {
		h.result(c, cmd.Seq, false, "assistant is replying, try again later", nil)
		return
	}
	if err := h.assistant.CleanHistory(ctx); err != nil {
		h.result(c, cmd.Seq, false, "failed to clean history", nil)
		return
	}
	h.AssistantReplyChanged(nil, true)
	h.result(c, cmd.Seq, true, "", nil)
}
