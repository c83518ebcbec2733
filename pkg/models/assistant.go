package models

import "time"

// AssistantReply is one turn of the shared single-conversation assistant.
// Content accumulates block chunks as the worker streams them; Finished is
// set when the worker signals the end of the turn.
type AssistantReply struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Role           string         `json:"role"`
	Content        []ContentBlock `json:"content"`
	StartTimestamp time.Time      `json:"startTimestamp"`
	EndTimestamp   *time.Time     `json:"endTimestamp,omitempty"`
	Finished       bool           `json:"finished"`
}

// PushAssistantMessageRequest is the worker-facing payload for appending a
// message chunk to an assistant reply.
type PushAssistantMessageRequest struct {
	ReplyID string           `json:"replyId" binding:"required"`
	Message AssistantMessage `json:"msg" binding:"required"`
}

// AssistantMessage is one chunk of assistant output.
type AssistantMessage struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// AssistantReplyPage is one page of assistant history, newest-first cursor.
type AssistantReplyPage struct {
	Replies []AssistantReply `json:"replies"`
	HasMore bool             `json:"hasMore"`
}
