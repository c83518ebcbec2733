package models

import "time"

// Message is one immutable unit of agent output. Identity is the ID; the
// timestamp is the canonical sort key within a reply.
type Message struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Content   Content        `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Reply is a logical turn of output attributed to one role/name. Messages
// are always sorted ascending by timestamp; for streaming output multiple
// message chunks arrive under one reply before FinishedAt is set.
type Reply struct {
	ReplyID    string     `json:"replyId"`
	ReplyRole  string     `json:"replyRole"`
	ReplyName  string     `json:"replyName"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Messages   []Message  `json:"messages"`
}

// RegisterReplyRequest is the worker-facing payload for registering a reply.
type RegisterReplyRequest struct {
	RunID     string    `json:"runId" binding:"required"`
	ReplyID   string    `json:"replyId" binding:"required"`
	ReplyRole string    `json:"replyRole"`
	ReplyName string    `json:"replyName"`
	CreatedAt time.Time `json:"createdAt" binding:"required"`
}

// PushMessageRequest is the worker-facing payload for pushing a message.
// ReplyID is optional: when absent the message id doubles as the reply id,
// creating a single-message reply on the fly.
type PushMessageRequest struct {
	RunID     string  `json:"runId" binding:"required"`
	ReplyID   string  `json:"replyId"`
	ReplyRole string  `json:"replyRole"`
	ReplyName string  `json:"replyName"`
	Message   Message `json:"msg" binding:"required"`
}
