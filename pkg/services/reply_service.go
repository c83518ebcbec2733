package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/merge"
	"github.com/runlens/runlens/pkg/models"
)

// ReplyService manages replies and the messages nested in them.
type ReplyService struct {
	client *database.Client
}

// NewReplyService creates a new ReplyService
func NewReplyService(client *database.Client) *ReplyService {
	return &ReplyService{client: client}
}

// SaveReply registers a reply shell for a run. Re-registration of an
// existing reply id is a no-op, matching idempotent worker retries.
func (s *ReplyService) SaveReply(ctx context.Context, req models.RegisterReplyRequest) (*models.Reply, error) {
	if req.ReplyID == "" {
		return nil, NewValidationError("replyId", "required")
	}
	if req.RunID == "" {
		return nil, NewValidationError("runId", "required")
	}

	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO replies (reply_id, run_id, reply_role, reply_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reply_id) DO NOTHING`,
		req.ReplyID, req.RunID, req.ReplyRole, req.ReplyName, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save reply: %w", err)
	}

	return s.GetReply(ctx, req.ReplyID)
}

// GetReply fetches one reply with its messages sorted ascending by timestamp.
func (s *ReplyService) GetReply(ctx context.Context, replyID string) (*models.Reply, error) {
	row := s.client.DB().QueryRowContext(ctx, `
		SELECT reply_id, reply_role, reply_name, created_at, finished_at
		FROM replies WHERE reply_id = $1`, replyID)

	var r models.Reply
	err := row.Scan(&r.ReplyID, &r.ReplyRole, &r.ReplyName, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reply: %w", err)
	}

	msgs, err := s.listMessages(ctx, replyID)
	if err != nil {
		return nil, err
	}
	r.Messages = merge.Messages(nil, msgs)
	return &r, nil
}

// SaveMessage persists one message chunk. When the request names no reply,
// the message id doubles as the reply id, creating a single-message reply
// on the fly. Re-delivery of a message id replaces the stored row.
func (s *ReplyService) SaveMessage(ctx context.Context, req models.PushMessageRequest) (*models.Reply, error) {
	if req.RunID == "" {
		return nil, NewValidationError("runId", "required")
	}
	if req.Message.ID == "" {
		return nil, NewValidationError("msg.id", "required")
	}

	replyID := req.ReplyID
	if replyID == "" {
		replyID = req.Message.ID
	}

	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO replies (reply_id, run_id, reply_role, reply_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reply_id) DO NOTHING`,
		replyID, req.RunID, req.ReplyRole, req.ReplyName, req.Message.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure reply: %w", err)
	}

	contentJSON, err := json.Marshal(req.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message content: %w", err)
	}
	var metadataJSON []byte
	if req.Message.Metadata != nil {
		if metadataJSON, err = json.Marshal(req.Message.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, reply_id, name, role, content, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, role = EXCLUDED.role,
		    content = EXCLUDED.content, metadata = EXCLUDED.metadata,
		    timestamp = EXCLUDED.timestamp`,
		req.Message.ID, replyID, req.Message.Name, req.Message.Role,
		contentJSON, metadataJSON, req.Message.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return s.GetReply(ctx, replyID)
}

// FinishReply marks a reply as complete.
func (s *ReplyService) FinishReply(ctx context.Context, replyID string, finishedAt time.Time) error {
	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE replies SET finished_at = $2 WHERE reply_id = $1`, replyID, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReplies returns a run's replies in insertion order, each with its
// messages sorted ascending by timestamp.
func (s *ReplyService) ListReplies(ctx context.Context, runID string) ([]models.Reply, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT reply_id, reply_role, reply_name, created_at, finished_at
		FROM replies WHERE run_id = $1
		ORDER BY created_at ASC, reply_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	defer rows.Close()

	var replies []models.Reply
	for rows.Next() {
		var r models.Reply
		if err := rows.Scan(&r.ReplyID, &r.ReplyRole, &r.ReplyName, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range replies {
		replies[i].Messages, err = s.listMessages(ctx, replies[i].ReplyID)
		if err != nil {
			return nil, err
		}
	}
	return merge.Replies(nil, replies), nil
}

// listMessages reads a reply's messages in id order. Timestamp ordering is
// owned by merge.Messages; the id order is just a deterministic tiebreak for
// equal timestamps.
func (s *ReplyService) listMessages(ctx context.Context, replyID string) ([]models.Message, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, name, role, content, metadata, timestamp
		FROM messages WHERE reply_id = $1
		ORDER BY id ASC`, replyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var contentJSON, metadataJSON []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.Role, &contentJSON, &metadataJSON, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to decode message content: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode message metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
