package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/models"
)

// defaultHistoryPageSize bounds one page of assistant history.
const defaultHistoryPageSize = 100

// AssistantService manages the shared single-conversation assistant history.
type AssistantService struct {
	client *database.Client
}

// NewAssistantService creates a new AssistantService
func NewAssistantService(client *database.Client) *AssistantService {
	return &AssistantService{client: client}
}

// SaveMessage appends one content chunk to an assistant reply, creating the
// reply shell on first chunk. User-authored messages arrive complete, so
// their reply is finished immediately.
func (s *AssistantService) SaveMessage(ctx context.Context, req models.PushAssistantMessageRequest, fromUser bool) (*models.AssistantReply, error) {
	if req.ReplyID == "" {
		return nil, NewValidationError("replyId", "required")
	}
	if req.Message.ID == "" {
		return nil, NewValidationError("msg.id", "required")
	}

	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var endTS *time.Time
	if fromUser {
		ts := req.Message.Timestamp
		endTS = &ts
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assistant_replies (id, name, role, start_timestamp, end_timestamp, finished)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		req.ReplyID, req.Message.Name, req.Message.Role, req.Message.Timestamp, endTS, fromUser)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure assistant reply: %w", err)
	}

	contentJSON, err := json.Marshal(req.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assistant content: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assistant_messages (id, reply_id, content, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, timestamp = EXCLUDED.timestamp`,
		req.Message.ID, req.ReplyID, contentJSON, req.Message.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assistant message: %w", err)
	}

	return s.GetReply(ctx, req.ReplyID)
}

// FinishReply marks an assistant reply complete and stamps its end time.
func (s *AssistantService) FinishReply(ctx context.Context, replyID string) (*models.AssistantReply, error) {
	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE assistant_replies SET finished = true, end_timestamp = now() WHERE id = $1`,
		replyID)
	if err != nil {
		return nil, fmt.Errorf("failed to finish assistant reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.GetReply(ctx, replyID)
}

// GetReply fetches one assistant reply with its accumulated content blocks.
func (s *AssistantService) GetReply(ctx context.Context, replyID string) (*models.AssistantReply, error) {
	row := s.client.DB().QueryRowContext(ctx, `
		SELECT id, name, role, start_timestamp, end_timestamp, finished
		FROM assistant_replies WHERE id = $1`, replyID)

	var r models.AssistantReply
	err := row.Scan(&r.ID, &r.Name, &r.Role, &r.StartTimestamp, &r.EndTimestamp, &r.Finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assistant reply: %w", err)
	}

	r.Content, err = s.replyContent(ctx, replyID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// History returns one page of assistant replies. The page is selected
// newest-first from before the given cursor, then returned in chronological
// order for display. HasMore signals that older history remains.
func (s *AssistantService) History(ctx context.Context, before *time.Time, limit int) (*models.AssistantReplyPage, error) {
	if limit <= 0 || limit > defaultHistoryPageSize {
		limit = defaultHistoryPageSize
	}

	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT id, name, role, start_timestamp, end_timestamp, finished
		FROM assistant_replies
		WHERE $1::timestamptz IS NULL OR start_timestamp < $1
		ORDER BY start_timestamp DESC
		LIMIT $2`, before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistant history: %w", err)
	}
	defer rows.Close()

	var page []models.AssistantReply
	for rows.Next() {
		var r models.AssistantReply
		if err := rows.Scan(&r.ID, &r.Name, &r.Role, &r.StartTimestamp, &r.EndTimestamp, &r.Finished); err != nil {
			return nil, fmt.Errorf("failed to scan assistant reply: %w", err)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := &models.AssistantReplyPage{HasMore: len(page) > limit}
	if out.HasMore {
		page = page[:limit]
	}

	// Oldest first for display.
	for i := len(page) - 1; i >= 0; i-- {
		r := page[i]
		if r.Content, err = s.replyContent(ctx, r.ID); err != nil {
			return nil, err
		}
		out.Replies = append(out.Replies, r)
	}
	return out, nil
}

// CleanHistory deletes the entire assistant conversation.
func (s *AssistantService) CleanHistory(ctx context.Context) error {
	_, err := s.client.DB().ExecContext(ctx, `DELETE FROM assistant_replies`)
	if err != nil {
		return fmt.Errorf("failed to clean assistant history: %w", err)
	}
	return nil
}

// replyContent concatenates the content blocks of a reply's message chunks
// in arrival order.
func (s *AssistantService) replyContent(ctx context.Context, replyID string) ([]models.ContentBlock, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT content FROM assistant_messages
		WHERE reply_id = $1
		ORDER BY timestamp ASC, id ASC`, replyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistant messages: %w", err)
	}
	defer rows.Close()

	var blocks []models.ContentBlock
	for rows.Next() {
		var contentJSON []byte
		if err := rows.Scan(&contentJSON); err != nil {
			return nil, fmt.Errorf("failed to scan assistant message: %w", err)
		}
		var chunk []models.ContentBlock
		if len(contentJSON) > 0 {
			if err := json.Unmarshal(contentJSON, &chunk); err != nil {
				return nil, fmt.Errorf("failed to decode assistant content: %w", err)
			}
		}
		blocks = append(blocks, chunk...)
	}
	return blocks, rows.Err()
}

// PurgeFinishedBefore removes finished assistant turns that started before
// the cutoff, keeping the single shared conversation bounded. Returns how
// many turns were removed.
func (s *AssistantService) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM assistant_replies WHERE finished = TRUE AND start_timestamp < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge assistant history: %w", err)
	}
	return res.RowsAffected()
}
