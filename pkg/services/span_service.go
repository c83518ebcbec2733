package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/models"
)

// SpanService manages the raw span store backing trace aggregation.
type SpanService struct {
	client *database.Client
}

// NewSpanService creates a new SpanService
func NewSpanService(client *database.Client) *SpanService {
	return &SpanService{client: client}
}

// UpsertSpans persists a batch of spans. A re-delivered span id replaces
// the stored row, which is how a span transitions from open to finished.
func (s *SpanService) UpsertSpans(ctx context.Context, spans []models.Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (span_id, conversation_id, trace_id, parent_span_id, name,
			start_time_unix_nano, end_time_unix_nano, status_code, status_message, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (span_id) DO UPDATE
		SET trace_id = EXCLUDED.trace_id,
		    parent_span_id = EXCLUDED.parent_span_id,
		    name = EXCLUDED.name,
		    start_time_unix_nano = EXCLUDED.start_time_unix_nano,
		    end_time_unix_nano = EXCLUDED.end_time_unix_nano,
		    status_code = EXCLUDED.status_code,
		    status_message = EXCLUDED.status_message,
		    attributes = EXCLUDED.attributes`)
	if err != nil {
		return fmt.Errorf("failed to prepare span upsert: %w", err)
	}
	defer stmt.Close()

	for i := range spans {
		sp := &spans[i]
		if sp.SpanID == "" {
			return NewValidationError("spanId", "required")
		}
		if sp.ConversationID == "" {
			return NewValidationError("conversationId", "required")
		}

		var attrsJSON []byte
		if sp.Attributes != nil {
			if attrsJSON, err = json.Marshal(sp.Attributes); err != nil {
				return fmt.Errorf("failed to marshal span attributes: %w", err)
			}
		}

		_, err = stmt.ExecContext(ctx,
			sp.SpanID, sp.ConversationID, sp.TraceID, sp.ParentSpanID, sp.Name,
			sp.StartTimeUnixNano, sp.EndTimeUnixNano,
			sp.Status.Code, sp.Status.Message, attrsJSON)
		if err != nil {
			return fmt.Errorf("failed to upsert span %s: %w", sp.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spans: %w", err)
	}
	return nil
}

// ListByConversation returns a run's spans in span-id order. Start-time
// ordering cannot live in SQL — the nanosecond bounds are stored in their
// decimal string wire form — so callers fold the set through merge.Spans
// for the canonical order.
func (s *SpanService) ListByConversation(ctx context.Context, runID string) ([]models.Span, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT span_id, conversation_id, trace_id, parent_span_id, name,
		       start_time_unix_nano, end_time_unix_nano, status_code, status_message, attributes
		FROM spans WHERE conversation_id = $1
		ORDER BY span_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer rows.Close()

	var spans []models.Span
	for rows.Next() {
		var sp models.Span
		var attrsJSON []byte
		err := rows.Scan(&sp.SpanID, &sp.ConversationID, &sp.TraceID, &sp.ParentSpanID, &sp.Name,
			&sp.StartTimeUnixNano, &sp.EndTimeUnixNano,
			&sp.Status.Code, &sp.Status.Message, &attrsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &sp.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode span attributes: %w", err)
			}
		}
		sp.LatencyNs = sp.EndNano() - sp.StartNano()
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return spans, nil
}
