package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/models"
)

// InputRequestService manages the per-run FIFO of pending user-input requests.
type InputRequestService struct {
	client *database.Client
}

// NewInputRequestService creates a new InputRequestService
func NewInputRequestService(client *database.Client) *InputRequestService {
	return &InputRequestService{client: client}
}

// Save persists a pending input request. Duplicate request ids are ignored.
func (s *InputRequestService) Save(ctx context.Context, req models.RegisterInputRequest) (*models.InputRequest, error) {
	if req.RequestID == "" {
		return nil, NewValidationError("requestId", "required")
	}
	if req.RunID == "" {
		return nil, NewValidationError("runId", "required")
	}

	var inputJSON []byte
	var err error
	if req.StructuredInput != nil {
		if inputJSON, err = json.Marshal(req.StructuredInput); err != nil {
			return nil, fmt.Errorf("failed to marshal structured input: %w", err)
		}
	}

	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO input_requests (request_id, run_id, agent_id, agent_name, structured_input)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING`,
		req.RequestID, req.RunID, req.AgentID, req.AgentName, inputJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to save input request: %w", err)
	}

	return s.Get(ctx, req.RequestID)
}

// Get fetches one pending input request by id.
func (s *InputRequestService) Get(ctx context.Context, requestID string) (*models.InputRequest, error) {
	row := s.client.DB().QueryRowContext(ctx, `
		SELECT request_id, run_id, agent_id, agent_name, structured_input
		FROM input_requests WHERE request_id = $1`, requestID)

	ir, err := scanInputRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get input request: %w", err)
	}
	return ir, nil
}

// Delete consumes a pending input request. Returns ErrNotFound when the
// request was already consumed, so racing callers see exactly one success.
func (s *InputRequestService) Delete(ctx context.Context, requestID string) error {
	res, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM input_requests WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete input request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByRun returns a run's pending input requests in arrival order.
func (s *InputRequestService) ListByRun(ctx context.Context, runID string) ([]models.InputRequest, error) {
	rows, err := s.client.DB().QueryContext(ctx, `
		SELECT request_id, run_id, agent_id, agent_name, structured_input
		FROM input_requests WHERE run_id = $1
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list input requests: %w", err)
	}
	defer rows.Close()

	var out []models.InputRequest
	for rows.Next() {
		ir, err := scanInputRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan input request: %w", err)
		}
		out = append(out, *ir)
	}
	return out, rows.Err()
}

// CountByRun returns the number of pending input requests for a run.
func (s *InputRequestService) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM input_requests WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count input requests: %w", err)
	}
	return n, nil
}

// DeleteByRun clears every pending input request of a run.
func (s *InputRequestService) DeleteByRun(ctx context.Context, runID string) error {
	_, err := s.client.DB().ExecContext(ctx,
		`DELETE FROM input_requests WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to clear input requests: %w", err)
	}
	return nil
}

func scanInputRequest(scan func(dest ...any) error) (*models.InputRequest, error) {
	var ir models.InputRequest
	var inputJSON []byte
	if err := scan(&ir.RequestID, &ir.RunID, &ir.AgentID, &ir.AgentName, &inputJSON); err != nil {
		return nil, err
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &ir.StructuredInput); err != nil {
			return nil, fmt.Errorf("failed to decode structured input: %w", err)
		}
	}
	return &ir, nil
}
