package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/runlens/runlens/pkg/merge"
	"github.com/runlens/runlens/pkg/models"
	"github.com/runlens/runlens/pkg/services"
	"github.com/runlens/runlens/pkg/trace"
)

// RunRegistered fans out a new or re-registered run: its project room gets
// the refreshed run list, and the dashboard rooms get refreshed aggregates.
func (h *Hub) RunRegistered(ctx context.Context, run *models.Run) {
	h.refreshProjectScope(ctx, run.Project)
}

// ReplyChanged publishes one reply, with its merged messages, to the run room.
func (h *Hub) ReplyChanged(runID string, reply *models.Reply) {
	h.publish(RunRoom(runID), ReplyUpdatePayload{
		Type:  FactReplyUpdate,
		RunID: runID,
		Reply: reply,
	})
}

// SpansChanged reloads a run's span set and publishes it together with the
// derived trace summary, span forest, and model-invocation aggregate.
func (h *Hub) SpansChanged(ctx context.Context, runID string) {
	spans, err := h.spans.ListByConversation(ctx, runID)
	if err != nil {
		slog.Error("Failed to reload spans for fan-out", "run_id", runID, "error", err)
		return
	}
	spans = merge.Spans(nil, spans)

	payload := SpanUpdatePayload{
		Type:     FactSpanUpdate,
		RunID:    runID,
		Spans:    spans,
		SpanTree: trace.BuildForest(spans),
		Trace:    trace.Derive(runID, spans),
	}
	if len(spans) > 0 {
		payload.Invocations = trace.ModelInvocations(runID, spans)
	}
	h.publish(RunRoom(runID), payload)
}

// InputRequestArrived persists a pending input request, announces it to the
// run room, and moves a running run to pending: the run is now blocked on a
// human. The run is loaded first so a request against an unknown run fails
// with ErrNotFound instead of a constraint violation.
func (h *Hub) InputRequestArrived(ctx context.Context, req models.RegisterInputRequest) (*models.InputRequest, error) {
	run, err := h.runs.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}

	saved, err := h.inputRequests.Save(ctx, req)
	if err != nil {
		return nil, err
	}

	h.publish(RunRoom(req.RunID), InputRequestedPayload{
		Type:    FactInputRequested,
		RunID:   req.RunID,
		Request: saved,
	})

	if run.Status == models.StatusRunning {
		if err := h.ChangeRunStatus(ctx, req.RunID, models.StatusPending); err != nil {
			return nil, err
		}
	}
	return saved, nil
}

// ChangeRunStatus transitions a run and fans the change out to the run room
// and every project-level aggregate. A transition to done also clears the
// run's pending input requests: nobody is listening for the answers anymore.
func (h *Hub) ChangeRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	run, err := h.runs.ChangeStatus(ctx, runID, status)
	if err != nil {
		return err
	}

	if status == models.StatusDone {
		if err := h.inputRequests.DeleteByRun(ctx, runID); err != nil {
			return err
		}
		h.publish(RunRoom(runID), InputRequestsClearedPayload{
			Type:  FactInputRequestsClear,
			RunID: runID,
		})
	}

	h.publish(RunRoom(runID), RunStatusPayload{
		Type:   FactRunStatus,
		RunID:  runID,
		Status: status,
	})
	h.refreshProjectScope(ctx, run.Project)
	return nil
}

// CompleteRun finalizes a run whose worker is gone. Implements
// liveness.Completer.
func (h *Hub) CompleteRun(ctx context.Context, runID string) error {
	return h.ChangeRunStatus(ctx, runID, models.StatusDone)
}

// ClearInputRequests drops a run's whole pending queue on the worker's
// explicit signal and unblocks the run if it was waiting.
func (h *Hub) ClearInputRequests(ctx context.Context, runID string) error {
	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := h.inputRequests.DeleteByRun(ctx, runID); err != nil {
		return err
	}
	h.publish(RunRoom(runID), InputRequestsClearedPayload{
		Type:  FactInputRequestsClear,
		RunID: runID,
	})
	if run.Status == models.StatusPending {
		return h.ChangeRunStatus(ctx, runID, models.StatusRunning)
	}
	return nil
}

// refreshProjectScope republishes the aggregates derived from the run table:
// the project's own run list, the project list, and the overview. Rooms with
// no members skip silently.
func (h *Hub) refreshProjectScope(ctx context.Context, project string) {
	if h.memberCount(ProjectRoom(project)) > 0 {
		runs, err := h.runs.ListRunsByProject(ctx, project)
		if err != nil {
			slog.Error("Failed to reload project runs", "project", project, "error", err)
		} else {
			h.publish(ProjectRoom(project), ProjectRunsPayload{
				Type:    FactProjectRuns,
				Project: project,
				Runs:    runs,
			})
		}
	}

	if h.memberCount(RoomProjectList) > 0 {
		stats, err := h.runs.ProjectStats(ctx)
		if err != nil {
			slog.Error("Failed to reload project stats", "error", err)
		} else {
			h.publish(RoomProjectList, ProjectListPayload{
				Type:     FactProjectList,
				Projects: stats,
			})
		}
	}

	if h.memberCount(RoomOverview) > 0 {
		overview, err := h.runs.Overview(ctx)
		if err != nil {
			slog.Error("Failed to reload overview", "error", err)
		} else {
			h.publish(RoomOverview, OverviewPayload{
				Type:     FactOverview,
				Overview: overview,
			})
		}
	}
}

// handleForwardUserInput consumes one pending input request and forwards
// the human's answer to the run's worker. When two clients race on the same
// request exactly one wins; the loser finds the request gone and gets a
// not-found failure, never a second success.
func (h *Hub) handleForwardUserInput(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if cmd.RequestID == "" {
		h.result(c, cmd.Seq, false, "requestId is required", nil)
		return
	}

	req, err := h.inputRequests.Get(ctx, cmd.RequestID)
	if errors.Is(err, services.ErrNotFound) {
		h.result(c, cmd.Seq, false, fmt.Sprintf("input request %s not found", cmd.RequestID), nil)
		return
	}
	if err != nil {
		h.result(c, cmd.Seq, false, "failed to load input request", nil)
		return
	}

	if err := h.inputRequests.Delete(ctx, cmd.RequestID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			h.result(c, cmd.Seq, false, fmt.Sprintf("input request %s not found", cmd.RequestID), nil)
			return
		}
		h.result(c, cmd.Seq, false, "failed to consume input request", nil)
		return
	}

	h.publish(RunRoom(req.RunID), InputRequestRemovedPayload{
		Type:      FactInputRequestRemoved,
		RunID:     req.RunID,
		RequestID: req.RequestID,
	})

	if err := h.sendToWorker(req.RunID, workerControlMessage{
		Type:      WorkerMsgUserInput,
		RequestID: req.RequestID,
		Input:     cmd.Input,
	}); err != nil {
		slog.Warn("Failed to forward user input to worker",
			"run_id", req.RunID, "request_id", req.RequestID, "error", err)
	}

	// Last answer unblocks the run.
	remaining, err := h.inputRequests.CountByRun(ctx, req.RunID)
	if err == nil && remaining == 0 {
		run, gErr := h.runs.GetRun(ctx, req.RunID)
		if gErr == nil && run.Status == models.StatusPending {
			if sErr := h.ChangeRunStatus(ctx, req.RunID, models.StatusRunning); sErr != nil {
				slog.Error("Failed to unblock run after last input",
					"run_id", req.RunID, "error", sErr)
			}
		}
	}

	h.result(c, cmd.Seq, true, "", nil)
}

// handleInterrupt forwards an interrupt to the run's worker.
func (h *Hub) handleInterrupt(_ context.Context, c *Connection, cmd *ClientCommand) {
	if cmd.RunID == "" {
		h.result(c, cmd.Seq, false, "runId is required", nil)
		return
	}
	if err := h.sendToWorker(cmd.RunID, workerControlMessage{Type: WorkerMsgInterrupt}); err != nil {
		h.result(c, cmd.Seq, false, fmt.Sprintf("no worker for run %s", cmd.RunID), nil)
		return
	}
	h.result(c, cmd.Seq, true, "", nil)
}

// handleDeleteRuns removes runs and refreshes every aggregate derived from
// them. The runs' worker channels, if any, are closed.
func (h *Hub) handleDeleteRuns(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if len(cmd.RunIDs) == 0 {
		h.result(c, cmd.Seq, false, "runIds is required", nil)
		return
	}

	for _, runID := range cmd.RunIDs {
		h.closeWorker(runID)
	}

	projects, err := h.runs.DeleteRuns(ctx, cmd.RunIDs)
	if err != nil {
		h.result(c, cmd.Seq, false, "failed to delete runs", nil)
		return
	}
	for _, project := range projects {
		h.refreshProjectScope(ctx, project)
	}
	h.result(c, cmd.Seq, true, "", nil)
}

// handleDeleteProjects removes whole projects and refreshes the dashboards.
func (h *Hub) handleDeleteProjects(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if len(cmd.Projects) == 0 {
		h.result(c, cmd.Seq, false, "projects is required", nil)
		return
	}

	for _, project := range cmd.Projects {
		runs, err := h.runs.ListRunsByProject(ctx, project)
		if err != nil {
			continue
		}
		for _, run := range runs {
			h.closeWorker(run.ID)
		}
	}

	if err := h.runs.DeleteProjects(ctx, cmd.Projects); err != nil {
		h.result(c, cmd.Seq, false, "failed to delete projects", nil)
		return
	}
	for _, project := range cmd.Projects {
		h.refreshProjectScope(ctx, project)
	}
	h.result(c, cmd.Seq, true, "", nil)
}
