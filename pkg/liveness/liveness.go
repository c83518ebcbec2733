// Package liveness reconciles run status against worker process liveness.
//
// Runtime liveness is reactive — the worker's control channel disconnect is
// the signal — so the only polling happens once at startup, to catch runs
// that were mid-execution when the server previously went down.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/runlens/runlens/pkg/models"
)

// RunLister lists runs by lifecycle status. Implemented by services.RunService.
type RunLister interface {
	ListRunsByStatus(ctx context.Context, statuses ...models.RunStatus) ([]models.Run, error)
}

// Completer finalizes a dead run: clears its pending input requests,
// transitions it to done, and fans the change out. Implemented by hub.Hub.
type Completer interface {
	CompleteRun(ctx context.Context, runID string) error
}

// Alive reports whether pid corresponds to a live OS process. Signal 0
// performs the existence check without delivering anything; EPERM still
// means the process exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// ReconcileStartup transitions every running/pending run whose recorded pid
// no longer exists to done, emitting the same downstream events as a normal
// completion. Returns the number of runs reconciled. A failure on one run
// is logged and does not stop the scan.
func ReconcileStartup(ctx context.Context, runs RunLister, completer Completer) (int, error) {
	active, err := runs.ListRunsByStatus(ctx, models.StatusRunning, models.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list active runs: %w", err)
	}

	reconciled := 0
	for _, run := range active {
		if Alive(run.Pid) {
			continue
		}
		if err := completer.CompleteRun(ctx, run.ID); err != nil {
			slog.Error("Failed to complete dead run",
				"run_id", run.ID, "pid", run.Pid, "error", err)
			continue
		}
		slog.Warn("Reconciled orphaned run from previous server lifetime",
			"run_id", run.ID, "pid", run.Pid)
		reconciled++
	}
	return reconciled, nil
}
