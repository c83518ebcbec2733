package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/runlens/runlens/pkg/services"
)

// workerConn is the control channel to one run's worker process. The server
// pushes user input and interrupts through it; its disconnect is the
// liveness signal that completes the run.
type workerConn struct {
	runID  string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// HandleWorkerConnection manages the lifecycle of one worker control
// channel. Blocks until the worker disconnects, then finalizes the run.
// A second worker connection for the same run replaces the first.
func (h *Hub) HandleWorkerConnection(parentCtx context.Context, conn *websocket.Conn, runID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	w := &workerConn{runID: runID, conn: conn, ctx: ctx, cancel: cancel}

	h.workersMu.Lock()
	if prev := h.workers[runID]; prev != nil {
		prev.cancel()
		_ = prev.conn.Close(websocket.StatusPolicyViolation, "replaced by newer worker")
	}
	h.workers[runID] = w
	h.workersMu.Unlock()

	slog.Info("Worker connected", "run_id", runID)
	defer h.workerDisconnected(w)

	// Drain the channel. Workers push their data over REST; the socket only
	// carries pings, which keep proxies from idling the channel out.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.writeWorker(w, map[string]string{"type": "pong"})
		}
	}
}

// workerDisconnected finalizes a run whose control channel closed. The
// disconnect is the runtime liveness signal: no polling, the socket going
// away IS the worker dying. A worker that was replaced or whose run was
// deleted is unregistered without a completion.
func (h *Hub) workerDisconnected(w *workerConn) {
	h.workersMu.Lock()
	current := h.workers[w.runID] == w
	if current {
		delete(h.workers, w.runID)
	}
	h.workersMu.Unlock()

	w.cancel()
	_ = w.conn.Close(websocket.StatusNormalClosure, "")

	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.CompleteRun(ctx, w.runID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Run deleted while the worker was still attached.
			return
		}
		slog.Error("Failed to complete run after worker disconnect",
			"run_id", w.runID, "error", err)
		return
	}
	slog.Info("Worker disconnected, run completed", "run_id", w.runID)
}

// sendToWorker pushes one control message to a run's worker channel.
func (h *Hub) sendToWorker(runID string, msg workerControlMessage) error {
	h.workersMu.RLock()
	w := h.workers[runID]
	h.workersMu.RUnlock()
	if w == nil {
		return fmt.Errorf("no worker channel for run %s", runID)
	}
	return h.writeWorker(w, msg)
}

// closeWorker tears down a run's worker channel without completing the run.
// Used when the run itself is being deleted.
func (h *Hub) closeWorker(runID string) {
	h.workersMu.Lock()
	w := h.workers[runID]
	delete(h.workers, runID)
	h.workersMu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	_ = w.conn.Close(websocket.StatusNormalClosure, "run deleted")
}

// HasWorker reports whether a run currently has a live control channel.
func (h *Hub) HasWorker(runID string) bool {
	h.workersMu.RLock()
	defer h.workersMu.RUnlock()
	return h.workers[runID] != nil
}

func (h *Hub) writeWorker(w *workerConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal worker message: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(w.ctx, h.writeTimeout)
	defer cancel()
	return w.conn.Write(writeCtx, websocket.MessageText, data)
}
