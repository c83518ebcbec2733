package hub

import (
	"context"
	"time"

	"github.com/runlens/runlens/pkg/workerenv"
)

// installTimeout bounds one pip install of the worker requirements.
const installTimeout = 10 * time.Minute

func (h *Hub) handleGetWorkerConfig(c *Connection, cmd *ClientCommand) {
	h.result(c, cmd.Seq, true, "", h.workerEnv.Config())
}

func (h *Hub) handleSaveWorkerConfig(c *Connection, cmd *ClientCommand) {
	if cmd.Env == nil {
		h.result(c, cmd.Seq, false, "env is required", nil)
		return
	}
	if err := h.workerEnv.Update(*cmd.Env); err != nil {
		h.result(c, cmd.Seq, false, "failed to save worker config", nil)
		return
	}
	h.result(c, cmd.Seq, true, "", nil)
}

// handleVerifyWorkerEnv probes the interpreter. A failed verification is a
// successful command; the outcome travels in the data field.
func (h *Hub) handleVerifyWorkerEnv(ctx context.Context, c *Connection, cmd *ClientCommand) {
	if cmd.PythonEnv == "" {
		h.result(c, cmd.Seq, false, "pythonEnv is required", nil)
		return
	}
	if err := workerenv.VerifyPythonEnv(ctx, cmd.PythonEnv); err != nil {
		h.result(c, cmd.Seq, true, "", map[string]any{"valid": false, "error": err.Error()})
		return
	}
	h.result(c, cmd.Seq, true, "", map[string]any{"valid": true})
}

// handleInstallRequirements installs the worker dependencies in the
// background; pip can take minutes and must not stall the read loop. The
// result is delivered when the install finishes.
func (h *Hub) handleInstallRequirements(c *Connection, cmd *ClientCommand) {
	if cmd.PythonEnv == "" {
		h.result(c, cmd.Seq, false, "pythonEnv is required", nil)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), installTimeout)
		defer cancel()
		if err := workerenv.InstallRequirements(ctx, cmd.PythonEnv); err != nil {
			h.result(c, cmd.Seq, false, err.Error(), nil)
			return
		}
		h.result(c, cmd.Seq, true, "", nil)
	}()
}
