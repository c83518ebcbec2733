package workerenv

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Launcher spawns assistant worker turns against the configured Python
// environment. The worker pushes its output back over the server's REST
// ingestion API, so the launcher only cares about process exit status.
type Launcher struct {
	manager *Manager
	// serverURL is passed to the worker so it can reach the ingestion API.
	serverURL string
}

// NewLauncher creates a Launcher using the given config manager.
func NewLauncher(manager *Manager, serverURL string) *Launcher {
	return &Launcher{manager: manager, serverURL: serverURL}
}

// LaunchAssistant runs one assistant turn: the main worker script with the
// user's query, plus every configured model flag. Blocks until the worker
// exits. Implements hub.AssistantLauncher.
func (l *Launcher) LaunchAssistant(ctx context.Context, query string) error {
	cfg := l.manager.Config()
	if cfg == nil {
		return fmt.Errorf("worker environment not configured")
	}
	if cfg.MainScriptPath == "" {
		return fmt.Errorf("worker main script path not configured")
	}

	args := []string{
		cfg.MainScriptPath,
		"--query", query,
		"--studio_url", l.serverURL,
		"--llmProvider", cfg.LLMProvider,
		"--modelName", cfg.ModelName,
		"--writePermission", fmt.Sprintf("%t", cfg.WritePermission),
	}
	if cfg.BaseURL != "" {
		args = append(args, "--baseUrl", cfg.BaseURL)
	}

	out, err := runScript(ctx, cfg.PythonEnv, args)
	if err != nil {
		return err
	}
	if out != "" {
		slog.Debug("Assistant worker output", "output", out)
	}
	return nil
}

// runScript executes the Python interpreter with the given arguments and
// captures both output streams. A non-zero exit surfaces stderr as the
// error, matching what a human would want to read.
func runScript(ctx context.Context, pythonEnv string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, pythonEnv, args...)
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running worker script", "python", pythonEnv, "args", args)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("worker script failed: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
