// Package workerenv manages the Python environment that assistant worker
// turns run in: its persisted configuration, environment verification, and
// process launching.
package workerenv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Minimum Python version the worker scripts support.
const (
	minPythonMajor = 3
	minPythonMinor = 10
)

// Config is the persisted worker environment configuration.
type Config struct {
	PythonEnv       string `json:"pythonEnv"`
	MainScriptPath  string `json:"mainScriptPath,omitempty"`
	LLMProvider     string `json:"llmProvider"`
	ModelName       string `json:"modelName"`
	WritePermission bool   `json:"writePermission"`
	BaseURL         string `json:"baseUrl,omitempty"`
}

// Manager loads and persists the worker environment configuration as a JSON
// file under the server's data directory.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

// NewManager creates a Manager bound to the given config file path and
// loads whatever configuration already exists there. A missing file is not
// an error: the configuration simply stays unset until saved.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worker config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worker config: %w", err)
	}
	m.cfg = &cfg
	return m, nil
}

// Config returns the current configuration, or nil when none is set.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil
	}
	cp := *m.cfg
	return &cp
}

// Update replaces the configuration and persists it.
func (m *Manager) Update(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode worker config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write worker config: %w", err)
	}

	m.cfg = &cfg
	return nil
}

var pythonVersionRe = regexp.MustCompile(`Python (\d+)\.(\d+)`)

// VerifyPythonEnv checks that the given path is a runnable Python
// interpreter of a supported version.
func VerifyPythonEnv(ctx context.Context, pythonEnv string) error {
	pythonPath := filepath.Clean(pythonEnv)

	info, err := os.Stat(pythonPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("the Python environment path does not exist")
	}
	if err != nil {
		return fmt.Errorf("error accessing Python environment path: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("not a valid Python environment path")
	}

	out, err := exec.CommandContext(ctx, pythonPath, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("not a valid Python environment")
	}

	match := pythonVersionRe.FindStringSubmatch(strings.TrimSpace(string(out)))
	if match == nil {
		return fmt.Errorf("failed to get Python version")
	}
	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	if major < minPythonMajor || (major == minPythonMajor && minor < minPythonMinor) {
		return fmt.Errorf("Python version must be %d.%d or higher", minPythonMajor, minPythonMinor)
	}
	return nil
}

// InstallRequirements installs the worker script dependencies into the
// given Python environment via pip.
func InstallRequirements(ctx context.Context, pythonEnv string) error {
	_, err := runScript(ctx, pythonEnv, []string{"-m", "pip", "install", "agentscope[full]"})
	if err != nil {
		return fmt.Errorf("failed to install requirements: %w", err)
	}
	return nil
}
