// Package cleanup provides data retention for finished runs and old
// assistant history.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/runlens/runlens/pkg/services"
)

// RetentionConfig controls what the cleanup loop removes and how often.
type RetentionConfig struct {
	// RunRetentionDays is how long done runs are kept. Zero disables run purging.
	RunRetentionDays int
	// AssistantRetentionDays is how long finished assistant turns are kept.
	// Zero disables history purging.
	AssistantRetentionDays int
	// SweepInterval is the period between sweeps.
	SweepInterval time.Duration
}

// LoadRetentionFromEnv reads retention settings from the environment.
// Defaults keep done runs for 30 days, assistant history for 90, and sweep
// hourly.
func LoadRetentionFromEnv() (*RetentionConfig, error) {
	cfg := &RetentionConfig{
		RunRetentionDays:       30,
		AssistantRetentionDays: 90,
		SweepInterval:          time.Hour,
	}

	if v := os.Getenv("RETENTION_RUN_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_RUN_DAYS %q: %w", v, err)
		}
		cfg.RunRetentionDays = days
	}
	if v := os.Getenv("RETENTION_ASSISTANT_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_ASSISTANT_DAYS %q: %w", v, err)
		}
		cfg.AssistantRetentionDays = days
	}
	if v := os.Getenv("RETENTION_SWEEP_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.SweepInterval = interval
	}
	return cfg, nil
}

// Service periodically enforces retention:
//   - Purges done runs past their retention window
//   - Purges finished assistant turns past theirs
//
// All operations are idempotent.
type Service struct {
	config    *RetentionConfig
	runs      *services.RunService
	assistant *services.AssistantService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *RetentionConfig, runs *services.RunService, assistant *services.AssistantService) *Service {
	return &Service{config: cfg, runs: runs, assistant: assistant}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"run_retention_days", s.config.RunRetentionDays,
		"assistant_retention_days", s.config.AssistantRetentionDays,
		"interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs every retention task once.
func (s *Service) Sweep(ctx context.Context) {
	now := time.Now()

	if s.config.RunRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.config.RunRetentionDays)
		count, err := s.runs.PurgeFinishedBefore(ctx, cutoff)
		if err != nil {
			slog.Error("Retention: run purge failed", "error", err)
		} else if count > 0 {
			slog.Info("Retention: purged finished runs", "count", count)
		}
	}

	if s.config.AssistantRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.config.AssistantRetentionDays)
		count, err := s.assistant.PurgeFinishedBefore(ctx, cutoff)
		if err != nil {
			slog.Error("Retention: assistant history purge failed", "error", err)
		} else if count > 0 {
			slog.Info("Retention: purged assistant turns", "count", count)
		}
	}
}
