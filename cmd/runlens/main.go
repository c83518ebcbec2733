// RunLens server — receives run telemetry from agent workers, persists it,
// and fans live updates out to dashboard clients over WebSocket rooms.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/runlens/runlens/pkg/api"
	"github.com/runlens/runlens/pkg/cleanup"
	"github.com/runlens/runlens/pkg/database"
	"github.com/runlens/runlens/pkg/hub"
	"github.com/runlens/runlens/pkg/liveness"
	"github.com/runlens/runlens/pkg/services"
	"github.com/runlens/runlens/pkg/version"
	"github.com/runlens/runlens/pkg/workerenv"
)

const hubWriteTimeout = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	dataDir := flag.String("data-dir",
		getEnv("DATA_DIR", "./data"),
		"Path to the server data directory")
	flag.Parse()

	// Load .env from the data directory
	envPath := filepath.Join(*dataDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "3000")

	slog.Info("Starting RunLens",
		"version", version.Full(),
		"http_port", httpPort,
		"data_dir", *dataDir)

	ctx := context.Background()

	// 1. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Domain services
	runService := services.NewRunService(dbClient)
	replyService := services.NewReplyService(dbClient)
	spanService := services.NewSpanService(dbClient)
	inputRequestService := services.NewInputRequestService(dbClient)
	assistantService := services.NewAssistantService(dbClient)
	slog.Info("Services initialized")

	// 3. Assistant worker environment
	workerCfg, err := workerenv.NewManager(filepath.Join(*dataDir, "worker-config.json"))
	if err != nil {
		slog.Error("Failed to load worker config", "error", err)
		os.Exit(1)
	}
	launcher := workerenv.NewLauncher(workerCfg, "http://localhost:"+httpPort)

	// 4. Broadcast hub
	h := hub.New(runService, replyService, spanService,
		inputRequestService, assistantService, launcher, workerCfg, hubWriteTimeout)

	// 5. One-time startup reconciliation of runs whose worker died while
	// the server was down. Non-fatal.
	if reconciled, err := liveness.ReconcileStartup(ctx, runService, h); err != nil {
		slog.Error("Startup run reconciliation failed", "error", err)
	} else if reconciled > 0 {
		slog.Info("Reconciled orphaned runs", "count", reconciled)
	}

	// 6. Retention loop
	retention, err := cleanup.LoadRetentionFromEnv()
	if err != nil {
		slog.Error("Failed to load retention config", "error", err)
		os.Exit(1)
	}
	cleanupService := cleanup.NewService(retention, runService, assistantService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. HTTP server (non-blocking start)
	httpServer := api.NewServer(dbClient, h, runService, replyService,
		spanService, assistantService, workerCfg)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
