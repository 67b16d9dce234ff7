// Kestrel scores support-desk chats for sales intent and rolls agent and
// team performance up from inquiries and chats.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rollup"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/throttle"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	envErr := godotenv.Load()

	cfg := domain.LoadConfig()
	slog.SetDefault(newLogger(cfg.Logging))

	if envErr != nil && !os.IsNotExist(envErr) {
		slog.Warn("failed to read .env", "error", envErr)
	}

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"throttle", cfg.Throttle.Enabled,
		"lead_worker", cfg.Worker.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	if active, err := repo.ListActiveRules(ctx); err != nil {
		slog.Warn("failed to count rules", "error", err)
	} else if len(active) == 0 {
		slog.Info("no active scoring rules - configure via POST /rules")
	} else {
		slog.Info("scoring rules found", "active", len(active))
	}

	svc := scoring.NewService(repo, engine, rollup.NewAggregator(rollup.DefaultPoints()), cfg.Scoring.HighValueLeads)
	limiter := throttle.New(cacheImpl, cfg.Throttle)

	var leadWorker *worker.Worker
	if cfg.Worker.Enabled {
		leadWorker = worker.NewWorker(busImpl, cacheImpl, svc, cfg.Worker.MarkerTTL)
		if err := leadWorker.Start(); err != nil {
			slog.Error("failed to start lead worker", "error", err)
			leadWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, svc, limiter, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if leadWorker != nil {
		if err := leadWorker.Stop(); err != nil {
			slog.Error("failed to stop lead worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  lead scoring for the support desk")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /rules                 - List scoring rules")
	fmt.Println("    POST /rules                 - Create a scoring rule")
	fmt.Println("    POST /rules/preview         - Score sample messages")
	fmt.Println("    POST /sessions/{id}/messages - Post a chat message")
	fmt.Println("    GET  /sessions/{id}/score   - Live lead score")
	fmt.Println("    GET  /leads                 - Ranked leads")
	fmt.Println("    GET  /leads/top             - High value leads")
	fmt.Println("    GET  /agents/{id}/score     - Agent performance")
	fmt.Println("    GET  /teams/{id}/score      - Team performance")
	fmt.Println("    GET  /metrics               - Prometheus metrics")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
