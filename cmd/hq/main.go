// HQ control-plane server: manages ephemeral worker sessions, relays
// traffic between workers and browsers, and mirrors user files from object
// storage.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/hq-ai/hq/pkg/api"
	"github.com/hq-ai/hq/pkg/auth"
	"github.com/hq-ai/hq/pkg/config"
	"github.com/hq-ai/hq/pkg/registry"
	"github.com/hq-ai/hq/pkg/relay"
	"github.com/hq-ai/hq/pkg/services"
	"github.com/hq-ai/hq/pkg/spawner"
	"github.com/hq-ai/hq/pkg/sync"
	"github.com/hq-ai/hq/pkg/version"
)

func main() {
	// Load .env when present; the environment always wins.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	// 1. Configuration. Invalid configuration is exit code 1; an
	// unrecoverable dependency is exit code 2.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting HQ",
		"version", version.Full(),
		"port", cfg.Port,
		"spawn_enabled", cfg.SpawnEnabled(),
		"sync_enabled", cfg.SyncEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connection registry and heartbeat.
	reg := registry.New()
	go reg.RunHeartbeat(ctx, registry.DefaultHeartbeatInterval)

	// 3. Domain services.
	tokens := auth.NewTokenStore()
	keys := auth.NewKeyService()

	sessionCfg := services.SessionConfig{
		StartupTimeout: cfg.StartupTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		GraceTTL:       cfg.GraceTTL,
		SweepInterval:  cfg.SweepInterval,
	}
	notifier := services.NewLogNotifier()
	sessions := services.NewSessionService(sessionCfg, reg, reg, reg)
	sessions.SetTokenRevoker(tokens)
	sessions.SetNotifier(notifier)
	messages := services.NewMessageService(sessions)
	workers := services.NewWorkerService()
	workers.SetCatalogue(reg)
	questions := services.NewQuestionService(workers, sessions)
	questions.SetNotifier(notifier)
	shares := services.NewShareService()
	go sessions.RunSweeper(ctx)

	// 4. Relay.
	rly := relay.New(reg, sessions, messages, workers, questions, tokens)

	// 5. AWS-backed subsystems, enabled by configuration.
	var spawn *spawner.Spawner
	var poller *sync.Poller
	if cfg.SpawnEnabled() || cfg.SyncEnabled() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			slog.Error("Failed to load AWS configuration", "error", err)
			os.Exit(2)
		}

		if cfg.SpawnEnabled() {
			spawn, err = spawner.New(ecs.NewFromConfig(awsCfg), spawner.Config{
				Cluster:        cfg.ECSCluster,
				TaskDefinition: cfg.ECSTaskDefinition,
				ContainerName:  cfg.ECSContainerName,
				Subnets:        cfg.ECSSubnets,
				SecurityGroups: cfg.ECSSecurityGroups,
				AssignPublicIP: cfg.ECSAssignPublicIP,
				CPU:            cfg.ECSCPU,
				Memory:         cfg.ECSMemory,
				APIURL:         cfg.APIURL,
				Project:        "hq",
			})
			if err != nil {
				slog.Error("Failed to initialize spawner", "error", err)
				os.Exit(2)
			}
			sessions.SetTaskStopper(spawn)
			slog.Info("Worker spawner initialized", "cluster", cfg.ECSCluster)
		}

		if cfg.SyncEnabled() {
			store := sync.NewS3Store(s3.NewFromConfig(awsCfg), cfg.SyncBucket)
			poller = sync.NewPoller(sync.PollerConfig{
				LocalDir:     cfg.SyncDir,
				RemotePrefix: cfg.SyncPrefix,
				Interval:     cfg.SyncInterval,
			}, store)
			poller.Start(ctx)
			defer poller.Stop()
			slog.Info("File sync poller started",
				"bucket", cfg.SyncBucket, "dir", cfg.SyncDir)
		}
	}

	// 6. HTTP server.
	deps := api.Deps{
		Sessions:   sessions,
		Messages:   messages,
		Workers:    workers,
		Questions:  questions,
		Shares:     shares,
		Registry:   reg,
		Relay:      rly,
		Keys:       keys,
		Tokens:     tokens,
		Spawner:    spawn,
		SkipAuth:   cfg.SkipAuth,
		SyncBucket: cfg.SyncBucket,
		SyncPrefix: cfg.SyncPrefix,
	}
	if poller != nil {
		deps.Sync = poller
	}
	server := api.NewServer(deps)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		cancel()
		os.Exit(1)
	}

	// 8. Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	cancel()

	slog.Info("HQ stopped")
}
