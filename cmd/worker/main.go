package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/campus-rp/paas/internal/access"
	"github.com/campus-rp/paas/internal/app"
	"github.com/campus-rp/paas/internal/observability"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if !cfg.AuthEnabled || cfg.RedisURL == "" {
		logger.Error("worker needs AUTH_ENABLED and a shared REDIS_URL session store")
		os.Exit(1)
	}
	if cfg.JWTSecretKey == "" {
		logger.Warn("JWT_SECRET_KEY not set; the worker only revokes sessions and never verifies credentials")
	}
	secret, err := cfg.SigningSecret(nil)
	if err != nil {
		logger.Error("signing secret", slog.Any("error", err))
		os.Exit(1)
	}
	redisOpts, err := jobs.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	registry, err := access.Setup(ctx, access.Options{
		Enabled:    true,
		Secret:     secret,
		SessionTTL: cfg.SessionTTL(),
		RedisURL:   cfg.RedisURL,
		Logger:     logger,
		JobMetrics: metrics.Jobs(),
	})
	if err != nil {
		logger.Error("access setup", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("registry close", slog.Any("error", err))
		}
	}()
	if backend := registry.Store().Backend(); backend != sessionstore.BackendRedis {
		logger.Error("session store unreachable, refusing to revoke against a local store", slog.String("backend", backend))
		return
	}

	revoker := jobs.NewRevokeSessionsJob(registry.Engine(), logger, metrics.Jobs())
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRevokeSessions, Handler: revoker.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
