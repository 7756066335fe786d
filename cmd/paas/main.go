package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/campus-rp/paas/cmd/paas/cli"
	"github.com/campus-rp/paas/internal/access"
	"github.com/campus-rp/paas/internal/app"
	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/observability"
	"github.com/campus-rp/paas/jobs"
)

const sweepInterval = time.Minute

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1], os.Args[2:]))
	}
	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	secret, err := cfg.SigningSecret(logger)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	var (
		queue     access.RevocationQueue
		inspector jobs.QueueInspector
	)
	if cfg.JobsEnabled {
		redisOpts, err := jobs.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		asynqInspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		queue, inspector = client, asynqInspector
	}

	registry, err := access.Setup(ctx, access.Options{
		Enabled:     cfg.AuthEnabled,
		Provider:    providerConfig(cfg),
		Secret:      secret,
		SessionTTL:  cfg.SessionTTL(),
		RedisURL:    cfg.RedisURL,
		PGDSN:       cfg.PGDSN,
		Logger:      logger,
		Observer:    metrics,
		Revocations: queue,
		JobMetrics:  metrics.Jobs(),
	})
	if err != nil {
		return fmt.Errorf("access setup: %w", err)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("registry close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:    logger,
		Config:    cfg,
		Registry:  registry,
		Metrics:   metrics,
		Inspector: inspector,
	})
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Bool("auth_enabled", registry.Enabled()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.RunMaintenance(gctx, sweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func providerConfig(cfg *app.Config) auth.ProviderConfig {
	return auth.ProviderConfig{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURI:    cfg.GoogleOAuthRedirectURI,
		AllowedDomains: cfg.AllowedDomains,
		Timeout:        cfg.OAuthTimeout,
	}
}

// runCommand executes an operator subcommand against the job queue.
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, name string, args []string) int {
	if cfg.RedisURL == "" {
		logger.Error("REDIS_URL is required for operator commands")
		return 1
	}
	redisOpts, err := jobs.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", slog.Any("error", err))
		return 1
	}

	switch name {
	case "revoke-sessions":
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		userID := fs.String("user", "", "user id whose sessions are revoked")
		reason := fs.String("reason", "manual", "reason recorded in metrics")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("jobs client", slog.Any("error", err))
			return 1
		}
		defer client.Close()
		return cli.NewJobsCLI(client, nil).RevokeCommand(ctx, cli.RevokeOptions{UserID: *userID, Reason: *reason, JSONOutput: *asJSON})
	case "queue-stats":
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()
		return cli.NewJobsCLI(nil, inspector).StatsCommand(nil, nil)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q (want revoke-sessions or queue-stats)\n", name)
		return 2
	}
}
