package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campus-rp/paas/internal/auth"
	jobmetrics "github.com/campus-rp/paas/internal/jobs"
	"github.com/campus-rp/paas/internal/platform/db"
	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/shared"
	"github.com/campus-rp/paas/internal/token"
	"github.com/campus-rp/paas/internal/users"
	"github.com/campus-rp/paas/jobs"
)

// RevocationQueue schedules background session revocation. *jobs.Client
// satisfies it.
type RevocationQueue interface {
	EnqueueRevokeSessions(ctx context.Context, payload jobs.RevokeSessionsPayload) (*asynq.TaskInfo, error)
}

// Options configures Setup.
type Options struct {
	Enabled    bool
	Provider   auth.ProviderConfig
	Secret     []byte
	SessionTTL time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	RedisURL   string
	// PGDSN selects the Postgres user directory; empty keeps it in memory.
	PGDSN       string
	Logger      *slog.Logger
	Observer    auth.Observer
	Revocations RevocationQueue
	JobMetrics  *jobmetrics.Metrics
}

// Setup builds a Registry. When authentication is disabled no external
// dependency is dialled and only the resolver and an in-memory directory are
// constructed.
func Setup(ctx context.Context, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := rbac.NewResolver(logger)

	if !opts.Enabled {
		directory := users.NewService(users.NewMemoryRepository(), resolver, nil, logger)
		logger.Info("authentication disabled")
		return NewRegistry(false, nil, resolver, directory, nil, logger), nil
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("access: signing secret is required")
	}

	codec, err := token.NewCodec(opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}

	var (
		repo    users.Repository = users.NewMemoryRepository()
		auditor users.Auditor
		closers []func()
	)
	if opts.PGDSN != "" {
		pool, err := db.New(ctx, opts.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("access: user directory: %w", err)
		}
		repo = users.NewPGRepository(pool)
		auditor = shared.NewAuditLogger(pool)
		closers = append(closers, pool.Close)
		logger.Info("user directory: using postgres")
	}
	directory := users.NewService(repo, resolver, auditor, logger)

	store := sessionstore.Open(ctx, opts.RedisURL, logger)
	sessions := auth.NewSessionManager(store, opts.SessionTTL, logger)
	provider := auth.NewProvider(opts.Provider, store, sessions, resolver, directory, logger)
	engine := auth.NewEngine(codec, sessions, provider, opts.Observer, logger, auth.EngineConfig{
		AccessTTL:  opts.AccessTTL,
		RefreshTTL: opts.RefreshTTL,
	})

	revoker := jobs.NewRevokeSessionsJob(engine, logger, opts.JobMetrics)
	directory.OnRolesChanged(revocationHook(opts.Revocations, revoker, logger))

	reg := NewRegistry(true, engine, resolver, directory, store, logger)
	reg.closers = closers
	logger.Info("authentication enabled",
		slog.String("session_backend", store.Backend()),
		slog.Any("allowed_domains", opts.Provider.AllowedDomains),
	)
	return reg, nil
}

// revocationHook ends a user's sessions after a role change, through the
// queue when one is configured and inline otherwise or when enqueueing fails.
func revocationHook(queue RevocationQueue, revoker *jobs.RevokeSessionsJob, logger *slog.Logger) users.RolesChangedFunc {
	return func(ctx context.Context, userID string) {
		payload := jobs.RevokeSessionsPayload{UserID: userID, Reason: "roles_changed"}
		if queue != nil {
			_, err := queue.EnqueueRevokeSessions(ctx, payload)
			if err == nil {
				return
			}
			logger.Warn("enqueue session revocation failed, revoking inline", slog.String("user_id", userID), slog.Any("error", err))
		}
		if _, err := revoker.Revoke(ctx, payload); err != nil {
			logger.Error("revoke sessions after role change", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
}
