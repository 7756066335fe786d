package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campus-rp/paas/internal/auth"
	jobmetrics "github.com/campus-rp/paas/internal/jobs"
)

// SessionRevoker lists and revokes sessions. *auth.Engine satisfies it.
type SessionRevoker interface {
	ListSessions(ctx context.Context, userID string) ([]auth.SessionInfo, error)
	Logout(ctx context.Context, userID, sessionID string) error
}

// RevokeSessionsJob ends every session of a user so that the next refresh
// forces a new login with current permissions.
type RevokeSessionsJob struct {
	Revoker SessionRevoker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRevokeSessionsJob initialises the revocation handler.
func NewRevokeSessionsJob(revoker SessionRevoker, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevokeSessionsJob {
	return &RevokeSessionsJob{Revoker: revoker, Logger: logger, Metrics: metrics}
}

// Handle executes TaskRevokeSessions.
func (j *RevokeSessionsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Revoker == nil {
		return errors.New("revoke sessions: handler not configured")
	}
	var payload RevokeSessionsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || strings.TrimSpace(payload.UserID) == "" {
		return fmt.Errorf("revoke sessions: invalid payload: %w", asynq.SkipRetry)
	}
	_, err := j.Revoke(ctx, payload)
	return err
}

// Revoke runs the revocation synchronously and returns the number of
// sessions removed.
func (j *RevokeSessionsJob) Revoke(ctx context.Context, payload RevokeSessionsPayload) (int, error) {
	tracker := j.Metrics.Track(TaskRevokeSessions)
	start := time.Now()
	logger := j.logger().With(slog.String("user_id", payload.UserID), slog.String("reason", payload.Reason))

	sessions, err := j.Revoker.ListSessions(ctx, payload.UserID)
	if err != nil {
		logger.Error("list sessions failed", slog.Any("error", err))
		return 0, tracker.End(err)
	}
	if err := j.Revoker.Logout(ctx, payload.UserID, ""); err != nil {
		logger.Error("revoke sessions failed", slog.Any("error", err))
		return 0, tracker.End(err)
	}
	j.Metrics.AddRevoked(payload.Reason, len(sessions))
	logger.Info("sessions revoked", slog.Int("count", len(sessions)), slog.Duration("duration", time.Since(start)))
	return len(sessions), tracker.End(nil)
}

func (j *RevokeSessionsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
