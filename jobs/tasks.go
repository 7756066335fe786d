package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRevokeSessions revokes every session of one user.
	TaskRevokeSessions = "auth:revoke_sessions"
)

// RevokeSessionsPayload identifies the user whose sessions are revoked.
type RevokeSessionsPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// NewRevokeSessionsTask constructs an Asynq task.
func NewRevokeSessionsTask(payload RevokeSessionsPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.UserID) == "" {
		return nil, errors.New("jobs: revoke sessions requires a user id")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevokeSessions, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
