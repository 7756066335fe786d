package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/campus-rp/paas/jobs"
)

// Enqueuer schedules session revocations. *jobs.Client satisfies it.
type Enqueuer interface {
	EnqueueRevokeSessions(ctx context.Context, payload jobs.RevokeSessionsPayload) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for background jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI builds the helpers from an already connected client and
// inspector. Either may be nil; commands needing them then fail.
func NewJobsCLI(client Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// RevokeOptions defines the flags for the revoke-sessions command.
type RevokeOptions struct {
	UserID     string
	Reason     string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RevokeSummary describes the JSON response for revoke-sessions.
type RevokeSummary struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	UserID string `json:"user_id"`
}

// RevokeCommand enqueues a revocation of every session of one user.
func (c *JobsCLI) RevokeCommand(ctx context.Context, opts RevokeOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "revoke-sessions: -user is required")
		return 1
	}
	if c == nil || c.client == nil {
		_, _ = fmt.Fprintln(stderr, "revoke-sessions: queue not configured")
		return 1
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = "manual"
	}
	info, err := c.client.EnqueueRevokeSessions(ctx, jobs.RevokeSessionsPayload{UserID: userID, Reason: reason})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "revoke-sessions: %v\n", err)
		return 1
	}
	summary := RevokeSummary{TaskID: info.ID, Queue: info.Queue, UserID: userID}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "revoke-sessions: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s on %s for user %s\n", summary.TaskID, summary.Queue, userID)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the metrics of the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

// StatsCommand prints InspectQueue as JSON.
func (c *JobsCLI) StatsCommand(stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	stats, err := c.InspectQueue()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "queue-stats: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(stats); err != nil {
		_, _ = fmt.Fprintf(stderr, "queue-stats: encode json: %v\n", err)
		return 1
	}
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
