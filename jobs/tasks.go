package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsCleanup purges expired and deactivated sessions.
	TaskSessionsCleanup = "sessions:cleanup"
)

// SessionsCleanupPayload parameterises a cleanup run.
type SessionsCleanupPayload struct {
	// RequestedBy is the user id for on-demand runs, zero for cron.
	RequestedBy int64 `json:"requested_by,omitempty"`
}

// SessionCleaner is the slice of the sessions service the job needs.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// NewSessionsCleanupTask constructs an Asynq task.
func NewSessionsCleanupTask(payload SessionsCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsCleanup, data), nil
}

// NewSessionsCleanupHandler processes TaskSessionsCleanup tasks.
func NewSessionsCleanupHandler(cleaner SessionCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SessionsCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		deleted, err := cleaner.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("sessions cleanup executed",
				slog.Int64("deleted", deleted),
				slog.Int64("requested_by", payload.RequestedBy))
		}
		return nil
	}
}
