// Package jobs wires the background worker: the recovery sweep that finishes
// interrupted order creations and the retention cleanup for idempotency keys.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPendingRecovery re-drives order creations stuck mid-flight.
	TaskPendingRecovery = "engine:recover_pending"
	// TaskIdempotencyCleanup expires old idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// PendingRecoverer finishes or abandons order creations left pending.
type PendingRecoverer interface {
	RecoverPending(ctx context.Context, olderThan time.Duration) (recovered, abandoned int, err error)
}

// KeyCleaner removes idempotency keys past their retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

type sweepPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewPendingRecoveryTask builds the sweep task. olderThan guards against
// racing a creation that is still in progress.
func NewPendingRecoveryTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(sweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPendingRecovery, data), nil
}

// NewPendingRecoveryHandler returns the handler for TaskPendingRecovery.
func NewPendingRecoveryHandler(recoverer PendingRecoverer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload sweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		recovered, abandoned, err := recoverer.RecoverPending(ctx, payload.OlderThan)
		if err != nil {
			return err
		}
		if recovered > 0 || abandoned > 0 {
			logger.Info("pending recovery sweep",
				slog.Int("recovered", recovered),
				slog.Int("abandoned", abandoned))
		}
		return nil
	}
}

// NewIdempotencyCleanupTask builds the retention cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(sweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewIdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func NewIdempotencyCleanupHandler(cleaner KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload sweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := cleaner.Cleanup(ctx, payload.OlderThan); err != nil {
			return err
		}
		logger.Debug("idempotency cleanup done")
		return nil
	}
}
