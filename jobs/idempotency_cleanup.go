package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
)

const defaultKeyRetention = 7 * 24 * time.Hour

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type IdempotencyCleanupJob struct {
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewIdempotencyCleanupJob(keys KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Keys: keys, Logger: logger, Metrics: metrics}
}

func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	payload := IdempotencyCleanupPayload{Retention: defaultKeyRetention}
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.Retention <= 0 {
		payload.Retention = defaultKeyRetention
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	n, err := j.Keys.Cleanup(ctx, payload.Retention)
	if err != nil {
		return err
	}
	loggerOr(j.Logger).Info("idempotency keys purged", slog.Int64("deleted", n), slog.Duration("retention", payload.Retention))
	return nil
}
