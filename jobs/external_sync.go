package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pampa-erp/pampa/internal/integration"
	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
)

// RecordSource pages through records changed since a cursor.
type RecordSource interface {
	ListSince(ctx context.Context, resource string, since time.Time) ([]integration.Record, error)
}

// ExternalSyncJob mirrors platform resources into the staging tables. Each
// resource syncs independently; a failing resource keeps its cursor and the
// task is retried.
type ExternalSyncJob struct {
	Source      RecordSource
	Staging     integration.Staging
	Resources   []string
	Concurrency int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

func NewExternalSyncJob(source RecordSource, staging integration.Staging, resources []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExternalSyncJob {
	return &ExternalSyncJob{Source: source, Staging: staging, Resources: resources, Concurrency: 4, Logger: logger, Metrics: metrics}
}

func (j *ExternalSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Staging == nil {
		return errors.New("external sync: handler not configured")
	}
	var payload ExternalSyncPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	resources := payload.Resources
	if len(resources) == 0 {
		resources = j.Resources
	}

	tracker := j.Metrics.Track(TaskExternalSync)
	defer func() { err = tracker.End(err) }()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Concurrency, 1))
	for _, resource := range resources {
		g.Go(func() error {
			return j.syncResource(gctx, resource)
		})
	}
	return g.Wait()
}

func (j *ExternalSyncJob) syncResource(ctx context.Context, resource string) error {
	logger := loggerOr(j.Logger).With(slog.String("job", TaskExternalSync), slog.String("resource", resource))
	since, err := j.Staging.Cursor(ctx, resource)
	if err != nil {
		return fmt.Errorf("external sync: %s cursor: %w", resource, err)
	}
	records, err := j.Source.ListSince(ctx, resource, since)
	if err != nil {
		logger.Warn("pull failed", slog.Any("error", err))
		return fmt.Errorf("external sync: %s: %w", resource, err)
	}
	changed, err := j.Staging.Stage(ctx, resource, records, integration.LatestUpdate(records, since))
	if err != nil {
		return fmt.Errorf("external sync: stage %s: %w", resource, err)
	}
	j.Metrics.AddSynced(resource, changed)
	logger.Info("resource synced", slog.Int("pulled", len(records)), slog.Int("changed", changed))
	return nil
}
