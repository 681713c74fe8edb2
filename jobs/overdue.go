package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
	"github.com/pampa-erp/pampa/internal/shared"
)

// OverdueMarker flips collectible invoices past their due date.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}

type OverdueJob struct {
	Invoices OverdueMarker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

func NewOverdueJob(invoices OverdueMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueJob {
	return &OverdueJob{
		Invoices: invoices,
		Logger:   logger,
		Metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (j *OverdueJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Invoices == nil {
		return errors.New("overdue: handler not configured")
	}
	var payload OverduePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	asOf := shared.Day(j.clock())
	if payload.AsOf != nil {
		asOf = shared.Day(*payload.AsOf)
	}

	tracker := j.Metrics.Track(TaskOverdueInvoices)
	defer func() { err = tracker.End(err) }()

	n, err := j.Invoices.MarkOverdue(ctx, asOf)
	if err != nil {
		loggerOr(j.Logger).Error("mark overdue failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddOverdue(n)
	loggerOr(j.Logger).Info("overdue invoices marked", slog.Time("as_of", asOf), slog.Int("count", n))
	return nil
}
