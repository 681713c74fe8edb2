package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
)

// ImbalanceSource lists ledger-effective entries whose lines do not balance.
type ImbalanceSource interface {
	Imbalances(ctx context.Context) ([]journals.Imbalance, error)
}

// GLIntegrityJob reports unbalanced entries. Findings are logged and exported
// as a gauge; the run itself only fails when the query does.
type GLIntegrityJob struct {
	Ledger  ImbalanceSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewGLIntegrityJob(ledger ImbalanceSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity check.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.String("job", TaskGLIntegrity))
	found, err := j.Ledger.Imbalances(ctx)
	if err != nil {
		logger.Error("integrity query failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetImbalanced(len(found))
	for _, im := range found {
		logger.Warn("unbalanced journal entry",
			slog.Int64("entry_id", im.EntryID),
			slog.Int64("number", im.Number),
			slog.String("debit", im.Debit.StringFixed(2)),
			slog.String("credit", im.Credit.StringFixed(2)),
		)
	}
	logger.Info("GL integrity check executed", slog.Int("imbalanced", len(found)))
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
