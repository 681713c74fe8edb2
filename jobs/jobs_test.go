package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/integration"
	jobmetrics "github.com/pampa-erp/pampa/internal/jobs"
	"github.com/pampa-erp/pampa/internal/shared"
)

type imbalanceStub struct {
	found []journals.Imbalance
	err   error
}

func (s imbalanceStub) Imbalances(context.Context) ([]journals.Imbalance, error) {
	return s.found, s.err
}

func TestGLIntegrityPublishesImbalances(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewGLIntegrityJob(imbalanceStub{found: []journals.Imbalance{
		{EntryID: 1, Number: 10, Debit: decimal.NewFromInt(100), Credit: decimal.NewFromInt(90)},
		{EntryID: 2, Number: 11, Debit: decimal.NewFromInt(5), Credit: decimal.Zero},
	}}, nil, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), NewGLIntegrityTask()))

	expected := `
# HELP pampa_ledger_imbalanced_entries Ledger-effective journal entries whose debits and credits differ, as of the last integrity check.
# TYPE pampa_ledger_imbalanced_entries gauge
pampa_ledger_imbalanced_entries 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pampa_ledger_imbalanced_entries"))
}

func TestGLIntegrityCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	boom := errors.New("db down")
	job := NewGLIntegrityJob(imbalanceStub{err: boom}, nil, jobmetrics.NewMetrics(reg))

	require.ErrorIs(t, job.Handle(context.Background(), NewGLIntegrityTask()), boom)

	expected := `
# HELP pampa_jobs_failures_total Total failures observed for background jobs.
# TYPE pampa_jobs_failures_total counter
pampa_jobs_failures_total{job="ledger:integrity"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pampa_jobs_failures_total"))
}

type overdueStub struct {
	asOf time.Time
	n    int
}

func (s *overdueStub) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	s.asOf = asOf
	return s.n, nil
}

func TestOverdueUsesPayloadDateOrToday(t *testing.T) {
	stub := &overdueStub{n: 3}
	job := NewOverdueJob(stub, nil, nil)
	job.clock = func() time.Time { return time.Date(2025, 4, 2, 15, 30, 0, 0, time.UTC) }

	task, err := NewOverdueTask(nil)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), stub.asOf)

	pinned := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)
	task, err = NewOverdueTask(&pinned)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), stub.asOf)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewOverdueJob(&overdueStub{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueInvoices, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type sourceStub struct {
	records map[string][]integration.Record
	failing map[string]error

	mu    sync.Mutex
	since map[string]time.Time
}

func (s *sourceStub) ListSince(_ context.Context, resource string, since time.Time) ([]integration.Record, error) {
	s.mu.Lock()
	s.since[resource] = since
	s.mu.Unlock()
	if err := s.failing[resource]; err != nil {
		return nil, err
	}
	return s.records[resource], nil
}

type stagingStub struct {
	mu      sync.Mutex
	cursors map[string]time.Time
	staged  map[string]int
}

func (s *stagingStub) Cursor(_ context.Context, resource string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[resource], nil
}

func (s *stagingStub) Stage(_ context.Context, resource string, records []integration.Record, cursor time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[resource] += len(records)
	s.cursors[resource] = cursor
	return len(records), nil
}

func TestExternalSyncAdvancesCursors(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	source := &sourceStub{
		records: map[string][]integration.Record{
			"products":  {{ExternalID: "p1", UpdatedAt: t0.Add(time.Hour)}, {ExternalID: "p2", UpdatedAt: t0.Add(3 * time.Hour)}},
			"customers": nil,
		},
		since: map[string]time.Time{},
	}
	staging := &stagingStub{cursors: map[string]time.Time{"products": t0, "customers": t0}, staged: map[string]int{}}
	job := NewExternalSyncJob(source, staging, []string{"products", "customers"}, nil, nil)

	task, err := NewExternalSyncTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, t0, source.since["products"])
	require.Equal(t, 2, staging.staged["products"])
	require.Equal(t, t0.Add(3*time.Hour), staging.cursors["products"])
	require.Equal(t, t0, staging.cursors["customers"], "an empty pull keeps the cursor")
}

func TestExternalSyncFailsWhenAResourceFails(t *testing.T) {
	boom := &shared.ExternalServiceError{Service: "platform", Op: "list orders", Err: errors.New("503")}
	source := &sourceStub{
		records: map[string][]integration.Record{"products": {{ExternalID: "p1", UpdatedAt: time.Now()}}},
		failing: map[string]error{"orders": boom},
		since:   map[string]time.Time{},
	}
	staging := &stagingStub{cursors: map[string]time.Time{}, staged: map[string]int{}}
	job := NewExternalSyncJob(source, staging, []string{"products"}, nil, nil)

	task, err := NewExternalSyncTask("orders")
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	var external *shared.ExternalServiceError
	require.ErrorAs(t, err, &external)
	require.Equal(t, "platform", external.Service)
	require.Empty(t, staging.staged, "payload resources replace the configured ones")
}

type cleanerStub struct{ retention time.Duration }

func (c *cleanerStub) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.retention = olderThan
	return 4, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &cleanerStub{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultKeyRetention, cleaner.retention)

	task, err = NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, cleaner.retention)
}
