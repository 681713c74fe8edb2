package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskGLIntegrity checks that every ledger-effective entry balances.
	TaskGLIntegrity = "ledger:integrity"
	// TaskOverdueInvoices moves unpaid invoices past due date to OVERDUE.
	TaskOverdueInvoices = "invoices:overdue"
	// TaskExternalSync pulls changed records from the external platform.
	TaskExternalSync = "integration:sync"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// OverduePayload optionally pins the evaluation date; the job uses today otherwise.
type OverduePayload struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// ExternalSyncPayload restricts the sync to some resources. Empty means all configured ones.
type ExternalSyncPayload struct {
	Resources []string `json:"resources,omitempty"`
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewGLIntegrityTask constructs the ledger integrity task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.Queue(QueueDefault))
}

// NewOverdueTask constructs the overdue marking task.
func NewOverdueTask(asOf *time.Time) (*asynq.Task, error) {
	return newTask(TaskOverdueInvoices, OverduePayload{AsOf: asOf})
}

// NewExternalSyncTask constructs the external platform sync task.
func NewExternalSyncTask(resources ...string) (*asynq.Task, error) {
	return newTask(TaskExternalSync, ExternalSyncPayload{Resources: resources})
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

// decode reads a JSON payload; an empty payload leaves v untouched.
func decode(t *asynq.Task, v any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
