package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFinanceSummaryWarmup reloads cached finance snapshots.
	TaskFinanceSummaryWarmup = "finance:summary:warmup"
	// TaskFinanceOverdueScan publishes overdue invoice counts.
	TaskFinanceOverdueScan = "finance:overdue:scan"
)

// FinancePayload scopes a finance task. A zero TenantID means every tenant.
type FinancePayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// NewSummaryWarmupTask constructs a warmup task.
func NewSummaryWarmupTask(tenantID int64) (*asynq.Task, error) {
	return newFinanceTask(TaskFinanceSummaryWarmup, tenantID)
}

// NewOverdueScanTask constructs an overdue scan task.
func NewOverdueScanTask(tenantID int64) (*asynq.Task, error) {
	return newFinanceTask(TaskFinanceOverdueScan, tenantID)
}

func newFinanceTask(taskType string, tenantID int64) (*asynq.Task, error) {
	data, err := json.Marshal(FinancePayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decodeFinancePayload(t *asynq.Task) (FinancePayload, error) {
	var payload FinancePayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
