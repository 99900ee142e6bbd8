package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProfitSummaryRefresh regenerates stored profit summaries.
	TaskProfitSummaryRefresh = "profit:summary_refresh"
	// TaskStaleAssignmentScan reports stock held on expired or inactive batches.
	TaskStaleAssignmentScan = "ledger:stale_scan"
)

// ProfitRefreshPayload lists the period types to rebuild around AnchorDate
// (YYYY-MM-DD, defaults to today).
type ProfitRefreshPayload struct {
	Periods    []string `json:"periods"`
	AnchorDate string   `json:"anchor_date,omitempty"`
}

// StaleScanPayload carries the as-of date of a stale assignment scan.
type StaleScanPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewProfitRefreshTask constructs an Asynq task.
func NewProfitRefreshTask(payload ProfitRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProfitSummaryRefresh, data), nil
}

// NewStaleScanTask constructs an Asynq task.
func NewStaleScanTask(payload StaleScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleAssignmentScan, data), nil
}
