package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kalanatw/growaloe-crm/internal/jobs"
	"github.com/kalanatw/growaloe-crm/internal/ledger"
)

// StaleLister is the slice of the ledger service the scan needs.
type StaleLister interface {
	ListStaleAssignments(ctx context.Context, asOf time.Time) ([]ledger.Assignment, error)
}

// StaleScanJob logs assignments whose outstanding stock can no longer be sold
// so it gets recalled at the next settlement.
type StaleScanJob struct {
	Ledger  StaleLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStaleScanJob initialises the scan handler.
func NewStaleScanJob(svc StaleLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleScanJob {
	return &StaleScanJob{
		Ledger:  svc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *StaleScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("stale scan: handler not configured")
	}
	var payload StaleScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := j.clock()
	if payload.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return asynq.SkipRetry
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskStaleAssignmentScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	stale, err := j.Ledger.ListStaleAssignments(ctx, asOf)
	if err != nil {
		resultErr = err
		logger.Error("list stale assignments", slog.Any("error", err))
		return resultErr
	}
	for _, a := range stale {
		logger.Warn("stock held on unsellable batch",
			slog.Int64("assignment_id", a.ID),
			slog.Int64("salesman_id", a.SalesmanID),
			slog.Int64("batch_id", a.BatchID),
			slog.String("outstanding", a.Outstanding().String()),
		)
	}
	j.metrics().SetStaleAssignments(len(stale))
	logger.Info("completed stale assignment scan", slog.Int("stale", len(stale)))
	return resultErr
}

func (j *StaleScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStaleAssignmentScan))
	}
	return slog.Default().With(slog.String("job", TaskStaleAssignmentScan))
}

func (j *StaleScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
