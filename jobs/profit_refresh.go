package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kalanatw/growaloe-crm/internal/jobs"
	"github.com/kalanatw/growaloe-crm/internal/profit"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SummaryBuilder is the slice of the profit service the refresh job needs.
type SummaryBuilder interface {
	GetSummary(ctx context.Context, req profit.SummaryRequest) (profit.Summary, error)
}

// ProfitRefreshJob rebuilds the current period summaries so the stored rows
// and the cache stay warm.
type ProfitRefreshJob struct {
	Profit  SummaryBuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewProfitRefreshJob wires dependencies for the refresh handler.
func NewProfitRefreshJob(svc SummaryBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProfitRefreshJob {
	return &ProfitRefreshJob{
		Profit:  svc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes profit refresh tasks.
func (j *ProfitRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Profit == nil {
		return errors.New("profit refresh: handler not configured")
	}
	var payload ProfitRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.Periods) == 0 {
		payload.Periods = []string{string(profit.PeriodDaily), string(profit.PeriodWeekly), string(profit.PeriodMonthly)}
	}
	anchor := j.now()
	if payload.AnchorDate != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AnchorDate)
		if err != nil {
			return asynq.SkipRetry
		}
		anchor = parsed
	}

	tracker := j.metrics().Track(TaskProfitSummaryRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("anchor", anchor.Format(time.DateOnly)))
	logger.Info("starting profit summary refresh")

	for _, raw := range payload.Periods {
		period := profit.PeriodType(raw)
		window, err := profit.WindowFor(period, anchor)
		if err != nil {
			logger.Warn("skip unknown period", slog.String("period", raw))
			continue
		}
		periodCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		summary, err := j.Profit.GetSummary(periodCtx, profit.SummaryRequest{
			Start:      window.Start,
			End:        window.End,
			PeriodType: period,
			Refresh:    true,
		})
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("refresh summary", slog.String("period", raw), slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddSummaryRefresh(raw)
		logger.Info("refreshed summary",
			slog.String("period", raw),
			slog.String("realized", summary.RealizedProfit.String()),
			slog.String("spendable", summary.SpendableProfit.String()),
		)
	}
	return resultErr
}

func (j *ProfitRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProfitSummaryRefresh))
	}
	return slog.Default().With(slog.String("job", TaskProfitSummaryRefresh))
}

func (j *ProfitRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ProfitRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
