package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/kalanatw/growaloe-crm/internal/jobs"
	"github.com/kalanatw/growaloe-crm/internal/ledger"
	"github.com/kalanatw/growaloe-crm/internal/profit"
)

type stubBuilder struct {
	requests []profit.SummaryRequest
	err      error
}

func (s *stubBuilder) GetSummary(_ context.Context, req profit.SummaryRequest) (profit.Summary, error) {
	s.requests = append(s.requests, req)
	return profit.Summary{PeriodType: req.PeriodType}, s.err
}

type stubLister struct {
	rows []ledger.Assignment
	asOf time.Time
}

func (s *stubLister) ListStaleAssignments(_ context.Context, asOf time.Time) ([]ledger.Assignment, error) {
	s.asOf = asOf
	return s.rows, nil
}

func TestProfitRefreshDefaultsToCurrentPeriods(t *testing.T) {
	builder := &stubBuilder{}
	job := NewProfitRefreshJob(builder, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2026, time.March, 12, 8, 0, 0, 0, time.UTC) }

	task, err := NewProfitRefreshTask(ProfitRefreshPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, builder.requests, 3)
	for _, req := range builder.requests {
		require.True(t, req.Refresh)
	}
	weekly := builder.requests[1]
	require.Equal(t, profit.PeriodWeekly, weekly.PeriodType)
	require.Equal(t, time.March, weekly.Start.Month())
	require.Equal(t, 9, weekly.Start.Day())
	monthly := builder.requests[2]
	require.Equal(t, 31, monthly.End.Day())
}

func TestProfitRefreshPropagatesFailure(t *testing.T) {
	builder := &stubBuilder{err: errors.New("db down")}
	job := NewProfitRefreshJob(builder, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewProfitRefreshTask(ProfitRefreshPayload{Periods: []string{"monthly"}, AnchorDate: "2026-03-01"})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestProfitRefreshRejectsBadPayload(t *testing.T) {
	job := NewProfitRefreshJob(&stubBuilder{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskProfitSummaryRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStaleScanUsesPayloadDate(t *testing.T) {
	lister := &stubLister{rows: []ledger.Assignment{{ID: 1, SalesmanID: 7, BatchID: 2}}}
	job := NewStaleScanJob(lister, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewStaleScanTask(StaleScanPayload{AsOf: "2026-03-20"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 20, lister.asOf.Day())
}
