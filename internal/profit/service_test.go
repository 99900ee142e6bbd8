package profit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

type mockRepo struct {
	mu           sync.Mutex
	inputs       Inputs
	loadCalls    int
	upserts      []Summary
	transactions []Transaction
}

func (m *mockRepo) LoadInputs(_ context.Context, w Window) (Inputs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	in := m.inputs
	in.Window = w
	return in, nil
}

func (m *mockRepo) UpsertSummary(_ context.Context, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, s)
	return nil
}

func (m *mockRepo) InsertTransaction(_ context.Context, t Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.transactions) + 1)
	m.transactions = append(m.transactions, t)
	return t.ID, nil
}

func (m *mockRepo) ListTransactions(_ context.Context, w Window) ([]Transaction, error) {
	var out []Transaction
	for _, t := range m.transactions {
		if w.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, repo RepositoryPort) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, NewCache(client, time.Minute), DefaultPolicy(), logger)
	svc.now = func() time.Time { return date(2026, time.April, 1) }
	return svc
}

func marchRequest() SummaryRequest {
	return SummaryRequest{Start: date(2026, time.March, 1), End: date(2026, time.March, 31), PeriodType: PeriodMonthly}
}

func TestGetSummaryCachesAndStores(t *testing.T) {
	repo := &mockRepo{inputs: Inputs{CashFromSettlements: d("5000"), PaidCommissionsOnSettled: d("500"), Expenses: d("300"), AdditionalIncome: d("200")}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	summary, err := svc.GetSummary(ctx, marchRequest())
	require.NoError(t, err)
	requireDec(t, "4400", summary.RealizedProfit)
	require.Equal(t, PeriodMonthly, summary.PeriodType)
	require.Equal(t, 1, repo.loadCalls)
	require.Len(t, repo.upserts, 1)

	cached, err := svc.GetSummary(ctx, marchRequest())
	require.NoError(t, err)
	requireDec(t, "4400", cached.RealizedProfit)
	require.Equal(t, 1, repo.loadCalls)

	repo.inputs.Expenses = d("400")
	req := marchRequest()
	req.Refresh = true
	refreshed, err := svc.GetSummary(ctx, req)
	require.NoError(t, err)
	requireDec(t, "4300", refreshed.RealizedProfit)
	require.Equal(t, 2, repo.loadCalls)

	again, err := svc.GetSummary(ctx, marchRequest())
	require.NoError(t, err)
	requireDec(t, "4300", again.RealizedProfit)
	require.Equal(t, 2, repo.loadCalls)
}

func TestRecordTransactionInvalidatesSummaries(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.GetSummary(ctx, marchRequest())
	require.NoError(t, err)

	tx, err := svc.RecordTransaction(ctx, TransactionInput{Type: TransactionExpense, Category: "fuel", Amount: d("120"), Date: date(2026, time.March, 4)})
	require.NoError(t, err)
	require.Equal(t, int64(1), tx.ID)

	_, err = svc.GetSummary(ctx, marchRequest())
	require.NoError(t, err)
	require.Equal(t, 2, repo.loadCalls)

	listed, err := svc.ListTransactions(ctx, date(2026, time.March, 1), date(2026, time.March, 31))
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestRecordTransactionValidation(t *testing.T) {
	svc := newTestService(t, &mockRepo{})
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, TransactionInput{Type: "gift", Category: "x", Amount: d("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordTransaction(ctx, TransactionInput{Type: TransactionIncome, Category: "x", Amount: d("0")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordTransaction(ctx, TransactionInput{Type: TransactionIncome, Category: " ", Amount: d("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetSummaryValidatesRequest(t *testing.T) {
	svc := newTestService(t, &mockRepo{})
	ctx := context.Background()

	req := marchRequest()
	req.PeriodType = "hourly"
	_, err := svc.GetSummary(ctx, req)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = marchRequest()
	req.Start, req.End = req.End, req.Start
	_, err = svc.GetSummary(ctx, req)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetSummaryWithoutCache(t *testing.T) {
	repo := &mockRepo{inputs: Inputs{CashFromSettlements: d("10")}}
	svc := NewService(repo, nil, DefaultPolicy(), nil)

	for i := 0; i < 2; i++ {
		summary, err := svc.GetSummary(context.Background(), marchRequest())
		require.NoError(t, err)
		requireDec(t, "10", summary.RealizedProfit)
	}
	require.Equal(t, 2, repo.loadCalls)
}

func TestRiskAdjustedCached(t *testing.T) {
	repo := &mockRepo{inputs: Inputs{
		CashFromSettlements: d("1000"),
		OpenInvoices:        []OpenInvoice{{InvoiceID: 1, InvoiceDate: date(2025, time.October, 1), Balance: d("400")}},
	}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	report, err := svc.RiskAdjusted(ctx, date(2026, time.March, 1), date(2026, time.March, 31))
	require.NoError(t, err)
	requireDec(t, "400", report.HighRisk)
	requireDec(t, "800", report.SafeToSpend)

	_, err = svc.RiskAdjusted(ctx, date(2026, time.March, 1), date(2026, time.March, 31))
	require.NoError(t, err)
	require.Equal(t, 1, repo.loadCalls)
}
