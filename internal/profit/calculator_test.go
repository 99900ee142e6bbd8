package profit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func march() Window {
	return Window{Start: date(2026, time.March, 1), End: date(2026, time.March, 31)}
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestRealizedProfitScenario(t *testing.T) {
	in := Inputs{
		Window:                   march(),
		CashFromSettlements:      d("5000"),
		PaidCommissionsOnSettled: d("500"),
		Expenses:                 d("300"),
		AdditionalIncome:         d("200"),
	}

	summary := Compute(in, DefaultPolicy())
	requireDec(t, "4400", summary.RealizedProfit)
	requireDec(t, "4400", summary.SpendableProfit)
}

func TestUnrealizedUsesCommissionRateOrDefault(t *testing.T) {
	ten := d("10")
	in := Inputs{
		Window: march(),
		OpenInvoices: []OpenInvoice{
			{InvoiceID: 1, InvoiceDate: date(2026, time.March, 3), Balance: d("1000"), CommissionRate: &ten},
			{InvoiceID: 2, InvoiceDate: date(2026, time.March, 20), Balance: d("400")},
		},
	}

	summary := Compute(in, DefaultPolicy())
	requireDec(t, "1400", summary.OutstandingBalance)
	requireDec(t, "120", summary.EstimatedCommission)
	requireDec(t, "1280", summary.UnrealizedProfit)
}

func TestSpendableSubtractsAllOpenInvoices(t *testing.T) {
	in := Inputs{
		Window:              march(),
		CashFromSettlements: d("3000"),
		OpenInvoices: []OpenInvoice{
			{InvoiceID: 1, InvoiceDate: date(2025, time.November, 2), Balance: d("700")},
			{InvoiceID: 2, InvoiceDate: date(2026, time.March, 10), Balance: d("300")},
		},
	}

	summary := Compute(in, DefaultPolicy())
	requireDec(t, "300", summary.OutstandingBalance)
	requireDec(t, "1000", summary.TotalOutstanding)
	requireDec(t, "3000", summary.RealizedProfit)
	requireDec(t, "2000", summary.SpendableProfit)
}

func TestCollectionEfficiency(t *testing.T) {
	summary := Compute(Inputs{Window: march(), InvoiceCount: 3, SettledInvoiceCount: 2}, DefaultPolicy())
	requireDec(t, "66.67", summary.CollectionEfficiency)

	empty := Compute(Inputs{Window: march()}, DefaultPolicy())
	require.True(t, empty.CollectionEfficiency.IsZero())
}

func TestRiskAdjustBuckets(t *testing.T) {
	in := Inputs{
		Window:              march(),
		CashFromSettlements: d("10000"),
		Expenses:            d("1000"),
		OpenInvoices: []OpenInvoice{
			{InvoiceID: 1, InvoiceDate: date(2025, time.December, 1), Balance: d("2000")},
			{InvoiceID: 2, InvoiceDate: date(2026, time.January, 31), Balance: d("1000")},
			{InvoiceID: 3, InvoiceDate: date(2026, time.February, 15), Balance: d("500")},
			{InvoiceID: 4, InvoiceDate: date(2026, time.March, 1), Balance: d("800")},
		},
	}

	report := RiskAdjust(in, DefaultPolicy())
	requireDec(t, "2000", report.HighRisk)
	requireDec(t, "1500", report.MediumRisk)
	requireDec(t, "800", report.LowRisk)
	requireDec(t, "1300", report.RiskDiscount)
	requireDec(t, "100", report.ExpenseReserve)
	requireDec(t, "9000", report.RealizedProfit)
	requireDec(t, "7600", report.SafeToSpend)
}

func TestRiskBucketBoundaries(t *testing.T) {
	end := march().End
	in := Inputs{
		Window: march(),
		OpenInvoices: []OpenInvoice{
			{InvoiceID: 1, InvoiceDate: end.AddDate(0, 0, -30), Balance: d("1")},
			{InvoiceID: 2, InvoiceDate: end.AddDate(0, 0, -31), Balance: d("10")},
			{InvoiceID: 3, InvoiceDate: end.AddDate(0, 0, -90), Balance: d("100")},
			{InvoiceID: 4, InvoiceDate: end.AddDate(0, 0, -91), Balance: d("1000")},
		},
	}

	report := RiskAdjust(in, DefaultPolicy())
	requireDec(t, "1", report.LowRisk)
	requireDec(t, "110", report.MediumRisk)
	requireDec(t, "1000", report.HighRisk)
}

func TestWindowFor(t *testing.T) {
	anchor := time.Date(2026, time.March, 12, 15, 0, 0, 0, time.UTC)

	w, err := WindowFor(PeriodWeekly, anchor)
	require.NoError(t, err)
	require.Equal(t, date(2026, time.March, 9), w.Start)
	require.Equal(t, date(2026, time.March, 15), w.End)

	w, err = WindowFor(PeriodMonthly, anchor)
	require.NoError(t, err)
	require.Equal(t, march(), w)

	w, err = WindowFor(PeriodYearly, anchor)
	require.NoError(t, err)
	require.Equal(t, date(2026, time.December, 31), w.End)

	_, err = WindowFor(PeriodType("hourly"), anchor)
	require.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	bad := DefaultPolicy()
	bad.HighRiskHaircut = d("1.5")
	require.Error(t, bad.Validate())
}
