package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

func TestCalculateBases(t *testing.T) {
	policy := DefaultPolicy()
	cases := []struct {
		name   string
		amount string
		rate   string
		basis  Basis
		want   string
	}{
		{name: "total sales", amount: "1000", rate: "10", basis: BasisTotalSales, want: "100.00"},
		{name: "cash collected", amount: "2500.50", rate: "4", basis: BasisCashCollected, want: "100.02"},
		{name: "profit margin", amount: "1000", rate: "10", basis: BasisProfitMargin, want: "30.00"},
		{name: "zero rate", amount: "1000", rate: "0", basis: BasisTotalSales, want: "0.00"},
		{name: "rounds half away", amount: "0.10", rate: "5", basis: BasisTotalSales, want: "0.01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := policy.Calculate(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rate), tc.basis)
			require.NoError(t, err)
			require.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestCalculateIsExactDecimal(t *testing.T) {
	got, err := DefaultPolicy().Calculate(decimal.NewFromInt(1000), decimal.NewFromInt(10), BasisTotalSales)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("100.00")))
}

func TestCalculateRejectsBadInput(t *testing.T) {
	policy := DefaultPolicy()

	_, err := policy.Calculate(decimal.NewFromInt(10), decimal.NewFromInt(101), BasisTotalSales)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = policy.Calculate(decimal.NewFromInt(-1), decimal.NewFromInt(5), BasisTotalSales)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = policy.Calculate(decimal.NewFromInt(10), decimal.NewFromInt(5), Basis("gross"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAssumedMarginIsPolicyInput(t *testing.T) {
	policy := DefaultPolicy()
	policy.AssumedMargin = decimal.RequireFromString("0.5")

	got, err := policy.Calculate(decimal.NewFromInt(1000), decimal.NewFromInt(10), BasisProfitMargin)
	require.NoError(t, err)
	require.Equal(t, "50.00", got.StringFixed(2))
}

func TestRateOrDefault(t *testing.T) {
	policy := DefaultPolicy()
	require.True(t, policy.RateOrDefault(decimal.NewFromInt(8), true).Equal(decimal.NewFromInt(8)))
	require.True(t, policy.RateOrDefault(decimal.Zero, true).Equal(decimal.NewFromInt(5)))
	require.True(t, policy.RateOrDefault(decimal.Zero, false).Equal(decimal.NewFromInt(5)))
}

func TestRecomputeLockedOncePaid(t *testing.T) {
	policy := DefaultPolicy()
	c := Commission{ID: 1, Rate: decimal.NewFromInt(10), Basis: BasisTotalSales, Status: StatusPending}

	require.NoError(t, policy.Recompute(&c, decimal.NewFromInt(300)))
	require.Equal(t, "30.00", c.Amount.StringFixed(2))

	c.Status = StatusPaid
	require.ErrorIs(t, policy.Recompute(&c, decimal.NewFromInt(900)), ErrLocked)
	require.Equal(t, "30.00", c.Amount.StringFixed(2))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.AssumedMargin = decimal.NewFromInt(2)
	require.Error(t, bad.Validate())

	bad = DefaultPolicy()
	bad.InvoiceBasis = Basis("net")
	require.Error(t, bad.Validate())
}
