package profit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the tunables of the profit computation.
type Policy struct {
	// DefaultCommissionRate (percent) estimates commission on open invoices
	// that have no commission row yet.
	DefaultCommissionRate decimal.Decimal
	// HighRiskHaircut applies to balances older than 90 days.
	HighRiskHaircut decimal.Decimal
	// MediumRiskHaircut applies to balances aged 31 to 90 days.
	MediumRiskHaircut decimal.Decimal
	// ExpenseReserve is the fraction of window expenses held back.
	ExpenseReserve decimal.Decimal
}

// DefaultPolicy returns 5% estimate rate, 50%/20% haircuts and a 10% reserve.
func DefaultPolicy() Policy {
	return Policy{
		DefaultCommissionRate: decimal.NewFromInt(5),
		HighRiskHaircut:       decimal.RequireFromString("0.5"),
		MediumRiskHaircut:     decimal.RequireFromString("0.2"),
		ExpenseReserve:        decimal.RequireFromString("0.1"),
	}
}

// Validate checks policy ranges.
func (p Policy) Validate() error {
	if p.DefaultCommissionRate.IsNegative() || p.DefaultCommissionRate.GreaterThan(hundred) {
		return shared.NewValidationError("default_commission_rate", "must be within 0..100")
	}
	one := decimal.NewFromInt(1)
	for field, v := range map[string]decimal.Decimal{
		"high_risk_haircut":   p.HighRiskHaircut,
		"medium_risk_haircut": p.MediumRiskHaircut,
		"expense_reserve":     p.ExpenseReserve,
	} {
		if v.IsNegative() || v.GreaterThan(one) {
			return shared.NewValidationError(field, "must be within 0..1")
		}
	}
	return nil
}

// Compute derives the summary figures from inputs. It has no side effects.
func Compute(in Inputs, policy Policy) Summary {
	windowOutstanding := decimal.Zero
	estimated := decimal.Zero
	totalOutstanding := decimal.Zero
	for _, inv := range in.OpenInvoices {
		totalOutstanding = totalOutstanding.Add(inv.Balance)
		if !in.Window.Contains(inv.InvoiceDate) {
			continue
		}
		windowOutstanding = windowOutstanding.Add(inv.Balance)
		rate := policy.DefaultCommissionRate
		if inv.CommissionRate != nil {
			rate = *inv.CommissionRate
		}
		estimated = estimated.Add(inv.Balance.Mul(rate).Div(hundred))
	}
	estimated = estimated.Round(2)

	realized := RealizedProfit(in.CashFromSettlements, in.PaidCommissionsOnSettled, in.Expenses, in.AdditionalIncome)

	efficiency := decimal.Zero
	if in.InvoiceCount > 0 {
		efficiency = decimal.NewFromInt(int64(in.SettledInvoiceCount)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(in.InvoiceCount))).
			Round(2)
	}

	return Summary{
		StartDate:            in.Window.Start,
		EndDate:              in.Window.End,
		TotalInvoices:        in.InvoiceCount,
		TotalInvoiceAmount:   in.InvoiceTotal,
		SettledInvoices:      in.SettledInvoiceCount,
		SettlementCount:      in.SettlementCount,
		CashFromSettlements:  in.CashFromSettlements,
		TotalCommissions:     in.TotalCommissions,
		PaidCommissions:      in.PaidCommissions,
		AdditionalIncome:     in.AdditionalIncome,
		Expenses:             in.Expenses,
		OutstandingBalance:   windowOutstanding,
		EstimatedCommission:  estimated,
		TotalOutstanding:     totalOutstanding,
		RealizedProfit:       realized,
		UnrealizedProfit:     windowOutstanding.Sub(estimated),
		SpendableProfit:      realized.Sub(totalOutstanding),
		CollectionEfficiency: efficiency,
	}
}

// RealizedProfit is cash from settlements less paid commissions on settled
// invoices and expenses, plus additional income.
func RealizedProfit(cash, paidCommissions, expenses, income decimal.Decimal) decimal.Decimal {
	return cash.Sub(paidCommissions).Sub(expenses).Add(income)
}

// Risk buckets, in days since invoice date.
const (
	mediumRiskAfterDays = 30
	highRiskAfterDays   = 90
)

// RiskAdjust buckets every open balance by age at the window end, discounts
// the older buckets by the policy haircuts and reserves part of the window's
// expenses.
func RiskAdjust(in Inputs, policy Policy) RiskReport {
	report := RiskReport{
		StartDate:  in.Window.Start,
		EndDate:    in.Window.End,
		HighRisk:   decimal.Zero,
		MediumRisk: decimal.Zero,
		LowRisk:    decimal.Zero,
	}
	for _, inv := range in.OpenInvoices {
		switch age := ageInDays(inv.InvoiceDate, in.Window.End); {
		case age > highRiskAfterDays:
			report.HighRisk = report.HighRisk.Add(inv.Balance)
		case age > mediumRiskAfterDays:
			report.MediumRisk = report.MediumRisk.Add(inv.Balance)
		default:
			report.LowRisk = report.LowRisk.Add(inv.Balance)
		}
	}
	report.RealizedProfit = RealizedProfit(in.CashFromSettlements, in.PaidCommissionsOnSettled, in.Expenses, in.AdditionalIncome)
	report.RiskDiscount = report.HighRisk.Mul(policy.HighRiskHaircut).
		Add(report.MediumRisk.Mul(policy.MediumRiskHaircut)).
		Round(2)
	report.ExpenseReserve = in.Expenses.Mul(policy.ExpenseReserve).Round(2)
	report.SafeToSpend = report.RealizedProfit.Sub(report.RiskDiscount).Sub(report.ExpenseReserve)
	return report
}

func ageInDays(from, asOf time.Time) int {
	return int(dateOnly(asOf).Sub(dateOnly(from)).Hours() / 24)
}
