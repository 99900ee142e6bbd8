package profit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// PeriodType labels the granularity of a summary row.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodYearly  PeriodType = "yearly"
)

// IsValid reports whether p is a known period type.
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly:
		return true
	default:
		return false
	}
}

// WindowFor returns the period of type p that contains anchor. Weeks start on
// Monday.
func WindowFor(p PeriodType, anchor time.Time) (Window, error) {
	d := dateOnly(anchor)
	switch p {
	case PeriodDaily:
		return Window{Start: d, End: d}, nil
	case PeriodWeekly:
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 6)}, nil
	case PeriodMonthly:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
		return Window{Start: start, End: start.AddDate(0, 1, -1)}, nil
	case PeriodYearly:
		start := time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, d.Location())
		return Window{Start: start, End: start.AddDate(1, 0, -1)}, nil
	default:
		return Window{}, shared.NewValidationError("period_type", "unknown period %q", p)
	}
}

// Window is an inclusive date range.
type Window struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// Contains reports whether t falls on a day inside the window.
func (w Window) Contains(t time.Time) bool {
	d := dateOnly(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return shared.NewValidationError("start_date", "start and end dates are required")
	}
	if w.End.Before(w.Start) {
		return shared.NewValidationError("end_date", "must not precede start date")
	}
	return nil
}

// OpenInvoice is an invoice with an uncollected balance. CommissionRate is
// set when the invoice already carries a commission.
type OpenInvoice struct {
	InvoiceID      int64            `json:"invoice_id"`
	InvoiceDate    time.Time        `json:"invoice_date"`
	Balance        decimal.Decimal  `json:"balance"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

// Inputs are the ledger aggregates a summary is computed from. Everything is
// scoped to the window except OpenInvoices, which lists every open invoice.
type Inputs struct {
	Window                   Window
	InvoiceCount             int
	InvoiceTotal             decimal.Decimal
	SettledInvoiceCount      int
	SettlementCount          int
	CashFromSettlements      decimal.Decimal
	TotalCommissions         decimal.Decimal
	PaidCommissions          decimal.Decimal
	PaidCommissionsOnSettled decimal.Decimal
	AdditionalIncome         decimal.Decimal
	Expenses                 decimal.Decimal
	OpenInvoices             []OpenInvoice
}

// Summary is the ProfitSummary row. It is a cache of Compute and never the
// source of truth. SpendableProfit subtracts TotalOutstanding, the balance of
// every open invoice regardless of the window, from the window's realized
// profit.
type Summary struct {
	PeriodType           PeriodType      `json:"period_type"`
	StartDate            time.Time       `json:"start_date"`
	EndDate              time.Time       `json:"end_date"`
	TotalInvoices        int             `json:"total_invoices"`
	TotalInvoiceAmount   decimal.Decimal `json:"total_invoice_amount"`
	SettledInvoices      int             `json:"settled_invoices"`
	SettlementCount      int             `json:"settlement_count"`
	CashFromSettlements  decimal.Decimal `json:"cash_from_settlements"`
	TotalCommissions     decimal.Decimal `json:"total_commissions"`
	PaidCommissions      decimal.Decimal `json:"paid_commissions"`
	AdditionalIncome     decimal.Decimal `json:"additional_income"`
	Expenses             decimal.Decimal `json:"expenses"`
	OutstandingBalance   decimal.Decimal `json:"outstanding_balance"`
	EstimatedCommission  decimal.Decimal `json:"estimated_commission"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
	RealizedProfit       decimal.Decimal `json:"realized_profit"`
	UnrealizedProfit     decimal.Decimal `json:"unrealized_profit"`
	SpendableProfit      decimal.Decimal `json:"spendable_profit"`
	CollectionEfficiency decimal.Decimal `json:"collection_efficiency"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// RiskReport is the risk-adjusted safe-to-spend view.
type RiskReport struct {
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	HighRisk       decimal.Decimal `json:"high_risk"`
	MediumRisk     decimal.Decimal `json:"medium_risk"`
	LowRisk        decimal.Decimal `json:"low_risk"`
	RiskDiscount   decimal.Decimal `json:"risk_discount"`
	ExpenseReserve decimal.Decimal `json:"expense_reserve"`
	SafeToSpend    decimal.Decimal `json:"safe_to_spend"`
}

// TransactionType classifies manual cash entries.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// Transaction is a manual income or expense entry.
type Transaction struct {
	ID          int64           `json:"id"`
	Type        TransactionType `json:"transaction_type"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"transaction_date"`
	Description string          `json:"description"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ErrNotFound indicates a missing profit row.
var ErrNotFound = errors.New("profit: not found")

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
