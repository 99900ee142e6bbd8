package commission

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Basis is the amount a commission rate is applied to.
type Basis string

const (
	BasisCashCollected Basis = "cash_collected"
	BasisTotalSales    Basis = "total_sales"
	BasisProfitMargin  Basis = "profit_margin"
)

// IsValid reports whether b is a known basis.
func (b Basis) IsValid() bool {
	switch b {
	case BasisCashCollected, BasisTotalSales, BasisProfitMargin:
		return true
	default:
		return false
	}
}

// Status is the payout lifecycle of a commission.
type Status string

const (
	StatusCalculated Status = "calculated"
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusCancelled  Status = "cancelled"
)

// Recomputable reports whether the amount may still follow the invoice.
func (s Status) Recomputable() bool {
	return s == StatusCalculated || s == StatusPending
}

// Commission is the payout owed to a salesman for one invoice.
type Commission struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoice_id"`
	SalesmanID       int64           `json:"salesman_id"`
	Rate             decimal.Decimal `json:"rate"`
	Basis            Basis           `json:"basis"`
	BasisAmount      decimal.Decimal `json:"basis_amount"`
	Amount           decimal.Decimal `json:"amount"`
	Status           Status          `json:"status"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SalesmanTotals aggregates commissions per salesman for the dashboard.
type SalesmanTotals struct {
	SalesmanID   int64           `json:"salesman_id"`
	SalesmanName string          `json:"salesman_name"`
	PendingTotal decimal.Decimal `json:"pending_total"`
	PaidTotal    decimal.Decimal `json:"paid_total"`
	Count        int             `json:"count"`
}

// Dashboard is the outbound commission overview.
type Dashboard struct {
	PendingTotal decimal.Decimal  `json:"pending_total"`
	PaidTotal    decimal.Decimal  `json:"paid_total"`
	PerSalesman  []SalesmanTotals `json:"per_salesman"`
}

// PayInput marks a commission paid.
type PayInput struct {
	CommissionID     int64
	PaidAt           time.Time
	PaymentReference string
	ActorID          int64
}

var (
	// ErrNotFound indicates a missing commission.
	ErrNotFound = errors.New("commission: not found")
	// ErrLocked indicates the commission is paid or cancelled.
	ErrLocked = errors.New("commission: paid or cancelled commissions are immutable")
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("commission: invalid status transition")
)
