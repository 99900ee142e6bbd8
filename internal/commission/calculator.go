package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Policy carries the commission settings that used to live in a global
// company settings object.
type Policy struct {
	// DefaultRate (percent) applies only when a salesman has no explicit rate.
	DefaultRate decimal.Decimal
	// AssumedMargin is the fraction of sales treated as profit for the
	// profit_margin basis.
	AssumedMargin decimal.Decimal
	// InvoiceBasis is used for commissions created on invoice finalisation.
	InvoiceBasis Basis
}

// DefaultPolicy returns 5% default rate, 30% assumed margin, total_sales basis.
func DefaultPolicy() Policy {
	return Policy{
		DefaultRate:   decimal.NewFromInt(5),
		AssumedMargin: decimal.RequireFromString("0.30"),
		InvoiceBasis:  BasisTotalSales,
	}
}

// Validate checks policy ranges.
func (p Policy) Validate() error {
	if p.DefaultRate.IsNegative() || p.DefaultRate.GreaterThan(hundred) {
		return shared.NewValidationError("default_rate", "must be within 0..100")
	}
	if p.AssumedMargin.IsNegative() || p.AssumedMargin.GreaterThan(decimal.NewFromInt(1)) {
		return shared.NewValidationError("assumed_margin", "must be within 0..1")
	}
	if p.InvoiceBasis != "" && !p.InvoiceBasis.IsValid() {
		return shared.NewValidationError("invoice_basis", "unknown basis %q", p.InvoiceBasis)
	}
	return nil
}

// RateOrDefault returns rate when the salesman has one configured.
func (p Policy) RateOrDefault(rate decimal.Decimal, ok bool) decimal.Decimal {
	if ok && rate.IsPositive() {
		return rate
	}
	return p.DefaultRate
}

// Calculate applies rate (percent) to basisAmount under basis. The result is
// rounded to cents.
func (p Policy) Calculate(basisAmount, rate decimal.Decimal, basis Basis) (decimal.Decimal, error) {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return decimal.Zero, shared.NewValidationError("rate", "must be within 0..100, got %s", rate)
	}
	if basisAmount.IsNegative() {
		return decimal.Zero, shared.NewValidationError("basis_amount", "must not be negative, got %s", basisAmount)
	}
	var base decimal.Decimal
	switch basis {
	case BasisCashCollected, BasisTotalSales:
		base = basisAmount
	case BasisProfitMargin:
		base = basisAmount.Mul(p.AssumedMargin)
	default:
		return decimal.Zero, shared.NewValidationError("basis", "unknown basis %q", basis)
	}
	return base.Mul(rate).Div(hundred).Round(2), nil
}

// Recompute refreshes c for a new basis amount unless it is locked.
func (p Policy) Recompute(c *Commission, basisAmount decimal.Decimal) error {
	if !c.Status.Recomputable() {
		return fmt.Errorf("%w: commission %d is %s", ErrLocked, c.ID, c.Status)
	}
	amount, err := p.Calculate(basisAmount, c.Rate, c.Basis)
	if err != nil {
		return err
	}
	c.BasisAmount = basisAmount
	c.Amount = amount
	return nil
}
