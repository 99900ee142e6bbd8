package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates quantity-affecting events.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementAllocation MovementType = "allocation"
	MovementSale       MovementType = "sale"
	MovementReturn     MovementType = "return"
	MovementAdjustment MovementType = "adjustment"
	MovementDamage     MovementType = "damage"
)

// IsValid reports whether t is a known movement type.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementPurchase, MovementAllocation, MovementSale, MovementReturn, MovementAdjustment, MovementDamage:
		return true
	default:
		return false
	}
}

// StockPool identifies whose stock a movement changes.
type StockPool string

const (
	// PoolOwner is the batch remainder held by the owner.
	PoolOwner StockPool = "owner"
	// PoolSalesman is stock a salesman carries through assignments.
	PoolSalesman StockPool = "salesman"
)

// AssignmentStatus tracks the lifecycle of an assignment.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentDelivered AssignmentStatus = "delivered"
	AssignmentPartial   AssignmentStatus = "partial"
	AssignmentReturned  AssignmentStatus = "returned"
)

// Sellable reports whether consumption may draw from the assignment.
func (s AssignmentStatus) Sellable() bool {
	return s == AssignmentDelivered || s == AssignmentPartial
}

// Batch is a dated production lot of one product.
type Batch struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	BatchNumber       string          `json:"batch_number"`
	ManufacturingDate time.Time       `json:"manufacturing_date"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	InitialQuantity   decimal.Decimal `json:"initial_quantity"`
	CurrentQuantity   decimal.Decimal `json:"current_quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	IsActive          bool            `json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ExpiredAsOf reports whether the batch expired before the day of asOf.
func (b Batch) ExpiredAsOf(asOf time.Time) bool {
	return b.ExpiryDate.Before(startOfDay(asOf))
}

func (b Batch) validate() error {
	if b.CurrentQuantity.IsNegative() || b.CurrentQuantity.GreaterThan(b.InitialQuantity) {
		return fmt.Errorf("%w: batch %d current %s outside [0, %s]", ErrNegativeQuantityInvariant, b.ID, b.CurrentQuantity, b.InitialQuantity)
	}
	return nil
}

// Assignment is the portion of one batch handed to one salesman. The batch
// columns are denormalised from the join used for FIFO ordering and valuation.
type Assignment struct {
	ID                int64            `json:"id"`
	BatchID           int64            `json:"batch_id"`
	SalesmanID        int64            `json:"salesman_id"`
	ProductID         int64            `json:"product_id"`
	DeliveredQuantity decimal.Decimal  `json:"delivered_quantity"`
	SoldQuantity      decimal.Decimal  `json:"sold_quantity"`
	ReturnedQuantity  decimal.Decimal  `json:"returned_quantity"`
	Status            AssignmentStatus `json:"status"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	BatchNumber       string          `json:"batch_number,omitempty"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	ManufacturingDate time.Time       `json:"manufacturing_date"`
	BatchActive       bool            `json:"batch_active"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	BasePrice         decimal.Decimal `json:"base_price"`
}

// Outstanding is stock the salesman holds and has neither sold nor returned.
func (a Assignment) Outstanding() decimal.Decimal {
	return a.DeliveredQuantity.Sub(a.SoldQuantity).Sub(a.ReturnedQuantity)
}

// Stale reports outstanding stock sitting on an expired or inactive batch.
func (a Assignment) Stale(asOf time.Time) bool {
	if !a.Outstanding().IsPositive() {
		return false
	}
	return !a.BatchActive || a.ExpiryDate.Before(startOfDay(asOf))
}

func (a Assignment) validate() error {
	if a.DeliveredQuantity.IsNegative() || a.SoldQuantity.IsNegative() || a.ReturnedQuantity.IsNegative() {
		return fmt.Errorf("%w: assignment %d has negative counter (delivered=%s sold=%s returned=%s)",
			ErrNegativeQuantityInvariant, a.ID, a.DeliveredQuantity, a.SoldQuantity, a.ReturnedQuantity)
	}
	if a.Outstanding().IsNegative() {
		return fmt.Errorf("%w: assignment %d outstanding %s", ErrNegativeQuantityInvariant, a.ID, a.Outstanding())
	}
	return nil
}

// refreshStatus derives the status from the counters once the assignment has
// been handed over.
func (a *Assignment) refreshStatus() {
	if a.Status == AssignmentPending {
		return
	}
	switch {
	case !a.Outstanding().IsPositive():
		a.Status = AssignmentReturned
	case a.SoldQuantity.IsZero() && a.ReturnedQuantity.IsZero():
		a.Status = AssignmentDelivered
	default:
		a.Status = AssignmentPartial
	}
}

// StockMovement is an immutable audit row for one quantity change.
type StockMovement struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	BatchID       int64           `json:"batch_id"`
	AssignmentID  int64           `json:"assignment_id,omitempty"`
	SalesmanID    int64           `json:"salesman_id,omitempty"`
	Type          MovementType    `json:"movement_type"`
	Pool          StockPool       `json:"pool"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	Reference     string          `json:"reference"`
	Note          string          `json:"note,omitempty"`
	ActorID       int64           `json:"actor_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MovementFilter narrows movement log queries.
type MovementFilter struct {
	ProductID    int64
	SalesmanID   int64
	BatchID      int64
	AssignmentID int64
	From         time.Time
	To           time.Time
	Limit        int
}

// InvoiceStatus is the lifecycle of a customer invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoicePending   InvoiceStatus = "pending"
	InvoiceDelivered InvoiceStatus = "delivered"
	InvoiceSettled   InvoiceStatus = "settled"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Consumes reports whether lines of an invoice in this status hold stock.
func (s InvoiceStatus) Consumes() bool {
	return s == InvoicePending || s == InvoiceDelivered || s == InvoiceSettled
}

// Invoice is a salesman's sale to a shop.
type Invoice struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	SalesmanID    int64           `json:"salesman_id"`
	ShopID        int64           `json:"shop_id"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Status        InvoiceStatus   `json:"status"`
	NetTotal      decimal.Decimal `json:"net_total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	SettlementID  *int64          `json:"settlement_id,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []InvoiceItem   `json:"items,omitempty"`
	Lines         []InvoiceLine   `json:"lines,omitempty"`
}

// BalanceDue is the uncollected part of the invoice.
func (inv Invoice) BalanceDue() decimal.Decimal {
	return inv.NetTotal.Sub(inv.PaidAmount)
}

// InvoiceItem is a requested product quantity on an invoice. Drafts only hold
// items; InvoiceLine rows appear once the invoice leaves draft.
type InvoiceItem struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total is quantity × unit price.
func (it InvoiceItem) Total() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice)
}

// InvoiceLine is the part of an item drawn from one assignment.
type InvoiceLine struct {
	ID           int64           `json:"id"`
	InvoiceID    int64           `json:"invoice_id"`
	ItemID       int64           `json:"item_id"`
	ProductID    int64           `json:"product_id"`
	AssignmentID int64           `json:"assignment_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SettlementRecord snapshots a salesman's totals at settlement time.
type SettlementRecord struct {
	ID              int64           `json:"id"`
	Reference       string          `json:"reference"`
	SalesmanID      int64           `json:"salesman_id"`
	SettlementDate  time.Time       `json:"settlement_date"`
	TotalDelivered  decimal.Decimal `json:"total_delivered"`
	TotalSold       decimal.Decimal `json:"total_sold"`
	TotalReturned   decimal.Decimal `json:"total_returned"`
	ReturnedNow     decimal.Decimal `json:"returned_now"`
	TotalValue      decimal.Decimal `json:"total_value"`
	ReturnedValue   decimal.Decimal `json:"returned_value"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	InvoicesSettled int             `json:"invoices_settled"`
	Notes           string          `json:"notes,omitempty"`
	SettledBy       int64           `json:"settled_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SalesmanStock is the per-product view a salesman sees of the stock they
// carry. It is derived from assignments, never stored.
type SalesmanStock struct {
	SalesmanID  int64           `json:"salesman_id"`
	ProductID   int64           `json:"product_id"`
	Delivered   decimal.Decimal `json:"delivered"`
	Sold        decimal.Decimal `json:"sold"`
	Returned    decimal.Decimal `json:"returned"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Sellable    decimal.Decimal `json:"sellable"`
}

// AssignmentReplay is an assignment's history rebuilt from the movement log.
type AssignmentReplay struct {
	AssignmentID int64           `json:"assignment_id"`
	Delivered    decimal.Decimal `json:"delivered"`
	Sold         decimal.Decimal `json:"sold"`
	Returned     decimal.Decimal `json:"returned"`
	Consistent   bool            `json:"consistent"`
	Movements    []StockMovement `json:"movements"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
