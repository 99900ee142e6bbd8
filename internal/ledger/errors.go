package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientStock is wrapped by InsufficientStockError.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrExpiredOrInactiveBatch is wrapped by ExpiredOrInactiveBatchError.
	ErrExpiredOrInactiveBatch = errors.New("ledger: stock held on expired or inactive batch")
	// ErrSettlementAlreadyExists guards against settling a salesman twice on one day.
	ErrSettlementAlreadyExists = errors.New("ledger: settlement already exists")
	// ErrNegativeQuantityInvariant means a counter left its valid range. It
	// indicates a concurrency bug and is never clamped.
	ErrNegativeQuantityInvariant = errors.New("ledger: negative quantity invariant violated")
	// ErrNotFound indicates a missing ledger row.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidState indicates the row cannot take the requested transition.
	ErrInvalidState = errors.New("ledger: invalid state transition")
	// ErrDuplicateBatch indicates the batch number is taken.
	ErrDuplicateBatch = errors.New("ledger: batch number already registered")
)

// InsufficientStockError reports a reservation the salesman's sellable
// assignments cannot cover.
type InsufficientStockError struct {
	SalesmanID int64
	ProductID  int64
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for salesman %d product %d: available %s, requested %s",
		e.SalesmanID, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ExpiredOrInactiveBatchError reports that enough stock exists only when
// expired or deactivated batches are counted.
type ExpiredOrInactiveBatchError struct {
	SalesmanID int64
	ProductID  int64
	Available  decimal.Decimal
	Stale      decimal.Decimal
	Requested  decimal.Decimal
	BatchIDs   []int64
}

func (e *ExpiredOrInactiveBatchError) Error() string {
	return fmt.Sprintf("ledger: salesman %d product %d: %s sellable, %s held on expired or inactive batches %v, requested %s",
		e.SalesmanID, e.ProductID, e.Available, e.Stale, e.BatchIDs, e.Requested)
}

func (e *ExpiredOrInactiveBatchError) Unwrap() error { return ErrExpiredOrInactiveBatch }
