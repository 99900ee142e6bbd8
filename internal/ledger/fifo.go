package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is the quantity taken from one assignment.
type Reservation struct {
	AssignmentID int64           `json:"assignment_id"`
	BatchID      int64           `json:"batch_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// SortFIFO orders assignments by (expiry, manufacturing date, batch id, id).
func SortFIFO(assignments []Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		if !a.ExpiryDate.Equal(b.ExpiryDate) {
			return a.ExpiryDate.Before(b.ExpiryDate)
		}
		if !a.ManufacturingDate.Equal(b.ManufacturingDate) {
			return a.ManufacturingDate.Before(b.ManufacturingDate)
		}
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		return a.ID < b.ID
	})
}

// SelectFIFO walks the candidates earliest-expiring first and takes
// outstanding quantity until requested is covered. Nothing is returned unless
// the full quantity can be reserved.
func SelectFIFO(salesmanID, productID int64, candidates []Assignment, requested decimal.Decimal, asOf time.Time) ([]Reservation, error) {
	ordered := make([]Assignment, len(candidates))
	copy(ordered, candidates)
	SortFIFO(ordered)

	remaining := requested
	available := decimal.Zero
	stale := decimal.Zero
	var staleBatches []int64
	var picks []Reservation
	for _, a := range ordered {
		if !a.Status.Sellable() {
			continue
		}
		out := a.Outstanding()
		if !out.IsPositive() {
			continue
		}
		if a.Stale(asOf) {
			stale = stale.Add(out)
			staleBatches = append(staleBatches, a.BatchID)
			continue
		}
		available = available.Add(out)
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(out, remaining)
		picks = append(picks, Reservation{AssignmentID: a.ID, BatchID: a.BatchID, Quantity: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		if stale.IsPositive() && available.Add(stale).GreaterThanOrEqual(requested) {
			return nil, &ExpiredOrInactiveBatchError{
				SalesmanID: salesmanID,
				ProductID:  productID,
				Available:  available,
				Stale:      stale,
				Requested:  requested,
				BatchIDs:   staleBatches,
			}
		}
		return nil, &InsufficientStockError{SalesmanID: salesmanID, ProductID: productID, Available: available, Requested: requested}
	}
	return picks, nil
}
