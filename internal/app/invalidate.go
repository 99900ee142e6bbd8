package app

import "context"

// Invalidator drops derived state after the ledger changed.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Invalidators fans one notification out to every member. Nil members are
// skipped.
type Invalidators []Invalidator

// Invalidate notifies each member in order.
func (s Invalidators) Invalidate(ctx context.Context) {
	for _, inv := range s {
		if inv != nil {
			inv.Invalidate(ctx)
		}
	}
}
