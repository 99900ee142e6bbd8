package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// SettleInput requests the end-of-period reconciliation of one salesman.
type SettleInput struct {
	SalesmanID           int64
	Date                 time.Time
	ReturnAllOutstanding bool
	Notes                string
	ActorID              int64
}

// Settle reconciles the salesman's open assignments as of Date. Unsold stock
// goes back to its batch when ReturnAllOutstanding is set, the totals are
// snapshotted and the salesman's delivered invoices up to Date are settled.
// A second run for the same salesman and day fails with
// ErrSettlementAlreadyExists.
func (s *Service) Settle(ctx context.Context, input SettleInput) (SettlementRecord, error) {
	if input.SalesmanID <= 0 {
		return SettlementRecord{}, shared.NewValidationError("salesman_id", "is required")
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	date = startOfDay(date)

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, shared.SettlementLockKey(input.SalesmanID))
		if err != nil {
			return SettlementRecord{}, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("settlement unlock failed", slog.Int64("salesman_id", input.SalesmanID), slog.Any("error", err))
			}
		}()
	}

	var record SettlementRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.SettlementExists(ctx, input.SalesmanID, date)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: salesman %d on %s", ErrSettlementAlreadyExists, input.SalesmanID, date.Format(time.DateOnly))
		}
		assignments, err := tx.LockSalesmanAssignments(ctx, input.SalesmanID)
		if err != nil {
			return err
		}
		record = SettlementRecord{
			Reference:      newReference("STL"),
			SalesmanID:     input.SalesmanID,
			SettlementDate: date,
			TotalDelivered: decimal.Zero,
			TotalSold:      decimal.Zero,
			TotalReturned:  decimal.Zero,
			ReturnedNow:    decimal.Zero,
			TotalValue:     decimal.Zero,
			ReturnedValue:  decimal.Zero,
			TotalAmount:    decimal.Zero,
			Notes:          input.Notes,
			SettledBy:      input.ActorID,
		}
		for _, a := range assignments {
			out := a.Outstanding()
			if input.ReturnAllOutstanding && out.IsPositive() {
				if err := s.returnToBatch(ctx, tx, &a, out, record.Reference, input.ActorID); err != nil {
					return err
				}
				record.ReturnedNow = record.ReturnedNow.Add(out)
				record.ReturnedValue = record.ReturnedValue.Add(out.Mul(s.unitValue(a)))
			}
			record.TotalDelivered = record.TotalDelivered.Add(a.DeliveredQuantity)
			record.TotalSold = record.TotalSold.Add(a.SoldQuantity)
			record.TotalReturned = record.TotalReturned.Add(a.ReturnedQuantity)
			record.TotalValue = record.TotalValue.Add(a.SoldQuantity.Mul(s.unitValue(a)))
		}

		invoices, err := tx.ListSettleableInvoicesForUpdate(ctx, input.SalesmanID, date)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(invoices))
		for _, inv := range invoices {
			ids = append(ids, inv.ID)
			record.TotalAmount = record.TotalAmount.Add(inv.PaidAmount)
		}
		record.InvoicesSettled = len(ids)

		id, err := tx.InsertSettlement(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		if len(ids) > 0 {
			if err := tx.MarkInvoicesSettled(ctx, ids, id); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe("settle", err)
	if err != nil {
		return SettlementRecord{}, err
	}
	s.logger.Info("salesman settled",
		slog.Int64("salesman_id", record.SalesmanID),
		slog.String("reference", record.Reference),
		slog.String("returned", record.ReturnedNow.String()),
		slog.Int("invoices", record.InvoicesSettled),
	)
	s.record(ctx, input.ActorID, "ledger:settle", "settlement", record.ID, map[string]any{
		"salesman_id": record.SalesmanID,
		"date":        date.Format(time.DateOnly),
		"returned":    record.ReturnedNow.String(),
	})
	return record, nil
}

// GetSettlement loads a settlement record.
func (s *Service) GetSettlement(ctx context.Context, id int64) (SettlementRecord, error) {
	return s.repo.GetSettlement(ctx, id)
}

// returnToBatch moves quantity from the assignment back to the owner's batch.
func (s *Service) returnToBatch(ctx context.Context, tx TxRepository, a *Assignment, quantity decimal.Decimal, reference string, actorID int64) error {
	batch, err := tx.GetBatchForUpdate(ctx, a.BatchID)
	if err != nil {
		return err
	}
	batch.CurrentQuantity = batch.CurrentQuantity.Add(quantity)
	if err := batch.validate(); err != nil {
		return err
	}
	if err := tx.UpdateBatch(ctx, batch); err != nil {
		return err
	}
	a.ReturnedQuantity = a.ReturnedQuantity.Add(quantity)
	a.Status = AssignmentReturned
	if err := a.validate(); err != nil {
		return err
	}
	if err := tx.UpdateAssignment(ctx, *a); err != nil {
		return err
	}
	_, err = tx.InsertMovement(ctx, StockMovement{
		ProductID:     a.ProductID,
		BatchID:       a.BatchID,
		AssignmentID:  a.ID,
		SalesmanID:    a.SalesmanID,
		Type:          MovementReturn,
		Pool:          PoolOwner,
		QuantityDelta: quantity,
		Reference:     reference,
		Note:          "settlement return",
		ActorID:       actorID,
	})
	return err
}

func (s *Service) unitValue(a Assignment) decimal.Decimal {
	if s.valuation == ValuationBasePrice {
		return a.BasePrice
	}
	return a.UnitCost
}
