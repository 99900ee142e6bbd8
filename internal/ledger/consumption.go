package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// ItemInput is a requested product quantity on an invoice.
type ItemInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

func (in ItemInput) validate() error {
	if in.ProductID <= 0 {
		return shared.NewValidationError("product_id", "is required")
	}
	if !in.Quantity.IsPositive() {
		return shared.NewValidationError("quantity", "must be positive")
	}
	if in.UnitPrice.IsNegative() {
		return shared.NewValidationError("unit_price", "must be >= 0")
	}
	return nil
}

// CreateInvoiceInput opens a draft invoice.
type CreateInvoiceInput struct {
	SalesmanID  int64
	ShopID      int64
	InvoiceDate time.Time
	Items       []ItemInput
	ActorID     int64
}

// CreateInvoice stores a draft. Drafts hold requested items only and never
// touch assignments.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if err := input.validate(); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = s.insertDraft(ctx, tx, input)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

// CreateAndFinalizeInvoice stores and finalizes an invoice in one
// transaction. A shortage leaves no invoice behind.
func (s *Service) CreateAndFinalizeInvoice(ctx context.Context, input CreateInvoiceInput, asOf time.Time) (Invoice, error) {
	if err := input.validate(); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		draft, err := s.insertDraft(ctx, tx, input)
		if err != nil {
			return err
		}
		out, err = s.finalizeTx(ctx, tx, draft.ID, asOf, input.ActorID)
		return err
	})
	s.observe("finalize_invoice", err)
	if err != nil {
		return Invoice{}, err
	}
	s.afterFinalize(ctx, out, input.ActorID)
	return out, nil
}

func (in CreateInvoiceInput) validate() error {
	if in.SalesmanID <= 0 {
		return shared.NewValidationError("salesman_id", "is required")
	}
	if in.ShopID <= 0 {
		return shared.NewValidationError("shop_id", "is required")
	}
	for _, item := range in.Items {
		if err := item.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) insertDraft(ctx context.Context, tx TxRepository, input CreateInvoiceInput) (Invoice, error) {
	date := input.InvoiceDate
	if date.IsZero() {
		date = s.now()
	}
	inv := Invoice{
		InvoiceNumber: newReference("INV"),
		SalesmanID:    input.SalesmanID,
		ShopID:        input.ShopID,
		InvoiceDate:   startOfDay(date),
		Status:        InvoiceDraft,
		NetTotal:      decimal.Zero,
		PaidAmount:    decimal.Zero,
		CreatedBy:     input.ActorID,
	}
	id, err := tx.InsertInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	inv.ID = id
	for _, in := range input.Items {
		item := InvoiceItem{InvoiceID: id, ProductID: in.ProductID, Quantity: in.Quantity, UnitPrice: in.UnitPrice}
		itemID, err := tx.InsertInvoiceItem(ctx, item)
		if err != nil {
			return Invoice{}, err
		}
		item.ID = itemID
		inv.Items = append(inv.Items, item)
		inv.NetTotal = inv.NetTotal.Add(item.Total())
	}
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// FinalizeInvoice moves a draft to pending, consumes stock for every item and
// creates the invoice commission. Any shortage aborts the whole invoice.
func (s *Service) FinalizeInvoice(ctx context.Context, invoiceID, actorID int64, asOf time.Time) (Invoice, error) {
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = s.finalizeTx(ctx, tx, invoiceID, asOf, actorID)
		return err
	})
	s.observe("finalize_invoice", err)
	if err != nil {
		return Invoice{}, err
	}
	s.afterFinalize(ctx, out, actorID)
	return out, nil
}

func (s *Service) finalizeTx(ctx context.Context, tx TxRepository, invoiceID int64, asOf time.Time, actorID int64) (Invoice, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != InvoiceDraft {
		return Invoice{}, fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
	}
	items, err := tx.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	if len(items) == 0 {
		return Invoice{}, shared.NewValidationError("items", "invoice has no items")
	}
	inv.Status = InvoicePending
	for _, item := range items {
		lines, err := s.consume(ctx, tx, inv, item, item.Quantity, asOf, actorID)
		if err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, lines...)
	}
	inv.Items = items
	inv.NetTotal = sumItems(items)
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return Invoice{}, err
	}
	if err := s.syncCommission(ctx, tx, inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *Service) afterFinalize(ctx context.Context, inv Invoice, actorID int64) {
	s.logger.Info("invoice finalized", slog.Int64("invoice_id", inv.ID), slog.String("net_total", inv.NetTotal.String()))
	s.record(ctx, actorID, "ledger:invoice_finalize", "invoice", inv.ID, map[string]any{"lines": len(inv.Lines)})
}

// CommitLineInput adds a product to an invoice.
type CommitLineInput struct {
	InvoiceID int64
	Item      ItemInput
	AsOf      time.Time
	ActorID   int64
}

// CommitLine is the entry point for invoice management when a line is
// written. On a draft it only records the request; otherwise the quantity is
// reserved FIFO and consumed in the same transaction.
func (s *Service) CommitLine(ctx context.Context, input CommitLineInput) (InvoiceItem, []InvoiceLine, error) {
	if err := input.Item.validate(); err != nil {
		return InvoiceItem{}, nil, err
	}
	var (
		item  InvoiceItem
		lines []InvoiceLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft && inv.Status != InvoicePending && inv.Status != InvoiceDelivered {
			return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		item = InvoiceItem{InvoiceID: inv.ID, ProductID: input.Item.ProductID, Quantity: input.Item.Quantity, UnitPrice: input.Item.UnitPrice}
		id, err := tx.InsertInvoiceItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		if inv.Status.Consumes() {
			lines, err = s.consume(ctx, tx, inv, item, item.Quantity, input.AsOf, input.ActorID)
			if err != nil {
				return err
			}
		}
		return s.retotal(ctx, tx, inv)
	})
	s.observe("commit_line", err)
	if err != nil {
		return InvoiceItem{}, nil, err
	}
	return item, lines, nil
}

// OnInvoiceLineCommitted consumes quantity for an invoice line written by the
// invoice workflow.
func (s *Service) OnInvoiceLineCommitted(ctx context.Context, invoiceID, productID, salesmanID int64, quantity, unitPrice decimal.Decimal, asOf time.Time, actorID int64) ([]InvoiceLine, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.SalesmanID != salesmanID {
		return nil, shared.NewValidationError("salesman_id", "does not own invoice %d", invoiceID)
	}
	_, lines, err := s.CommitLine(ctx, CommitLineInput{
		InvoiceID: invoiceID,
		Item:      ItemInput{ProductID: productID, Quantity: quantity, UnitPrice: unitPrice},
		AsOf:      asOf,
		ActorID:   actorID,
	})
	return lines, err
}

// ResizeItem changes the requested quantity of an item. Growth runs a fresh
// FIFO reservation for the difference; shrinkage reverses the newest lines
// first.
func (s *Service) ResizeItem(ctx context.Context, itemID int64, quantity decimal.Decimal, asOf time.Time, actorID int64) (InvoiceItem, error) {
	if !quantity.IsPositive() {
		return InvoiceItem{}, shared.NewValidationError("quantity", "must be positive; remove the item instead")
	}
	var out InvoiceItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetInvoiceItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, item.InvoiceID)
		if err != nil {
			return err
		}
		if err := editable(inv); err != nil {
			return err
		}
		delta := quantity.Sub(item.Quantity)
		if inv.Status.Consumes() {
			switch {
			case delta.IsPositive():
				if _, err := s.consume(ctx, tx, inv, item, delta, asOf, actorID); err != nil {
					return err
				}
			case delta.IsNegative():
				if err := s.reverseItem(ctx, tx, inv, item, delta.Neg(), actorID); err != nil {
					return err
				}
			}
		}
		item.Quantity = quantity
		if err := tx.UpdateInvoiceItem(ctx, item); err != nil {
			return err
		}
		out = item
		return s.retotal(ctx, tx, inv)
	})
	s.observe("resize_item", err)
	if err != nil {
		return InvoiceItem{}, err
	}
	return out, nil
}

// RemoveItem deletes an item and fully reverses its consumption.
func (s *Service) RemoveItem(ctx context.Context, itemID, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetInvoiceItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, item.InvoiceID)
		if err != nil {
			return err
		}
		if err := editable(inv); err != nil {
			return err
		}
		if inv.Status.Consumes() {
			if err := s.reverseItem(ctx, tx, inv, item, item.Quantity, actorID); err != nil {
				return err
			}
		}
		if err := tx.DeleteInvoiceItem(ctx, item.ID); err != nil {
			return err
		}
		return s.retotal(ctx, tx, inv)
	})
}

// OnInvoiceLineRemoved reverses one consumption line and shrinks its item.
func (s *Service) OnInvoiceLineRemoved(ctx context.Context, lineID, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetInvoiceLineForUpdate(ctx, lineID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, line.InvoiceID)
		if err != nil {
			return err
		}
		if err := editable(inv); err != nil {
			return err
		}
		item, err := tx.GetInvoiceItemForUpdate(ctx, line.ItemID)
		if err != nil {
			return err
		}
		if err := s.reverseLine(ctx, tx, inv, line, line.Quantity, actorID); err != nil {
			return err
		}
		item.Quantity = item.Quantity.Sub(line.Quantity)
		if item.Quantity.IsPositive() {
			err = tx.UpdateInvoiceItem(ctx, item)
		} else {
			err = tx.DeleteInvoiceItem(ctx, item.ID)
		}
		if err != nil {
			return err
		}
		return s.retotal(ctx, tx, inv)
	})
}

// RecordPayment books cash received against an invoice.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, actorID int64) (Invoice, error) {
	if !amount.IsPositive() {
		return Invoice{}, shared.NewValidationError("amount", "must be positive")
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		// Settlement totals are final; settled invoices take no further cash.
		if inv.Status != InvoicePending && inv.Status != InvoiceDelivered {
			return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		if amount.GreaterThan(inv.BalanceDue()) {
			return shared.NewValidationError("amount", "exceeds balance due %s", inv.BalanceDue())
		}
		inv.PaidAmount = inv.PaidAmount.Add(amount)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if err := s.syncCommission(ctx, tx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	s.observe("record_payment", err)
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "ledger:invoice_payment", "invoice", invoiceID, map[string]any{"amount": amount.String()})
	return out, nil
}

// MarkInvoiceDelivered records that goods reached the shop. Only delivered
// invoices are picked up by settlement.
func (s *Service) MarkInvoiceDelivered(ctx context.Context, invoiceID, actorID int64) (Invoice, error) {
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoicePending {
			return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		inv.Status = InvoiceDelivered
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "ledger:invoice_delivered", "invoice", invoiceID, nil)
	return out, nil
}

// CancelInvoice voids an unsettled invoice, returning every consumed unit to
// its assignment. An unpaid commission is cancelled with it; a paid one needs
// an explicit reversal.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID, actorID int64, reason string) (Invoice, error) {
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := editable(inv); err != nil {
			return err
		}
		if inv.Status.Consumes() {
			items, err := tx.ListInvoiceItems(ctx, inv.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := s.reverseItem(ctx, tx, inv, item, item.Quantity, actorID); err != nil {
					return err
				}
			}
		}
		inv.Status = InvoiceCancelled
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		c, err := tx.GetCommissionByInvoiceForUpdate(ctx, inv.ID)
		switch {
		case errors.Is(err, commission.ErrNotFound):
		case err != nil:
			return err
		case c.Status.Recomputable():
			c.Status = commission.StatusCancelled
			c.Note = reason
			if err := tx.UpdateCommission(ctx, c); err != nil {
				return err
			}
		default:
			s.logger.Warn("cancelled invoice keeps paid commission", slog.Int64("invoice_id", inv.ID), slog.Int64("commission_id", c.ID))
		}
		out = inv
		return nil
	})
	s.observe("cancel_invoice", err)
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, actorID, "ledger:invoice_cancel", "invoice", invoiceID, map[string]any{"reason": reason})
	return out, nil
}

func editable(inv Invoice) error {
	switch inv.Status {
	case InvoiceDraft, InvoicePending, InvoiceDelivered:
		return nil
	default:
		return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
	}
}

// consume reserves quantity for item and commits one line per assignment.
func (s *Service) consume(ctx context.Context, tx TxRepository, inv Invoice, item InvoiceItem, quantity decimal.Decimal, asOf time.Time, actorID int64) ([]InvoiceLine, error) {
	if asOf.IsZero() {
		asOf = inv.InvoiceDate
	}
	picks, candidates, err := s.reserveTx(ctx, tx, ReserveInput{
		SalesmanID: inv.SalesmanID,
		ProductID:  item.ProductID,
		Quantity:   quantity,
		AsOf:       asOf,
	})
	if err != nil {
		return nil, err
	}
	lines := make([]InvoiceLine, 0, len(picks))
	for _, pick := range picks {
		a := candidates[pick.AssignmentID]
		a.SoldQuantity = a.SoldQuantity.Add(pick.Quantity)
		a.refreshStatus()
		if err := a.validate(); err != nil {
			return nil, err
		}
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return nil, err
		}
		candidates[a.ID] = a
		line := InvoiceLine{
			InvoiceID:    inv.ID,
			ItemID:       item.ID,
			ProductID:    item.ProductID,
			AssignmentID: a.ID,
			Quantity:     pick.Quantity,
			UnitPrice:    item.UnitPrice,
		}
		id, err := tx.InsertInvoiceLine(ctx, line)
		if err != nil {
			return nil, err
		}
		line.ID = id
		if _, err := tx.InsertMovement(ctx, StockMovement{
			ProductID:     a.ProductID,
			BatchID:       a.BatchID,
			AssignmentID:  a.ID,
			SalesmanID:    a.SalesmanID,
			Type:          MovementSale,
			Pool:          PoolSalesman,
			QuantityDelta: pick.Quantity.Neg(),
			Reference:     inv.InvoiceNumber,
			ActorID:       actorID,
		}); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// reverseItem gives back quantity of item, newest line first.
func (s *Service) reverseItem(ctx context.Context, tx TxRepository, inv Invoice, item InvoiceItem, quantity decimal.Decimal, actorID int64) error {
	lines, err := tx.ListItemLinesForUpdate(ctx, item.ID)
	if err != nil {
		return err
	}
	remaining := quantity
	for i := len(lines) - 1; i >= 0 && remaining.IsPositive(); i-- {
		take := decimal.Min(lines[i].Quantity, remaining)
		if err := s.reverseLine(ctx, tx, inv, lines[i], take, actorID); err != nil {
			return err
		}
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return fmt.Errorf("%w: item %d has %s unconsumed quantity to reverse", ErrNegativeQuantityInvariant, item.ID, remaining)
	}
	return nil
}

// reverseLine returns quantity of one line to its assignment.
func (s *Service) reverseLine(ctx context.Context, tx TxRepository, inv Invoice, line InvoiceLine, quantity decimal.Decimal, actorID int64) error {
	a, err := tx.GetAssignmentForUpdate(ctx, line.AssignmentID)
	if err != nil {
		return err
	}
	a.SoldQuantity = a.SoldQuantity.Sub(quantity)
	a.refreshStatus()
	if err := a.validate(); err != nil {
		return err
	}
	if err := tx.UpdateAssignment(ctx, a); err != nil {
		return err
	}
	if _, err := tx.InsertMovement(ctx, StockMovement{
		ProductID:     a.ProductID,
		BatchID:       a.BatchID,
		AssignmentID:  a.ID,
		SalesmanID:    a.SalesmanID,
		Type:          MovementReturn,
		Pool:          PoolSalesman,
		QuantityDelta: quantity,
		Reference:     inv.InvoiceNumber,
		Note:          fmt.Sprintf("reverse line %d", line.ID),
		ActorID:       actorID,
	}); err != nil {
		return err
	}
	line.Quantity = line.Quantity.Sub(quantity)
	if line.Quantity.IsPositive() {
		return tx.UpdateInvoiceLine(ctx, line)
	}
	return tx.DeleteInvoiceLine(ctx, line.ID)
}

// retotal recomputes net total from items and keeps the commission in step.
func (s *Service) retotal(ctx context.Context, tx TxRepository, inv Invoice) error {
	items, err := tx.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		return err
	}
	inv.NetTotal = sumItems(items)
	if inv.PaidAmount.GreaterThan(inv.NetTotal) {
		return shared.NewValidationError("net_total", "would drop below paid amount %s", inv.PaidAmount)
	}
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return err
	}
	return s.syncCommission(ctx, tx, inv)
}

// syncCommission creates the invoice commission once the invoice carries a
// non-zero total outside draft and recomputes it while still unpaid.
func (s *Service) syncCommission(ctx context.Context, tx TxRepository, inv Invoice) error {
	if !inv.Status.Consumes() {
		return nil
	}
	c, err := tx.GetCommissionByInvoiceForUpdate(ctx, inv.ID)
	switch {
	case errors.Is(err, commission.ErrNotFound):
		if !inv.NetTotal.IsPositive() {
			return nil
		}
		rate, ok, err := tx.SalesmanCommissionRate(ctx, inv.SalesmanID)
		if err != nil {
			return err
		}
		basis := s.commission.InvoiceBasis
		amount, err := s.commission.Calculate(commissionBase(inv, basis), s.commission.RateOrDefault(rate, ok), basis)
		if err != nil {
			return err
		}
		_, err = tx.InsertCommission(ctx, commission.Commission{
			InvoiceID:   inv.ID,
			SalesmanID:  inv.SalesmanID,
			Rate:        s.commission.RateOrDefault(rate, ok),
			Basis:       basis,
			BasisAmount: commissionBase(inv, basis),
			Amount:      amount,
			Status:      commission.StatusCalculated,
		})
		return err
	case err != nil:
		return err
	}
	if !c.Status.Recomputable() {
		return nil
	}
	if err := s.commission.Recompute(&c, commissionBase(inv, c.Basis)); err != nil {
		return err
	}
	return tx.UpdateCommission(ctx, c)
}

func commissionBase(inv Invoice, basis commission.Basis) decimal.Decimal {
	if basis == commission.BasisCashCollected {
		return inv.PaidAmount
	}
	return inv.NetTotal
}

func sumItems(items []InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total())
	}
	return total
}
