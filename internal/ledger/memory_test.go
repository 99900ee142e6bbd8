package ledger

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/shared"
)

type memState struct {
	batches     map[int64]Batch
	assignments map[int64]Assignment
	movements   []StockMovement
	invoices    map[int64]Invoice
	items       map[int64]InvoiceItem
	lines       map[int64]InvoiceLine
	commissions map[int64]commission.Commission
	settlements map[int64]SettlementRecord
	seq         int64
}

func (s memState) clone() memState {
	return memState{
		batches:     maps.Clone(s.batches),
		assignments: maps.Clone(s.assignments),
		movements:   slices.Clone(s.movements),
		invoices:    maps.Clone(s.invoices),
		items:       maps.Clone(s.items),
		lines:       maps.Clone(s.lines),
		commissions: maps.Clone(s.commissions),
		settlements: maps.Clone(s.settlements),
		seq:         s.seq,
	}
}

type memoryRepo struct {
	state      memState
	basePrices map[int64]decimal.Decimal
	rates      map[int64]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: memState{
			batches:     map[int64]Batch{},
			assignments: map[int64]Assignment{},
			invoices:    map[int64]Invoice{},
			items:       map[int64]InvoiceItem{},
			lines:       map[int64]InvoiceLine{},
			commissions: map[int64]commission.Commission{},
			settlements: map[int64]SettlementRecord{},
		},
		basePrices: map[int64]decimal.Decimal{},
		rates:      map[int64]decimal.Decimal{},
	}
}

// WithTx runs fn against a copy of the state and only keeps it on success.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := &memTx{repo: m, state: m.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work.state
	return nil
}

func (m *memoryRepo) ListMovements(_ context.Context, filter MovementFilter) ([]StockMovement, error) {
	var out []StockMovement
	for _, mv := range m.state.movements {
		if filter.ProductID != 0 && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.SalesmanID != 0 && mv.SalesmanID != filter.SalesmanID {
			continue
		}
		if filter.BatchID != 0 && mv.BatchID != filter.BatchID {
			continue
		}
		if filter.AssignmentID != 0 && mv.AssignmentID != filter.AssignmentID {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (m *memoryRepo) ListOpenAssignments(_ context.Context, salesmanID int64) ([]Assignment, error) {
	var out []Assignment
	for _, a := range m.state.assignments {
		if a.Status == AssignmentReturned {
			continue
		}
		if salesmanID != 0 && a.SalesmanID != salesmanID {
			continue
		}
		out = append(out, m.joined(m.state, a))
	}
	SortFIFO(out)
	return out, nil
}

func (m *memoryRepo) GetAssignment(_ context.Context, id int64) (Assignment, error) {
	a, ok := m.state.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return m.joined(m.state, a), nil
}

func (m *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	inv, ok := m.state.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	inv.Items = sortedItems(m.state, id)
	inv.Lines = sortedLines(m.state, func(l InvoiceLine) bool { return l.InvoiceID == id })
	return inv, nil
}

func (m *memoryRepo) GetSettlement(_ context.Context, id int64) (SettlementRecord, error) {
	rec, ok := m.state.settlements[id]
	if !ok {
		return SettlementRecord{}, ErrNotFound
	}
	return rec, nil
}

// joined fills the batch columns the SQL join would provide.
func (m *memoryRepo) joined(s memState, a Assignment) Assignment {
	b := s.batches[a.BatchID]
	a.ProductID = b.ProductID
	a.BatchNumber = b.BatchNumber
	a.ExpiryDate = b.ExpiryDate
	a.ManufacturingDate = b.ManufacturingDate
	a.BatchActive = b.IsActive
	a.UnitCost = b.UnitCost
	a.BasePrice = m.basePrices[b.ProductID]
	return a
}

func sortedItems(s memState, invoiceID int64) []InvoiceItem {
	var out []InvoiceItem
	for _, it := range s.items {
		if it.InvoiceID == invoiceID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedLines(s memState, keep func(InvoiceLine) bool) []InvoiceLine {
	var out []InvoiceLine
	for _, l := range s.lines {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	repo  *memoryRepo
	state memState
}

func (t *memTx) next() int64 {
	t.state.seq++
	return t.state.seq
}

func (t *memTx) InsertBatch(_ context.Context, b Batch) (int64, error) {
	for _, existing := range t.state.batches {
		if existing.BatchNumber == b.BatchNumber {
			return 0, ErrDuplicateBatch
		}
	}
	b.ID = t.next()
	t.state.batches[b.ID] = b
	return b.ID, nil
}

func (t *memTx) GetBatchForUpdate(_ context.Context, id int64) (Batch, error) {
	b, ok := t.state.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return b, nil
}

func (t *memTx) UpdateBatch(_ context.Context, b Batch) error {
	t.state.batches[b.ID] = b
	return nil
}

func (t *memTx) InsertAssignment(_ context.Context, a Assignment) (int64, error) {
	a.ID = t.next()
	t.state.assignments[a.ID] = a
	return a.ID, nil
}

func (t *memTx) GetAssignmentForUpdate(_ context.Context, id int64) (Assignment, error) {
	a, ok := t.state.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return t.repo.joined(t.state, a), nil
}

func (t *memTx) UpdateAssignment(_ context.Context, a Assignment) error {
	t.state.assignments[a.ID] = a
	return nil
}

func (t *memTx) LockSaleCandidates(_ context.Context, salesmanID, productID int64) ([]Assignment, error) {
	var out []Assignment
	for _, a := range t.state.assignments {
		a = t.repo.joined(t.state, a)
		if a.SalesmanID == salesmanID && a.ProductID == productID && a.Status.Sellable() {
			out = append(out, a)
		}
	}
	SortFIFO(out)
	return out, nil
}

func (t *memTx) LockSalesmanAssignments(_ context.Context, salesmanID int64) ([]Assignment, error) {
	var out []Assignment
	for _, a := range t.state.assignments {
		if a.SalesmanID == salesmanID && a.Status != AssignmentReturned {
			out = append(out, t.repo.joined(t.state, a))
		}
	}
	SortFIFO(out)
	return out, nil
}

func (t *memTx) InsertMovement(_ context.Context, m StockMovement) (int64, error) {
	m.ID = t.next()
	m.CreatedAt = time.Now()
	t.state.movements = append(t.state.movements, m)
	return m.ID, nil
}

func (t *memTx) InsertInvoice(_ context.Context, inv Invoice) (int64, error) {
	inv.ID = t.next()
	inv.Items, inv.Lines = nil, nil
	t.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memTx) GetInvoiceForUpdate(_ context.Context, id int64) (Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (t *memTx) UpdateInvoice(_ context.Context, inv Invoice) error {
	stored := t.state.invoices[inv.ID]
	stored.Status = inv.Status
	stored.NetTotal = inv.NetTotal
	stored.PaidAmount = inv.PaidAmount
	t.state.invoices[inv.ID] = stored
	return nil
}

func (t *memTx) InsertInvoiceItem(_ context.Context, item InvoiceItem) (int64, error) {
	item.ID = t.next()
	t.state.items[item.ID] = item
	return item.ID, nil
}

func (t *memTx) GetInvoiceItemForUpdate(_ context.Context, id int64) (InvoiceItem, error) {
	it, ok := t.state.items[id]
	if !ok {
		return InvoiceItem{}, ErrNotFound
	}
	return it, nil
}

func (t *memTx) UpdateInvoiceItem(_ context.Context, item InvoiceItem) error {
	t.state.items[item.ID] = item
	return nil
}

func (t *memTx) DeleteInvoiceItem(_ context.Context, id int64) error {
	delete(t.state.items, id)
	return nil
}

func (t *memTx) ListInvoiceItems(_ context.Context, invoiceID int64) ([]InvoiceItem, error) {
	return sortedItems(t.state, invoiceID), nil
}

func (t *memTx) InsertInvoiceLine(_ context.Context, line InvoiceLine) (int64, error) {
	line.ID = t.next()
	t.state.lines[line.ID] = line
	return line.ID, nil
}

func (t *memTx) GetInvoiceLineForUpdate(_ context.Context, id int64) (InvoiceLine, error) {
	l, ok := t.state.lines[id]
	if !ok {
		return InvoiceLine{}, ErrNotFound
	}
	return l, nil
}

func (t *memTx) ListItemLinesForUpdate(_ context.Context, itemID int64) ([]InvoiceLine, error) {
	return sortedLines(t.state, func(l InvoiceLine) bool { return l.ItemID == itemID }), nil
}

func (t *memTx) UpdateInvoiceLine(_ context.Context, line InvoiceLine) error {
	t.state.lines[line.ID] = line
	return nil
}

func (t *memTx) DeleteInvoiceLine(_ context.Context, id int64) error {
	delete(t.state.lines, id)
	return nil
}

func (t *memTx) SalesmanCommissionRate(_ context.Context, salesmanID int64) (decimal.Decimal, bool, error) {
	rate, ok := t.repo.rates[salesmanID]
	return rate, ok, nil
}

func (t *memTx) GetCommissionByInvoiceForUpdate(_ context.Context, invoiceID int64) (commission.Commission, error) {
	for _, c := range t.state.commissions {
		if c.InvoiceID == invoiceID {
			return c, nil
		}
	}
	return commission.Commission{}, commission.ErrNotFound
}

func (t *memTx) InsertCommission(_ context.Context, c commission.Commission) (int64, error) {
	c.ID = t.next()
	t.state.commissions[c.ID] = c
	return c.ID, nil
}

func (t *memTx) UpdateCommission(_ context.Context, c commission.Commission) error {
	t.state.commissions[c.ID] = c
	return nil
}

func (t *memTx) SettlementExists(_ context.Context, salesmanID int64, date time.Time) (bool, error) {
	for _, rec := range t.state.settlements {
		if rec.SalesmanID == salesmanID && rec.SettlementDate.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertSettlement(_ context.Context, rec SettlementRecord) (int64, error) {
	rec.ID = t.next()
	t.state.settlements[rec.ID] = rec
	return rec.ID, nil
}

func (t *memTx) ListSettleableInvoicesForUpdate(_ context.Context, salesmanID int64, upTo time.Time) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range t.state.invoices {
		if inv.SalesmanID == salesmanID && inv.Status == InvoiceDelivered && inv.SettlementID == nil && !inv.InvoiceDate.After(upTo) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MarkInvoicesSettled(_ context.Context, ids []int64, settlementID int64) error {
	for _, id := range ids {
		inv := t.state.invoices[id]
		inv.Status = InvoiceSettled
		sid := settlementID
		inv.SettlementID = &sid
		t.state.invoices[id] = inv
	}
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}
