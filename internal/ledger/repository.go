package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service. Methods
// suffixed ForUpdate take row locks held until the transaction ends.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	UpdateBatch(ctx context.Context, b Batch) error

	InsertAssignment(ctx context.Context, a Assignment) (int64, error)
	GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) error
	LockSaleCandidates(ctx context.Context, salesmanID, productID int64) ([]Assignment, error)
	LockSalesmanAssignments(ctx context.Context, salesmanID int64) ([]Assignment, error)

	InsertMovement(ctx context.Context, m StockMovement) (int64, error)

	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error)
	GetInvoiceItemForUpdate(ctx context.Context, id int64) (InvoiceItem, error)
	UpdateInvoiceItem(ctx context.Context, item InvoiceItem) error
	DeleteInvoiceItem(ctx context.Context, id int64) error
	ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error)
	GetInvoiceLineForUpdate(ctx context.Context, id int64) (InvoiceLine, error)
	ListItemLinesForUpdate(ctx context.Context, itemID int64) ([]InvoiceLine, error)
	UpdateInvoiceLine(ctx context.Context, line InvoiceLine) error
	DeleteInvoiceLine(ctx context.Context, id int64) error

	SalesmanCommissionRate(ctx context.Context, salesmanID int64) (decimal.Decimal, bool, error)
	GetCommissionByInvoiceForUpdate(ctx context.Context, invoiceID int64) (commission.Commission, error)
	InsertCommission(ctx context.Context, c commission.Commission) (int64, error)
	UpdateCommission(ctx context.Context, c commission.Commission) error

	SettlementExists(ctx context.Context, salesmanID int64, date time.Time) (bool, error)
	InsertSettlement(ctx context.Context, rec SettlementRecord) (int64, error)
	ListSettleableInvoicesForUpdate(ctx context.Context, salesmanID int64, upTo time.Time) ([]Invoice, error)
	MarkInvoicesSettled(ctx context.Context, ids []int64, settlementID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const assignmentColumns = `a.id, a.batch_id, a.salesman_id, b.product_id, a.delivered_quantity, a.sold_quantity,
	a.returned_quantity, a.status, a.delivered_at, a.created_at, a.updated_at,
	b.batch_number, b.expiry_date, b.manufacturing_date, b.is_active, b.unit_cost, p.base_price`

const assignmentFrom = ` FROM batch_assignments a
JOIN batches b ON b.id = a.batch_id
JOIN products p ON p.id = b.product_id`

const fifoOrder = ` ORDER BY b.expiry_date, b.manufacturing_date, b.id, a.id`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a           Assignment
		deliveredAt pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.BatchID, &a.SalesmanID, &a.ProductID, &a.DeliveredQuantity, &a.SoldQuantity,
		&a.ReturnedQuantity, &a.Status, &deliveredAt, &a.CreatedAt, &a.UpdatedAt,
		&a.BatchNumber, &a.ExpiryDate, &a.ManufacturingDate, &a.BatchActive, &a.UnitCost, &a.BasePrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		a.DeliveredAt = &t
	}
	return a, nil
}

func collectAssignments(rows pgx.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListOpenAssignments returns assignments that are not yet returned. A zero
// salesmanID lists every salesman.
func (r *Repository) ListOpenAssignments(ctx context.Context, salesmanID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assignmentColumns+assignmentFrom+`
WHERE a.status <> 'returned' AND ($1 = 0 OR a.salesman_id = $1)`+fifoOrder, salesmanID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

// GetAssignment loads one assignment with its batch columns.
func (r *Repository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+assignmentFrom+` WHERE a.id = $1`, id))
}

// ListMovements returns movement log rows newest last.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	conds := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.SalesmanID != 0 {
		add("salesman_id = $%d", filter.SalesmanID)
	}
	if filter.BatchID != 0 {
		add("batch_id = $%d", filter.BatchID)
	}
	if filter.AssignmentID != 0 {
		add("assignment_id = $%d", filter.AssignmentID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, product_id, batch_id, COALESCE(assignment_id, 0), COALESCE(salesman_id, 0), movement_type, pool,
	quantity_delta, reference, COALESCE(note, ''), COALESCE(actor_id, 0), created_at
FROM stock_movements WHERE %s ORDER BY id LIMIT $%d`, strings.Join(conds, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.AssignmentID, &m.SalesmanID, &m.Type, &m.Pool,
			&m.QuantityDelta, &m.Reference, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const invoiceColumns = `id, invoice_number, salesman_id, shop_id, invoice_date, status, net_total, paid_amount,
	settlement_id, COALESCE(created_by, 0), created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv          Invoice
		settlementID pgtype.Int8
	)
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.SalesmanID, &inv.ShopID, &inv.InvoiceDate, &inv.Status,
		&inv.NetTotal, &inv.PaidAmount, &settlementID, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	if settlementID.Valid {
		id := settlementID.Int64
		inv.SettlementID = &id
	}
	return inv, nil
}

// GetInvoice loads an invoice with its items and consumption lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	items, err := queryItems(ctx, r.pool, `SELECT id, invoice_id, product_id, quantity, unit_price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	lines, err := queryLines(ctx, r.pool, `SELECT `+lineColumns+` FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	inv.Lines = lines
	return inv, nil
}

const settlementColumns = `id, reference, salesman_id, settlement_date, total_delivered, total_sold, total_returned,
	returned_now, total_value, returned_value, total_amount, invoices_settled, COALESCE(notes, ''), COALESCE(settled_by, 0), created_at`

// GetSettlement loads a settlement record.
func (r *Repository) GetSettlement(ctx context.Context, id int64) (SettlementRecord, error) {
	var rec SettlementRecord
	err := r.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlement_records WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Reference, &rec.SalesmanID, &rec.SettlementDate, &rec.TotalDelivered, &rec.TotalSold,
		&rec.TotalReturned, &rec.ReturnedNow, &rec.TotalValue, &rec.ReturnedValue, &rec.TotalAmount,
		&rec.InvoicesSettled, &rec.Notes, &rec.SettledBy, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SettlementRecord{}, ErrNotFound
	}
	return rec, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, sql string, args ...any) ([]InvoiceItem, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

const lineColumns = `id, invoice_id, item_id, product_id, assignment_id, quantity, unit_price, created_at`

func scanLine(row pgx.Row) (InvoiceLine, error) {
	var l InvoiceLine
	err := row.Scan(&l.ID, &l.InvoiceID, &l.ItemID, &l.ProductID, &l.AssignmentID, &l.Quantity, &l.UnitPrice, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoiceLine{}, ErrNotFound
	}
	return l, err
}

func queryLines(ctx context.Context, q querier, sql string, args ...any) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (product_id, batch_number, manufacturing_date, expiry_date, initial_quantity, current_quantity, unit_cost, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		b.ProductID, b.BatchNumber, b.ManufacturingDate, b.ExpiryDate, b.InitialQuantity, b.CurrentQuantity, b.UnitCost, b.IsActive).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateBatch, b.BatchNumber)
	}
	return id, err
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	var b Batch
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, batch_number, manufacturing_date, expiry_date, initial_quantity, current_quantity, unit_cost, is_active, created_at
FROM batches WHERE id = $1 FOR UPDATE`, id).Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.ManufacturingDate, &b.ExpiryDate,
		&b.InitialQuantity, &b.CurrentQuantity, &b.UnitCost, &b.IsActive, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	return b, err
}

func (r *txRepo) UpdateBatch(ctx context.Context, b Batch) error {
	_, err := r.tx.Exec(ctx, `UPDATE batches SET current_quantity = $2, is_active = $3, updated_at = NOW() WHERE id = $1`,
		b.ID, b.CurrentQuantity, b.IsActive)
	return err
}

func (r *txRepo) InsertAssignment(ctx context.Context, a Assignment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_assignments (batch_id, salesman_id, delivered_quantity, sold_quantity, returned_quantity, status)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.BatchID, a.SalesmanID, a.DeliveredQuantity, a.SoldQuantity, a.ReturnedQuantity, a.Status).Scan(&id)
	return id, err
}

func (r *txRepo) GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentColumns+assignmentFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *txRepo) UpdateAssignment(ctx context.Context, a Assignment) error {
	_, err := r.tx.Exec(ctx, `UPDATE batch_assignments SET sold_quantity = $2, returned_quantity = $3, status = $4, delivered_at = $5, updated_at = NOW()
WHERE id = $1`, a.ID, a.SoldQuantity, a.ReturnedQuantity, a.Status, a.DeliveredAt)
	return err
}

func (r *txRepo) LockSaleCandidates(ctx context.Context, salesmanID, productID int64) ([]Assignment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+assignmentColumns+assignmentFrom+`
WHERE a.salesman_id = $1 AND b.product_id = $2 AND a.status IN ('delivered', 'partial')`+fifoOrder+` FOR UPDATE OF a`,
		salesmanID, productID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func (r *txRepo) LockSalesmanAssignments(ctx context.Context, salesmanID int64) ([]Assignment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+assignmentColumns+assignmentFrom+`
WHERE a.salesman_id = $1 AND a.status <> 'returned'`+fifoOrder+` FOR UPDATE OF a`, salesmanID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func (r *txRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, batch_id, assignment_id, salesman_id, movement_type, pool, quantity_delta, reference, note, actor_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		m.ProductID, m.BatchID, nullInt(m.AssignmentID), nullInt(m.SalesmanID), m.Type, m.Pool, m.QuantityDelta,
		m.Reference, m.Note, nullInt(m.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (invoice_number, salesman_id, shop_id, invoice_date, status, net_total, paid_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		inv.InvoiceNumber, inv.SalesmanID, inv.ShopID, inv.InvoiceDate, inv.Status, inv.NetTotal, inv.PaidAmount, nullInt(inv.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status = $2, net_total = $3, paid_amount = $4, updated_at = NOW() WHERE id = $1`,
		inv.ID, inv.Status, inv.NetTotal, inv.PaidAmount)
	return err
}

func (r *txRepo) InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id`,
		item.InvoiceID, item.ProductID, item.Quantity, item.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepo) GetInvoiceItemForUpdate(ctx context.Context, id int64) (InvoiceItem, error) {
	var it InvoiceItem
	err := r.tx.QueryRow(ctx, `SELECT id, invoice_id, product_id, quantity, unit_price FROM invoice_items WHERE id = $1 FOR UPDATE`, id).
		Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Quantity, &it.UnitPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoiceItem{}, ErrNotFound
	}
	return it, err
}

func (r *txRepo) UpdateInvoiceItem(ctx context.Context, item InvoiceItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoice_items SET quantity = $2, unit_price = $3 WHERE id = $1`, item.ID, item.Quantity, item.UnitPrice)
	return err
}

func (r *txRepo) DeleteInvoiceItem(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_items WHERE id = $1`, id)
	return err
}

func (r *txRepo) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	return queryItems(ctx, r.tx, `SELECT id, invoice_id, product_id, quantity, unit_price FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
}

func (r *txRepo) InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoice_lines (invoice_id, item_id, product_id, assignment_id, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.InvoiceID, line.ItemID, line.ProductID, line.AssignmentID, line.Quantity, line.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepo) GetInvoiceLineForUpdate(ctx context.Context, id int64) (InvoiceLine, error) {
	return scanLine(r.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM invoice_lines WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) ListItemLinesForUpdate(ctx context.Context, itemID int64) ([]InvoiceLine, error) {
	return queryLines(ctx, r.tx, `SELECT `+lineColumns+` FROM invoice_lines WHERE item_id = $1 ORDER BY id FOR UPDATE`, itemID)
}

func (r *txRepo) UpdateInvoiceLine(ctx context.Context, line InvoiceLine) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoice_lines SET quantity = $2 WHERE id = $1`, line.ID, line.Quantity)
	return err
}

func (r *txRepo) DeleteInvoiceLine(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE id = $1`, id)
	return err
}

func (r *txRepo) SalesmanCommissionRate(ctx context.Context, salesmanID int64) (decimal.Decimal, bool, error) {
	var rate decimal.NullDecimal
	err := r.tx.QueryRow(ctx, `SELECT commission_rate FROM salesmen WHERE id = $1`, salesmanID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, fmt.Errorf("%w: salesman %d", ErrNotFound, salesmanID)
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate.Decimal, rate.Valid, nil
}

const commissionColumns = `id, invoice_id, salesman_id, rate, basis, basis_amount, amount, status, paid_at,
	COALESCE(payment_reference, ''), COALESCE(note, ''), created_at, updated_at`

func (r *txRepo) GetCommissionByInvoiceForUpdate(ctx context.Context, invoiceID int64) (commission.Commission, error) {
	var (
		c      commission.Commission
		paidAt pgtype.Timestamptz
	)
	err := r.tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE invoice_id = $1 FOR UPDATE`, invoiceID).Scan(
		&c.ID, &c.InvoiceID, &c.SalesmanID, &c.Rate, &c.Basis, &c.BasisAmount, &c.Amount, &c.Status, &paidAt,
		&c.PaymentReference, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return commission.Commission{}, commission.ErrNotFound
	}
	if err != nil {
		return commission.Commission{}, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		c.PaidAt = &t
	}
	return c, nil
}

func (r *txRepo) InsertCommission(ctx context.Context, c commission.Commission) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO commissions (invoice_id, salesman_id, rate, basis, basis_amount, amount, status)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.InvoiceID, c.SalesmanID, c.Rate, c.Basis, c.BasisAmount, c.Amount, c.Status).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateCommission(ctx context.Context, c commission.Commission) error {
	_, err := r.tx.Exec(ctx, `UPDATE commissions SET basis_amount = $2, amount = $3, status = $4, note = NULLIF($5, ''), updated_at = NOW() WHERE id = $1`,
		c.ID, c.BasisAmount, c.Amount, c.Status, c.Note)
	return err
}

func (r *txRepo) SettlementExists(ctx context.Context, salesmanID int64, date time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM settlement_records WHERE salesman_id = $1 AND settlement_date = $2)`,
		salesmanID, date).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertSettlement(ctx context.Context, rec SettlementRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO settlement_records (reference, salesman_id, settlement_date, total_delivered, total_sold, total_returned,
	returned_now, total_value, returned_value, total_amount, invoices_settled, notes, settled_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13) RETURNING id`,
		rec.Reference, rec.SalesmanID, rec.SettlementDate, rec.TotalDelivered, rec.TotalSold, rec.TotalReturned,
		rec.ReturnedNow, rec.TotalValue, rec.ReturnedValue, rec.TotalAmount, rec.InvoicesSettled, rec.Notes, nullInt(rec.SettledBy)).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: salesman %d on %s", ErrSettlementAlreadyExists, rec.SalesmanID, rec.SettlementDate.Format(time.DateOnly))
	}
	return id, err
}

func (r *txRepo) ListSettleableInvoicesForUpdate(ctx context.Context, salesmanID int64, upTo time.Time) ([]Invoice, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE salesman_id = $1 AND status = 'delivered' AND settlement_id IS NULL AND invoice_date <= $2
ORDER BY id FOR UPDATE`, salesmanID, upTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *txRepo) MarkInvoicesSettled(ctx context.Context, ids []int64, settlementID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET status = 'settled', settlement_id = $2, updated_at = NOW() WHERE id = ANY($1)`, ids, settlementID)
	return err
}

func nullInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

