package commission

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalanatw/growaloe-crm/internal/platform/db"
)

// Repository persists commissions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Commission, error)
	Update(ctx context.Context, c Commission) error
}

type txRepository struct {
	tx pgx.Tx
}

const selectColumns = `id, invoice_id, salesman_id, rate, basis, basis_amount, amount, status, paid_at, COALESCE(payment_reference, ''), COALESCE(note, ''), created_at, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("commission repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads a commission by id.
func (r *Repository) Get(ctx context.Context, id int64) (Commission, error) {
	return scanCommission(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM commissions WHERE id=$1`, id))
}

// Dashboard aggregates pending and paid totals per salesman.
func (r *Repository) Dashboard(ctx context.Context) ([]SalesmanTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.salesman_id, COALESCE(s.name, ''),
	COALESCE(SUM(c.amount) FILTER (WHERE c.status IN ('calculated','pending')), 0),
	COALESCE(SUM(c.amount) FILTER (WHERE c.status = 'paid'), 0),
	COUNT(*)
FROM commissions c
LEFT JOIN salesmen s ON s.id = c.salesman_id
WHERE c.status <> 'cancelled'
GROUP BY c.salesman_id, s.name
ORDER BY c.salesman_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesmanTotals
	for rows.Next() {
		var t SalesmanTotals
		if err := rows.Scan(&t.SalesmanID, &t.SalesmanName, &t.PendingTotal, &t.PaidTotal, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Commission, error) {
	return scanCommission(r.tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM commissions WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) Update(ctx context.Context, c Commission) error {
	_, err := r.tx.Exec(ctx, `UPDATE commissions SET status=$2, paid_at=$3, payment_reference=$4, note=$5, updated_at=NOW() WHERE id=$1`,
		c.ID, string(c.Status), c.PaidAt, c.PaymentReference, c.Note)
	return err
}

func scanCommission(row pgx.Row) (Commission, error) {
	var c Commission
	err := row.Scan(&c.ID, &c.InvoiceID, &c.SalesmanID, &c.Rate, &c.Basis, &c.BasisAmount, &c.Amount, &c.Status,
		&c.PaidAt, &c.PaymentReference, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		return Commission{}, err
	}
	return c, nil
}
