package profit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Repository reads profit inputs from the ledger tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadInputs runs the aggregate queries for the window concurrently.
func (r *Repository) LoadInputs(ctx context.Context, w Window) (Inputs, error) {
	in := Inputs{Window: w}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(net_total), 0), COUNT(*) FILTER (WHERE status = 'settled')
FROM invoices
WHERE status NOT IN ('draft', 'cancelled') AND invoice_date BETWEEN $1 AND $2`, w.Start, w.End).
			Scan(&in.InvoiceCount, &in.InvoiceTotal, &in.SettledInvoiceCount)
	})
	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
FROM settlement_records WHERE settlement_date BETWEEN $1 AND $2`, w.Start, w.End).
			Scan(&in.SettlementCount, &in.CashFromSettlements)
	})
	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(c.amount), 0), COALESCE(SUM(c.amount) FILTER (WHERE c.status = 'paid'), 0)
FROM commissions c
JOIN invoices i ON i.id = c.invoice_id
WHERE c.status <> 'cancelled' AND i.invoice_date BETWEEN $1 AND $2`, w.Start, w.End).
			Scan(&in.TotalCommissions, &in.PaidCommissions)
	})
	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(c.amount), 0)
FROM commissions c
JOIN invoices i ON i.id = c.invoice_id
JOIN settlement_records s ON s.id = i.settlement_id
WHERE c.status = 'paid' AND s.settlement_date BETWEEN $1 AND $2`, w.Start, w.End).
			Scan(&in.PaidCommissionsOnSettled)
	})
	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT
	COALESCE(SUM(amount) FILTER (WHERE transaction_type = 'income'), 0),
	COALESCE(SUM(amount) FILTER (WHERE transaction_type = 'expense'), 0)
FROM financial_transactions WHERE transaction_date BETWEEN $1 AND $2`, w.Start, w.End).
			Scan(&in.AdditionalIncome, &in.Expenses)
	})
	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT i.id, i.invoice_date, i.net_total - i.paid_amount, c.rate
FROM invoices i
LEFT JOIN commissions c ON c.invoice_id = i.id AND c.status <> 'cancelled'
WHERE i.status NOT IN ('draft', 'cancelled') AND i.net_total > i.paid_amount
ORDER BY i.invoice_date, i.id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				inv  OpenInvoice
				rate decimal.NullDecimal
			)
			if err := rows.Scan(&inv.InvoiceID, &inv.InvoiceDate, &inv.Balance, &rate); err != nil {
				return err
			}
			if rate.Valid {
				inv.CommissionRate = &rate.Decimal
			}
			in.OpenInvoices = append(in.OpenInvoices, inv)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// UpsertSummary stores the computed row keyed by period and window.
func (r *Repository) UpsertSummary(ctx context.Context, s Summary) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO profit_summaries (period_type, start_date, end_date, total_invoices, total_invoice_amount,
	settled_invoices, settlement_count, cash_from_settlements, total_commissions, paid_commissions, additional_income, expenses,
	outstanding_balance, estimated_commission, total_outstanding, realized_profit, unrealized_profit, spendable_profit,
	collection_efficiency, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (period_type, start_date, end_date) DO UPDATE SET
	total_invoices = EXCLUDED.total_invoices,
	total_invoice_amount = EXCLUDED.total_invoice_amount,
	settled_invoices = EXCLUDED.settled_invoices,
	settlement_count = EXCLUDED.settlement_count,
	cash_from_settlements = EXCLUDED.cash_from_settlements,
	total_commissions = EXCLUDED.total_commissions,
	paid_commissions = EXCLUDED.paid_commissions,
	additional_income = EXCLUDED.additional_income,
	expenses = EXCLUDED.expenses,
	outstanding_balance = EXCLUDED.outstanding_balance,
	estimated_commission = EXCLUDED.estimated_commission,
	total_outstanding = EXCLUDED.total_outstanding,
	realized_profit = EXCLUDED.realized_profit,
	unrealized_profit = EXCLUDED.unrealized_profit,
	spendable_profit = EXCLUDED.spendable_profit,
	collection_efficiency = EXCLUDED.collection_efficiency,
	generated_at = EXCLUDED.generated_at`,
		s.PeriodType, s.StartDate, s.EndDate, s.TotalInvoices, s.TotalInvoiceAmount,
		s.SettledInvoices, s.SettlementCount, s.CashFromSettlements, s.TotalCommissions, s.PaidCommissions, s.AdditionalIncome, s.Expenses,
		s.OutstandingBalance, s.EstimatedCommission, s.TotalOutstanding, s.RealizedProfit, s.UnrealizedProfit, s.SpendableProfit,
		s.CollectionEfficiency, s.GeneratedAt)
	return err
}

// InsertTransaction stores a manual income or expense entry.
func (r *Repository) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO financial_transactions (transaction_type, category, amount, transaction_date, description, created_by)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, 0)) RETURNING id`,
		t.Type, t.Category, t.Amount, t.Date, t.Description, t.CreatedBy).Scan(&id)
	return id, err
}

// ListTransactions returns entries dated inside the window.
func (r *Repository) ListTransactions(ctx context.Context, w Window) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_type, category, amount, transaction_date, COALESCE(description, ''), COALESCE(created_by, 0), created_at
FROM financial_transactions WHERE transaction_date BETWEEN $1 AND $2 ORDER BY transaction_date, id`, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Category, &t.Amount, &t.Date, &t.Description, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
