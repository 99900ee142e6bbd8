package ledger

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kalanatw/growaloe-crm/internal/shared"
)

func TestSettleReturnsOutstandingToBatch(t *testing.T) {
	f := newFixture(t)
	batch, a := f.stock(t, "B-1", day(10), "150", "100")
	f.finalized(t, "60", "4")
	requireDecimal(t, "50", f.batch(batch.ID).CurrentQuantity)

	rec, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true, Notes: "weekly"})
	require.NoError(t, err)

	settled := f.assignment(a.ID)
	requireDecimal(t, "40", settled.ReturnedQuantity)
	requireDecimal(t, "0", settled.Outstanding())
	require.Equal(t, AssignmentReturned, settled.Status)
	requireDecimal(t, "90", f.batch(batch.ID).CurrentQuantity)

	requireDecimal(t, "100", rec.TotalDelivered)
	requireDecimal(t, "60", rec.TotalSold)
	requireDecimal(t, "40", rec.TotalReturned)
	requireDecimal(t, "40", rec.ReturnedNow)
	requireDecimal(t, "150", rec.TotalValue)
	requireDecimal(t, "100", rec.ReturnedValue)
	require.NotEmpty(t, rec.Reference)
}

func TestSettleIsNotRerunnableForTheSameDay(t *testing.T) {
	f := newFixture(t)
	batch, a := f.stock(t, "B-1", day(10), "100", "100")
	f.finalized(t, "60", "4")

	_, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true})
	require.NoError(t, err)
	afterFirst := f.assignment(a.ID)
	batchAfterFirst := f.batch(batch.ID)
	movements := len(f.repo.state.movements)

	_, err = f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5).Add(6 * time.Hour), ReturnAllOutstanding: true})
	require.ErrorIs(t, err, ErrSettlementAlreadyExists)

	require.Equal(t, afterFirst, f.assignment(a.ID))
	require.Equal(t, batchAfterFirst, f.batch(batch.ID))
	require.Len(t, f.repo.state.movements, movements)
	require.Len(t, f.repo.state.settlements, 1)
}

func TestSettleWithoutReturnOnlySnapshots(t *testing.T) {
	f := newFixture(t)
	batch, a := f.stock(t, "B-1", day(10), "100", "80")
	f.finalized(t, "30", "1")

	rec, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5)})
	require.NoError(t, err)

	requireDecimal(t, "0", rec.ReturnedNow)
	requireDecimal(t, "30", rec.TotalSold)
	requireDecimal(t, "50", f.assignment(a.ID).Outstanding())
	requireDecimal(t, "20", f.batch(batch.ID).CurrentQuantity)
}

func TestSettleMarksDeliveredInvoicesSettled(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "B-1", day(10), "100", "100")
	delivered := f.finalized(t, "10", "10")
	pending := f.finalized(t, "5", "10")
	_, err := f.svc.RecordPayment(f.ctx, delivered.ID, dec("70"), 0)
	require.NoError(t, err)
	_, err = f.svc.MarkInvoiceDelivered(f.ctx, delivered.ID, 0)
	require.NoError(t, err)

	rec, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true})
	require.NoError(t, err)

	require.Equal(t, 1, rec.InvoicesSettled)
	requireDecimal(t, "70", rec.TotalAmount)
	require.Equal(t, InvoiceSettled, f.repo.state.invoices[delivered.ID].Status)
	require.Equal(t, rec.ID, *f.repo.state.invoices[delivered.ID].SettlementID)
	require.Equal(t, InvoicePending, f.repo.state.invoices[pending.ID].Status)

	_, err = f.svc.CancelInvoice(f.ctx, delivered.ID, 0, "late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPaymentAfterSettlementIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "B-1", day(10), "100", "100")
	inv := f.finalized(t, "10", "10")
	_, err := f.svc.RecordPayment(f.ctx, inv.ID, dec("40"), 0)
	require.NoError(t, err)
	_, err = f.svc.MarkInvoiceDelivered(f.ctx, inv.ID, 0)
	require.NoError(t, err)

	first, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5)})
	require.NoError(t, err)
	requireDecimal(t, "40", first.TotalAmount)

	_, err = f.svc.RecordPayment(f.ctx, inv.ID, dec("60"), 0)
	require.ErrorIs(t, err, ErrInvalidState)
	stored := f.repo.state.invoices[inv.ID]
	require.Equal(t, InvoiceSettled, stored.Status)
	requireDecimal(t, "40", stored.PaidAmount)
	requireDecimal(t, "60", stored.BalanceDue())
}

func TestSettleValuesAtBasePriceWhenConfigured(t *testing.T) {
	f := newFixture(t)
	f.svc.valuation = ValuationBasePrice
	f.repo.basePrices[testProduct] = dec("6")
	f.stock(t, "B-1", day(10), "100", "10")
	f.finalized(t, "4", "8")

	rec, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true})
	require.NoError(t, err)
	requireDecimal(t, "24", rec.TotalValue)
	requireDecimal(t, "36", rec.ReturnedValue)
}

func TestBatchQuantityMatchesOwnerMovements(t *testing.T) {
	f := newFixture(t)
	b1, _ := f.stock(t, "B-1", day(10), "100", "50")
	b2, _ := f.stock(t, "B-2", day(20), "100", "50")
	inv := f.finalized(t, "70", "3")
	_, err := f.svc.ResizeItem(f.ctx, inv.Items[0].ID, dec("65"), time.Time{}, 0)
	require.NoError(t, err)
	_, err = f.svc.AdjustBatch(f.ctx, AdjustBatchInput{BatchID: b2.ID, Delta: dec("-2"), Type: MovementDamage})
	require.NoError(t, err)
	_, err = f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true})
	require.NoError(t, err)

	for _, b := range []Batch{b1, b2} {
		movements, err := f.svc.ListMovements(f.ctx, MovementFilter{BatchID: b.ID})
		require.NoError(t, err)
		owner := dec("0")
		for _, m := range movements {
			if m.Pool == PoolOwner {
				owner = owner.Add(m.QuantityDelta)
			}
		}
		current := f.batch(b.ID).CurrentQuantity
		require.Truef(t, owner.Equal(current), "batch %s: movements %s, current %s", b.BatchNumber, owner, current)
	}
	for _, a := range f.repo.state.assignments {
		require.NoError(t, a.validate())
	}
}

func TestSettleTakesSalesmanLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.svc.locker = shared.NewRedisLocker(client, time.Minute)
	f.stock(t, "B-1", day(10), "100", "10")

	_, err := f.svc.Settle(f.ctx, SettleInput{SalesmanID: testSalesman, Date: day(5), ReturnAllOutstanding: true})
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.SettlementLockKey(testSalesman)))
}
