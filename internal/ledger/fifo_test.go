package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func candidate(id, batchID int64, expiry time.Time, delivered, sold string) Assignment {
	return Assignment{
		ID:                id,
		BatchID:           batchID,
		SalesmanID:        7,
		ProductID:         1,
		DeliveredQuantity: dec(delivered),
		SoldQuantity:      dec(sold),
		ReturnedQuantity:  decimal.Zero,
		Status:            AssignmentDelivered,
		ExpiryDate:        expiry,
		ManufacturingDate: day(1),
		BatchActive:       true,
	}
}

func TestSelectFIFOTakesEarliestExpiryFirst(t *testing.T) {
	candidates := []Assignment{
		candidate(2, 20, day(20), "50", "0"),
		candidate(1, 10, day(10), "50", "0"),
	}

	picks, err := SelectFIFO(7, 1, candidates, dec("70"), day(5))
	require.NoError(t, err)
	require.Len(t, picks, 2)
	require.Equal(t, int64(1), picks[0].AssignmentID)
	requireDecimal(t, "50", picks[0].Quantity)
	require.Equal(t, int64(2), picks[1].AssignmentID)
	requireDecimal(t, "20", picks[1].Quantity)
}

func TestSelectFIFOTieBreaksOnManufacturingThenBatch(t *testing.T) {
	early := candidate(3, 30, day(20), "10", "0")
	early.ManufacturingDate = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	sameDates := candidate(1, 5, day(20), "10", "0")
	other := candidate(2, 6, day(20), "10", "0")

	picks, err := SelectFIFO(7, 1, []Assignment{other, sameDates, early}, dec("25"), day(5))
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1, 2}, []int64{picks[0].AssignmentID, picks[1].AssignmentID, picks[2].AssignmentID})
	requireDecimal(t, "5", picks[2].Quantity)
}

func TestSelectFIFOSkipsZeroOutstandingAndPending(t *testing.T) {
	depleted := candidate(1, 10, day(10), "50", "50")
	pending := candidate(2, 11, day(11), "50", "0")
	pending.Status = AssignmentPending
	open := candidate(3, 12, day(12), "50", "10")
	open.Status = AssignmentPartial

	picks, err := SelectFIFO(7, 1, []Assignment{depleted, pending, open}, dec("40"), day(5))
	require.NoError(t, err)
	require.Len(t, picks, 1)
	require.Equal(t, int64(3), picks[0].AssignmentID)
	requireDecimal(t, "40", picks[0].Quantity)
}

func TestSelectFIFOInsufficientStock(t *testing.T) {
	candidates := []Assignment{candidate(1, 10, day(10), "30", "0")}

	picks, err := SelectFIFO(7, 1, candidates, dec("31"), day(5))
	require.Nil(t, picks)
	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	requireDecimal(t, "30", stockErr.Available)
	requireDecimal(t, "31", stockErr.Requested)
}

func TestSelectFIFOExcludesExpiredAndInactiveBatches(t *testing.T) {
	expired := candidate(1, 10, day(4), "50", "0")
	recalled := candidate(2, 11, day(30), "50", "0")
	recalled.BatchActive = false
	fresh := candidate(3, 12, day(20), "20", "0")

	picks, err := SelectFIFO(7, 1, []Assignment{expired, recalled, fresh}, dec("20"), day(5))
	require.NoError(t, err)
	require.Len(t, picks, 1)
	require.Equal(t, int64(3), picks[0].AssignmentID)

	_, err = SelectFIFO(7, 1, []Assignment{expired, recalled, fresh}, dec("60"), day(5))
	require.ErrorIs(t, err, ErrExpiredOrInactiveBatch)
	var staleErr *ExpiredOrInactiveBatchError
	require.True(t, errors.As(err, &staleErr))
	requireDecimal(t, "20", staleErr.Available)
	requireDecimal(t, "100", staleErr.Stale)
	require.ElementsMatch(t, []int64{10, 11}, staleErr.BatchIDs)
}

func TestSelectFIFOExpiryDayIsStillSellable(t *testing.T) {
	lastDay := candidate(1, 10, day(5), "10", "0")

	picks, err := SelectFIFO(7, 1, []Assignment{lastDay}, dec("10"), day(5).Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, picks, 1)
}
