package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls++ }

func newTestRouter(t *testing.T) (*fixture, *countingInvalidator, http.Handler) {
	t.Helper()
	f := newFixture(t)
	inv := &countingInvalidator{}
	r := chi.NewRouter()
	NewHandler(nil, f.svc, inv).MountRoutes(r)
	return f, inv, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.ActorHeader, "42")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decodeProblem(t *testing.T, res *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&p))
	return p
}

func TestHandlerRequiresActor(t *testing.T) {
	_, _, h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(`{}`))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandlerValidationProblem(t *testing.T) {
	_, inv, h := newTestRouter(t)
	res := do(t, h, http.MethodPost, "/batches", `{"product_id":1,"batch_number":"B-1","manufacturing_date":"01/03/2026","expiry_date":"2026-03-10","quantity":"10","unit_cost":"1"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	p := decodeProblem(t, res)
	require.Contains(t, p.Fields, "ManufacturingDate")
	require.Zero(t, inv.calls)
}

func TestHandlerSaleAndSettlementFlow(t *testing.T) {
	f, inv, h := newTestRouter(t)

	res := do(t, h, http.MethodPost, "/batches", `{"product_id":1,"batch_number":"B-1","manufacturing_date":"2026-03-01","expiry_date":"2026-03-10","quantity":"100","unit_cost":"2.50"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var batch Batch
	require.NoError(t, json.NewDecoder(res.Body).Decode(&batch))

	res = do(t, h, http.MethodPost, "/assignments", `{"batch_id":`+itoa(batch.ID)+`,"salesman_id":7,"quantity":"60"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var a Assignment
	require.NoError(t, json.NewDecoder(res.Body).Decode(&a))

	res = do(t, h, http.MethodPost, "/assignments/"+itoa(a.ID)+"/deliver", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(t, h, http.MethodPost, "/invoices", `{"salesman_id":7,"shop_id":3,"finalize":true,"items":[{"product_id":1,"quantity":"70","unit_price":"10"}]}`)
	require.Equal(t, http.StatusConflict, res.Code)
	p := decodeProblem(t, res)
	require.Equal(t, "Insufficient Stock", p.Title)
	require.Equal(t, "60", p.Fields["available"])
	require.Empty(t, f.repo.state.invoices)

	res = do(t, h, http.MethodPost, "/invoices", `{"salesman_id":7,"shop_id":3,"finalize":true,"items":[{"product_id":1,"quantity":"20","unit_price":"10"}]}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	requireDecimal(t, "20", f.assignment(a.ID).SoldQuantity)

	res = do(t, h, http.MethodPost, "/settlements", `{"salesman_id":7,"date":"2026-03-05"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var rec SettlementRecord
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rec))
	requireDecimal(t, "40", rec.ReturnedNow)

	res = do(t, h, http.MethodPost, "/settlements", `{"salesman_id":7,"date":"2026-03-05"}`)
	require.Equal(t, http.StatusConflict, res.Code)

	res = do(t, h, http.MethodGet, "/movements?assignment_id="+itoa(a.ID), "")
	require.Equal(t, http.StatusOK, res.Code)
	var movements []StockMovement
	require.NoError(t, json.NewDecoder(res.Body).Decode(&movements))
	require.NotEmpty(t, movements)

	// batch, allocate, deliver, sale, settlement
	require.Equal(t, 5, inv.calls)
}

func TestHandlerNotFound(t *testing.T) {
	_, _, h := newTestRouter(t)
	res := do(t, h, http.MethodGet, "/invoices/99", "")
	require.Equal(t, http.StatusNotFound, res.Code)

	res = do(t, h, http.MethodGet, "/movements", "")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
