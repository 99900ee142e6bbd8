package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
	"github.com/kalanatw/growaloe-crm/internal/shared"
)

// Invalidator is notified after any mutation that moves money or stock.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	invalidator Invalidator
}

// NewHandler builds Handler. invalidator may be nil.
func NewHandler(logger *slog.Logger, service *Service, invalidator Invalidator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, invalidator: invalidator}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.registerBatch)
	r.Post("/batches/{id}/adjust", h.adjustBatch)
	r.Post("/batches/{id}/deactivate", h.deactivateBatch)

	r.Post("/assignments", h.allocate)
	r.Get("/assignments/stale", h.staleAssignments)
	r.Post("/assignments/{id}/deliver", h.markDelivered)
	r.Get("/assignments/{id}/history", h.assignmentHistory)
	r.Post("/reservations", h.reserve)

	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/finalize", h.finalizeInvoice)
	r.Post("/invoices/{id}/items", h.commitLine)
	r.Post("/invoices/{id}/payments", h.recordPayment)
	r.Post("/invoices/{id}/deliver", h.deliverInvoice)
	r.Post("/invoices/{id}/cancel", h.cancelInvoice)
	r.Patch("/invoice-items/{id}", h.resizeItem)
	r.Delete("/invoice-items/{id}", h.removeItem)
	r.Delete("/invoice-lines/{id}", h.removeLine)

	r.Post("/settlements", h.settle)
	r.Get("/settlements/{id}", h.getSettlement)

	r.Get("/movements", h.listMovements)
	r.Get("/salesmen/{id}/stock", h.salesmanStock)
}

type registerBatchRequest struct {
	ProductID         int64           `json:"product_id" validate:"required,gt=0"`
	BatchNumber       string          `json:"batch_number" validate:"required,max=64"`
	ManufacturingDate string          `json:"manufacturing_date" validate:"required,datetime=2006-01-02"`
	ExpiryDate        string          `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

type adjustBatchRequest struct {
	Delta decimal.Decimal `json:"delta"`
	Type  MovementType    `json:"type" validate:"required,oneof=adjustment damage"`
	Note  string          `json:"note" validate:"max=500"`
}

type allocateRequest struct {
	BatchID    int64           `json:"batch_id" validate:"required,gt=0"`
	SalesmanID int64           `json:"salesman_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type reserveRequest struct {
	SalesmanID int64           `json:"salesman_id" validate:"required,gt=0"`
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	AsOf       string          `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (it itemRequest) input() ItemInput {
	return ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
}

type createInvoiceRequest struct {
	SalesmanID  int64         `json:"salesman_id" validate:"required,gt=0"`
	ShopID      int64         `json:"shop_id" validate:"required,gt=0"`
	InvoiceDate string        `json:"invoice_date" validate:"omitempty,datetime=2006-01-02"`
	Items       []itemRequest `json:"items" validate:"dive"`
	Finalize    bool          `json:"finalize"`
}

type resizeRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type settleRequest struct {
	SalesmanID           int64  `json:"salesman_id" validate:"required,gt=0"`
	Date                 string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ReturnAllOutstanding *bool  `json:"return_all_outstanding"`
	Notes                string `json:"notes" validate:"max=1000"`
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req registerBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	mfg, _ := httpx.ParseDate(req.ManufacturingDate)
	exp, _ := httpx.ParseDate(req.ExpiryDate)
	batch, err := h.service.RegisterBatch(r.Context(), RegisterBatchInput{
		ProductID:         req.ProductID,
		BatchNumber:       req.BatchNumber,
		ManufacturingDate: mfg,
		ExpiryDate:        exp,
		Quantity:          req.Quantity,
		UnitCost:          req.UnitCost,
		ActorID:           actor,
	})
	h.respond(w, r, http.StatusCreated, batch, err)
}

func (h *Handler) adjustBatch(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req adjustBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	batch, err := h.service.AdjustBatch(r.Context(), AdjustBatchInput{BatchID: id, Delta: req.Delta, Type: req.Type, Note: req.Note, ActorID: actor})
	h.respond(w, r, http.StatusOK, batch, err)
}

func (h *Handler) deactivateBatch(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.DeactivateBatch(r.Context(), id, actor)
	h.respond(w, r, http.StatusOK, batch, err)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	assignment, err := h.service.Allocate(r.Context(), AllocateInput{BatchID: req.BatchID, SalesmanID: req.SalesmanID, Quantity: req.Quantity, ActorID: actor})
	h.respond(w, r, http.StatusCreated, assignment, err)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	assignment, err := h.service.MarkDelivered(r.Context(), id, actor)
	h.respond(w, r, http.StatusOK, assignment, err)
}

func (h *Handler) staleAssignments(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryDate(r, "as_of", time.Time{})
	if err != nil {
		h.respondError(w, err)
		return
	}
	rows, err := h.service.ListStaleAssignments(r.Context(), asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) assignmentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	replay, err := h.service.AssignmentHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, replay)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	var asOf time.Time
	if req.AsOf != "" {
		asOf, _ = httpx.ParseDate(req.AsOf)
	}
	picks, err := h.service.Reserve(r.Context(), ReserveInput{SalesmanID: req.SalesmanID, ProductID: req.ProductID, Quantity: req.Quantity, AsOf: asOf})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, picks)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	var date time.Time
	if req.InvoiceDate != "" {
		date, _ = httpx.ParseDate(req.InvoiceDate)
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.input())
	}
	input := CreateInvoiceInput{SalesmanID: req.SalesmanID, ShopID: req.ShopID, InvoiceDate: date, Items: items, ActorID: actor}
	var (
		inv Invoice
		err error
	)
	if req.Finalize {
		inv, err = h.service.CreateAndFinalizeInvoice(r.Context(), input, time.Time{})
	} else {
		inv, err = h.service.CreateInvoice(r.Context(), input)
	}
	h.respond(w, r, http.StatusCreated, inv, err)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) finalizeInvoice(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.FinalizeInvoice(r.Context(), id, actor, time.Time{})
	h.respond(w, r, http.StatusOK, inv, err)
}

func (h *Handler) commitLine(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	item, lines, err := h.service.CommitLine(r.Context(), CommitLineInput{InvoiceID: id, Item: req.input(), ActorID: actor})
	h.respond(w, r, http.StatusCreated, map[string]any{"item": item, "lines": lines}, err)
}

func (h *Handler) resizeItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req resizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	item, err := h.service.ResizeItem(r.Context(), id, req.Quantity, time.Time{}, actor)
	h.respond(w, r, http.StatusOK, item, err)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	err := h.service.RemoveItem(r.Context(), id, actor)
	h.respond(w, r, http.StatusNoContent, nil, err)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	err := h.service.OnInvoiceLineRemoved(r.Context(), id, actor)
	h.respond(w, r, http.StatusNoContent, nil, err)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	inv, err := h.service.RecordPayment(r.Context(), id, req.Amount, actor)
	h.respond(w, r, http.StatusOK, inv, err)
}

func (h *Handler) deliverInvoice(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.MarkInvoiceDelivered(r.Context(), id, actor)
	h.respond(w, r, http.StatusOK, inv, err)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	inv, err := h.service.CancelInvoice(r.Context(), id, actor, req.Reason)
	h.respond(w, r, http.StatusOK, inv, err)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		date, _ = httpx.ParseDate(req.Date)
	}
	returnAll := true
	if req.ReturnAllOutstanding != nil {
		returnAll = *req.ReturnAllOutstanding
	}
	rec, err := h.service.Settle(r.Context(), SettleInput{SalesmanID: req.SalesmanID, Date: date, ReturnAllOutstanding: returnAll, Notes: req.Notes, ActorID: actor})
	h.respond(w, r, http.StatusCreated, rec, err)
}

func (h *Handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	rec, err := h.service.GetSettlement(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	var (
		filter MovementFilter
		err    error
	)
	for name, dst := range map[string]*int64{
		"product_id":    &filter.ProductID,
		"salesman_id":   &filter.SalesmanID,
		"batch_id":      &filter.BatchID,
		"assignment_id": &filter.AssignmentID,
	} {
		if *dst, err = httpx.QueryID(r, name); err != nil {
			h.respondError(w, err)
			return
		}
	}
	if filter.From, err = httpx.QueryDate(r, "from", time.Time{}); err != nil {
		h.respondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to", time.Time{}); err != nil {
		h.respondError(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit <= 0 {
			h.respondError(w, shared.NewValidationError("limit", "must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	rows, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) salesmanStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	asOf, err := httpx.QueryDate(r, "as_of", time.Time{})
	if err != nil {
		h.respondError(w, err)
		return
	}
	rows, err := h.service.SalesmanStock(r.Context(), id, asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, err := httpx.ActorID(r)
	if err != nil {
		h.respondError(w, err)
		return 0, false
	}
	return actor, true
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return 0, 0, false
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return 0, 0, false
	}
	return actor, id, true
}

// respond finishes a mutation: errors are mapped, successes invalidate
// derived caches before the body is written.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(r.Context())
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	var stale *ExpiredOrInactiveBatchError
	switch {
	case errors.As(err, &insufficient):
		httpx.ProblemFields(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]string{
			"available": insufficient.Available.String(),
			"requested": insufficient.Requested.String(),
		})
	case errors.As(err, &stale):
		httpx.ProblemFields(w, http.StatusConflict, "Expired Or Inactive Batch", err.Error(), map[string]string{
			"available": stale.Available.String(),
			"stale":     stale.Stale.String(),
			"requested": stale.Requested.String(),
		})
	case errors.Is(err, ErrSettlementAlreadyExists), errors.Is(err, ErrDuplicateBatch):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, commission.ErrLocked):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrLockNotObtained):
		httpx.Problem(w, http.StatusLocked, "Busy", "another settlement for this salesman is running")
	case errors.Is(err, ErrNotFound), errors.Is(err, commission.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNegativeQuantityInvariant):
		h.logger.Error("ledger invariant violated", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "ledger invariant violated")
	default:
		if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, httpx.ErrUnauthorized) {
			h.logger.Error("ledger request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
