package commission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
)

// Invalidator is notified after a payout changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Handler exposes commission payouts over JSON.
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

// MountRoutes registers commission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.dashboard)
	r.Get("/{id}", h.get)
	r.Post("/{id}/pending", h.markPending)
	r.Post("/{id}/pay", h.markPaid)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/reverse", h.reverse)
}

type payRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
	PaidAt           string `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.service.GetDashboard(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dash)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) markPending(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id, actor int64) (Commission, error) {
		return h.service.MarkPending(ctx, id, actor)
	})
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id, actor int64) (Commission, error) {
		input := PayInput{CommissionID: id, PaymentReference: req.PaymentReference, ActorID: actor}
		if req.PaidAt != "" {
			input.PaidAt, _ = httpx.ParseDate(req.PaidAt)
		}
		return h.service.MarkPaid(ctx, input)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id, actor int64) (Commission, error) {
		return h.service.Cancel(ctx, id, actor, req.Reason)
	})
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id, actor int64) (Commission, error) {
		return h.service.Reverse(ctx, id, actor, req.Reason)
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (Commission, error)) {
	actor, err := httpx.ActorID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.respondError(w, err)
		return
	}
	c, err := fn(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(r.Context())
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrLocked), errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
