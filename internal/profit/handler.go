package profit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
)

// Handler exposes profit summaries and manual transactions.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers profit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
	r.Get("/risk", h.risk)
	r.Get("/transactions", h.listTransactions)
	r.Post("/transactions", h.recordTransaction)
}

type transactionRequest struct {
	Type        TransactionType `json:"transaction_type" validate:"required,oneof=income expense"`
	Category    string          `json:"category" validate:"required,max=64"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	Description string          `json:"description" validate:"max=500"`
}

// window resolves start/end query parameters. A period with only an anchor
// date expands to the containing period.
func (h *Handler) window(r *http.Request) (PeriodType, Window, error) {
	period := PeriodType(r.URL.Query().Get("period"))
	if period == "" {
		period = PeriodMonthly
	}
	anchor, err := httpx.QueryDate(r, "date", time.Now().UTC())
	if err != nil {
		return "", Window{}, err
	}
	def, err := WindowFor(period, anchor)
	if err != nil {
		return "", Window{}, err
	}
	start, err := httpx.QueryDate(r, "start", def.Start)
	if err != nil {
		return "", Window{}, err
	}
	end, err := httpx.QueryDate(r, "end", def.End)
	if err != nil {
		return "", Window{}, err
	}
	return period, Window{Start: start, End: end}, nil
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	period, win, err := h.window(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.GetSummary(r.Context(), SummaryRequest{
		Start:      win.Start,
		End:        win.End,
		PeriodType: period,
		Refresh:    r.URL.Query().Get("refresh") == "true",
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) risk(w http.ResponseWriter, r *http.Request) {
	_, win, err := h.window(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.RiskAdjusted(r.Context(), win.Start, win.End)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	_, win, err := h.window(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ListTransactions(r.Context(), win.Start, win.End)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.ActorID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := TransactionInput{
		Type:        req.Type,
		Category:    req.Category,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     actor,
	}
	if req.Date != "" {
		input.Date, _ = httpx.ParseDate(req.Date)
	}
	t, err := h.service.RecordTransaction(r.Context(), input)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.Warn("profit request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
