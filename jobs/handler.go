package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
)

// QueueInspector reads queue state; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Enqueuer triggers jobs on demand; *Client satisfies it.
type Enqueuer interface {
	EnqueueProfitRefresh(ctx context.Context, payload ProfitRefreshPayload) (*asynq.TaskInfo, error)
	EnqueueStaleScan(ctx context.Context, payload StaleScanPayload) (*asynq.TaskInfo, error)
}

// Handler exposes HTTP endpoints for job observability and manual triggers.
type Handler struct {
	inspector QueueInspector
	enqueuer  Enqueuer
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Either dependency
// may be nil.
func NewHandler(inspector QueueInspector, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/profit-refresh", h.triggerProfitRefresh)
	r.Post("/stale-scan", h.triggerStaleScan)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "queue state could not be read")
		return
	}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Paused:    info.Paused,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

type triggerResponse struct {
	Task      string `json:"task"`
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

func (h *Handler) triggerProfitRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Periods    []string `json:"periods" validate:"omitempty,dive,oneof=daily weekly monthly yearly"`
		AnchorDate string   `json:"anchor_date" validate:"omitempty,datetime=2006-01-02"`
	}
	if !h.ready(w) || !decode(w, r, &req) {
		return
	}
	info, err := h.enqueuer.EnqueueProfitRefresh(r.Context(), ProfitRefreshPayload{Periods: req.Periods, AnchorDate: req.AnchorDate})
	h.respondTrigger(w, TaskProfitSummaryRefresh, info, err)
}

func (h *Handler) triggerStaleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	}
	if !h.ready(w) || !decode(w, r, &req) {
		return
	}
	info, err := h.enqueuer.EnqueueStaleScan(r.Context(), StaleScanPayload{AsOf: req.AsOf})
	h.respondTrigger(w, TaskStaleAssignmentScan, info, err)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "job client not configured")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) respondTrigger(w http.ResponseWriter, task string, info *asynq.TaskInfo, err error) {
	if err != nil {
		h.logger.Error("enqueue job", slog.String("task", task), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue unavailable", "job could not be enqueued")
		return
	}
	resp := triggerResponse{Task: task, Duplicate: info == nil}
	if info != nil {
		resp.ID = info.ID
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}
