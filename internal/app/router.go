package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kalanatw/growaloe-crm/internal/commission"
	"github.com/kalanatw/growaloe-crm/internal/ledger"
	"github.com/kalanatw/growaloe-crm/internal/observability"
	"github.com/kalanatw/growaloe-crm/internal/platform/httpx"
	"github.com/kalanatw/growaloe-crm/internal/profit"
	"github.com/kalanatw/growaloe-crm/internal/shared"
	"github.com/kalanatw/growaloe-crm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	LedgerHandler     *ledger.Handler
	CommissionHandler *commission.Handler
	ProfitHandler     *profit.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	Audit             AuditReader
}

// AuditReader lists the audit trail of one entity.
type AuditReader interface {
	ForEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.LedgerHandler != nil {
			r.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.CommissionHandler != nil {
			r.Route("/commissions", params.CommissionHandler.MountRoutes)
		}
		if params.ProfitHandler != nil {
			r.Route("/profit", params.ProfitHandler.MountRoutes)
		}
		if params.Audit != nil {
			r.Get("/audit/{entity}/{id}", auditTrail(params.Audit))
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

func auditTrail(reader AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := reader.ForEntity(r.Context(), chi.URLParam(r, "entity"), strconv.FormatInt(id, 10), limit)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, entries)
	}
}
