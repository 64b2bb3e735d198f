package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/procureflow/internal/billing"
	"github.com/odyssey-erp/procureflow/internal/observability"
	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Services   *Services
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with the API mounted under /api/v1.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	svc := params.Services
	if svc == nil {
		return r
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.RequireActor)
		requests.NewHandler(logger, svc.Requests).MountRoutes(r)
		preparation.NewHandler(logger, svc.Preparations, svc.Ranker).MountRoutes(r)
		receiving.NewHandler(logger, svc.Receiving, svc.Preparations).MountRoutes(r)
		stock.NewHandler(logger, svc.Stock).MountRoutes(r)
		billing.NewHandler(logger, svc.Billing).MountRoutes(r)
		NewDashboardHandler(logger, svc.Dashboard).MountRoutes(r)
		rbac.NewPermissionsHandler().MountRoutes(r)
	})
	return r
}
