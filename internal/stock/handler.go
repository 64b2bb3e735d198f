package stock

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Handler exposes stock ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock/{ns}", func(r chi.Router) {
		r.Get("/levels/{materialID}", h.getLevel)
		r.Get("/movements/{materialID}", h.listMovements)
		r.Get("/verify/{materialID}", h.verify)
		r.Get("/alerts", h.alerts)
		r.With(rbac.RequireAny(shared.PermStockManage)).Post("/dispatch", h.dispatch)
		r.With(rbac.RequireAny(shared.PermStockManage)).Put("/reorder/{materialID}", h.setReorder)
	})
}

func namespaceParam(r *http.Request) (Namespace, error) {
	ns, ok := ParseNamespace(chi.URLParam(r, "ns"))
	if !ok {
		return "", fmt.Errorf("%w: unknown namespace %q", httpx.ErrBadRequest, chi.URLParam(r, "ns"))
	}
	return ns, nil
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.GetLevel(r.Context(), ns, chi.URLParam(r, "materialID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), ns, chi.URLParam(r, "materialID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, movements)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Verify(r.Context(), ns, chi.URLParam(r, "materialID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !result.Consistent {
		h.logger.Warn("stock projection drift", slog.String("material_id", result.MaterialID),
			slog.String("stored", result.Stored.String()), slog.String("replayed", result.Replayed.String()))
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alerts, err := h.service.LowStockAlerts(r.Context(), ns)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input DispatchInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Namespace = ns
	movement, err := h.service.Dispatch(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

type reorderRequest struct {
	ReorderLevel decimal.Decimal `json:"reorderLevel"`
}

func (h *Handler) setReorder(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reorderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.SetReorderLevel(r.Context(), httpx.Actor(r), ns, chi.URLParam(r, "materialID"), req.ReorderLevel)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}
