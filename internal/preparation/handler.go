package preparation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Handler exposes purchase preparation endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	ranker  *SupplierRanker
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, ranker *SupplierRanker) *Handler {
	return &Handler{logger: logger, service: service, ranker: ranker}
}

// MountRoutes registers preparation and purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/preparations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/handle", h.handle)
		r.With(rbac.RequireAny(shared.PermPreparationsManage)).Post("/{id}/supplier", h.assignSupplier)
		r.With(rbac.RequireAny(shared.PermPreparationsManage)).Post("/{id}/allocation", h.submitAllocation)
		r.With(rbac.RequireAny(shared.PermPreparationsManage)).Post("/{id}/delivery", h.markDelivered)
	})
	r.Route("/purchase-orders", func(r chi.Router) {
		r.With(rbac.RequireAny(shared.PermPreparationsManage)).Post("/", h.issuePO)
		r.Get("/", h.listPOs)
		r.Get("/{id}", h.getPO)
	})
	if h.ranker != nil {
		r.Get("/suppliers/ranking", h.ranking)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		items []Preparation
		err   error
	)
	if requestID := r.URL.Query().Get("request"); requestID != "" {
		items, err = h.service.ListByRequest(r.Context(), requestID)
	} else {
		items, err = h.service.ListByStatus(r.Context(), Status(r.URL.Query().Get("status")))
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	prep, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prep)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	handle, err := h.service.Handle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, handle)
}

func (h *Handler) assignSupplier(w http.ResponseWriter, r *http.Request) {
	var input AssignInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	prep, err := h.service.AssignSupplier(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prep)
}

type allocationRequest struct {
	Splits []Split `json:"splits"`
}

func (h *Handler) submitAllocation(w http.ResponseWriter, r *http.Request) {
	var body allocationRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	prep, err := h.service.SubmitAllocation(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Splits)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prep)
}

type deliveryResponse struct {
	Preparation Preparation    `json:"preparation"`
	Handle      DeliveryHandle `json:"handle"`
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	var input DeliveryInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	prep, handle, err := h.service.MarkDelivered(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, deliveryResponse{Preparation: prep, Handle: handle})
}

func (h *Handler) issuePO(w http.ResponseWriter, r *http.Request) {
	var input IssuePOInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.IssuePurchaseOrder(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.ListPurchaseOrders(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, pos)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	po, err := h.service.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) ranking(w http.ResponseWriter, r *http.Request) {
	scores, err := h.ranker.RankSuppliers(r.Context())
	if err != nil {
		h.logger.Warn("supplier ranking failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, scores)
}
