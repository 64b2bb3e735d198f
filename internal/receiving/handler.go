package receiving

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// HandleSource resolves the delivery handle of a delivered preparation.
type HandleSource interface {
	Handle(ctx context.Context, id string) (preparation.DeliveryHandle, error)
}

// Handler exposes receiving and QC endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	handles HandleSource
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, handles HandleSource) *Handler {
	return &Handler{logger: logger, service: service, handles: handles}
}

// MountRoutes registers GRN and QC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/grns", func(r chi.Router) {
		r.With(rbac.RequireAny(shared.PermGRNCreate)).Post("/", h.create)
		r.With(rbac.RequireAny(shared.PermGRNCreate)).Post("/from-delivery/{preparationID}", h.createFromDelivery)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.With(rbac.RequireAny(shared.PermGRNDecide)).Post("/{id}/approve", h.approve)
		r.With(rbac.RequireAny(shared.PermGRNDecide)).Post("/{id}/reject", h.reject)
	})
	r.Route("/qc", func(r chi.Router) {
		r.With(rbac.RequireAny(shared.PermQCRecord)).Post("/", h.recordQC)
		r.Get("/", h.listQC)
	})
	r.With(rbac.RequireAny(shared.PermReceiptsRecompute)).Post("/receipts/{poID}/recompute", h.recompute)
}

type createResponse struct {
	GRN      GRN               `json:"grn"`
	Warnings []VarianceWarning `json:"warnings"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, warnings, err := h.service.CreateGRN(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{GRN: grn, Warnings: warnings})
}

func (h *Handler) createFromDelivery(w http.ResponseWriter, r *http.Request) {
	var header Header
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &header); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	handle, err := h.handles.Handle(r.Context(), chi.URLParam(r, "preparationID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, warnings, err := h.service.CreateGRNFromDelivery(r.Context(), httpx.Actor(r), handle, header)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{GRN: grn, Warnings: warnings})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	grns, err := h.service.ListGRNs(r.Context(), Status(r.URL.Query().Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, grns)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	grn, err := h.service.GetGRN(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	grn, err := h.service.ApproveGRN(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.RejectGRN(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) recordQC(w http.ResponseWriter, r *http.Request) {
	var input QCInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.RecordQC(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) listQC(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListQCRecords(r.Context(), r.URL.Query().Get("supplier"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, records)
}

type receiptResponse struct {
	PurchaseOrderID string               `json:"purchaseOrderId"`
	Status          preparation.POStatus `json:"status"`
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	poID := chi.URLParam(r, "poID")
	status, err := h.service.RecomputePOReceipt(r.Context(), poID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receiptResponse{PurchaseOrderID: poID, Status: status})
}
