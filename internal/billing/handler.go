package billing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Handler exposes invoice and payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.list)
		r.With(rbac.RequireAny(shared.PermInvoicesManage)).Post("/from-grn/{grnID}", h.generate)
		r.Get("/by-grn/{grnID}", h.getByGRN)
		r.Get("/aging", h.aging)
		r.Get("/{id}", h.get)
		r.With(rbac.RequireAny(shared.PermInvoicesManage)).Post("/{id}/match", h.match)
		r.Get("/{id}/payments", h.listPayments)
		r.With(rbac.RequireAny(shared.PermPaymentsRecord)).Post("/{id}/payments", h.recordPayment)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context(), PaymentStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, invoices)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GenerateInvoiceFromGRN(r.Context(), httpx.Actor(r), chi.URLParam(r, "grnID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getByGRN(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoiceByGRN(r.Context(), chi.URLParam(r, "grnID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, shared.Validation("billing.aging", "asOf must be YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}
	bucket, err := h.service.CalculateAging(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bucket)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type matchRequest struct {
	PurchaseOrderID string `json:"purchaseOrderId"`
	GRNID           string `json:"grnId"`
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var body matchRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	inv, err := h.service.ThreeWayMatch(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.PurchaseOrderID, body.GRNID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

type paymentResponse struct {
	Invoice Invoice `json:"invoice"`
	Payment Payment `json:"payment"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var input PaymentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.InvoiceID = chi.URLParam(r, "id")
	inv, payment, err := h.service.RecordPayment(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResponse{Invoice: inv, Payment: payment})
}
