package requests

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/rbac"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Handler exposes request lifecycle endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.With(rbac.RequireAny(shared.PermRequestsCreate)).Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/stream", h.stream)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.With(rbac.RequireAny(shared.PermRequestsApproveHO)).Post("/{id}/ho-approve", h.approveHO)
		r.With(rbac.RequireAny(shared.PermRequestsApproveHO)).Post("/{id}/ho-reject", h.rejectHO)
		r.With(rbac.RequireAny(shared.PermRequestsApproveMD)).Post("/{id}/md-approve", h.approveMD)
		r.With(rbac.RequireAny(shared.PermRequestsApproveMD)).Post("/{id}/md-reject", h.rejectMD)
	})
}

type decisionRequest struct {
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.CreateRequest(r.Context(), httpx.Actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		items []Request
		err   error
	)
	query := r.URL.Query()
	switch {
	case query.Get("status") != "":
		items, err = h.service.ListByStatus(r.Context(), query.Get("status"))
	case query.Get("requester") != "":
		items, err = h.service.ListByRequester(r.Context(), query.Get("requester"))
	default:
		items, err = h.service.List(r.Context())
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, r, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) approveHO(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionRequest) (Request, error) {
		return h.service.ApproveAtOperationsHead(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Comments)
	})
}

func (h *Handler) rejectHO(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionRequest) (Request, error) {
		return h.service.RejectAtOperationsHead(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Reason)
	})
}

func (h *Handler) approveMD(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionRequest) (Request, error) {
		return h.service.ApproveAtDirector(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Comments)
	})
}

func (h *Handler) rejectMD(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(body decisionRequest) (Request, error) {
		return h.service.RejectAtDirector(r.Context(), httpx.Actor(r), chi.URLParam(r, "id"), body.Reason)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(decisionRequest) (Request, error)) {
	var body decisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	req, err := fn(body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	events := make(chan httpx.Event, 64)
	stop, err := h.service.Watch(r.Context(), func(req Request) {
		select {
		case events <- httpx.Event{Type: "request." + string(req.Status), Data: req}:
		default:
			h.logger.Debug("request stream client lagging", slog.String("request_id", req.ID))
		}
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer stop()
	httpx.Stream(w, r, events)
}
