package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// PermissionsHandler reports the permissions of the calling actor.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
}

type permissionsResponse struct {
	Actor       shared.Actor `json:"actor"`
	Permissions []string     `json:"permissions"`
	Scopes      []string     `json:"scopes"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor := httpx.Actor(r)
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		Actor:       actor,
		Permissions: shared.PermissionsFor(actor.Role),
		Scopes:      shared.ProcurementScopes(),
	})
}
