package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

// RequireAny ensures the current actor holds at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(normalizePermissions(perms), false)
}

// RequireAll ensures the current actor holds every permission.
func RequireAll(perms ...string) func(http.Handler) http.Handler {
	return guard(normalizePermissions(perms), true)
}

func guard(required []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, fmt.Errorf("%w: identity missing", httpx.ErrUnauthorized))
				return
			}
			granted := shared.PermissionsFor(actor.Role)
			allowed := hasAnyPermission(granted, required)
			if all {
				allowed = hasAllPermissions(granted, required)
			}
			if !allowed {
				slog.Default().Debug("rbac denied", slog.String("actor", actor.ID), slog.String("role", string(actor.Role)), slog.String("path", r.URL.Path))
				httpx.RespondError(w, fmt.Errorf("%w: role %s may not %s", httpx.ErrForbidden, actor.Role, strings.Join(required, ",")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
