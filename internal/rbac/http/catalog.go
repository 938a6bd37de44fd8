package rbachttp

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chapterhub/chapterhub/internal/platform/httpx"
)

// RoleAdmin removes custom roles and permissions.
type RoleAdmin interface {
	DeleteRole(ctx context.Context, name string) error
	DeletePermission(ctx context.Context, name string) error
}

// WithRoleAdmin enables the role and permission removal endpoints.
func (h *Handler) WithRoleAdmin(admin RoleAdmin) *Handler {
	h.roles = admin
	return h
}

func (h *Handler) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	name, err := pathName(r, "roleName")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.roles.DeleteRole(r.Context(), name); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	name, err := pathName(r, "permissionName")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.roles.DeletePermission(r.Context(), name); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathName(r *http.Request, param string) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, param))
	if err != nil || strings.TrimSpace(name) == "" || len(name) > 100 {
		return "", httpx.ErrValidation
	}
	return name, nil
}
