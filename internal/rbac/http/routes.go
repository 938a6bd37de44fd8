package rbachttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/chapterhub/chapterhub/internal/authz"
	"github.com/chapterhub/chapterhub/internal/rbac"
)

const writeRateLimit = 30
const writeRateWindow = time.Minute

// MountRoutes registers the grant endpoints behind their checkpoints. Chapter
// authority over the specific grant is enforced by the grant service.
func (h *Handler) MountRoutes(r chi.Router, guard *authz.Checkpoint) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(writeRateLimit, writeRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.With(guard.Require(authz.Requirement{Name: "me.permissions"})).
		Get("/me/permissions", h.handleCurrentContext)

	r.With(guard.Require(authz.Requirement{
		Name: "grants.list",
		Permissions: []string{
			string(rbac.PermRoleManage),
			string(rbac.PermRoleAssign),
			string(rbac.PermSystemAudit),
		},
	})).Get("/users/{userID}/grants", h.handleListUserGrants)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.With(guard.Require(authz.Requirement{
			Name:        "grants.create",
			Permissions: []string{string(rbac.PermRoleAssign)},
		})).Post("/grants", h.handleCreate)
		gr.With(guard.Require(authz.Requirement{
			Name:        "grants.revoke",
			Permissions: []string{string(rbac.PermRoleRevoke)},
		})).Post("/grants/{grantID}/revoke", h.handleRevoke)
		gr.With(guard.Require(authz.Requirement{
			Name:        "grants.activate",
			Permissions: []string{string(rbac.PermRoleAssign)},
		})).Post("/grants/{grantID}/activate", h.handleActivate)

		if h.roles != nil {
			removal := guard.Require(authz.Requirement{
				Name:        "roles.delete",
				SystemAdmin: true,
				Permissions: []string{string(rbac.PermRoleManage)},
			})
			gr.With(removal).Delete("/roles/{roleName}", h.handleDeleteRole)
			gr.With(removal).Delete("/permissions/{permissionName}", h.handleDeletePermission)
		}
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if sc := rbac.SecurityContextFromContext(r.Context()); sc != nil {
		return "user:" + strconv.FormatInt(sc.UserID(), 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
