package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	abachttp "github.com/chapterhub/chapterhub/internal/abac/http"
	"github.com/chapterhub/chapterhub/internal/authz"
	"github.com/chapterhub/chapterhub/internal/observability"
	"github.com/chapterhub/chapterhub/internal/rbac"
	rbachttp "github.com/chapterhub/chapterhub/internal/rbac/http"
	"github.com/chapterhub/chapterhub/internal/shared"
	"github.com/chapterhub/chapterhub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	RBACMiddleware rbac.Middleware
	Checkpoint     *authz.Checkpoint
	GrantHandler   *rbachttp.Handler
	PolicyHandler  *abachttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with chapterhub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		RBAC:           params.RBACMiddleware,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		params.GrantHandler.MountRoutes(api, params.Checkpoint)
		params.PolicyHandler.MountRoutes(api, params.Checkpoint)
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				jr.Use(params.Checkpoint.Require(authz.Requirement{
					Name:        "jobs.health",
					SystemAdmin: true,
				}))
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
