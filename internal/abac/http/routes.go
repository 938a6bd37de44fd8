package abachttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/chapterhub/chapterhub/internal/authz"
)

// MountRoutes registers the policy endpoints. They are restricted to global system
// administrators.
func (h *Handler) MountRoutes(r chi.Router, guard *authz.Checkpoint) {
	if h == nil {
		return
	}
	r.Group(func(gr chi.Router) {
		gr.Use(guard.Require(authz.Requirement{
			Name:        "policies.probe",
			SystemAdmin: true,
		}))
		gr.Get("/authz/policies", h.handleList)
		gr.Post("/authz/policies/evaluate", h.handleEvaluateMultiple)
		gr.Post("/authz/policies/{policyID}/evaluate", h.handleEvaluate)
	})
}
