// Package authz guards HTTP handlers with RBAC checks and ABAC policies.
package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chapterhub/chapterhub/internal/abac"
	"github.com/chapterhub/chapterhub/internal/platform/httpx"
	"github.com/chapterhub/chapterhub/internal/rbac"
	"github.com/chapterhub/chapterhub/internal/shared"
)

// Checkpoint outcomes reported to the Recorder.
const (
	OutcomePermit          = "permit"
	OutcomeDeny            = "deny"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeIndeterminate   = "indeterminate"
	OutcomeNotApplicable   = "not_applicable"
	OutcomeError           = "error"
)

// ErrBadChapter indicates the chapter id could not be read from the request.
var ErrBadChapter = errors.New("authz: invalid chapter id")

// Recorder receives one outcome per checkpoint evaluation.
type Recorder interface {
	RecordAuthorization(checkpoint, outcome string)
}

// ChapterExtractor reads the chapter a request targets. A nil id means no chapter.
type ChapterExtractor func(r *http.Request) (*int64, error)

// AttributeBuilder assembles the policy bundles for a request.
type AttributeBuilder func(r *http.Request, sc *rbac.SecurityContext, chapterID *int64) (abac.EvaluationContext, error)

// Requirement declares what a protected operation needs. Every configured part must
// pass: permissions, then roles and hierarchy, then the combined policy decision.
type Requirement struct {
	Name string

	// SystemAdmin requires a global system administrator grant. Chapter-scoped grants
	// of the same roles do not count.
	SystemAdmin bool

	Permissions           []string
	RequireAllPermissions bool

	Roles             []string
	RequireAllRoles   bool
	MinHierarchyLevel int

	ChapterScoped bool
	ChapterID     ChapterExtractor

	Policies          []string
	Algorithm         abac.Algorithm
	RequireApplicable bool
	Attributes        AttributeBuilder
}

// Denial is the uniform rejection. It matches rbac.ErrAccessDenied with errors.Is.
type Denial struct {
	ID              string
	Checkpoint      string
	Reason          string
	Outcome         string
	Unauthenticated bool
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", rbac.ErrAccessDenied, d.Reason)
}

// Unwrap exposes the sentinel errors the denial represents.
func (d *Denial) Unwrap() []error {
	if d.Unauthenticated {
		return []error{rbac.ErrAccessDenied, shared.ErrUnauthenticated}
	}
	return []error{rbac.ErrAccessDenied}
}

// Checkpoint evaluates Requirements against the request's security context.
type Checkpoint struct {
	security *rbac.SecurityService
	policies *abac.Evaluator
	logger   *slog.Logger
	metrics  Recorder
}

// New constructs a Checkpoint. metrics and logger may be nil.
func New(security *rbac.SecurityService, policies *abac.Evaluator, logger *slog.Logger, metrics Recorder) *Checkpoint {
	return &Checkpoint{security: security, policies: policies, logger: logger, metrics: metrics}
}

// Require wraps next so it only runs when req is satisfied.
func (c *Checkpoint) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := c.Authorize(r, req); err != nil {
				c.reject(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize returns nil when req is satisfied, a *Denial when it is not, or an error
// wrapping ErrBadChapter when the request does not identify its chapter.
func (c *Checkpoint) Authorize(r *http.Request, req Requirement) error {
	ctx := r.Context()
	sc := rbac.SecurityContextFromContext(ctx)
	if sc == nil {
		return c.deny(r, req, OutcomeUnauthenticated, "authentication required")
	}

	if req.SystemAdmin && !sc.IsSystemAdmin() {
		return c.deny(r, req, OutcomeDeny, "system administrator required")
	}

	var chapterID *int64
	if req.ChapterScoped && req.ChapterID != nil {
		id, err := req.ChapterID(r)
		if err != nil {
			c.record(req, OutcomeError)
			return fmt.Errorf("%w: %v", ErrBadChapter, err)
		}
		chapterID = id
	}

	if len(req.Permissions) > 0 {
		ok := c.security.ValidatePermission(ctx, rbac.PermissionCheck{
			Permissions:   req.Permissions,
			RequireAll:    req.RequireAllPermissions,
			ChapterScoped: req.ChapterScoped,
			ChapterID:     chapterID,
		})
		if !ok {
			return c.deny(r, req, OutcomeDeny, "missing required permission")
		}
	}

	if len(req.Roles) > 0 || req.MinHierarchyLevel > 0 {
		ok := c.security.ValidateRole(ctx, rbac.RoleCheck{
			Roles:             req.Roles,
			RequireAll:        req.RequireAllRoles,
			ChapterScoped:     req.ChapterScoped,
			ChapterID:         chapterID,
			MinHierarchyLevel: req.MinHierarchyLevel,
		})
		if !ok {
			return c.deny(r, req, OutcomeDeny, "missing required role")
		}
	}

	if len(req.Policies) > 0 {
		if c.policies == nil {
			return c.deny(r, req, OutcomeIndeterminate, "policy evaluator not configured")
		}
		build := req.Attributes
		if build == nil {
			build = DefaultAttributes
		}
		ec, err := build(r, sc, chapterID)
		if err != nil {
			return c.deny(r, req, OutcomeIndeterminate, "attributes unavailable: "+err.Error())
		}
		alg := req.Algorithm
		if alg == "" {
			alg = abac.DenyOverrides
		}
		decision := c.policies.EvaluateMultiple(req.Policies, ec, alg)
		switch decision.Result {
		case abac.Permit:
		case abac.Deny:
			return c.deny(r, req, OutcomeDeny, decision.Reason)
		case abac.Indeterminate:
			return c.deny(r, req, OutcomeIndeterminate, decision.Reason)
		case abac.NotApplicable:
			if req.RequireApplicable {
				return c.deny(r, req, OutcomeNotApplicable, decision.Reason)
			}
		}
	}

	c.record(req, OutcomePermit)
	return nil
}

func (c *Checkpoint) deny(r *http.Request, req Requirement, outcome, reason string) *Denial {
	d := &Denial{
		ID:              uuid.NewString(),
		Checkpoint:      req.Name,
		Reason:          reason,
		Outcome:         outcome,
		Unauthenticated: outcome == OutcomeUnauthenticated,
	}
	c.record(req, outcome)
	if c.logger != nil {
		userID, _ := c.security.CurrentUserID(r.Context())
		c.logger.Info("authz denied",
			slog.String("checkpoint", req.Name),
			slog.String("outcome", outcome),
			slog.String("reason", reason),
			slog.String("rejection_id", d.ID),
			slog.Int64("user_id", userID),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	}
	return d
}

func (c *Checkpoint) record(req Requirement, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordAuthorization(req.Name, outcome)
	}
}

func (c *Checkpoint) reject(w http.ResponseWriter, err error) {
	var denial *Denial
	if errors.As(err, &denial) {
		status, title := http.StatusForbidden, "Forbidden"
		if denial.Unauthenticated {
			status, title = http.StatusUnauthorized, "Unauthorized"
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:    title,
			Status:   status,
			Detail:   denial.Error(),
			Instance: "urn:uuid:" + denial.ID,
		})
		return
	}
	if errors.Is(err, ErrBadChapter) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	httpx.RespondError(w, err)
}

// ChapterIDFromURLParam reads the chapter id from a chi route parameter.
func ChapterIDFromURLParam(name string) ChapterExtractor {
	return func(r *http.Request) (*int64, error) {
		raw := chi.URLParam(r, name)
		if raw == "" {
			return nil, nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("parameter %s=%q", name, raw)
		}
		return &id, nil
	}
}

// ChapterIDFromQuery reads the chapter id from a query parameter.
func ChapterIDFromQuery(name string) ChapterExtractor {
	return func(r *http.Request) (*int64, error) {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			return nil, nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("query %s=%q", name, raw)
		}
		return &id, nil
	}
}

// DefaultAttributes exposes the security context to policies: the user's id,
// highest hierarchy level and chapters, the targeted chapter, and request metadata.
func DefaultAttributes(r *http.Request, sc *rbac.SecurityContext, chapterID *int64) (abac.EvaluationContext, error) {
	level := sc.HighestHierarchyLevel()
	if chapterID != nil {
		level = sc.HighestHierarchyLevelIn(*chapterID)
	}
	ec := abac.EvaluationContext{
		User: abac.Attributes{
			abac.AttrUserID:             sc.UserID(),
			abac.AttrUserChapterIDs:     sc.ChapterIDs(),
			abac.AttrUserHierarchyLevel: int64(level),
		},
		Resource: abac.Attributes{},
		Environment: abac.Attributes{
			"requestId":  middleware.GetReqID(r.Context()),
			"remoteAddr": r.RemoteAddr,
		},
		Action: abac.Attributes{
			"method": r.Method,
		},
	}
	if chapterID != nil {
		ec.Resource[abac.AttrChapterID] = *chapterID
	}
	return ec, nil
}
