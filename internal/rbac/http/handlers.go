package rbachttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chapterhub/chapterhub/internal/platform/httpx"
	"github.com/chapterhub/chapterhub/internal/rbac"
)

// GrantService is the grant lifecycle used by the handlers.
type GrantService interface {
	Grant(ctx context.Context, req rbac.GrantRequest) (rbac.Grant, error)
	Revoke(ctx context.Context, grantID int64, reason string) (rbac.Grant, error)
	Activate(ctx context.Context, grantID int64) (rbac.Grant, error)
	ListUserGrants(ctx context.Context, userID int64) ([]rbac.Grant, error)
}

// Handler serves the grant administration API.
type Handler struct {
	logger    *slog.Logger
	service   GrantService
	roles     RoleAdmin
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service GrantService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		now:       time.Now,
	}
}

type createGrantRequest struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	Role      string     `json:"role" validate:"required,max=100"`
	ChapterID *int64     `json:"chapter_id,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type revokeGrantRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type grantResponse struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	Role             string     `json:"role"`
	HierarchyLevel   int        `json:"hierarchy_level"`
	ChapterID        *int64     `json:"chapter_id,omitempty"`
	IsActive         bool       `json:"is_active"`
	Effective        bool       `json:"effective"`
	GrantedAt        time.Time  `json:"granted_at"`
	GrantedBy        *int64     `json:"granted_by,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        *int64     `json:"revoked_by,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

type roleSummary struct {
	Name           string `json:"name"`
	HierarchyLevel int    `json:"hierarchy_level"`
}

type contextResponse struct {
	UserID                int64         `json:"user_id"`
	Roles                 []roleSummary `json:"roles"`
	Permissions           []string      `json:"permissions"`
	Chapters              []int64       `json:"chapters"`
	HighestHierarchyLevel int           `json:"highest_hierarchy_level"`
	IsSystemAdmin         bool          `json:"is_system_admin"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	g, err := h.service.Grant(r.Context(), rbac.GrantRequest{
		UserID:    req.UserID,
		RoleName:  req.Role,
		ChapterID: req.ChapterID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(g))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "grantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req revokeGrantRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	g, err := h.service.Revoke(r.Context(), id, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(g))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "grantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.Activate(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(g))
}

func (h *Handler) handleListUserGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.ListUserGrants(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, h.toResponse(g))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleCurrentContext(w http.ResponseWriter, r *http.Request) {
	sc := rbac.SecurityContextFromContext(r.Context())
	if sc == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	resp := contextResponse{
		UserID:                sc.UserID(),
		Roles:                 make([]roleSummary, 0),
		Permissions:           make([]string, 0),
		Chapters:              sc.ChapterIDs(),
		HighestHierarchyLevel: sc.HighestHierarchyLevel(),
		IsSystemAdmin:         sc.IsSystemAdmin(),
	}
	for _, role := range sc.EffectiveRoles() {
		resp.Roles = append(resp.Roles, roleSummary{Name: role.Name, HierarchyLevel: role.HierarchyLevel})
	}
	for _, perm := range sc.EffectivePermissions() {
		resp.Permissions = append(resp.Permissions, perm.Name)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) toResponse(g rbac.Grant) grantResponse {
	resp := grantResponse{
		ID:               g.ID,
		UserID:           g.UserID,
		ChapterID:        g.ChapterID,
		IsActive:         g.IsActive,
		Effective:        g.IsEffective(h.now()),
		GrantedAt:        g.GrantedAt,
		GrantedBy:        g.GrantedBy,
		ExpiresAt:        g.ExpiresAt,
		RevokedAt:        g.RevokedAt,
		RevokedBy:        g.RevokedBy,
		RevocationReason: g.RevocationReason,
	}
	if g.Role != nil {
		resp.Role = g.Role.Name
		resp.HierarchyLevel = g.Role.HierarchyLevel
	}
	return resp
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var mapped error
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		mapped = httpx.ErrNotFound
	case errors.Is(err, rbac.ErrDuplicateGrant):
		mapped = httpx.ErrDuplicate
	case errors.Is(err, rbac.ErrInvalidGrant), errors.Is(err, rbac.ErrRoleNotAssignable):
		mapped = httpx.ErrValidation
	case errors.Is(err, rbac.ErrAccessDenied):
		mapped = httpx.ErrForbidden
	case errors.Is(err, rbac.ErrSystemRole), errors.Is(err, rbac.ErrSystemPermission):
		mapped = httpx.ErrConflict
	default:
		h.logger.Error("grant api", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondError(w, fmt.Errorf("%w: %v", mapped, err))
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", httpx.ErrValidation, name, raw)
	}
	return id, nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%w: field %s failed %s", httpx.ErrValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
}
