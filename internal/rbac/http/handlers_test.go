package rbachttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chapterhub/chapterhub/internal/authz"
	"github.com/chapterhub/chapterhub/internal/rbac"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type stubGrantService struct {
	lastRequest rbac.GrantRequest
	lastReason  string
	grant       rbac.Grant
	grants      []rbac.Grant
	err         error
}

func (s *stubGrantService) Grant(ctx context.Context, req rbac.GrantRequest) (rbac.Grant, error) {
	s.lastRequest = req
	return s.grant, s.err
}

func (s *stubGrantService) Revoke(ctx context.Context, grantID int64, reason string) (rbac.Grant, error) {
	s.lastReason = reason
	if s.err != nil {
		return rbac.Grant{}, s.err
	}
	g := s.grant
	g.Revoke(nil, reason, now)
	return g, nil
}

func (s *stubGrantService) Activate(ctx context.Context, grantID int64) (rbac.Grant, error) {
	return s.grant, s.err
}

func (s *stubGrantService) ListUserGrants(ctx context.Context, userID int64) ([]rbac.Grant, error) {
	return s.grants, s.err
}

func catalogRole(t *testing.T, name string) *rbac.Role {
	t.Helper()
	for _, role := range rbac.CatalogRoles() {
		if role.Name == name {
			return role
		}
	}
	t.Fatalf("role %s not in catalog", name)
	return nil
}

func newRouter(service GrantService) http.Handler {
	guard := authz.New(rbac.NewSecurityService(nil, nil), nil, nil, nil)
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return now }
	r := chi.NewRouter()
	handler.MountRoutes(r, guard)
	return r
}

func do(t *testing.T, h http.Handler, role string, chapterID *int64, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		sc := rbac.NewSecurityContext(1, []rbac.Grant{{
			ID: 1, UserID: 1, Role: catalogRole(t, role), ChapterID: chapterID, IsActive: true, GrantedAt: now,
		}}, now)
		req = req.WithContext(rbac.WithSecurityContext(req.Context(), sc))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func chapter(id int64) *int64 { return &id }

func TestCreateGrant(t *testing.T) {
	service := &stubGrantService{grant: rbac.Grant{
		ID: 10, UserID: 7, Role: catalogRole(t, rbac.RoleNameChapterMember), ChapterID: chapter(3), IsActive: true, GrantedAt: now,
	}}
	body := `{"user_id":7,"role":"Chapter Member","chapter_id":3}`
	rr := do(t, newRouter(service), rbac.RoleNameChapterPresident, chapter(3), http.MethodPost, "/grants", body)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, int64(7), service.lastRequest.UserID)
	assert.Equal(t, "Chapter Member", service.lastRequest.RoleName)
	assert.Equal(t, int64(3), *service.lastRequest.ChapterID)

	var resp grantResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.ID)
	assert.Equal(t, 20, resp.HierarchyLevel)
	assert.True(t, resp.Effective)
}

func TestCreateGrantValidation(t *testing.T) {
	h := newRouter(&stubGrantService{})
	for _, body := range []string{
		`{"role":"Chapter Member"}`,
		`{"user_id":7}`,
		`{"user_id":7,"role":"Chapter Member","chapter_id":0}`,
		`{"user_id":7,"role":"Chapter Member","extra":true}`,
		`not json`,
	} {
		rr := do(t, h, rbac.RoleNameSystemAdmin, nil, http.MethodPost, "/grants", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestCreateGrantRequiresAssignPermission(t *testing.T) {
	service := &stubGrantService{}
	h := newRouter(service)

	rr := do(t, h, rbac.RoleNameChapterMember, chapter(3), http.MethodPost, "/grants", `{"user_id":7,"role":"Alumni","chapter_id":3}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "urn:uuid:")
	assert.Zero(t, service.lastRequest.UserID)

	rr = do(t, h, "", nil, http.MethodPost, "/grants", `{"user_id":7,"role":"Alumni","chapter_id":3}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{rbac.ErrAccessDenied, http.StatusForbidden},
		{rbac.ErrDuplicateGrant, http.StatusConflict},
		{rbac.ErrNotFound, http.StatusNotFound},
		{rbac.ErrRoleNotAssignable, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", rbac.ErrInvalidGrant), http.StatusBadRequest},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newRouter(&stubGrantService{err: tc.err})
		rr := do(t, h, rbac.RoleNameSystemAdmin, nil, http.MethodPost, "/grants", `{"user_id":7,"role":"Alumni","chapter_id":3}`)
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
	}
}

func TestRevokeGrant(t *testing.T) {
	service := &stubGrantService{grant: rbac.Grant{
		ID: 10, UserID: 7, Role: catalogRole(t, rbac.RoleNameChapterMember), ChapterID: chapter(3), IsActive: true, GrantedAt: now,
	}}
	h := newRouter(service)

	rr := do(t, h, rbac.RoleNameSystemAdmin, nil, http.MethodPost, "/grants/10/revoke", `{"reason":"graduated"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "graduated", service.lastReason)
	var resp grantResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.IsActive)
	assert.False(t, resp.Effective)
	assert.Equal(t, "graduated", resp.RevocationReason)

	rr = do(t, h, rbac.RoleNameSystemAdmin, nil, http.MethodPost, "/grants/10/revoke", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, rbac.RoleNameSystemAdmin, nil, http.MethodPost, "/grants/abc/revoke", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, rbac.RoleNameEventCoordinator, chapter(3), http.MethodPost, "/grants/10/revoke", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestActivateGrant(t *testing.T) {
	service := &stubGrantService{grant: rbac.Grant{
		ID: 10, UserID: 7, Role: catalogRole(t, rbac.RoleNameAlumni), ChapterID: chapter(3), IsActive: true, GrantedAt: now,
	}}
	rr := do(t, newRouter(service), rbac.RoleNameChapterVicePresident, chapter(3), http.MethodPost, "/grants/10/activate", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"effective":true`)
}

func TestListUserGrants(t *testing.T) {
	expired := now.Add(-time.Hour)
	service := &stubGrantService{grants: []rbac.Grant{
		{ID: 1, UserID: 7, Role: catalogRole(t, rbac.RoleNameChapterMember), ChapterID: chapter(3), IsActive: true, GrantedAt: now},
		{ID: 2, UserID: 7, Role: catalogRole(t, rbac.RoleNameEventCoordinator), ChapterID: chapter(3), IsActive: true, GrantedAt: now, ExpiresAt: &expired},
	}}
	h := newRouter(service)

	rr := do(t, h, rbac.RoleNameChapterPresident, chapter(3), http.MethodGet, "/users/7/grants", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp []grantResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.True(t, resp[0].Effective)
	assert.False(t, resp[1].Effective)

	rr = do(t, h, rbac.RoleNameChapterMember, chapter(3), http.MethodGet, "/users/7/grants", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCurrentContext(t *testing.T) {
	h := newRouter(&stubGrantService{})
	rr := do(t, h, rbac.RoleNameChapterMember, chapter(3), http.MethodGet, "/me/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp contextResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.UserID)
	assert.Equal(t, []int64{3}, resp.Chapters)
	assert.Equal(t, 20, resp.HighestHierarchyLevel)
	assert.False(t, resp.IsSystemAdmin)
	assert.Contains(t, resp.Permissions, "event:rsvp")
	require.Len(t, resp.Roles, 1)
	assert.Equal(t, rbac.RoleNameChapterMember, resp.Roles[0].Name)

	rr = do(t, h, "", nil, http.MethodGet, "/me/permissions", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/grants", nil)
	key, err := rateLimitKey(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "ip:"))

	sc := rbac.NewSecurityContext(42, nil, now)
	key, err = rateLimitKey(req.WithContext(rbac.WithSecurityContext(req.Context(), sc)))
	require.NoError(t, err)
	assert.Equal(t, "user:42", key)
}
