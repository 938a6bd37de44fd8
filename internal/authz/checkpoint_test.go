package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chapterhub/chapterhub/internal/abac"
	"github.com/chapterhub/chapterhub/internal/platform/httpx"
	"github.com/chapterhub/chapterhub/internal/rbac"
	"github.com/chapterhub/chapterhub/internal/shared"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type recorder struct {
	outcomes []string
}

func (r *recorder) RecordAuthorization(checkpoint, outcome string) {
	r.outcomes = append(r.outcomes, checkpoint+"="+outcome)
}

func roleNamed(t *testing.T, name string) *rbac.Role {
	t.Helper()
	for _, role := range rbac.CatalogRoles() {
		if role.Name == name {
			return role
		}
	}
	t.Fatalf("role %s not in catalog", name)
	return nil
}

func chapter(id int64) *int64 { return &id }

type grantSpec struct {
	role      string
	chapterID *int64
}

func requestAs(t *testing.T, userID int64, specs ...grantSpec) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/chapters/3/events", nil)
	if userID == 0 {
		return req
	}
	grants := make([]rbac.Grant, 0, len(specs))
	for i, s := range specs {
		grants = append(grants, rbac.Grant{
			ID: int64(i + 1), UserID: userID, Role: roleNamed(t, s.role), ChapterID: s.chapterID, IsActive: true, GrantedAt: now,
		})
	}
	sc := rbac.NewSecurityContext(userID, grants, now)
	return req.WithContext(rbac.WithSecurityContext(req.Context(), sc))
}

func newCheckpoint(rec Recorder) *Checkpoint {
	evaluator := abac.NewDefaultEvaluator(nil, abac.BusinessHours{StartHour: 8, EndHour: 18, Location: time.UTC}).
		WithClock(func() time.Time { return now })
	return New(rbac.NewSecurityService(nil, nil), evaluator, nil, rec)
}

func TestAnonymousRequestIsUnauthenticated(t *testing.T) {
	rec := &recorder{}
	err := newCheckpoint(rec).Authorize(requestAs(t, 0), Requirement{Name: "events.read"})

	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.True(t, denial.Unauthenticated)
	assert.ErrorIs(t, err, rbac.ErrAccessDenied)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	assert.NotEmpty(t, denial.ID)
	assert.Equal(t, []string{"events.read=unauthenticated"}, rec.outcomes)
}

func TestEmptyRequirementPermitsAuthenticated(t *testing.T) {
	rec := &recorder{}
	req := requestAs(t, 7, grantSpec{rbac.RoleNamePendingMember, chapter(3)})
	require.NoError(t, newCheckpoint(rec).Authorize(req, Requirement{Name: "me"}))
	assert.Equal(t, []string{"me=permit"}, rec.outcomes)

	require.NoError(t, newCheckpoint(nil).Authorize(requestAs(t, 8), Requirement{Name: "me"}))
}

func TestPermissionRequirement(t *testing.T) {
	c := newCheckpoint(nil)
	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})

	require.NoError(t, c.Authorize(member, Requirement{Permissions: []string{"event:rsvp"}}))
	require.NoError(t, c.Authorize(member, Requirement{Permissions: []string{"event:create", "event:rsvp"}}))

	err := c.Authorize(member, Requirement{Permissions: []string{"event:create", "event:rsvp"}, RequireAllPermissions: true})
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.False(t, denial.Unauthenticated)
	assert.Equal(t, OutcomeDeny, denial.Outcome)
	assert.NotErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestChapterScopedPermission(t *testing.T) {
	c := newCheckpoint(nil)
	requirement := func(id int64) Requirement {
		return Requirement{
			Permissions:   []string{"event:create"},
			ChapterScoped: true,
			ChapterID:     func(*http.Request) (*int64, error) { return chapter(id), nil },
		}
	}
	coordinator := requestAs(t, 7, grantSpec{rbac.RoleNameEventCoordinator, chapter(3)})
	require.NoError(t, c.Authorize(coordinator, requirement(3)))
	require.ErrorIs(t, c.Authorize(coordinator, requirement(4)), rbac.ErrAccessDenied)

	admin := requestAs(t, 1, grantSpec{rbac.RoleNameSuperAdmin, nil})
	require.NoError(t, c.Authorize(admin, requirement(4)))
}

func TestBadChapterID(t *testing.T) {
	rec := &recorder{}
	req := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})
	err := newCheckpoint(rec).Authorize(req, Requirement{
		Name:          "events.create",
		ChapterScoped: true,
		ChapterID:     func(*http.Request) (*int64, error) { return nil, errors.New("bad") },
	})
	require.ErrorIs(t, err, ErrBadChapter)
	assert.Equal(t, []string{"events.create=error"}, rec.outcomes)
}

func TestRoleAndHierarchyRequirement(t *testing.T) {
	c := newCheckpoint(nil)
	treasurer := requestAs(t, 7, grantSpec{rbac.RoleNameChapterTreasurer, chapter(3)})

	require.NoError(t, c.Authorize(treasurer, Requirement{Roles: []string{rbac.RoleNameChapterTreasurer}}))
	require.NoError(t, c.Authorize(treasurer, Requirement{MinHierarchyLevel: 60}))
	require.Error(t, c.Authorize(treasurer, Requirement{MinHierarchyLevel: 65}))
	require.Error(t, c.Authorize(treasurer, Requirement{
		Roles: []string{rbac.RoleNameChapterTreasurer, rbac.RoleNameChapterSecretary}, RequireAllRoles: true,
	}))
}

func TestSystemAdminRequirementNeedsGlobalGrant(t *testing.T) {
	rec := &recorder{}
	c := newCheckpoint(rec)
	req := Requirement{Name: "jobs.health", SystemAdmin: true}

	scoped := requestAs(t, 7, grantSpec{rbac.RoleNameSystemAdmin, chapter(5)})
	var denial *Denial
	require.ErrorAs(t, c.Authorize(scoped, req), &denial)
	assert.Equal(t, "system administrator required", denial.Reason)

	require.NoError(t, c.Authorize(requestAs(t, 1, grantSpec{rbac.RoleNameSystemAdmin, nil}), req))
	require.NoError(t, c.Authorize(requestAs(t, 1, grantSpec{rbac.RoleNameSuperAdmin, nil}), req))
	require.Error(t, c.Authorize(requestAs(t, 1, grantSpec{rbac.RoleNameInstitutionAdmin, nil}), req))
	assert.Equal(t, []string{"jobs.health=deny", "jobs.health=permit", "jobs.health=permit", "jobs.health=deny"}, rec.outcomes)
}

func TestPolicyRequirement(t *testing.T) {
	c := newCheckpoint(nil)
	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})
	scoped := func(id int64) ChapterExtractor {
		return func(*http.Request) (*int64, error) { return chapter(id), nil }
	}

	require.NoError(t, c.Authorize(member, Requirement{
		Policies: []string{abac.PolicyChapterMembership}, ChapterScoped: true, ChapterID: scoped(3),
	}))

	err := c.Authorize(member, Requirement{
		Policies: []string{abac.PolicyChapterMembership}, ChapterScoped: true, ChapterID: scoped(4),
	})
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, "User is not a member of the chapter", denial.Reason)
}

func TestPolicyNotApplicable(t *testing.T) {
	c := newCheckpoint(nil)
	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})

	require.NoError(t, c.Authorize(member, Requirement{Policies: []string{abac.PolicyOwnershipAccess}}))

	err := c.Authorize(member, Requirement{Policies: []string{abac.PolicyOwnershipAccess}, RequireApplicable: true})
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, OutcomeNotApplicable, denial.Outcome)
}

func TestPolicyIndeterminateDenies(t *testing.T) {
	c := newCheckpoint(nil)
	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})

	err := c.Authorize(member, Requirement{
		Policies:  []string{abac.PolicyEventCapacity},
		Algorithm: abac.FirstApplicable,
		Attributes: func(r *http.Request, sc *rbac.SecurityContext, chapterID *int64) (abac.EvaluationContext, error) {
			return abac.EvaluationContext{Resource: abac.Attributes{abac.AttrCurrentAttendees: "many", abac.AttrMaxCapacity: 10}}, nil
		},
	})
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, OutcomeIndeterminate, denial.Outcome)

	err = c.Authorize(member, Requirement{
		Policies: []string{abac.PolicyEventCapacity},
		Attributes: func(*http.Request, *rbac.SecurityContext, *int64) (abac.EvaluationContext, error) {
			return abac.EvaluationContext{}, errors.New("event lookup failed")
		},
	})
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, OutcomeIndeterminate, denial.Outcome)

	noPolicies := New(rbac.NewSecurityService(nil, nil), nil, nil, nil)
	require.ErrorIs(t, noPolicies.Authorize(member, Requirement{Policies: []string{abac.PolicyEventCapacity}}), rbac.ErrAccessDenied)
}

func TestPermissionsCheckedBeforePolicies(t *testing.T) {
	rec := &recorder{}
	c := newCheckpoint(rec)
	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})
	called := false

	err := c.Authorize(member, Requirement{
		Name:        "events.delete",
		Permissions: []string{"event:delete"},
		Policies:    []string{abac.PolicyOwnershipAccess},
		Attributes: func(*http.Request, *rbac.SecurityContext, *int64) (abac.EvaluationContext, error) {
			called = true
			return abac.EvaluationContext{}, nil
		},
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, []string{"events.delete=deny"}, rec.outcomes)
}

func TestRequireWritesProblem(t *testing.T) {
	c := newCheckpoint(nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := c.Require(Requirement{Name: "chapters.manage", Permissions: []string{"chapter:manage"}})(next)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)}))
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Forbidden", problem.Title)
	assert.Regexp(t, `^urn:uuid:[0-9a-f-]{36}$`, problem.Instance)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestAs(t, 0))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestAs(t, 1, grantSpec{rbac.RoleNameSystemAdmin, nil}))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireBadChapterIsBadRequest(t *testing.T) {
	c := newCheckpoint(nil)
	r := chi.NewRouter()
	r.With(c.Require(Requirement{
		Permissions:   []string{"event:read"},
		ChapterScoped: true,
		ChapterID:     ChapterIDFromURLParam("chapterID"),
	})).Get("/chapters/{chapterID}/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	member := requestAs(t, 7, grantSpec{rbac.RoleNameChapterMember, chapter(3)})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, member)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	bad := httptest.NewRequest(http.MethodGet, "/chapters/x/events", nil).WithContext(member.Context())
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, bad)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	other := httptest.NewRequest(http.MethodGet, "/chapters/4/events", nil).WithContext(member.Context())
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, other)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestChapterIDFromQuery(t *testing.T) {
	extract := ChapterIDFromQuery("chapter")
	id, err := extract(httptest.NewRequest(http.MethodGet, "/events?chapter=5", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(5), *id)

	id, err = extract(httptest.NewRequest(http.MethodGet, "/events", nil))
	require.NoError(t, err)
	assert.Nil(t, id)

	_, err = extract(httptest.NewRequest(http.MethodGet, "/events?chapter=-1", nil))
	require.Error(t, err)
}

func TestDefaultAttributes(t *testing.T) {
	req := requestAs(t, 7,
		grantSpec{rbac.RoleNameChapterMember, chapter(3)},
		grantSpec{rbac.RoleNameChapterPresident, chapter(5)},
	)
	sc := rbac.SecurityContextFromContext(req.Context())

	ec, err := DefaultAttributes(req, sc, chapter(3))
	require.NoError(t, err)
	assert.Equal(t, int64(7), ec.User[abac.AttrUserID])
	assert.Equal(t, []int64{3, 5}, ec.User[abac.AttrUserChapterIDs])
	assert.Equal(t, int64(20), ec.User[abac.AttrUserHierarchyLevel])
	assert.Equal(t, int64(3), ec.Resource[abac.AttrChapterID])
	assert.Equal(t, http.MethodGet, ec.Action["method"])

	ec, err = DefaultAttributes(req, sc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(70), ec.User[abac.AttrUserHierarchyLevel])
	assert.NotContains(t, ec.Resource, abac.AttrChapterID)
}
