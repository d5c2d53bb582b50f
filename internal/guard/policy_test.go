package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/middleware"
	"vet-practice-records/internal/platform/metrics"
	"vet-practice-records/internal/ports/auth"
	"vet-practice-records/internal/ports/authz"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------
// Fakes
// -------------------------

type fakeAccounts struct {
	byID  map[string]authz.Principal
	calls int
}

func (f *fakeAccounts) ResolvePrincipal(_ context.Context, userID, email, _ string) (authz.Principal, error) {
	f.calls++
	if p, ok := f.byID[userID]; ok {
		return p, nil
	}
	return authz.Principal{AccountID: userID, Email: email, Status: authz.AccountPendingApproval}, nil
}

type fakeMembers struct {
	byKey map[string]authz.Membership
	calls int
}

func (f *fakeMembers) FindMembership(_ context.Context, accountID, orgID string) (authz.Membership, error) {
	f.calls++
	m, ok := f.byKey[accountID+"|"+orgID]
	if !ok {
		return authz.Membership{}, ErrNoMembership
	}
	return m, nil
}

func approved(id string) authz.Principal {
	return authz.Principal{AccountID: id, Status: authz.AccountApproved}
}

func member(accountID, orgID string, role authz.Role, perms authz.Permissions) authz.Membership {
	return authz.Membership{
		ID:             "m-" + accountID,
		AccountID:      accountID,
		OrganizationID: orgID,
		Role:           role,
		Status:         authz.MembershipActive,
		Permissions:    perms,
	}
}

var deleteAnimalOp = authz.Operation{
	Name:             "animals.delete",
	RequireAuth:      true,
	OrgScoped:        true,
	AllowedRoles:     []authz.Role{authz.RoleOwner, authz.RoleAdmin, authz.RoleMember},
	DeletePermission: authz.PermissionCanDeleteAnimals,
}

func scopeFor(userID, orgID string, op authz.Operation) authz.Scope {
	return authz.Scope{
		Operation:      op,
		OrganizationID: orgID,
		Claims:         &auth.Claims{UserID: userID},
	}
}

// -------------------------
// Pure policies
// -------------------------

func TestApproval_ExemptPassesForAnyStatus(t *testing.T) {
	p := authz.Principal{AccountID: "a", Status: authz.AccountSuspended}
	s := authz.Scope{Operation: authz.Operation{RequireAuth: true, ExemptFromApproval: true}}.WithPrincipal(p)

	_, err := Approval(context.Background(), s)
	require.NoError(t, err)
}

func TestApproval_StatusCodes(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name   string
		p      authz.Principal
		code   string
		detail string
	}{
		{"pending", authz.Principal{Status: authz.AccountPendingApproval, SubmittedAt: &at}, apperr.CodeVetNotApproved, "submittedAt"},
		{"rejected", authz.Principal{Status: authz.AccountRejected, RejectionReason: "no license", RejectedAt: &at}, apperr.CodeVetRejected, "reason"},
		{"suspended", authz.Principal{Status: authz.AccountSuspended, SuspensionReason: "audit", SuspendedAt: &at}, apperr.CodeVetSuspended, "suspendedAt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := authz.Scope{Operation: authz.Operation{RequireAuth: true}}.WithPrincipal(tc.p)
			_, err := Approval(context.Background(), s)

			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, e.Code)
			assert.Contains(t, e.Details, tc.detail)
		})
	}
}

func TestApproval_MasterAdminBypasses(t *testing.T) {
	p := authz.Principal{AccountID: "root", Status: authz.AccountPendingApproval, IsMasterAdmin: true}
	s := authz.Scope{Operation: authz.Operation{RequireAuth: true}}.WithPrincipal(p)

	_, err := Approval(context.Background(), s)
	require.NoError(t, err)
}

func TestRole_RejectsWithRequiredSet(t *testing.T) {
	op := authz.Operation{OrgScoped: true, AllowedRoles: []authz.Role{authz.RoleOwner}}
	s := authz.Scope{Operation: op}.WithMembership(member("a", "org", authz.RoleAdmin, authz.Permissions{}))

	_, err := Role(context.Background(), s)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeRoleForbidden, e.Code)
	assert.Equal(t, []authz.Role{authz.RoleOwner}, e.Details["requiredRoles"])
}

func TestDeletePermission_OwnerOverride(t *testing.T) {
	s := authz.Scope{Operation: deleteAnimalOp}.WithMembership(member("o", "org", authz.RoleOwner, authz.Permissions{}))

	_, err := DeletePermission(context.Background(), s)
	require.NoError(t, err)
}

func TestDeletePermission_MemberWithoutFlagDenied(t *testing.T) {
	s := authz.Scope{Operation: deleteAnimalOp}.WithMembership(member("m", "org", authz.RoleMember, authz.Permissions{CanDeleteClients: true}))

	_, err := DeletePermission(context.Background(), s)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeDeletePermissionDenied, e.Code)
	assert.Equal(t, string(authz.PermissionCanDeleteAnimals), e.Details["permission"])
}

func TestDeletePermission_NoRequirementPasses(t *testing.T) {
	s := authz.Scope{Operation: authz.Operation{Name: "clients.update"}}

	_, err := DeletePermission(context.Background(), s)
	require.NoError(t, err)
}

// -------------------------
// Pipeline
// -------------------------

func TestAuthorize_SuspendedFailsBeforeMembershipLookup(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{
		"vet-1": {AccountID: "vet-1", Status: authz.AccountSuspended, SuspensionReason: "audit"},
	}}
	members := &fakeMembers{byKey: map[string]authz.Membership{
		"vet-1|org-1": member("vet-1", "org-1", authz.RoleOwner, authz.AllPermissions()),
	}}
	m := metrics.New()
	g := New(accounts, members, m, nil)

	_, err := g.Authorize(context.Background(), scopeFor("vet-1", "org-1", deleteAnimalOp))

	require.True(t, apperr.HasCode(err, apperr.CodeVetSuspended))
	assert.Equal(t, 0, members.calls, "membership must not be looked up")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardDeniedCounter(StageApproval, apperr.CodeVetSuspended)))
}

func TestAuthorize_MissingClaims_Unauthenticated(t *testing.T) {
	accounts := &fakeAccounts{}
	g := New(accounts, &fakeMembers{}, nil, nil)

	_, err := g.Authorize(context.Background(), authz.Scope{Operation: deleteAnimalOp, OrganizationID: "org-1"})

	require.True(t, apperr.HasCode(err, apperr.CodeUnauthenticated))
	assert.Equal(t, 0, accounts.calls)
}

func TestAuthorize_OrgIDRequired(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	g := New(accounts, &fakeMembers{}, nil, nil)

	_, err := g.Authorize(context.Background(), scopeFor("vet-1", "", deleteAnimalOp))

	require.True(t, apperr.HasCode(err, apperr.CodeOrgIDRequired))
}

func TestAuthorize_NotMember(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	g := New(accounts, &fakeMembers{byKey: map[string]authz.Membership{}}, nil, nil)

	_, err := g.Authorize(context.Background(), scopeFor("vet-1", "org-1", deleteAnimalOp))

	require.True(t, apperr.HasCode(err, apperr.CodeNotOrgMember))
}

func TestAuthorize_StaleMembershipFails(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	m := member("vet-1", "org-1", authz.RoleAdmin, authz.AllPermissions())
	m.Status = authz.MembershipRemoved
	g := New(accounts, &fakeMembers{byKey: map[string]authz.Membership{"vet-1|org-1": m}}, nil, nil)

	_, err := g.Authorize(context.Background(), scopeFor("vet-1", "org-1", deleteAnimalOp))

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeMembershipNotActive, e.Code)
	assert.Equal(t, string(authz.MembershipRemoved), e.Details["status"])
}

func TestAuthorize_AttachesPrincipalAndMembership(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	members := &fakeMembers{byKey: map[string]authz.Membership{
		"vet-1|org-1": member("vet-1", "org-1", authz.RoleMember, authz.Permissions{CanDeleteAnimals: true}),
	}}
	g := New(accounts, members, nil, nil)

	out, err := g.Authorize(context.Background(), scopeFor("vet-1", "org-1", deleteAnimalOp))

	require.NoError(t, err)
	require.NotNil(t, out.Principal)
	require.NotNil(t, out.Membership)
	assert.Equal(t, "vet-1", out.AccountID())
	assert.Equal(t, authz.RoleMember, out.Membership.Role)
	assert.Equal(t, 1, members.calls)
}

func TestAuthorize_RoleCheckedBeforeDeletePermission(t *testing.T) {
	op := deleteAnimalOp
	op.AllowedRoles = []authz.Role{authz.RoleOwner, authz.RoleAdmin}

	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	members := &fakeMembers{byKey: map[string]authz.Membership{
		"vet-1|org-1": member("vet-1", "org-1", authz.RoleMember, authz.Permissions{}),
	}}
	g := New(accounts, members, nil, nil)

	_, err := g.Authorize(context.Background(), scopeFor("vet-1", "org-1", op))

	require.True(t, apperr.HasCode(err, apperr.CodeRoleForbidden))
}

func TestChain_ShortCircuitsAndReturnsInputScope(t *testing.T) {
	ran := []string{}
	pass := func(name string) Stage {
		return Stage{Name: name, Policy: func(_ context.Context, s authz.Scope) (authz.Scope, error) {
			ran = append(ran, name)
			s.OrganizationID = name
			return s, nil
		}}
	}
	fail := Stage{Name: "fail", Policy: func(_ context.Context, s authz.Scope) (authz.Scope, error) {
		ran = append(ran, "fail")
		return s, apperr.Forbidden("X", "nope")
	}}

	in := authz.Scope{OrganizationID: "original"}
	out, err := Chain(pass("a"), fail, pass("b"))(context.Background(), in)

	require.Error(t, err)
	assert.Equal(t, []string{"a", "fail"}, ran)
	assert.Equal(t, "original", out.OrganizationID)
}

// -------------------------
// Middleware
// -------------------------

func TestRequire_ReadsOrgIDFromPathAndStoresScope(t *testing.T) {
	accounts := &fakeAccounts{byID: map[string]authz.Principal{"vet-1": approved("vet-1")}}
	members := &fakeMembers{byKey: map[string]authz.Membership{
		"vet-1|org-9": member("vet-1", "org-9", authz.RoleOwner, authz.AllPermissions()),
	}}
	g := New(accounts, members, nil, nil)

	var got authz.Scope
	r := chi.NewRouter()
	r.Use(middleware.AuthContext(nil, nil))
	r.With(g.Require(deleteAnimalOp)).Delete("/organizations/{orgID}/animals/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = MustScope(r)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodDelete, "/organizations/org-9/animals/a-1", nil)
	req.Header.Set(middleware.DebugUserHeader, "vet-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "org-9", got.OrganizationID)
	require.NotNil(t, got.Membership)
	assert.Equal(t, authz.RoleOwner, got.Membership.Role)
}

func TestRequire_RendersTypedError(t *testing.T) {
	g := New(&fakeAccounts{}, &fakeMembers{}, nil, nil)

	r := chi.NewRouter()
	r.Use(middleware.AuthContext(nil, nil))
	r.With(g.Require(deleteAnimalOp)).Delete("/organizations/{orgID}/animals/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/organizations/org-9/animals/a-1", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), apperr.CodeUnauthenticated)
}
