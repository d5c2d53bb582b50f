package organizations

import (
	"context"
	"errors"
	"testing"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

type testRepo struct {
	orgs        map[string]Organization
	memberships map[string]Membership // por ID
	invitations map[string]Invitation

	failAccept bool
	// beforeWrite corre entre la lectura del service y la escritura de la invitación.
	beforeWrite func()
}

func newTestRepo() *testRepo {
	return &testRepo{
		orgs:        map[string]Organization{},
		memberships: map[string]Membership{},
		invitations: map[string]Invitation{},
	}
}

func (r *testRepo) CreateWithOwner(_ context.Context, org Organization, owner Membership) error {
	r.orgs[org.ID] = org
	r.memberships[owner.ID] = owner
	return nil
}

func (r *testRepo) UpdateOrganization(_ context.Context, org Organization) error {
	if _, ok := r.orgs[org.ID]; !ok {
		return storage.ErrNotFound
	}
	r.orgs[org.ID] = org
	return nil
}

func (r *testRepo) GetOrganization(_ context.Context, id string) (Organization, error) {
	o, ok := r.orgs[id]
	if !ok {
		return Organization{}, storage.ErrNotFound
	}
	return o, nil
}

func (r *testRepo) ListOrganizationsByAccount(_ context.Context, accountID string) ([]Organization, error) {
	out := make([]Organization, 0)
	for _, m := range r.memberships {
		if m.AccountID == accountID && m.Status == authz.MembershipActive {
			out = append(out, r.orgs[m.OrganizationID])
		}
	}
	return out, nil
}

func (r *testRepo) GetMembership(_ context.Context, accountID, organizationID string) (Membership, error) {
	for _, m := range r.memberships {
		if m.AccountID == accountID && m.OrganizationID == organizationID {
			return m, nil
		}
	}
	return Membership{}, storage.ErrNotFound
}

func (r *testRepo) ListMembers(_ context.Context, organizationID string) ([]Membership, error) {
	out := make([]Membership, 0)
	for _, m := range r.memberships {
		if m.OrganizationID == organizationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *testRepo) UpdateMembership(_ context.Context, m Membership) error {
	if _, ok := r.memberships[m.ID]; !ok {
		return storage.ErrNotFound
	}
	r.memberships[m.ID] = m
	return nil
}

func (r *testRepo) CreateInvitation(_ context.Context, inv Invitation) error {
	r.invitations[inv.ID] = inv
	return nil
}

func (r *testRepo) UpdateInvitation(_ context.Context, inv Invitation) error {
	if err := r.pending(inv.ID); err != nil {
		return err
	}
	r.invitations[inv.ID] = inv
	return nil
}

func (r *testRepo) pending(id string) error {
	if r.beforeWrite != nil {
		r.beforeWrite()
	}
	stored, ok := r.invitations[id]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Status != InvitationPending {
		return storage.ErrStale
	}
	return nil
}

func (r *testRepo) GetInvitation(_ context.Context, id string) (Invitation, error) {
	inv, ok := r.invitations[id]
	if !ok {
		return Invitation{}, storage.ErrNotFound
	}
	return inv, nil
}

func (r *testRepo) DeletePendingInvitation(_ context.Context, id string) error {
	if r.beforeWrite != nil {
		r.beforeWrite()
	}
	inv, ok := r.invitations[id]
	if !ok || inv.Status != InvitationPending {
		return storage.ErrNotFound
	}
	delete(r.invitations, id)
	return nil
}

func (r *testRepo) ListInvitationsByOrganization(_ context.Context, organizationID string) ([]Invitation, error) {
	out := make([]Invitation, 0)
	for _, inv := range r.invitations {
		if inv.OrganizationID == organizationID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *testRepo) ListInvitationsByEmail(_ context.Context, email string) ([]Invitation, error) {
	out := make([]Invitation, 0)
	for _, inv := range r.invitations {
		if inv.Email == email {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *testRepo) AcceptInvitation(_ context.Context, inv Invitation, m Membership) error {
	if r.failAccept {
		return errors.New("tx aborted")
	}
	if err := r.pending(inv.ID); err != nil {
		return err
	}
	r.invitations[inv.ID] = inv
	r.memberships[m.ID] = m
	return nil
}

type testDirectory map[string]string // email -> accountID

func (d testDirectory) AccountIDByEmail(_ context.Context, email string) (string, error) {
	return d[email], nil
}

type fixture struct {
	svc   *Service
	repo  *testRepo
	dir   testDirectory
	clock time.Time
	org   Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  newTestRepo(),
		dir:   testDirectory{},
		clock: time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, Options{Accounts: f.dir, InvitationTTL: 48 * time.Hour})
	f.svc.now = func() time.Time { return f.clock }

	org, _, err := f.svc.CreateOrganization(context.Background(), "owner-1", OrganizationInput{Name: "Happy Paws"})
	require.NoError(t, err)
	f.org = org
	return f
}

// join agrega un miembro pasando por invitación + accept.
func (f *fixture) join(t *testing.T, accountID, email string, role authz.Role) Membership {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: email, Role: role})
	require.NoError(t, err)
	m, err := f.svc.AcceptInvitation(ctx, accountID, email, inv.ID)
	require.NoError(t, err)
	f.dir[email] = accountID
	return m
}

// -------------------------
// Tests
// -------------------------

func TestCreateOrganization_OwnerGetsAllPermissions(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.FindMembership(context.Background(), "owner-1", f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleOwner, m.Role)
	assert.Equal(t, authz.MembershipActive, m.Status)
	assert.Equal(t, authz.AllPermissions(), m.Permissions)

	orgs, err := f.svc.ListMyOrganizations(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Happy Paws", orgs[0].Name)
}

func TestCreateOrganization_RequiresName(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateOrganization(context.Background(), "owner-1", OrganizationInput{Name: "  "})
	require.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestFindMembership_UnknownPairIsErrNoMembership(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FindMembership(context.Background(), "stranger", f.org.ID)
	require.ErrorIs(t, err, guard.ErrNoMembership)
}

func TestUpdateMemberRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "vet-2", "vet2@clinic.io", authz.RoleMember)

	m, err := f.svc.UpdateMemberRole(ctx, "owner-1", f.org.ID, "vet-2", "admin")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, m.Role)

	_, err = f.svc.UpdateMemberRole(ctx, "owner-1", f.org.ID, "vet-2", authz.RoleOwner)
	require.True(t, apperr.HasCode(err, CodeInvalidRole))

	_, err = f.svc.UpdateMemberRole(ctx, "owner-1", f.org.ID, "owner-1", authz.RoleMember)
	require.True(t, apperr.HasCode(err, CodeCannotModifyOwner))
}

func TestUpdateMemberPermissions_OwnerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "vet-2", "vet2@clinic.io", authz.RoleMember)

	m, err := f.svc.UpdateMemberPermissions(ctx, "owner-1", f.org.ID, "vet-2", authz.Permissions{CanDeleteAnimals: true})
	require.NoError(t, err)
	assert.True(t, m.Permissions.CanDeleteAnimals)
	assert.False(t, m.Permissions.CanDeleteClients)

	f.join(t, "admin-3", "admin3@clinic.io", authz.RoleAdmin)
	_, err = f.svc.UpdateMemberPermissions(ctx, "admin-3", f.org.ID, "owner-1", authz.Permissions{})
	require.True(t, apperr.HasCode(err, CodeCannotModifyOwner))
}

func TestRemoveAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "vet-2", "vet2@clinic.io", authz.RoleMember)
	f.join(t, "vet-3", "vet3@clinic.io", authz.RoleAdmin)

	_, err := f.svc.RemoveMember(ctx, "owner-1", f.org.ID, "owner-1")
	require.True(t, apperr.HasCode(err, CodeCannotRemoveOwner))

	m, err := f.svc.RemoveMember(ctx, "owner-1", f.org.ID, "vet-2")
	require.NoError(t, err)
	assert.Equal(t, authz.MembershipRemoved, m.Status)
	assert.Equal(t, "owner-1", m.RemovedBy)

	// la membership sigue existiendo: el pipeline la ve como no activa
	am, err := f.svc.FindMembership(ctx, "vet-2", f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.MembershipRemoved, am.Status)

	_, err = f.svc.Leave(ctx, "owner-1", f.org.ID)
	require.True(t, apperr.HasCode(err, CodeOwnerCannotLeave))

	m, err = f.svc.Leave(ctx, "vet-3", f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.MembershipLeft, m.Status)

	members, err := f.svc.ListMembers(ctx, f.org.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "owner-1", members[0].AccountID)
}

func TestCreateInvitation_Duplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "New@Clinic.io"})
	require.NoError(t, err)

	_, err = f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "new@clinic.io"})
	require.True(t, apperr.HasCode(err, CodeInvitationExists))

	f.join(t, "vet-2", "vet2@clinic.io", authz.RoleMember)
	_, err = f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "vet2@clinic.io"})
	require.True(t, apperr.HasCode(err, CodeAlreadyMember))

	_, err = f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "x@clinic.io", Role: authz.RoleOwner})
	require.True(t, apperr.HasCode(err, CodeInvalidRole))

	_, err = f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "not-an-email"})
	require.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestAcceptInvitation_CopiesRoleAndPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{
		Email:       "vet2@clinic.io",
		Role:        authz.RoleAdmin,
		Permissions: authz.Permissions{CanDeleteTreatments: true},
	})
	require.NoError(t, err)

	_, err = f.svc.AcceptInvitation(ctx, "vet-9", "other@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationEmailMismatch))

	m, err := f.svc.AcceptInvitation(ctx, "vet-2", "VET2@clinic.io", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, m.Role)
	assert.True(t, m.Permissions.CanDeleteTreatments)
	assert.Equal(t, InvitationAccepted, f.repo.invitations[inv.ID].Status)

	_, err = f.svc.AcceptInvitation(ctx, "vet-2", "vet2@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationNotPending))
}

func TestAcceptInvitation_ReactivatesRemovedMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.join(t, "vet-2", "vet2@clinic.io", authz.RoleMember)

	_, err := f.svc.RemoveMember(ctx, "owner-1", f.org.ID, "vet-2")
	require.NoError(t, err)

	second := f.join(t, "vet-2", "vet2@clinic.io", authz.RoleAdmin)
	assert.Equal(t, first.ID, second.ID, "reusa la fila por el unique (account, org)")
	assert.Equal(t, authz.MembershipActive, second.Status)
	assert.Nil(t, second.RemovedAt)
	assert.Empty(t, second.RemovedBy)
	assert.Equal(t, authz.RoleAdmin, second.Role)
}

func TestAcceptInvitation_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "late@clinic.io"})
	require.NoError(t, err)

	f.clock = f.clock.Add(49 * time.Hour)

	_, err = f.svc.AcceptInvitation(ctx, "vet-5", "late@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationExpired))
	assert.Equal(t, InvitationExpired, f.repo.invitations[inv.ID].Status)

	// ya no aparece como pendiente y se puede reinvitar
	mine, err := f.svc.ListMyInvitations(ctx, "late@clinic.io")
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "late@clinic.io"})
	require.NoError(t, err)
}

func TestAcceptInvitation_StorageFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "vet2@clinic.io"})
	require.NoError(t, err)

	f.repo.failAccept = true
	_, err = f.svc.AcceptInvitation(ctx, "vet-2", "vet2@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, apperr.CodeInternal))

	assert.Equal(t, InvitationPending, f.repo.invitations[inv.ID].Status)
	_, err = f.svc.FindMembership(ctx, "vet-2", f.org.ID)
	require.ErrorIs(t, err, guard.ErrNoMembership)
}

func TestDeclineAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "a@clinic.io"})
	require.NoError(t, err)
	b, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "b@clinic.io"})
	require.NoError(t, err)

	declined, err := f.svc.DeclineInvitation(ctx, "a@clinic.io", a.ID)
	require.NoError(t, err)
	assert.Equal(t, InvitationDeclined, declined.Status)

	err = f.svc.CancelInvitation(ctx, f.org.ID, a.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationNotPending))

	err = f.svc.CancelInvitation(ctx, "other-org", b.ID)
	require.True(t, apperr.HasCode(err, "INVITATION_NOT_FOUND"))

	require.NoError(t, f.svc.CancelInvitation(ctx, f.org.ID, b.ID))
	_, ok := f.repo.invitations[b.ID]
	assert.False(t, ok)
}

func TestUpdateMemberPermissions_CannotEditSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "vet-2", "vet2@clinic.io", authz.RoleAdmin)

	_, err := f.svc.UpdateMemberPermissions(ctx, "vet-2", f.org.ID, "vet-2", authz.AllPermissions())
	require.True(t, apperr.HasCode(err, CodeCannotModifySelf))

	m, err := f.svc.FindMembership(ctx, "vet-2", f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.Permissions{}, m.Permissions)
}

func TestUpdateMemberPermissions_AdminCannotExceedOwnGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "admin-2", "admin2@clinic.io", authz.RoleAdmin)
	f.join(t, "vet-3", "vet3@clinic.io", authz.RoleMember)

	_, err := f.svc.UpdateMemberPermissions(ctx, "owner-1", f.org.ID, "admin-2", authz.Permissions{CanDeleteAnimals: true})
	require.NoError(t, err)

	_, err = f.svc.UpdateMemberPermissions(ctx, "admin-2", f.org.ID, "vet-3", authz.Permissions{CanDeleteAnimals: true, CanDeleteClients: true})
	require.True(t, apperr.HasCode(err, CodePermissionNotGrantable))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, string(authz.PermissionCanDeleteClients), e.Details["permission"])

	m, err := f.svc.UpdateMemberPermissions(ctx, "admin-2", f.org.ID, "vet-3", authz.Permissions{CanDeleteAnimals: true})
	require.NoError(t, err)
	assert.True(t, m.Permissions.CanDeleteAnimals)
}

func TestCreateInvitation_AdminCannotExceedOwnGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "admin-2", "admin2@clinic.io", authz.RoleAdmin)

	_, err := f.svc.CreateInvitation(ctx, "admin-2", f.org.ID, InvitationInput{
		Email:       "new@clinic.io",
		Permissions: authz.Permissions{CanViewActivityLog: true},
	})
	require.True(t, apperr.HasCode(err, CodePermissionNotGrantable))
	pending, err := f.repo.ListInvitationsByEmail(ctx, "new@clinic.io")
	require.NoError(t, err)
	assert.Empty(t, pending)

	inv, err := f.svc.CreateInvitation(ctx, "admin-2", f.org.ID, InvitationInput{Email: "new@clinic.io"})
	require.NoError(t, err)
	assert.Equal(t, authz.Permissions{}, inv.Permissions)
}

func TestAcceptInvitation_LosesRaceWithDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "vet2@clinic.io", Role: authz.RoleAdmin})
	require.NoError(t, err)

	// el decline concurrente gana entre la lectura y la escritura del accept
	f.repo.beforeWrite = func() {
		f.repo.beforeWrite = nil
		_, err := f.svc.DeclineInvitation(ctx, "vet2@clinic.io", inv.ID)
		require.NoError(t, err)
	}

	_, err = f.svc.AcceptInvitation(ctx, "vet-2", "vet2@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationNotPending))

	assert.Equal(t, InvitationDeclined, f.repo.invitations[inv.ID].Status)
	_, err = f.svc.FindMembership(ctx, "vet-2", f.org.ID)
	require.ErrorIs(t, err, guard.ErrNoMembership)
}

func TestDeclineInvitation_LosesRaceWithAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "vet2@clinic.io"})
	require.NoError(t, err)

	f.repo.beforeWrite = func() {
		f.repo.beforeWrite = nil
		_, err := f.svc.AcceptInvitation(ctx, "vet-2", "vet2@clinic.io", inv.ID)
		require.NoError(t, err)
	}

	_, err = f.svc.DeclineInvitation(ctx, "vet2@clinic.io", inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationNotPending))

	assert.Equal(t, InvitationAccepted, f.repo.invitations[inv.ID].Status)
	m, err := f.svc.FindMembership(ctx, "vet-2", f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.MembershipActive, m.Status)
}

func TestCancelInvitation_ExpiredIsNotCancellable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "late@clinic.io"})
	require.NoError(t, err)

	f.clock = f.clock.Add(49 * time.Hour)

	err = f.svc.CancelInvitation(ctx, f.org.ID, inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationExpired))

	stored, ok := f.repo.invitations[inv.ID]
	require.True(t, ok, "la fila queda como historial")
	assert.Equal(t, InvitationExpired, stored.Status)

	err = f.svc.CancelInvitation(ctx, f.org.ID, inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationExpired))
}

func TestCancelInvitation_LosesRaceWithAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvitation(ctx, "owner-1", f.org.ID, InvitationInput{Email: "vet2@clinic.io"})
	require.NoError(t, err)

	f.repo.beforeWrite = func() {
		f.repo.beforeWrite = nil
		_, err := f.svc.AcceptInvitation(ctx, "vet-2", "vet2@clinic.io", inv.ID)
		require.NoError(t, err)
	}

	err = f.svc.CancelInvitation(ctx, f.org.ID, inv.ID)
	require.True(t, apperr.HasCode(err, CodeInvitationNotPending))
	assert.Equal(t, InvitationAccepted, f.repo.invitations[inv.ID].Status)
}
