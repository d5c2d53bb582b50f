package memory

import (
	"context"
	"testing"

	"vet-practice-records/internal/domain/accounts"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/domain/organizations"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activityEvent(id, orgID string) activity.Event {
	return activity.Event{ID: id, OrganizationID: orgID, Action: activity.ActionCreated, OccurredAt: t0}
}

func accountWith(id, vcn string) accounts.Account {
	return accounts.Account{ID: id, Email: id + "@x.io", VCN: vcn, Status: authz.AccountPendingApproval}
}

func ownerOf(orgID, accountID string) organizations.Membership {
	return organizations.Membership{
		ID:             "m-" + accountID,
		AccountID:      accountID,
		OrganizationID: orgID,
		Role:           authz.RoleOwner,
		Status:         authz.MembershipActive,
		Permissions:    authz.AllPermissions(),
		JoinedAt:       t0,
	}
}

func TestOrganizationRepo_CreateWithOwnerIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	r := NewOrganizationRepo()

	require.NoError(t, r.CreateWithOwner(ctx, organizations.Organization{ID: "org-1", Name: "A"}, ownerOf("org-1", "u1")))

	// ID de org repetido: tampoco debe entrar la membership.
	err := r.CreateWithOwner(ctx, organizations.Organization{ID: "org-1", Name: "B"}, ownerOf("org-1", "u2"))
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = r.GetMembership(ctx, "u2", "org-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	org, err := r.GetOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "A", org.Name)

	orgs, err := r.ListOrganizationsByAccount(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "org-1", orgs[0].ID)
}

func TestOrganizationRepo_SingleActiveOwner(t *testing.T) {
	ctx := context.Background()
	r := NewOrganizationRepo()
	require.NoError(t, r.CreateWithOwner(ctx, organizations.Organization{ID: "org-1"}, ownerOf("org-1", "u1")))

	second := ownerOf("org-1", "u2")
	inv := organizations.Invitation{ID: "inv-1", OrganizationID: "org-1", Email: "u2@x.io", Status: organizations.InvitationPending}
	require.NoError(t, r.CreateInvitation(ctx, inv))

	inv.Status = organizations.InvitationAccepted
	err := r.AcceptInvitation(ctx, inv, second)
	name, ok := storage.Constraint(err)
	require.True(t, ok)
	assert.Equal(t, storage.UniqueOrganizationOwner, name)

	// Nada se aplicó.
	got, err := r.GetInvitation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, organizations.InvitationPending, got.Status)
	_, err = r.GetMembership(ctx, "u2", "org-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrganizationRepo_OnePendingInvitationPerEmail(t *testing.T) {
	ctx := context.Background()
	r := NewOrganizationRepo()

	inv := organizations.Invitation{ID: "inv-1", OrganizationID: "org-1", Email: "vet@x.io", Status: organizations.InvitationPending}
	require.NoError(t, r.CreateInvitation(ctx, inv))

	err := r.CreateInvitation(ctx, organizations.Invitation{ID: "inv-2", OrganizationID: "org-1", Email: "vet@x.io", Status: organizations.InvitationPending})
	name, ok := storage.Constraint(err)
	require.True(t, ok)
	assert.Equal(t, storage.UniquePendingInvitation, name)

	// Otra org: permitido.
	require.NoError(t, r.CreateInvitation(ctx, organizations.Invitation{ID: "inv-3", OrganizationID: "org-2", Email: "vet@x.io", Status: organizations.InvitationPending}))

	// Una vez expirada, se puede invitar de nuevo.
	inv.Status = organizations.InvitationExpired
	require.NoError(t, r.UpdateInvitation(ctx, inv))
	require.NoError(t, r.CreateInvitation(ctx, organizations.Invitation{ID: "inv-2", OrganizationID: "org-1", Email: "vet@x.io", Status: organizations.InvitationPending}))

	mine, err := r.ListInvitationsByEmail(ctx, "vet@x.io")
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	require.ErrorIs(t, r.DeletePendingInvitation(ctx, "inv-1"), storage.ErrNotFound)
	require.NoError(t, r.DeletePendingInvitation(ctx, "inv-2"))
}

func TestOrganizationRepo_InvitationTransitionsOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	r := NewOrganizationRepo()
	require.NoError(t, r.CreateWithOwner(ctx, organizations.Organization{ID: "org-1"}, ownerOf("org-1", "u1")))

	inv := organizations.Invitation{ID: "inv-1", OrganizationID: "org-1", Email: "u2@x.io", Status: organizations.InvitationPending}
	require.NoError(t, r.CreateInvitation(ctx, inv))

	declined := inv
	declined.Status = organizations.InvitationDeclined
	require.NoError(t, r.UpdateInvitation(ctx, declined))

	// un accept con la lectura vieja no pisa el DECLINED ni crea membership
	accepted := inv
	accepted.Status = organizations.InvitationAccepted
	member := organizations.Membership{ID: "m-u2", AccountID: "u2", OrganizationID: "org-1", Role: authz.RoleMember, Status: authz.MembershipActive}
	require.ErrorIs(t, r.AcceptInvitation(ctx, accepted, member), storage.ErrStale)

	expired := inv
	expired.Status = organizations.InvitationExpired
	require.ErrorIs(t, r.UpdateInvitation(ctx, expired), storage.ErrStale)

	got, err := r.GetInvitation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, organizations.InvitationDeclined, got.Status)
	_, err = r.GetMembership(ctx, "u2", "org-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAccountRepo_VCNIsUnique(t *testing.T) {
	ctx := context.Background()
	r := NewAccountRepo()

	require.NoError(t, r.Create(ctx, accountWith("a1", "VCN-1")))
	require.NoError(t, r.Create(ctx, accountWith("a2", "")))

	err := r.Update(ctx, accountWith("a2", "VCN-1"))
	name, ok := storage.Constraint(err)
	require.True(t, ok)
	assert.Equal(t, storage.UniqueAccountVCN, name)

	got, err := r.GetByVCN(ctx, "VCN-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}
