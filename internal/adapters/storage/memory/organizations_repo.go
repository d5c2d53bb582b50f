package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"vet-practice-records/internal/domain/organizations"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"
)

type organizationRepo struct {
	mu          sync.RWMutex
	orgs        map[string]organizations.Organization
	members     map[string]organizations.Membership // por membership ID
	invitations map[string]organizations.Invitation
}

func NewOrganizationRepo() organizations.Repository {
	return &organizationRepo{
		orgs:        make(map[string]organizations.Organization),
		members:     make(map[string]organizations.Membership),
		invitations: make(map[string]organizations.Invitation),
	}
}

// -------------------------
// Organizations
// -------------------------

func (r *organizationRepo) CreateWithOwner(ctx context.Context, org organizations.Organization, owner organizations.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(org.ID) == "" || strings.TrimSpace(owner.ID) == "" {
		return errors.New("organization and membership ids required")
	}
	if _, exists := r.orgs[org.ID]; exists {
		return storage.ErrConflict
	}
	// Se valida todo antes de escribir: o entran las dos filas o ninguna.
	if err := r.checkMembership(owner); err != nil {
		return err
	}
	r.orgs[org.ID] = org
	r.members[owner.ID] = owner
	return nil
}

func (r *organizationRepo) UpdateOrganization(ctx context.Context, org organizations.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orgs[org.ID]; !exists {
		return storage.ErrNotFound
	}
	r.orgs[org.ID] = org
	return nil
}

func (r *organizationRepo) GetOrganization(ctx context.Context, id string) (organizations.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orgs[id]
	if !ok {
		return organizations.Organization{}, storage.ErrNotFound
	}
	return o, nil
}

func (r *organizationRepo) ListOrganizationsByAccount(ctx context.Context, accountID string) ([]organizations.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]organizations.Organization, 0)
	for _, m := range r.members {
		if m.AccountID != accountID || m.Status != authz.MembershipActive {
			continue
		}
		if o, ok := r.orgs[m.OrganizationID]; ok {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// -------------------------
// Memberships
// -------------------------

func (r *organizationRepo) GetMembership(ctx context.Context, accountID, organizationID string) (organizations.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.AccountID == accountID && m.OrganizationID == organizationID {
			return m, nil
		}
	}
	return organizations.Membership{}, storage.ErrNotFound
}

func (r *organizationRepo) ListMembers(ctx context.Context, organizationID string) ([]organizations.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]organizations.Membership, 0)
	for _, m := range r.members {
		if m.OrganizationID == organizationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (r *organizationRepo) UpdateMembership(ctx context.Context, m organizations.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[m.ID]; !exists {
		return storage.ErrNotFound
	}
	if err := r.checkMembership(m); err != nil {
		return err
	}
	r.members[m.ID] = m
	return nil
}

// checkMembership replica las constraints únicas de memberships. Requiere el lock.
func (r *organizationRepo) checkMembership(m organizations.Membership) error {
	for id, other := range r.members {
		if id == m.ID || other.OrganizationID != m.OrganizationID {
			continue
		}
		if other.AccountID == m.AccountID {
			return &storage.ConflictError{Constraint: storage.UniqueMembershipPair}
		}
		if m.Role == authz.RoleOwner && other.Role == authz.RoleOwner &&
			m.Status == authz.MembershipActive && other.Status == authz.MembershipActive {
			return &storage.ConflictError{Constraint: storage.UniqueOrganizationOwner}
		}
	}
	return nil
}

// -------------------------
// Invitations
// -------------------------

func (r *organizationRepo) CreateInvitation(ctx context.Context, inv organizations.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(inv.ID) == "" {
		return errors.New("invitation id required")
	}
	if _, exists := r.invitations[inv.ID]; exists {
		return storage.ErrConflict
	}
	if err := r.checkInvitation(inv); err != nil {
		return err
	}
	r.invitations[inv.ID] = inv
	return nil
}

func (r *organizationRepo) UpdateInvitation(ctx context.Context, inv organizations.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pendingInvitation(inv); err != nil {
		return err
	}
	r.invitations[inv.ID] = inv
	return nil
}

// pendingInvitation: solo se transiciona desde PENDING. Requiere el lock.
func (r *organizationRepo) pendingInvitation(inv organizations.Invitation) error {
	stored, exists := r.invitations[inv.ID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Status != organizations.InvitationPending {
		return storage.ErrStale
	}
	return r.checkInvitation(inv)
}

func (r *organizationRepo) GetInvitation(ctx context.Context, id string) (organizations.Invitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invitations[id]
	if !ok {
		return organizations.Invitation{}, storage.ErrNotFound
	}
	return inv, nil
}

func (r *organizationRepo) DeletePendingInvitation(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok || inv.Status != organizations.InvitationPending {
		return storage.ErrNotFound
	}
	delete(r.invitations, id)
	return nil
}

func (r *organizationRepo) ListInvitationsByOrganization(ctx context.Context, organizationID string) ([]organizations.Invitation, error) {
	return r.listInvitations(func(inv organizations.Invitation) bool {
		return inv.OrganizationID == organizationID
	}), nil
}

func (r *organizationRepo) ListInvitationsByEmail(ctx context.Context, email string) ([]organizations.Invitation, error) {
	return r.listInvitations(func(inv organizations.Invitation) bool {
		return inv.Email == email
	}), nil
}

func (r *organizationRepo) AcceptInvitation(ctx context.Context, inv organizations.Invitation, m organizations.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pendingInvitation(inv); err != nil {
		return err
	}
	if err := r.checkMembership(m); err != nil {
		return err
	}
	r.invitations[inv.ID] = inv
	r.members[m.ID] = m
	return nil
}

func (r *organizationRepo) listInvitations(match func(organizations.Invitation) bool) []organizations.Invitation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]organizations.Invitation, 0)
	for _, inv := range r.invitations {
		if match(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Una sola invitación PENDING por (org, email). Requiere el lock.
func (r *organizationRepo) checkInvitation(inv organizations.Invitation) error {
	if inv.Status != organizations.InvitationPending {
		return nil
	}
	for id, other := range r.invitations {
		if id != inv.ID && other.Status == organizations.InvitationPending &&
			other.OrganizationID == inv.OrganizationID && other.Email == inv.Email {
			return &storage.ConflictError{Constraint: storage.UniquePendingInvitation}
		}
	}
	return nil
}
