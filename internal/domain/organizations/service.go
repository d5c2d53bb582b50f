package organizations

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"

	"github.com/google/uuid"
)

const (
	CodeCannotModifyOwner       = "CANNOT_MODIFY_OWNER"
	CodeCannotRemoveOwner       = "CANNOT_REMOVE_OWNER"
	CodeOwnerCannotLeave        = "OWNER_CANNOT_LEAVE"
	CodeInvalidRole             = "INVALID_ROLE"
	CodeInvitationExists        = "INVITATION_EXISTS"
	CodeAlreadyMember           = "ALREADY_MEMBER"
	CodeInvitationExpired       = "INVITATION_EXPIRED"
	CodeInvitationNotPending    = "INVITATION_NOT_PENDING"
	CodeInvitationEmailMismatch = "INVITATION_EMAIL_MISMATCH"
	CodeCannotModifySelf        = "CANNOT_MODIFY_OWN_MEMBERSHIP"
	CodePermissionNotGrantable  = "PERMISSION_NOT_GRANTABLE"
)

const DefaultInvitationTTL = 7 * 24 * time.Hour

// AccountDirectory evita importar accounts.
type AccountDirectory interface {
	AccountIDByEmail(ctx context.Context, email string) (string, error)
}

type Service struct {
	repo     Repository
	accounts AccountDirectory
	recorder *activity.Recorder
	ttl      time.Duration
	now      func() time.Time
}

type Options struct {
	Accounts      AccountDirectory
	Recorder      *activity.Recorder
	InvitationTTL time.Duration
}

func NewService(repo Repository, opts Options) *Service {
	ttl := opts.InvitationTTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &Service{
		repo:     repo,
		accounts: opts.Accounts,
		recorder: opts.Recorder,
		ttl:      ttl,
		now:      time.Now,
	}
}

// FindMembership implementa guard.MembershipLookup.
func (s *Service) FindMembership(ctx context.Context, accountID, organizationID string) (authz.Membership, error) {
	m, err := s.repo.GetMembership(ctx, accountID, organizationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return authz.Membership{}, guard.ErrNoMembership
		}
		return authz.Membership{}, err
	}
	return m.Authz(), nil
}

// -------------------------
// Organizations
// -------------------------

type OrganizationInput struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

func (in OrganizationInput) normalize() (OrganizationInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return in, apperr.Validation("name is required")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return in, apperr.Validation("invalid email")
		}
	}
	return in, nil
}

// CreateOrganization crea la org y la membership OWNER (todas las permissions) atómicamente.
func (s *Service) CreateOrganization(ctx context.Context, actorID string, in OrganizationInput) (Organization, Membership, error) {
	in, err := in.normalize()
	if err != nil {
		return Organization{}, Membership{}, err
	}

	now := s.now()
	org := Organization{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Address:   in.Address,
		Phone:     in.Phone,
		Email:     in.Email,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := Membership{
		ID:             uuid.NewString(),
		AccountID:      actorID,
		OrganizationID: org.ID,
		Role:           authz.RoleOwner,
		Status:         authz.MembershipActive,
		Permissions:    authz.AllPermissions(),
		JoinedAt:       now,
		UpdatedAt:      now,
	}

	if err := s.repo.CreateWithOwner(ctx, org, owner); err != nil {
		return Organization{}, Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: org.ID,
		ActorID:        actorID,
		Action:         activity.ActionCreated,
		EntityType:     "organization",
		EntityID:       org.ID,
		Details:        map[string]any{"name": org.Name},
	})
	return org, owner, nil
}

func (s *Service) ListMyOrganizations(ctx context.Context, accountID string) ([]Organization, error) {
	items, err := s.repo.ListOrganizationsByAccount(ctx, accountID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	org, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Organization{}, apperr.NotFound("organization", id)
		}
		return Organization{}, apperr.Internal(err)
	}
	return org, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, actorID, id string, in OrganizationInput) (Organization, error) {
	in, err := in.normalize()
	if err != nil {
		return Organization{}, err
	}
	org, err := s.GetOrganization(ctx, id)
	if err != nil {
		return Organization{}, err
	}

	org.Name = in.Name
	org.Address = in.Address
	org.Phone = in.Phone
	org.Email = in.Email
	org.UpdatedAt = s.now()

	if err := s.repo.UpdateOrganization(ctx, org); err != nil {
		return Organization{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: org.ID,
		ActorID:        actorID,
		Action:         activity.ActionUpdated,
		EntityType:     "organization",
		EntityID:       org.ID,
	})
	return org, nil
}

// -------------------------
// Members
// -------------------------

// ListMembers devuelve solo memberships ACTIVE, OWNER primero.
func (s *Service) ListMembers(ctx context.Context, organizationID string) ([]Membership, error) {
	items, err := s.repo.ListMembers(ctx, organizationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]Membership, 0, len(items))
	for _, m := range items {
		if m.Status == authz.MembershipActive {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank(out[i].Role) != rank(out[j].Role) {
			return rank(out[i].Role) < rank(out[j].Role)
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func rank(r authz.Role) int {
	switch r {
	case authz.RoleOwner:
		return 0
	case authz.RoleAdmin:
		return 1
	default:
		return 2
	}
}

// activeMember busca la membership del target; REMOVED/LEFT cuentan como no encontrada.
func (s *Service) activeMember(ctx context.Context, organizationID, accountID string) (Membership, error) {
	m, err := s.repo.GetMembership(ctx, accountID, organizationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Membership{}, apperr.NotFound("member", accountID)
		}
		return Membership{}, apperr.Internal(err)
	}
	if m.Status != authz.MembershipActive {
		return Membership{}, apperr.NotFound("member", accountID)
	}
	return m, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, actorID, organizationID, accountID string, role authz.Role) (Membership, error) {
	role = authz.Role(strings.ToUpper(strings.TrimSpace(string(role))))
	if role != authz.RoleAdmin && role != authz.RoleMember {
		return Membership{}, invalidRole()
	}

	m, err := s.activeMember(ctx, organizationID, accountID)
	if err != nil {
		return Membership{}, err
	}
	if m.Role == authz.RoleOwner {
		return Membership{}, apperr.Forbidden(CodeCannotModifyOwner, "the owner membership cannot be modified")
	}

	from := m.Role
	m.Role = role
	m.UpdatedAt = s.now()
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        actorID,
		Action:         activity.ActionMemberRoleChanged,
		EntityType:     "membership",
		EntityID:       m.ID,
		Details:        map[string]any{"accountId": accountID, "from": string(from), "to": string(role)},
	})
	return m, nil
}

func (s *Service) UpdateMemberPermissions(ctx context.Context, actorID, organizationID, accountID string, perms authz.Permissions) (Membership, error) {
	if strings.TrimSpace(accountID) == actorID {
		return Membership{}, apperr.Forbidden(CodeCannotModifySelf, "members cannot change their own permissions")
	}
	m, err := s.activeMember(ctx, organizationID, accountID)
	if err != nil {
		return Membership{}, err
	}
	if m.Role == authz.RoleOwner {
		return Membership{}, apperr.Forbidden(CodeCannotModifyOwner, "the owner membership cannot be modified")
	}
	if err := s.checkGrantable(ctx, actorID, organizationID, perms); err != nil {
		return Membership{}, err
	}

	m.Permissions = perms
	m.UpdatedAt = s.now()
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        actorID,
		Action:         activity.ActionMemberPermsChanged,
		EntityType:     "membership",
		EntityID:       m.ID,
		Details:        map[string]any{"accountId": accountID, "permissions": perms},
	})
	return m, nil
}

// checkGrantable: salvo el OWNER, nadie otorga un permiso que no tiene.
func (s *Service) checkGrantable(ctx context.Context, actorID, organizationID string, perms authz.Permissions) error {
	actor, err := s.activeMember(ctx, organizationID, actorID)
	if err != nil {
		return err
	}
	if actor.Role == authz.RoleOwner {
		return nil
	}
	if missing := perms.Exceeding(actor.Permissions); len(missing) > 0 {
		return apperr.Forbidden(CodePermissionNotGrantable, "cannot grant a permission you do not hold").
			WithDetail("permission", string(missing[0]))
	}
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, actorID, organizationID, accountID string) (Membership, error) {
	m, err := s.activeMember(ctx, organizationID, accountID)
	if err != nil {
		return Membership{}, err
	}
	if m.Role == authz.RoleOwner {
		return Membership{}, apperr.Forbidden(CodeCannotRemoveOwner, "the owner cannot be removed")
	}

	now := s.now()
	m.Status = authz.MembershipRemoved
	m.RemovedAt = &now
	m.RemovedBy = actorID
	m.UpdatedAt = now
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        actorID,
		Action:         activity.ActionMemberRemoved,
		EntityType:     "membership",
		EntityID:       m.ID,
		Details:        map[string]any{"accountId": accountID},
	})
	return m, nil
}

func (s *Service) Leave(ctx context.Context, accountID, organizationID string) (Membership, error) {
	m, err := s.activeMember(ctx, organizationID, accountID)
	if err != nil {
		return Membership{}, err
	}
	if m.Role == authz.RoleOwner {
		return Membership{}, apperr.Forbidden(CodeOwnerCannotLeave, "the owner cannot leave the organization")
	}

	now := s.now()
	m.Status = authz.MembershipLeft
	m.LeftAt = &now
	m.UpdatedAt = now
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        accountID,
		Action:         activity.ActionMemberLeft,
		EntityType:     "membership",
		EntityID:       m.ID,
	})
	return m, nil
}

// -------------------------
// Invitations
// -------------------------

type InvitationInput struct {
	Email       string
	Role        authz.Role
	Permissions authz.Permissions
}

func (s *Service) CreateInvitation(ctx context.Context, actorID, organizationID string, in InvitationInput) (Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return Invitation{}, apperr.Validation("a valid email is required")
	}
	role := authz.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	if role == "" {
		role = authz.RoleMember
	}
	if role != authz.RoleAdmin && role != authz.RoleMember {
		return Invitation{}, invalidRole()
	}
	if err := s.checkGrantable(ctx, actorID, organizationID, in.Permissions); err != nil {
		return Invitation{}, err
	}

	if s.accounts != nil {
		accountID, err := s.accounts.AccountIDByEmail(ctx, email)
		if err != nil {
			return Invitation{}, err
		}
		if accountID != "" {
			m, err := s.repo.GetMembership(ctx, accountID, organizationID)
			if err == nil && m.Status == authz.MembershipActive {
				return Invitation{}, apperr.Conflict(CodeAlreadyMember, "account is already a member")
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return Invitation{}, apperr.Internal(err)
			}
		}
	}

	now := s.now()
	existing, err := s.repo.ListInvitationsByOrganization(ctx, organizationID)
	if err != nil {
		return Invitation{}, apperr.Internal(err)
	}
	for _, inv := range existing {
		if inv.Email != email || inv.Status != InvitationPending {
			continue
		}
		if inv.IsExpired(now) {
			// libera el índice parcial de pendientes
			if _, err := s.expire(ctx, inv, now); err != nil {
				return Invitation{}, err
			}
			continue
		}
		return Invitation{}, apperr.Conflict(CodeInvitationExists, "a pending invitation already exists for this email")
	}

	inv := Invitation{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Email:          email,
		Role:           role,
		Permissions:    in.Permissions,
		Status:         InvitationPending,
		InvitedBy:      actorID,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		if c, ok := storage.Constraint(err); ok && c == storage.UniquePendingInvitation {
			return Invitation{}, apperr.Conflict(CodeInvitationExists, "a pending invitation already exists for this email")
		}
		return Invitation{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        actorID,
		Action:         activity.ActionInvitationSent,
		EntityType:     "invitation",
		EntityID:       inv.ID,
		Details:        map[string]any{"email": email, "role": string(role)},
	})
	return inv, nil
}

// ListInvitations aplica la expiración perezosa antes de devolver.
func (s *Service) ListInvitations(ctx context.Context, organizationID string) ([]Invitation, error) {
	items, err := s.repo.ListInvitationsByOrganization(ctx, organizationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.expireAll(ctx, items)
}

// CancelInvitation borra la fila; solo PENDING vigente de esa organización.
func (s *Service) CancelInvitation(ctx context.Context, organizationID, invitationID string) error {
	inv, err := s.getInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.OrganizationID != organizationID {
		return apperr.NotFound("invitation", invitationID)
	}
	if inv.Status == InvitationExpired {
		return apperr.Precondition(CodeInvitationExpired, "invitation has expired")
	}
	if inv.Status != InvitationPending {
		return notPending(inv)
	}
	if now := s.now(); inv.IsExpired(now) {
		expired, err := s.expire(ctx, inv, now)
		if err != nil {
			return err
		}
		if expired.Status != InvitationExpired {
			return notPending(expired)
		}
		return apperr.Precondition(CodeInvitationExpired, "invitation has expired").
			WithDetail("expiresAt", inv.ExpiresAt)
	}
	if err := s.repo.DeletePendingInvitation(ctx, inv.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.lostTransition(ctx, inv.ID)
		}
		return apperr.Internal(err)
	}
	return nil
}

// ListMyInvitations: solo las PENDING vigentes del email del principal.
func (s *Service) ListMyInvitations(ctx context.Context, email string) ([]Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return []Invitation{}, nil
	}
	items, err := s.repo.ListInvitationsByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	items, err = s.expireAll(ctx, items)
	if err != nil {
		return nil, err
	}
	out := make([]Invitation, 0, len(items))
	for _, inv := range items {
		if inv.Status == InvitationPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

// AcceptInvitation crea la membership o reactiva una REMOVED/LEFT.
func (s *Service) AcceptInvitation(ctx context.Context, accountID, email, invitationID string) (Membership, error) {
	inv, err := s.respondable(ctx, email, invitationID)
	if err != nil {
		return Membership{}, err
	}

	now := s.now()
	m, err := s.repo.GetMembership(ctx, accountID, inv.OrganizationID)
	switch {
	case err == nil && m.Status == authz.MembershipActive:
		return Membership{}, apperr.Conflict(CodeAlreadyMember, "account is already a member")
	case err == nil:
		m.Status = authz.MembershipActive
		m.RemovedAt = nil
		m.RemovedBy = ""
		m.LeftAt = nil
		m.JoinedAt = now
	case errors.Is(err, storage.ErrNotFound):
		m = Membership{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			OrganizationID: inv.OrganizationID,
			Status:         authz.MembershipActive,
			JoinedAt:       now,
		}
	default:
		return Membership{}, apperr.Internal(err)
	}
	m.Role = inv.Role
	m.Permissions = inv.Permissions
	m.UpdatedAt = now

	inv.Status = InvitationAccepted
	inv.RespondedAt = &now

	if err := s.repo.AcceptInvitation(ctx, inv, m); err != nil {
		if errors.Is(err, storage.ErrStale) {
			return Membership{}, s.lostTransition(ctx, inv.ID)
		}
		if c, ok := storage.Constraint(err); ok && c == storage.UniqueMembershipPair {
			return Membership{}, apperr.Conflict(CodeAlreadyMember, "account is already a member")
		}
		return Membership{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		OrganizationID: inv.OrganizationID,
		ActorID:        accountID,
		Action:         activity.ActionInvitationAccepted,
		EntityType:     "invitation",
		EntityID:       inv.ID,
		Details:        map[string]any{"membershipId": m.ID, "role": string(m.Role)},
	})
	return m, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, email, invitationID string) (Invitation, error) {
	inv, err := s.respondable(ctx, email, invitationID)
	if err != nil {
		return Invitation{}, err
	}
	now := s.now()
	inv.Status = InvitationDeclined
	inv.RespondedAt = &now
	if err := s.repo.UpdateInvitation(ctx, inv); err != nil {
		if errors.Is(err, storage.ErrStale) {
			return Invitation{}, s.lostTransition(ctx, inv.ID)
		}
		return Invitation{}, apperr.Internal(err)
	}
	return inv, nil
}

// lostTransition: otra request cambió la invitación entre la lectura y la escritura.
func (s *Service) lostTransition(ctx context.Context, invitationID string) error {
	current, err := s.getInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if current.Status == InvitationExpired {
		return apperr.Precondition(CodeInvitationExpired, "invitation has expired")
	}
	return notPending(current)
}

// respondable valida email, estado y vencimiento antes de aceptar/rechazar.
func (s *Service) respondable(ctx context.Context, email, invitationID string) (Invitation, error) {
	inv, err := s.getInvitation(ctx, invitationID)
	if err != nil {
		return Invitation{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(email), inv.Email) {
		return Invitation{}, apperr.Forbidden(CodeInvitationEmailMismatch, "invitation was sent to another email")
	}
	if inv.Status != InvitationPending {
		if inv.Status == InvitationExpired {
			return Invitation{}, apperr.Precondition(CodeInvitationExpired, "invitation has expired")
		}
		return Invitation{}, notPending(inv)
	}
	now := s.now()
	if inv.IsExpired(now) {
		expired, err := s.expire(ctx, inv, now)
		if err != nil {
			return Invitation{}, err
		}
		if expired.Status != InvitationExpired {
			return Invitation{}, notPending(expired)
		}
		return Invitation{}, apperr.Precondition(CodeInvitationExpired, "invitation has expired").
			WithDetail("expiresAt", inv.ExpiresAt)
	}
	return inv, nil
}

func (s *Service) getInvitation(ctx context.Context, id string) (Invitation, error) {
	inv, err := s.repo.GetInvitation(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Invitation{}, apperr.NotFound("invitation", id)
		}
		return Invitation{}, apperr.Internal(err)
	}
	return inv, nil
}

func (s *Service) expire(ctx context.Context, inv Invitation, now time.Time) (Invitation, error) {
	inv.Status = InvitationExpired
	inv.RespondedAt = &now
	if err := s.repo.UpdateInvitation(ctx, inv); err != nil {
		if errors.Is(err, storage.ErrStale) {
			// alguien respondió antes; se devuelve la fila vigente
			return s.getInvitation(ctx, inv.ID)
		}
		return Invitation{}, apperr.Internal(err)
	}
	return inv, nil
}

func (s *Service) expireAll(ctx context.Context, items []Invitation) ([]Invitation, error) {
	now := s.now()
	for i, inv := range items {
		if inv.Status != InvitationPending || !inv.IsExpired(now) {
			continue
		}
		expired, err := s.expire(ctx, inv, now)
		if err != nil {
			return nil, err
		}
		items[i] = expired
	}
	return items, nil
}

func invalidRole() error {
	return apperr.New(apperr.KindValidation, CodeInvalidRole, "role must be ADMIN or MEMBER")
}

func notPending(inv Invitation) error {
	return apperr.Precondition(CodeInvitationNotPending, "invitation is no longer pending").
		WithDetail("status", string(inv.Status))
}
