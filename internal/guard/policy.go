// Package guard implementa el pipeline de autorización:
// Identity → Approval → (MasterAdmin) → OrgScope → Role → DeletePermission → Capability.
//
// Cada policy es una función que recibe el Scope inmutable y devuelve una copia
// (con lo que adjuntó) o un *apperr.Error. Chain las compone de izquierda a
// derecha y corta en el primer error.
package guard

import (
	"context"
	"errors"
	"strings"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/ports/authz"

	"github.com/samber/lo"
)

type Policy func(ctx context.Context, s authz.Scope) (authz.Scope, error)

// Stage es una policy con nombre (para métricas y logs).
type Stage struct {
	Name   string
	Policy Policy
}

// StageError indica en qué stage se cortó el pipeline.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Chain pliega los stages en orden. Un stage posterior puede asumir que todos
// los anteriores ya corrieron y adjuntaron su contexto.
func Chain(stages ...Stage) Policy {
	return func(ctx context.Context, s authz.Scope) (authz.Scope, error) {
		cur := s
		for _, st := range stages {
			next, err := st.Policy(ctx, cur)
			if err != nil {
				return s, &StageError{Stage: st.Name, Err: err}
			}
			cur = next
		}
		return cur, nil
	}
}

// AccountSource resuelve (o crea en el primer sign-in) la cuenta del credential.
type AccountSource interface {
	ResolvePrincipal(ctx context.Context, userID, email, name string) (authz.Principal, error)
}

// ErrNoMembership lo devuelve MembershipLookup cuando no existe el par (account, org).
var ErrNoMembership = errors.New("membership not found")

// MembershipLookup es la única lectura de membership que hace el pipeline.
type MembershipLookup interface {
	FindMembership(ctx context.Context, accountID, organizationID string) (authz.Membership, error)
}

// Identity exige claims válidos y adjunta el Principal.
func Identity(accounts AccountSource) Policy {
	return func(ctx context.Context, s authz.Scope) (authz.Scope, error) {
		if !s.Operation.RequireAuth {
			return s, nil
		}
		if s.Claims == nil || strings.TrimSpace(s.Claims.UserID) == "" {
			return s, apperr.Unauthenticated("missing or invalid credential")
		}

		p, err := accounts.ResolvePrincipal(ctx, s.Claims.UserID, s.Claims.Email, s.Claims.Name)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return s, err
			}
			return s, apperr.Internal(err)
		}
		return s.WithPrincipal(p), nil
	}
}

// Approval bloquea cuentas no aprobadas salvo operaciones exentas.
func Approval(_ context.Context, s authz.Scope) (authz.Scope, error) {
	if !s.Operation.RequireAuth || s.Operation.ExemptFromApproval {
		return s, nil
	}
	p := s.Principal
	if p == nil {
		return s, apperr.Unauthenticated("missing principal")
	}
	if p.IsMasterAdmin {
		return s, nil
	}

	switch p.Status {
	case authz.AccountApproved:
		return s, nil
	case authz.AccountPendingApproval:
		e := apperr.Forbidden(apperr.CodeVetNotApproved, "your account is pending approval")
		if p.SubmittedAt != nil {
			e = e.WithDetail("submittedAt", *p.SubmittedAt)
		}
		return s, e
	case authz.AccountRejected:
		e := apperr.Forbidden(apperr.CodeVetRejected, "your account was rejected").
			WithDetail("reason", p.RejectionReason)
		if p.RejectedAt != nil {
			e = e.WithDetail("rejectedAt", *p.RejectedAt)
		}
		return s, e
	case authz.AccountSuspended:
		e := apperr.Forbidden(apperr.CodeVetSuspended, "your account is suspended").
			WithDetail("reason", p.SuspensionReason)
		if p.SuspendedAt != nil {
			e = e.WithDetail("suspendedAt", *p.SuspendedAt)
		}
		return s, e
	default:
		return s, apperr.Forbidden(apperr.CodeVetNotApproved, "unknown account status").
			WithDetail("status", string(p.Status))
	}
}

// MasterAdmin solo aplica a operaciones de administración de cuentas.
func MasterAdmin(_ context.Context, s authz.Scope) (authz.Scope, error) {
	if !s.Operation.MasterAdminOnly {
		return s, nil
	}
	if s.Principal == nil || !s.Principal.IsMasterAdmin {
		return s, apperr.Forbidden(apperr.CodeMasterAdminRequired, "master admin required")
	}
	return s, nil
}

// OrgScope resuelve la membership del principal en la organización destino.
func OrgScope(members MembershipLookup) Policy {
	return func(ctx context.Context, s authz.Scope) (authz.Scope, error) {
		if !s.Operation.OrgScoped {
			return s, nil
		}
		orgID := strings.TrimSpace(s.OrganizationID)
		if orgID == "" {
			return s, apperr.New(apperr.KindValidation, apperr.CodeOrgIDRequired, "organization id is required")
		}
		if s.Principal == nil {
			return s, apperr.Unauthenticated("missing principal")
		}

		m, err := members.FindMembership(ctx, s.Principal.AccountID, orgID)
		if err != nil {
			if errors.Is(err, ErrNoMembership) {
				return s, apperr.Forbidden(apperr.CodeNotOrgMember, "you are not a member of this organization")
			}
			return s, apperr.Internal(err)
		}
		if m.Status != authz.MembershipActive {
			return s, apperr.Forbidden(apperr.CodeMembershipNotActive, "your membership is not active").
				WithDetail("status", string(m.Status))
		}
		return s.WithMembership(m), nil
	}
}

// Role consume la membership adjunta; nunca vuelve a consultar.
func Role(_ context.Context, s authz.Scope) (authz.Scope, error) {
	allowed := s.Operation.AllowedRoles
	if len(allowed) == 0 {
		return s, nil
	}
	if s.Membership == nil {
		return s, apperr.Internal(errors.New("role policy without attached membership: " + s.Operation.Name))
	}
	if !lo.Contains(allowed, s.Membership.Role) {
		return s, apperr.Forbidden(apperr.CodeRoleForbidden, "your role is not allowed to perform this operation").
			WithDetail("requiredRoles", allowed)
	}
	return s, nil
}

// DeletePermission corre después de Role. OWNER bypass.
func DeletePermission(_ context.Context, s authz.Scope) (authz.Scope, error) {
	perm := s.Operation.DeletePermission
	if perm == authz.PermissionNone {
		return s, nil
	}
	if s.Membership == nil {
		return s, apperr.Internal(errors.New("delete permission policy without attached membership: " + s.Operation.Name))
	}
	if s.Membership.Role == authz.RoleOwner || s.Membership.Permissions.Has(perm) {
		return s, nil
	}
	return s, apperr.Forbidden(apperr.CodeDeletePermissionDenied, "you do not have permission to delete this resource").
		WithDetail("permission", string(perm))
}

// Capability es la misma regla que DeletePermission para permisos no destructivos.
func Capability(_ context.Context, s authz.Scope) (authz.Scope, error) {
	perm := s.Operation.Permission
	if perm == authz.PermissionNone {
		return s, nil
	}
	if s.Membership == nil {
		return s, apperr.Internal(errors.New("capability policy without attached membership: " + s.Operation.Name))
	}
	if s.Membership.Role == authz.RoleOwner || s.Membership.Permissions.Has(perm) {
		return s, nil
	}
	return s, apperr.Forbidden(apperr.CodePermissionDenied, "you do not have this permission").
		WithDetail("permission", string(perm))
}
