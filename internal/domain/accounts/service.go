package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"
)

const (
	CodeVCNExists               = "VCN_ALREADY_EXISTS"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeProfileIncomplete       = "PROFILE_INCOMPLETE"
)

type Service struct {
	repo         Repository
	recorder     *activity.Recorder
	masterAdmins map[string]struct{}
	now          func() time.Time
}

type Options struct {
	Recorder *activity.Recorder
	// MasterAdminEmails: cuentas que nacen con el flag de master admin.
	MasterAdminEmails []string
}

func NewService(repo Repository, opts Options) *Service {
	admins := map[string]struct{}{}
	for _, e := range opts.MasterAdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Service{
		repo:         repo,
		recorder:     opts.Recorder,
		masterAdmins: admins,
		now:          time.Now,
	}
}

// ResolvePrincipal implementa guard.AccountSource: get-or-create en el primer sign-in.
func (s *Service) ResolvePrincipal(ctx context.Context, userID, email, name string) (authz.Principal, error) {
	a, err := s.Ensure(ctx, userID, email, name)
	if err != nil {
		return authz.Principal{}, err
	}
	return a.Principal(), nil
}

func (s *Service) Ensure(ctx context.Context, userID, email, name string) (Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Account{}, apperr.Unauthenticated("missing account id")
	}

	a, err := s.repo.GetByID(ctx, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Account{}, apperr.Internal(err)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	_, isAdmin := s.masterAdmins[email]
	now := s.now()
	a = Account{
		ID:            userID,
		Email:         email,
		FullName:      strings.TrimSpace(name),
		Status:        authz.AccountPendingApproval,
		IsMasterAdmin: isAdmin && email != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		// Dos requests concurrentes del mismo primer sign-in: gana el primero.
		if errors.Is(err, storage.ErrConflict) {
			if existing, gerr := s.repo.GetByID(ctx, userID); gerr == nil {
				return existing, nil
			}
		}
		return Account{}, apperr.Internal(err)
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	a, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Account{}, apperr.NotFound("account", id)
		}
		return Account{}, apperr.Internal(err)
	}
	return a, nil
}

// AccountIDByEmail lo usan las invitaciones para detectar miembros existentes.
// Devuelve "" sin error si no hay cuenta con ese email.
func (s *Service) AccountIDByEmail(ctx context.Context, email string) (string, error) {
	a, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", apperr.Internal(err)
	}
	return a.ID, nil
}

type ProfileInput struct {
	FullName       string
	Phone          string
	VCN            string
	Specialization string
}

// CompleteProfile está exenta del Approval Policy (la usa una cuenta pendiente).
func (s *Service) CompleteProfile(ctx context.Context, accountID string, in ProfileInput) (Account, error) {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}

	in.FullName = strings.TrimSpace(in.FullName)
	in.VCN = strings.ToUpper(strings.TrimSpace(in.VCN))
	if in.FullName == "" || in.VCN == "" {
		return Account{}, apperr.Validation("full_name and vcn are required")
	}

	if other, err := s.repo.GetByVCN(ctx, in.VCN); err == nil && other.ID != a.ID {
		return Account{}, apperr.Conflict(CodeVCNExists, "vcn already registered")
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Account{}, apperr.Internal(err)
	}

	now := s.now()
	a.FullName = in.FullName
	a.Phone = strings.TrimSpace(in.Phone)
	a.VCN = in.VCN
	a.Specialization = strings.TrimSpace(in.Specialization)
	a.ProfileCompleted = true
	if a.SubmittedAt == nil {
		a.SubmittedAt = &now
	}
	a.UpdatedAt = now

	if err := s.repo.Update(ctx, a); err != nil {
		if c, ok := storage.Constraint(err); ok && c == storage.UniqueAccountVCN {
			return Account{}, apperr.Conflict(CodeVCNExists, "vcn already registered")
		}
		return Account{}, apperr.Internal(err)
	}
	return a, nil
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Account, error) {
	items, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

// Máquina de estados:
// PENDING_APPROVAL -> APPROVED | REJECTED
// APPROVED <-> SUSPENDED
func (s *Service) Approve(ctx context.Context, adminID, accountID string) (Account, error) {
	return s.transition(ctx, adminID, accountID, authz.AccountApproved, "", func(a *Account, now time.Time) error {
		if a.Status != authz.AccountPendingApproval {
			return invalidTransition(a.Status, authz.AccountApproved)
		}
		if !a.ProfileCompleted {
			return apperr.Precondition(CodeProfileIncomplete, "account profile is not completed")
		}
		a.ApprovedAt = &now
		a.ApprovedBy = adminID
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, adminID, accountID, reason string) (Account, error) {
	return s.transition(ctx, adminID, accountID, authz.AccountRejected, reason, func(a *Account, now time.Time) error {
		if a.Status != authz.AccountPendingApproval {
			return invalidTransition(a.Status, authz.AccountRejected)
		}
		a.RejectedAt = &now
		a.RejectionReason = reason
		return nil
	})
}

func (s *Service) Suspend(ctx context.Context, adminID, accountID, reason string) (Account, error) {
	return s.transition(ctx, adminID, accountID, authz.AccountSuspended, reason, func(a *Account, now time.Time) error {
		if a.Status != authz.AccountApproved {
			return invalidTransition(a.Status, authz.AccountSuspended)
		}
		a.SuspendedAt = &now
		a.SuspensionReason = reason
		return nil
	})
}

func (s *Service) Reactivate(ctx context.Context, adminID, accountID string) (Account, error) {
	return s.transition(ctx, adminID, accountID, authz.AccountApproved, "", func(a *Account, _ time.Time) error {
		if a.Status != authz.AccountSuspended {
			return invalidTransition(a.Status, authz.AccountApproved)
		}
		a.SuspendedAt = nil
		a.SuspensionReason = ""
		return nil
	})
}

func (s *Service) transition(
	ctx context.Context,
	adminID, accountID string,
	to Status,
	reason string,
	apply func(a *Account, now time.Time) error,
) (Account, error) {
	reason = strings.TrimSpace(reason)
	if (to == authz.AccountRejected || to == authz.AccountSuspended) && reason == "" {
		return Account{}, apperr.Validation("reason is required")
	}

	a, err := s.Get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	from := a.Status

	now := s.now()
	if err := apply(&a, now); err != nil {
		return Account{}, err
	}
	a.Status = to
	a.UpdatedAt = now

	if err := s.repo.Update(ctx, a); err != nil {
		return Account{}, apperr.Internal(err)
	}

	s.recorder.Record(ctx, activity.Event{
		ActorID:    adminID,
		Action:     activity.ActionAccountStatusChanged,
		EntityType: "account",
		EntityID:   a.ID,
		Details:    map[string]any{"from": string(from), "to": string(to), "reason": reason},
	})
	return a, nil
}

func invalidTransition(from, to Status) error {
	return apperr.Precondition(CodeInvalidStatusTransition, "invalid account status transition").
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}
