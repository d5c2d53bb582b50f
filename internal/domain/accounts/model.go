package accounts

import (
	"time"

	"vet-practice-records/internal/ports/authz"
)

type Status = authz.AccountStatus

// Account es el veterinario. Se crea en el primer sign-in y nunca se borra.
type Account struct {
	ID    string
	Email string

	FullName       string
	Phone          string
	VCN            string // vet council number, único global
	Specialization string

	Status           Status
	ProfileCompleted bool
	IsMasterAdmin    bool

	SubmittedAt      *time.Time
	ApprovedAt       *time.Time
	ApprovedBy       string
	RejectedAt       *time.Time
	RejectionReason  string
	SuspendedAt      *time.Time
	SuspensionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) Principal() authz.Principal {
	return authz.Principal{
		AccountID:        a.ID,
		Email:            a.Email,
		Status:           a.Status,
		IsMasterAdmin:    a.IsMasterAdmin,
		SubmittedAt:      a.SubmittedAt,
		RejectedAt:       a.RejectedAt,
		RejectionReason:  a.RejectionReason,
		SuspendedAt:      a.SuspendedAt,
		SuspensionReason: a.SuspensionReason,
	}
}
