package organizations

import (
	"time"

	"vet-practice-records/internal/ports/authz"
)

// Organization es la práctica veterinaria (tenant).
type Organization struct {
	ID string

	Name    string
	Address string
	Phone   string
	Email   string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership une una cuenta con una organización. Único por (AccountID, OrganizationID).
type Membership struct {
	ID             string
	AccountID      string
	OrganizationID string

	Role        authz.Role
	Status      authz.MembershipStatus
	Permissions authz.Permissions

	JoinedAt  time.Time
	RemovedAt *time.Time
	RemovedBy string
	LeftAt    *time.Time
	UpdatedAt time.Time
}

// Authz es la copia que consume el pipeline.
func (m Membership) Authz() authz.Membership {
	return authz.Membership{
		ID:             m.ID,
		AccountID:      m.AccountID,
		OrganizationID: m.OrganizationID,
		Role:           m.Role,
		Status:         m.Status,
		Permissions:    m.Permissions,
	}
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)

// Invitation: los estados terminales no se modifican.
type Invitation struct {
	ID             string
	OrganizationID string
	Email          string // siempre en minúsculas

	Role        authz.Role // ADMIN o MEMBER
	Permissions authz.Permissions

	Status      InvitationStatus
	InvitedBy   string
	ExpiresAt   time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
}

func (i Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
