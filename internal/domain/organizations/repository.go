package organizations

import "context"

// Repository devuelve storage.ErrNotFound / storage.ConflictError.
type Repository interface {
	// CreateWithOwner inserta la organización y la membership OWNER en una transacción.
	CreateWithOwner(ctx context.Context, org Organization, owner Membership) error
	UpdateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	// ListOrganizationsByAccount solo devuelve orgs con membership ACTIVE.
	ListOrganizationsByAccount(ctx context.Context, accountID string) ([]Organization, error)

	GetMembership(ctx context.Context, accountID, organizationID string) (Membership, error)
	ListMembers(ctx context.Context, organizationID string) ([]Membership, error)
	UpdateMembership(ctx context.Context, m Membership) error

	CreateInvitation(ctx context.Context, inv Invitation) error
	// UpdateInvitation transiciona una fila PENDING; si ya no lo está => ErrStale.
	UpdateInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	// DeletePendingInvitation borra solo filas PENDING; si no hay => ErrNotFound.
	DeletePendingInvitation(ctx context.Context, id string) error
	ListInvitationsByOrganization(ctx context.Context, organizationID string) ([]Invitation, error)
	ListInvitationsByEmail(ctx context.Context, email string) ([]Invitation, error)

	// AcceptInvitation actualiza la invitación e inserta (o reactiva, por ID) la
	// membership en una misma transacción. Misma guarda PENDING que UpdateInvitation.
	AcceptInvitation(ctx context.Context, inv Invitation, m Membership) error
}
