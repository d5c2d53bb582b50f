package authz

import "time"

// AccountStatus es el estado de aprobación del veterinario.
type AccountStatus string

const (
	AccountPendingApproval AccountStatus = "PENDING_APPROVAL"
	AccountApproved        AccountStatus = "APPROVED"
	AccountRejected        AccountStatus = "REJECTED"
	AccountSuspended       AccountStatus = "SUSPENDED"
)

// Principal es la identidad ya resuelta (cuenta + estado).
type Principal struct {
	AccountID     string
	Email         string
	Status        AccountStatus
	IsMasterAdmin bool

	SubmittedAt      *time.Time
	RejectedAt       *time.Time
	RejectionReason  string
	SuspendedAt      *time.Time
	SuspensionReason string
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "ACTIVE"
	MembershipRemoved MembershipStatus = "REMOVED"
	MembershipLeft    MembershipStatus = "LEFT"
)

// Permissions son los booleanos granulares por membership.
type Permissions struct {
	CanDeleteClients    bool `json:"can_delete_clients"`
	CanDeleteAnimals    bool `json:"can_delete_animals"`
	CanDeleteTreatments bool `json:"can_delete_treatments"`
	CanViewActivityLog  bool `json:"can_view_activity_log"`
}

// AllPermissions es lo que recibe el OWNER al crear la organización.
func AllPermissions() Permissions {
	return Permissions{
		CanDeleteClients:    true,
		CanDeleteAnimals:    true,
		CanDeleteTreatments: true,
		CanViewActivityLog:  true,
	}
}

// Membership es la copia que el Org Scope Resolver adjunta al Scope.
type Membership struct {
	ID             string
	AccountID      string
	OrganizationID string
	Role           Role
	Status         MembershipStatus
	Permissions    Permissions
}

// Permission nombra un booleano de Permissions.
type Permission string

const (
	PermissionNone                Permission = ""
	PermissionCanDeleteClients    Permission = "canDeleteClients"
	PermissionCanDeleteAnimals    Permission = "canDeleteAnimals"
	PermissionCanDeleteTreatments Permission = "canDeleteTreatments"
	PermissionCanViewActivityLog  Permission = "canViewActivityLog"
)

// Has lee el booleano correspondiente. PermissionNone siempre es true.
func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermissionNone:
		return true
	case PermissionCanDeleteClients:
		return p.CanDeleteClients
	case PermissionCanDeleteAnimals:
		return p.CanDeleteAnimals
	case PermissionCanDeleteTreatments:
		return p.CanDeleteTreatments
	case PermissionCanViewActivityLog:
		return p.CanViewActivityLog
	default:
		return false
	}
}

var grantable = []Permission{
	PermissionCanDeleteClients,
	PermissionCanDeleteAnimals,
	PermissionCanDeleteTreatments,
	PermissionCanViewActivityLog,
}

// Exceeding devuelve los permisos que p otorga y held no tiene.
func (p Permissions) Exceeding(held Permissions) []Permission {
	var out []Permission
	for _, perm := range grantable {
		if p.Has(perm) && !held.Has(perm) {
			out = append(out, perm)
		}
	}
	return out
}
