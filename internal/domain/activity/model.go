package activity

import "time"

type Action string

const (
	ActionCreated  Action = "CREATED"
	ActionUpdated  Action = "UPDATED"
	ActionDeleted  Action = "DELETED"
	ActionRestored Action = "RESTORED"
	ActionVersion  Action = "VERSIONED"

	ActionMemberRoleChanged  Action = "MEMBER_ROLE_CHANGED"
	ActionMemberPermsChanged Action = "MEMBER_PERMISSIONS_CHANGED"
	ActionMemberRemoved      Action = "MEMBER_REMOVED"
	ActionMemberLeft         Action = "MEMBER_LEFT"
	ActionInvitationSent     Action = "INVITATION_SENT"
	ActionInvitationAccepted Action = "INVITATION_ACCEPTED"

	ActionAccountStatusChanged Action = "ACCOUNT_STATUS_CHANGED"
)

// Event es una entrada del activity/audit log.
// OrganizationID vacío => evento de plataforma (acciones de master admin).
type Event struct {
	ID             string
	OrganizationID string
	ActorID        string

	Action     Action
	EntityType string
	EntityID   string

	Details map[string]any

	OccurredAt time.Time
}
