package authz

import (
	"context"

	"vet-practice-records/internal/ports/auth"
)

// Operation es la declaración de requisitos de cada endpoint.
// DeletePermission lo consume el Delete Permission Policy; Permission es para
// capabilities que no son de borrado (p.ej. ver el activity log) y sigue la
// misma regla de OWNER bypass.
type Operation struct {
	Name               string
	RequireAuth        bool
	ExemptFromApproval bool
	OrgScoped          bool
	AllowedRoles       []Role
	DeletePermission   Permission
	Permission         Permission
	MasterAdminOnly    bool
}

// Scope es el contexto inmutable que recorre el pipeline.
// Cada policy devuelve una copia modificada, nunca muta la recibida.
type Scope struct {
	Operation      Operation
	OrganizationID string

	// Claims es la entrada del Identity Resolver (nil si no hubo credential válido).
	Claims *auth.Claims

	Principal  *Principal
	Membership *Membership
}

func (s Scope) WithPrincipal(p Principal) Scope {
	s.Principal = &p
	return s
}

func (s Scope) WithMembership(m Membership) Scope {
	s.Membership = &m
	return s
}

// AccountID es atajo para handlers (vacío si no hay principal).
func (s Scope) AccountID() string {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.AccountID
}

type ctxKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}
