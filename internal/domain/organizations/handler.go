package organizations

import (
	"net/http"
	"time"

	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/platform/httpjson"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/ports/authz"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

var (
	ownerOrAdmin = []authz.Role{authz.RoleOwner, authz.RoleAdmin}
	ownerOnly    = []authz.Role{authz.RoleOwner}
)

var (
	opCreate        = authz.Operation{Name: "organizations.create", RequireAuth: true}
	opListMine      = authz.Operation{Name: "organizations.list_mine", RequireAuth: true}
	opRead          = authz.Operation{Name: "organizations.read", RequireAuth: true, OrgScoped: true}
	opUpdate        = authz.Operation{Name: "organizations.update", RequireAuth: true, OrgScoped: true, AllowedRoles: ownerOrAdmin}
	opMemberRole    = authz.Operation{Name: "members.update_role", RequireAuth: true, OrgScoped: true, AllowedRoles: ownerOnly}
	opMemberPerms   = authz.Operation{Name: "members.update_permissions", RequireAuth: true, OrgScoped: true, AllowedRoles: ownerOrAdmin}
	opMemberRemove  = authz.Operation{Name: "members.remove", RequireAuth: true, OrgScoped: true, AllowedRoles: ownerOnly}
	opLeave         = authz.Operation{Name: "members.leave", RequireAuth: true, OrgScoped: true}
	opInvitations   = authz.Operation{Name: "invitations.manage", RequireAuth: true, OrgScoped: true, AllowedRoles: ownerOrAdmin}
	opMyInvitations = authz.Operation{Name: "invitations.mine", RequireAuth: true}
)

func RegisterRoutes(r chi.Router, svc *Service, g *guard.Guard, log logger.Logger) {
	r.With(g.Require(opCreate)).Post("/organizations", createOrganizationHandler(svc, log))
	r.With(g.Require(opListMine)).Get("/organizations", listMyOrganizationsHandler(svc, log))

	r.With(g.Require(opRead)).Get("/organizations/{orgID}", getOrganizationHandler(svc, log))
	r.With(g.Require(opUpdate)).Put("/organizations/{orgID}", updateOrganizationHandler(svc, log))

	r.With(g.Require(opRead)).Get("/organizations/{orgID}/members", listMembersHandler(svc, log))
	r.With(g.Require(opMemberRole)).Put("/organizations/{orgID}/members/{accountID}/role", updateMemberRoleHandler(svc, log))
	r.With(g.Require(opMemberPerms)).Put("/organizations/{orgID}/members/{accountID}/permissions", updateMemberPermissionsHandler(svc, log))
	r.With(g.Require(opMemberRemove)).Delete("/organizations/{orgID}/members/{accountID}", removeMemberHandler(svc, log))
	r.With(g.Require(opLeave)).Post("/organizations/{orgID}/leave", leaveHandler(svc, log))

	r.With(g.Require(opInvitations)).Post("/organizations/{orgID}/invitations", createInvitationHandler(svc, log))
	r.With(g.Require(opInvitations)).Get("/organizations/{orgID}/invitations", listInvitationsHandler(svc, log))
	r.With(g.Require(opInvitations)).Delete("/organizations/{orgID}/invitations/{invitationID}", cancelInvitationHandler(svc, log))

	// Invitado: sus invitaciones pendientes (por email del principal)
	r.Route("/invitations", func(ir chi.Router) {
		ir.Use(g.Require(opMyInvitations))
		ir.Get("/", listMyInvitationsHandler(svc, log))
		ir.Post("/{invitationID}/accept", acceptInvitationHandler(svc, log))
		ir.Post("/{invitationID}/decline", declineInvitationHandler(svc, log))
	})
}

type organizationRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type organizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type createOrganizationResponse struct {
	Organization organizationResponse `json:"organization"`
	Membership   membershipResponse   `json:"membership"`
}

type membershipResponse struct {
	ID             string                 `json:"id"`
	AccountID      string                 `json:"account_id"`
	OrganizationID string                 `json:"organization_id"`
	Role           authz.Role             `json:"role"`
	Status         authz.MembershipStatus `json:"status"`
	Permissions    authz.Permissions      `json:"permissions"`
	JoinedAt       time.Time              `json:"joined_at"`
	RemovedAt      *time.Time             `json:"removed_at,omitempty"`
	LeftAt         *time.Time             `json:"left_at,omitempty"`
}

type roleRequest struct {
	Role authz.Role `json:"role"`
}

type invitationRequest struct {
	Email       string            `json:"email"`
	Role        authz.Role        `json:"role"`
	Permissions authz.Permissions `json:"permissions"`
}

type invitationResponse struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Email          string            `json:"email"`
	Role           authz.Role        `json:"role"`
	Permissions    authz.Permissions `json:"permissions"`
	Status         InvitationStatus  `json:"status"`
	InvitedBy      string            `json:"invited_by"`
	ExpiresAt      time.Time         `json:"expires_at"`
	RespondedAt    *time.Time        `json:"responded_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// createOrganizationHandler godoc
// @Summary Crear organización
// @Description El creador queda como OWNER con todas las permissions.
// @Tags organizations
// @Accept json
// @Produce json
// @Param payload body organizationRequest true "Organización"
// @Success 201 {object} createOrganizationResponse
// @Failure 400 {object} httpjson.ErrorBody
// @Failure 403 {object} httpjson.ErrorBody "VET_NOT_APPROVED"
// @Router /organizations [post]
func createOrganizationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req organizationRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}

		org, owner, err := svc.CreateOrganization(r.Context(), guard.MustScope(r).AccountID(), OrganizationInput(req))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusCreated, createOrganizationResponse{
			Organization: toOrganizationResponse(org),
			Membership:   toMembershipResponse(owner),
		})
	}
}

func listMyOrganizationsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListMyOrganizations(r.Context(), guard.MustScope(r).AccountID())
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(o Organization, _ int) organizationResponse {
			return toOrganizationResponse(o)
		}))
	}
}

func getOrganizationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, err := svc.GetOrganization(r.Context(), guard.MustScope(r).OrganizationID)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toOrganizationResponse(org))
	}
}

func updateOrganizationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req organizationRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		org, err := svc.UpdateOrganization(r.Context(), scope.AccountID(), scope.OrganizationID, OrganizationInput(req))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toOrganizationResponse(org))
	}
}

func listMembersHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListMembers(r.Context(), guard.MustScope(r).OrganizationID)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(m Membership, _ int) membershipResponse {
			return toMembershipResponse(m)
		}))
	}
}

func updateMemberRoleHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		m, err := svc.UpdateMemberRole(r.Context(), scope.AccountID(), scope.OrganizationID, chi.URLParam(r, "accountID"), req.Role)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toMembershipResponse(m))
	}
}

func updateMemberPermissionsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authz.Permissions
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		m, err := svc.UpdateMemberPermissions(r.Context(), scope.AccountID(), scope.OrganizationID, chi.URLParam(r, "accountID"), req)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toMembershipResponse(m))
	}
}

func removeMemberHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		m, err := svc.RemoveMember(r.Context(), scope.AccountID(), scope.OrganizationID, chi.URLParam(r, "accountID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toMembershipResponse(m))
	}
}

func leaveHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		m, err := svc.Leave(r.Context(), scope.AccountID(), scope.OrganizationID)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toMembershipResponse(m))
	}
}

// createInvitationHandler godoc
// @Summary Invitar a un veterinario por email
// @Tags invitations
// @Accept json
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param payload body invitationRequest true "Invitación"
// @Success 201 {object} invitationResponse
// @Failure 409 {object} httpjson.ErrorBody "INVITATION_EXISTS / ALREADY_MEMBER"
// @Router /organizations/{orgID}/invitations [post]
func createInvitationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invitationRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		inv, err := svc.CreateInvitation(r.Context(), scope.AccountID(), scope.OrganizationID, InvitationInput(req))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusCreated, toInvitationResponse(inv))
	}
}

func listInvitationsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListInvitations(r.Context(), guard.MustScope(r).OrganizationID)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(i Invitation, _ int) invitationResponse {
			return toInvitationResponse(i)
		}))
	}
}

func cancelInvitationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.CancelInvitation(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "invitationID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listMyInvitationsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListMyInvitations(r.Context(), principalEmail(guard.MustScope(r)))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(i Invitation, _ int) invitationResponse {
			return toInvitationResponse(i)
		}))
	}
}

func acceptInvitationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		m, err := svc.AcceptInvitation(r.Context(), scope.AccountID(), principalEmail(scope), chi.URLParam(r, "invitationID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toMembershipResponse(m))
	}
}

func declineInvitationHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv, err := svc.DeclineInvitation(r.Context(), principalEmail(guard.MustScope(r)), chi.URLParam(r, "invitationID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toInvitationResponse(inv))
	}
}

func principalEmail(s authz.Scope) string {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.Email
}

func toOrganizationResponse(o Organization) organizationResponse {
	return organizationResponse{
		ID:        o.ID,
		Name:      o.Name,
		Address:   o.Address,
		Phone:     o.Phone,
		Email:     o.Email,
		CreatedBy: o.CreatedBy,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toMembershipResponse(m Membership) membershipResponse {
	return membershipResponse{
		ID:             m.ID,
		AccountID:      m.AccountID,
		OrganizationID: m.OrganizationID,
		Role:           m.Role,
		Status:         m.Status,
		Permissions:    m.Permissions,
		JoinedAt:       m.JoinedAt,
		RemovedAt:      m.RemovedAt,
		LeftAt:         m.LeftAt,
	}
}

func toInvitationResponse(i Invitation) invitationResponse {
	return invitationResponse{
		ID:             i.ID,
		OrganizationID: i.OrganizationID,
		Email:          i.Email,
		Role:           i.Role,
		Permissions:    i.Permissions,
		Status:         i.Status,
		InvitedBy:      i.InvitedBy,
		ExpiresAt:      i.ExpiresAt,
		RespondedAt:    i.RespondedAt,
		CreatedAt:      i.CreatedAt,
	}
}
