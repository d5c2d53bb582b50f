package activity

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/platform/httpjson"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/ports/authz"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var opList = authz.Operation{
	Name:         "activity.list",
	RequireAuth:  true,
	OrgScoped:    true,
	AllowedRoles: []authz.Role{authz.RoleOwner, authz.RoleAdmin, authz.RoleMember},
	Permission:   authz.PermissionCanViewActivityLog,
}

type eventResponse struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ActorID        string         `json:"actor_id"`
	Action         Action         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Details        map[string]any `json:"details,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

func RegisterRoutes(r chi.Router, reader Reader, g *guard.Guard, log logger.Logger) {
	r.With(g.Require(opList)).Get("/organizations/{orgID}/activity", listHandler(reader, log))
}

// listHandler godoc
// @Summary Activity log de la organización
// @Description Eventos más recientes primero. Requiere el permiso canViewActivityLog.
// @Tags activity
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param orgID path string true "Organization ID"
// @Param limit query int false "Máximo de eventos (default 50, máx 500)"
// @Success 200 {array} eventResponse
// @Failure 403 {object} httpjson.ErrorBody "PERMISSION_DENIED"
// @Router /organizations/{orgID}/activity [get]
func listHandler(reader Reader, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}

		items, err := reader.ListByOrganization(r.Context(), guard.MustScope(r).OrganizationID, limit)
		if err != nil {
			httpjson.WriteError(w, r, log, apperr.Internal(err))
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(e Event, _ int) eventResponse {
			return eventResponse(e)
		}))
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.Validation("limit must be a positive integer")
	}
	return min(n, MaxListLimit), nil
}
