package guard

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/middleware"
	"vet-practice-records/internal/platform/httpjson"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/platform/metrics"
	"vet-practice-records/internal/ports/authz"

	"github.com/go-chi/chi/v5"
)

// Nombres de stage (labels de métricas).
const (
	StageIdentity         = "identity"
	StageApproval         = "approval"
	StageMasterAdmin      = "master_admin"
	StageOrgScope         = "org_scope"
	StageRole             = "role"
	StageDeletePermission = "delete_permission"
	StageCapability       = "capability"
)

// OrgIDParam es el path param que usan todas las rutas org-scoped.
const OrgIDParam = "orgID"

type Guard struct {
	pipeline Policy
	metrics  *metrics.Metrics
	log      logger.Logger
}

func New(accounts AccountSource, members MembershipLookup, m *metrics.Metrics, log logger.Logger) *Guard {
	if log == nil {
		log = logger.NewNop()
	}
	return &Guard{
		pipeline: Chain(
			Stage{Name: StageIdentity, Policy: Identity(accounts)},
			Stage{Name: StageApproval, Policy: Approval},
			Stage{Name: StageMasterAdmin, Policy: MasterAdmin},
			Stage{Name: StageOrgScope, Policy: OrgScope(members)},
			Stage{Name: StageRole, Policy: Role},
			Stage{Name: StageDeletePermission, Policy: DeletePermission},
			Stage{Name: StageCapability, Policy: Capability},
		),
		metrics: m,
		log:     log,
	}
}

// Authorize corre el pipeline completo. El error devuelto es siempre *apperr.Error.
func (g *Guard) Authorize(ctx context.Context, s authz.Scope) (authz.Scope, error) {
	out, err := g.pipeline(ctx, s)
	if err == nil {
		return out, nil
	}

	stage := ""
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
		err = se.Err
	}
	if e, ok := apperr.As(err); ok {
		g.metrics.GuardDenied(stage, e.Code)
	}
	return s, err
}

// Require arma el middleware chi para una operación declarada.
func (g *Guard) Require(op authz.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := authz.Scope{
				Operation:      op,
				OrganizationID: organizationID(r),
			}
			if c, ok := middleware.GetClaims(r.Context()); ok {
				in.Claims = &c
			}

			out, err := g.Authorize(r.Context(), in)
			if err != nil {
				httpjson.WriteError(w, r, g.log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authz.WithScope(r.Context(), out)))
		})
	}
}

// organizationID: path param primero; si la ruta no lo tiene, header o query.
func organizationID(r *http.Request) string {
	if v := strings.TrimSpace(chi.URLParam(r, OrgIDParam)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Organization-ID")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("organization_id"))
}

// MustScope lo usan los handlers detrás de Require.
func MustScope(r *http.Request) authz.Scope {
	s, ok := authz.FromContext(r.Context())
	if !ok {
		panic("guard: handler mounted without guard.Require")
	}
	return s
}
