package accounts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"vet-practice-records/internal/guard"
	"vet-practice-records/internal/platform/httpjson"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/ports/authz"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// Operaciones declaradas. "me" y "profile" están exentas del Approval Policy.
var (
	opGetMe = authz.Operation{Name: "accounts.me", RequireAuth: true, ExemptFromApproval: true}

	opCompleteProfile = authz.Operation{Name: "accounts.complete_profile", RequireAuth: true, ExemptFromApproval: true}

	opAdmin = authz.Operation{Name: "accounts.admin", RequireAuth: true, MasterAdminOnly: true}
)

func RegisterRoutes(r chi.Router, svc *Service, g *guard.Guard, log logger.Logger) {
	r.Route("/me", func(mr chi.Router) {
		mr.With(g.Require(opGetMe)).Get("/", getMeHandler(svc, log))
		mr.With(g.Require(opGetMe)).Get("/status", getMyStatusHandler(svc, log))
		mr.With(g.Require(opCompleteProfile)).Put("/profile", completeProfileHandler(svc, log))
	})

	r.Route("/admin/accounts", func(ar chi.Router) {
		ar.Use(g.Require(opAdmin))
		ar.Get("/", listAccountsHandler(svc, log))
		ar.Post("/{accountID}/approve", approveHandler(svc, log))
		ar.Post("/{accountID}/reject", rejectHandler(svc, log))
		ar.Post("/{accountID}/suspend", suspendHandler(svc, log))
		ar.Post("/{accountID}/reactivate", reactivateHandler(svc, log))
	})
}

type accountResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Phone            string     `json:"phone"`
	VCN              string     `json:"vcn"`
	Specialization   string     `json:"specialization"`
	Status           Status     `json:"status"`
	ProfileCompleted bool       `json:"profile_completed"`
	IsMasterAdmin    bool       `json:"is_master_admin"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type statusResponse struct {
	Status           Status     `json:"status"`
	ProfileCompleted bool       `json:"profile_completed"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`
}

type profileRequest struct {
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	VCN            string `json:"vcn"`
	Specialization string `json:"specialization"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func getMeHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Get(r.Context(), guard.MustScope(r).AccountID())
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAccountResponse(a))
	}
}

func getMyStatusHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Get(r.Context(), guard.MustScope(r).AccountID())
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, statusResponse{
			Status:           a.Status,
			ProfileCompleted: a.ProfileCompleted,
			SubmittedAt:      a.SubmittedAt,
			RejectedAt:       a.RejectedAt,
			RejectionReason:  a.RejectionReason,
			SuspendedAt:      a.SuspendedAt,
			SuspensionReason: a.SuspensionReason,
		})
	}
}

// completeProfileHandler godoc
// @Summary Completar perfil del veterinario
// @Description Exenta de aprobación: la usan cuentas PENDING_APPROVAL. El VCN es único global.
// @Tags accounts
// @Accept json
// @Produce json
// @Param payload body profileRequest true "Perfil"
// @Success 200 {object} accountResponse
// @Failure 400 {object} httpjson.ErrorBody
// @Failure 409 {object} httpjson.ErrorBody "VCN_ALREADY_EXISTS"
// @Router /me/profile [put]
func completeProfileHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req profileRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}

		a, err := svc.CompleteProfile(r.Context(), guard.MustScope(r).AccountID(), ProfileInput{
			FullName:       req.FullName,
			Phone:          req.Phone,
			VCN:            req.VCN,
			Specialization: req.Specialization,
		})
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAccountResponse(a))
	}
}

func listAccountsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
		if status == "" {
			status = authz.AccountPendingApproval
		}

		items, err := svc.ListByStatus(r.Context(), status)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(a Account, _ int) accountResponse {
			return toAccountResponse(a)
		}))
	}
}

func approveHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Approve(r.Context(), guard.MustScope(r).AccountID(), chi.URLParam(r, "accountID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAccountResponse(a))
	}
}

func rejectHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return reasonAction(log, svc.Reject)
}

func suspendHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return reasonAction(log, svc.Suspend)
}

func reactivateHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Reactivate(r.Context(), guard.MustScope(r).AccountID(), chi.URLParam(r, "accountID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAccountResponse(a))
	}
}

type reasonFn func(ctx context.Context, adminID, accountID, reason string) (Account, error)

func reasonAction(log logger.Logger, fn reasonFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		a, err := fn(r.Context(), guard.MustScope(r).AccountID(), chi.URLParam(r, "accountID"), req.Reason)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAccountResponse(a))
	}
}

func toAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		Email:            a.Email,
		FullName:         a.FullName,
		Phone:            a.Phone,
		VCN:              a.VCN,
		Specialization:   a.Specialization,
		Status:           a.Status,
		ProfileCompleted: a.ProfileCompleted,
		IsMasterAdmin:    a.IsMasterAdmin,
		SubmittedAt:      a.SubmittedAt,
		ApprovedAt:       a.ApprovedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
