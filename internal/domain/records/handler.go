package records

import (
	"context"
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
	"github.com/shopspring/decimal"
)

var anyRole = []authz.Role{authz.RoleOwner, authz.RoleAdmin, authz.RoleMember}

func orgOp(name string) authz.Operation {
	return authz.Operation{Name: name, RequireAuth: true, OrgScoped: true, AllowedRoles: anyRole}
}

func deleteOp(name string, perm authz.Permission) authz.Operation {
	op := orgOp(name)
	op.DeletePermission = perm
	return op
}

var (
	opRead  = orgOp("records.read")
	opWrite = orgOp("records.write")

	opDeleteClient    = deleteOp("clients.delete", authz.PermissionCanDeleteClients)
	opDeleteAnimal    = deleteOp("animals.delete", authz.PermissionCanDeleteAnimals)
	opDeleteTreatment = deleteOp("treatments.delete", authz.PermissionCanDeleteTreatments)
)

func RegisterRoutes(r chi.Router, svc *Service, g *guard.Guard, log logger.Logger) {
	const base = "/organizations/{orgID}"

	// Clients
	r.With(g.Require(opWrite)).Post(base+"/clients", createClientHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/clients", listClientsHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/clients/{clientID}", getClientHandler(svc, log))
	r.With(g.Require(opWrite)).Patch(base+"/clients/{clientID}", updateClientHandler(svc, log))
	r.With(g.Require(opDeleteClient)).Delete(base+"/clients/{clientID}", deleteHandler(svc.DeleteClient, "clientID", log))
	r.With(g.Require(opDeleteClient)).Post(base+"/clients/{clientID}/restore", restoreClientHandler(svc, log))

	// Animals
	r.With(g.Require(opWrite)).Post(base+"/clients/{clientID}/animals", createAnimalHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/clients/{clientID}/animals", listAnimalsHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/animals/{animalID}", getAnimalHandler(svc, log))
	r.With(g.Require(opWrite)).Patch(base+"/animals/{animalID}", updateAnimalHandler(svc, log))
	r.With(g.Require(opWrite)).Post(base+"/animals/{animalID}/deceased", markDeceasedHandler(svc, log))
	r.With(g.Require(opDeleteAnimal)).Delete(base+"/animals/{animalID}", deleteHandler(svc.DeleteAnimal, "animalID", log))
	r.With(g.Require(opDeleteAnimal)).Post(base+"/animals/{animalID}/restore", restoreAnimalHandler(svc, log))

	// Treatment records
	r.With(g.Require(opWrite)).Post(base+"/animals/{animalID}/treatments", createTreatmentHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/animals/{animalID}/treatments", listTreatmentsHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/treatments/{treatmentID}", getTreatmentHandler(svc, log))
	r.With(g.Require(opWrite)).Patch(base+"/treatments/{treatmentID}", updateTreatmentHandler(svc, log))
	r.With(g.Require(opRead)).Get(base+"/treatments/{treatmentID}/versions", getVersionsHandler(svc, log))
	r.With(g.Require(opDeleteTreatment)).Delete(base+"/treatments/{treatmentID}", deleteHandler(svc.DeleteTreatment, "treatmentID", log))
	r.With(g.Require(opDeleteTreatment)).Post(base+"/treatments/{treatmentID}/restore", restoreTreatmentHandler(svc, log))
}

// -------------------------
// Requests / responses
// -------------------------

type deleteRequest struct {
	Reason string `json:"reason"`
}

type clientRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Notes    string `json:"notes"`
}

type updateClientRequest struct {
	// Punteros para PATCH real: nil = no tocar.
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Email    *string `json:"email"`
	Address  *string `json:"address"`
	Notes    *string `json:"notes"`
}

type deletionResponse struct {
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
}

type clientResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	Notes          string `json:"notes"`
	deletionResponse
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type animalRequest struct {
	Name            string  `json:"name"`
	Species         Species `json:"species"`
	Breed           string  `json:"breed"`
	Sex             Sex     `json:"sex"`
	BirthDate       string  `json:"birth_date"` // YYYY-MM-DD opcional
	Color           string  `json:"color"`
	MicrochipNumber string  `json:"microchip_number"`
}

type updateAnimalRequest struct {
	Name            *string  `json:"name"`
	Species         *Species `json:"species"`
	Breed           *string  `json:"breed"`
	Sex             *Sex     `json:"sex"`
	BirthDate       *string  `json:"birth_date"`
	Color           *string  `json:"color"`
	MicrochipNumber *string  `json:"microchip_number"`
}

type deceasedRequest struct {
	DateOfDeath  string `json:"date_of_death"` // YYYY-MM-DD, por defecto hoy
	CauseOfDeath string `json:"cause_of_death"`
}

type animalResponse struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	ClientID        string     `json:"client_id"`
	Name            string     `json:"name"`
	Species         Species    `json:"species"`
	Breed           string     `json:"breed"`
	Sex             Sex        `json:"sex"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	Color           string     `json:"color"`
	MicrochipNumber string     `json:"microchip_number,omitempty"`
	IsAlive         bool       `json:"is_alive"`
	DateOfDeath     *time.Time `json:"date_of_death,omitempty"`
	CauseOfDeath    string     `json:"cause_of_death,omitempty"`
	deletionResponse
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type treatmentRequest struct {
	VetAccountID   string           `json:"vet_account_id"`
	TreatmentDate  string           `json:"treatment_date"` // RFC3339 o YYYY-MM-DD
	ChiefComplaint string           `json:"chief_complaint"`
	Diagnosis      string           `json:"diagnosis"`
	Treatment      string           `json:"treatment"`
	Prescription   string           `json:"prescription"`
	Notes          string           `json:"notes"`
	FollowUpDate   string           `json:"follow_up_date"`
	Cost           *decimal.Decimal `json:"cost" swaggertype:"string"`
}

type updateTreatmentRequest struct {
	VetAccountID   *string          `json:"vet_account_id"`
	TreatmentDate  *string          `json:"treatment_date"`
	ChiefComplaint *string          `json:"chief_complaint"`
	Diagnosis      *string          `json:"diagnosis"`
	Treatment      *string          `json:"treatment"`
	Prescription   *string          `json:"prescription"`
	Notes          *string          `json:"notes"`
	FollowUpDate   *string          `json:"follow_up_date"`
	Cost           *decimal.Decimal `json:"cost" swaggertype:"string"`
}

type treatmentResponse struct {
	ID              string              `json:"id"`
	OrganizationID  string              `json:"organization_id"`
	AnimalID        string              `json:"animal_id"`
	VetAccountID    string              `json:"vet_account_id"`
	TreatmentDate   time.Time           `json:"treatment_date"`
	ChiefComplaint  string              `json:"chief_complaint"`
	Diagnosis       string              `json:"diagnosis"`
	Treatment       string              `json:"treatment"`
	Prescription    string              `json:"prescription"`
	Notes           string              `json:"notes"`
	FollowUpDate    *time.Time          `json:"follow_up_date,omitempty"`
	Cost            decimal.NullDecimal `json:"cost" swaggertype:"string"`
	Version         int                 `json:"version"`
	ParentRecordID  *string             `json:"parent_record_id"`
	RootRecordID    string              `json:"root_record_id"`
	IsLatestVersion bool                `json:"is_latest_version"`
	deletionResponse
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// -------------------------
// Clients
// -------------------------

func createClientHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clientRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		c, err := svc.CreateClient(r.Context(), scope.OrganizationID, scope.AccountID(), ClientInput(req))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusCreated, toClientResponse(c))
	}
}

func listClientsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeDeleted, err := parseIncludeDeleted(r)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		items, err := svc.ListClients(r.Context(), guard.MustScope(r).OrganizationID, includeDeleted)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(c Client, _ int) clientResponse {
			return toClientResponse(c)
		}))
	}
}

func getClientHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.GetClient(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "clientID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toClientResponse(c))
	}
}

func updateClientHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateClientRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		c, err := svc.UpdateClient(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "clientID"), ClientPatch(req))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toClientResponse(c))
	}
}

func restoreClientHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		c, err := svc.RestoreClient(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "clientID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toClientResponse(c))
	}
}

type deleteFn func(ctx context.Context, organizationID, actorID, id, reason string) (DeleteResult, error)

// deleteHandler godoc
// @Summary Borrado lógico con cascada
// @Description Client => animales + tratamientos; Animal => tratamientos; Treatment => solo la fila. El motivo es obligatorio.
// @Tags records
// @Accept json
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param clientID path string true "Client ID"
// @Param payload body deleteRequest true "Motivo"
// @Success 200 {object} DeleteResult
// @Failure 403 {object} httpjson.ErrorBody "ROLE_FORBIDDEN / DELETE_PERMISSION_DENIED"
// @Failure 409 {object} httpjson.ErrorBody "ALREADY_DELETED / PARENT_DELETED"
// @Router /organizations/{orgID}/clients/{clientID} [delete]
func deleteHandler(fn deleteFn, param string, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteRequest
		if err := httpjson.Decode(r, &req, true); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		res, err := fn(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, param), req.Reason)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, res)
	}
}

// -------------------------
// Animals
// -------------------------

func createAnimalHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req animalRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		birth, err := parseOptionalDate("birth_date", req.BirthDate)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}

		scope := guard.MustScope(r)
		a, err := svc.CreateAnimal(r.Context(), scope.OrganizationID, scope.AccountID(), AnimalInput{
			ClientID:        chi.URLParam(r, "clientID"),
			Name:            req.Name,
			Species:         Species(strings.ToLower(strings.TrimSpace(string(req.Species)))),
			Breed:           req.Breed,
			Sex:             Sex(strings.ToLower(strings.TrimSpace(string(req.Sex)))),
			BirthDate:       birth,
			Color:           req.Color,
			MicrochipNumber: req.MicrochipNumber,
		})
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusCreated, toAnimalResponse(a))
	}
}

func listAnimalsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeDeleted, err := parseIncludeDeleted(r)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		items, err := svc.ListAnimals(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "clientID"), includeDeleted)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(a Animal, _ int) animalResponse {
			return toAnimalResponse(a)
		}))
	}
}

func getAnimalHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.GetAnimal(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "animalID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAnimalResponse(a))
	}
}

func updateAnimalHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateAnimalRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		p := AnimalPatch{
			Name:            req.Name,
			Breed:           req.Breed,
			Color:           req.Color,
			MicrochipNumber: req.MicrochipNumber,
		}
		if req.Species != nil {
			p.Species = lo.ToPtr(Species(strings.ToLower(strings.TrimSpace(string(*req.Species)))))
		}
		if req.Sex != nil {
			p.Sex = lo.ToPtr(Sex(strings.ToLower(strings.TrimSpace(string(*req.Sex)))))
		}
		if req.BirthDate != nil {
			birth, err := parseOptionalDate("birth_date", *req.BirthDate)
			if err != nil {
				httpjson.WriteError(w, r, log, err)
				return
			}
			p.BirthDate = birth
		}

		scope := guard.MustScope(r)
		a, err := svc.UpdateAnimal(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "animalID"), p)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAnimalResponse(a))
	}
}

func markDeceasedHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deceasedRequest
		if err := httpjson.Decode(r, &req, true); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		date, err := parseOptionalDate("date_of_death", req.DateOfDeath)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		scope := guard.MustScope(r)
		a, err := svc.MarkDeceased(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "animalID"), date, req.CauseOfDeath)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAnimalResponse(a))
	}
}

func restoreAnimalHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		a, err := svc.RestoreAnimal(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "animalID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toAnimalResponse(a))
	}
}

// -------------------------
// Treatments
// -------------------------

func createTreatmentHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req treatmentRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		date, err := parseOptionalDate("treatment_date", req.TreatmentDate)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		followUp, err := parseOptionalDate("follow_up_date", req.FollowUpDate)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}

		scope := guard.MustScope(r)
		t, err := svc.CreateTreatment(r.Context(), scope.OrganizationID, scope.AccountID(), TreatmentInput{
			AnimalID:       chi.URLParam(r, "animalID"),
			VetAccountID:   req.VetAccountID,
			TreatmentDate:  date,
			ChiefComplaint: req.ChiefComplaint,
			Diagnosis:      req.Diagnosis,
			Treatment:      req.Treatment,
			Prescription:   req.Prescription,
			Notes:          req.Notes,
			FollowUpDate:   followUp,
			Cost:           req.Cost,
		})
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusCreated, toTreatmentResponse(t))
	}
}

func listTreatmentsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeDeleted, err := parseIncludeDeleted(r)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		items, err := svc.ListTreatments(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "animalID"), includeDeleted)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(t TreatmentRecord, _ int) treatmentResponse {
			return toTreatmentResponse(t)
		}))
	}
}

func getTreatmentHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.GetTreatment(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "treatmentID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toTreatmentResponse(t))
	}
}

// updateTreatmentHandler godoc
// @Summary Nueva versión de un tratamiento
// @Description No modifica la fila: crea la versión N+1 y la anterior deja de ser la última. Los campos omitidos se heredan.
// @Tags records
// @Accept json
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param treatmentID path string true "Treatment record ID (debe ser la última versión)"
// @Param payload body updateTreatmentRequest true "Campos a cambiar"
// @Success 200 {object} treatmentResponse
// @Failure 409 {object} httpjson.ErrorBody "VERSION_CONFLICT (reintentar con details.latestId) / TREATMENT_DELETED"
// @Router /organizations/{orgID}/treatments/{treatmentID} [patch]
func updateTreatmentHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateTreatmentRequest
		if err := httpjson.Decode(r, &req, false); err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		p := TreatmentPatch{
			VetAccountID:   req.VetAccountID,
			ChiefComplaint: req.ChiefComplaint,
			Diagnosis:      req.Diagnosis,
			Treatment:      req.Treatment,
			Prescription:   req.Prescription,
			Notes:          req.Notes,
			Cost:           req.Cost,
		}
		if req.TreatmentDate != nil {
			d, err := parseOptionalDate("treatment_date", *req.TreatmentDate)
			if err != nil {
				httpjson.WriteError(w, r, log, err)
				return
			}
			p.TreatmentDate = d
		}
		if req.FollowUpDate != nil {
			d, err := parseOptionalDate("follow_up_date", *req.FollowUpDate)
			if err != nil {
				httpjson.WriteError(w, r, log, err)
				return
			}
			p.FollowUpDate = d
		}

		scope := guard.MustScope(r)
		t, err := svc.UpdateTreatment(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "treatmentID"), p)
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toTreatmentResponse(t))
	}
}

// getVersionsHandler godoc
// @Summary Cadena de versiones
// @Description Mismo resultado para cualquier miembro de la cadena, ordenado por versión ascendente.
// @Tags records
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param treatmentID path string true "Cualquier versión de la cadena"
// @Success 200 {array} treatmentResponse
// @Router /organizations/{orgID}/treatments/{treatmentID}/versions [get]
func getVersionsHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.GetVersions(r.Context(), guard.MustScope(r).OrganizationID, chi.URLParam(r, "treatmentID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, lo.Map(items, func(t TreatmentRecord, _ int) treatmentResponse {
			return toTreatmentResponse(t)
		}))
	}
}

func restoreTreatmentHandler(svc *Service, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := guard.MustScope(r)
		t, err := svc.RestoreTreatment(r.Context(), scope.OrganizationID, scope.AccountID(), chi.URLParam(r, "treatmentID"))
		if err != nil {
			httpjson.WriteError(w, r, log, err)
			return
		}
		httpjson.WriteJSON(w, http.StatusOK, toTreatmentResponse(t))
	}
}

// -------------------------
// helpers
// -------------------------

func parseIncludeDeleted(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("include_deleted"))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("include_deleted must be a boolean")
	}
	return v, nil
}

// parseOptionalDate acepta YYYY-MM-DD o RFC3339. Vacío => nil.
func parseOptionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation("invalid date, use YYYY-MM-DD or RFC3339").WithDetail("field", field)
	}
	return &t, nil
}

func toDeletionResponse(d SoftDelete) deletionResponse {
	return deletionResponse{
		IsDeleted:      d.IsDeleted,
		DeletedAt:      d.DeletedAt,
		DeletedBy:      d.DeletedBy,
		DeletionReason: d.DeletionReason,
	}
}

func toClientResponse(c Client) clientResponse {
	return clientResponse{
		ID:               c.ID,
		OrganizationID:   c.OrganizationID,
		FullName:         c.FullName,
		Phone:            c.Phone,
		Email:            c.Email,
		Address:          c.Address,
		Notes:            c.Notes,
		deletionResponse: toDeletionResponse(c.SoftDelete),
		CreatedBy:        c.CreatedBy,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func toAnimalResponse(a Animal) animalResponse {
	return animalResponse{
		ID:               a.ID,
		OrganizationID:   a.OrganizationID,
		ClientID:         a.ClientID,
		Name:             a.Name,
		Species:          a.Species,
		Breed:            a.Breed,
		Sex:              a.Sex,
		BirthDate:        a.BirthDate,
		Color:            a.Color,
		MicrochipNumber:  a.MicrochipNumber,
		IsAlive:          a.IsAlive,
		DateOfDeath:      a.DateOfDeath,
		CauseOfDeath:     a.CauseOfDeath,
		deletionResponse: toDeletionResponse(a.SoftDelete),
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toTreatmentResponse(t TreatmentRecord) treatmentResponse {
	return treatmentResponse{
		ID:               t.ID,
		OrganizationID:   t.OrganizationID,
		AnimalID:         t.AnimalID,
		VetAccountID:     t.VetAccountID,
		TreatmentDate:    t.TreatmentDate,
		ChiefComplaint:   t.ChiefComplaint,
		Diagnosis:        t.Diagnosis,
		Treatment:        t.Treatment,
		Prescription:     t.Prescription,
		Notes:            t.Notes,
		FollowUpDate:     t.FollowUpDate,
		Cost:             t.Cost,
		Version:          t.Version,
		ParentRecordID:   t.ParentRecordID,
		RootRecordID:     t.RootRecordID,
		IsLatestVersion:  t.IsLatestVersion,
		deletionResponse: toDeletionResponse(t.SoftDelete),
		CreatedBy:        t.CreatedBy,
		CreatedAt:        t.CreatedAt,
	}
}
