package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vet-practice-records/internal/apperr"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/platform/metrics"
	"vet-practice-records/internal/ports/storage"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	CodeMicrochipExists       = "MICROCHIP_EXISTS"
	CodeAnimalAlreadyDeceased = "ANIMAL_ALREADY_DECEASED"

	cascadeReasonFmt = "Cascade delete from %s: %s"

	entityClient    = "client"
	entityAnimal    = "animal"
	entityTreatment = "treatment"
)

type Service struct {
	store    Store
	recorder *activity.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Options struct {
	Recorder *activity.Recorder
	Metrics  *metrics.Metrics
}

func NewService(store Store, opts Options) *Service {
	return &Service{
		store:    store,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// -------------------------
// Clients
// -------------------------

type ClientInput struct {
	FullName string
	Phone    string
	Email    string
	Address  string
	Notes    string
}

// ClientPatch: nil => se conserva el valor actual.
type ClientPatch struct {
	FullName *string
	Phone    *string
	Email    *string
	Address  *string
	Notes    *string
}

func (s *Service) CreateClient(ctx context.Context, organizationID, actorID string, in ClientInput) (Client, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return Client{}, apperr.Validation("full_name is required")
	}

	now := s.now()
	c := Client{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		FullName:       name,
		Phone:          strings.TrimSpace(in.Phone),
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Address:        strings.TrimSpace(in.Address),
		Notes:          strings.TrimSpace(in.Notes),
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertClient(ctx, c)
	})
	s.metrics.RecordOp(entityClient, "create", err)
	if err != nil {
		return Client{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionCreated, entityClient, c.ID, nil)
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, organizationID, id string) (Client, error) {
	c, err := s.store.GetClient(ctx, organizationID, id)
	if err != nil {
		return Client{}, notFoundOr(err, entityClient, id)
	}
	return c, nil
}

func (s *Service) ListClients(ctx context.Context, organizationID string, includeDeleted bool) ([]Client, error) {
	items, err := s.store.ListClients(ctx, organizationID, includeDeleted)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) UpdateClient(ctx context.Context, organizationID, actorID, id string, p ClientPatch) (Client, error) {
	if p.FullName != nil && strings.TrimSpace(*p.FullName) == "" {
		return Client{}, apperr.Validation("full_name cannot be empty")
	}

	var out Client
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetClient(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityClient, id)
		}
		if c.IsDeleted {
			return apperr.Deleted(entityClient)
		}

		c.FullName = patchString(c.FullName, p.FullName)
		c.Phone = patchString(c.Phone, p.Phone)
		c.Email = strings.ToLower(patchString(c.Email, p.Email))
		c.Address = patchString(c.Address, p.Address)
		c.Notes = patchString(c.Notes, p.Notes)
		c.UpdatedAt = s.now()

		if err := tx.UpdateClient(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	s.metrics.RecordOp(entityClient, "update", err)
	if err != nil {
		return Client{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionUpdated, entityClient, id, nil)
	return out, nil
}

// DeleteClient borra el client y en cascada sus animales activos y los
// tratamientos activos de esos animales, todo en una transacción.
func (s *Service) DeleteClient(ctx context.Context, organizationID, actorID, id, reason string) (DeleteResult, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return DeleteResult{}, err
	}

	var res DeleteResult
	err = s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetClient(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityClient, id)
		}
		if c.IsDeleted {
			return alreadyDeleted(entityClient)
		}

		now := s.now()
		cascade := Deletion{At: now, By: actorID, Reason: fmt.Sprintf(cascadeReasonFmt, entityClient, reason)}

		animals, err := tx.ListAnimalsByClient(ctx, organizationID, c.ID, false)
		if err != nil {
			return err
		}
		animalIDs := lo.Map(animals, func(a Animal, _ int) string { return a.ID })

		var treatmentIDs []string
		for _, a := range animals {
			ts, err := tx.ListTreatmentsByAnimal(ctx, organizationID, a.ID, TreatmentFilter{})
			if err != nil {
				return err
			}
			treatmentIDs = append(treatmentIDs, lo.Map(ts, func(t TreatmentRecord, _ int) string { return t.ID })...)
		}

		if res.CascadedTreatments, err = tx.SoftDeleteTreatments(ctx, organizationID, treatmentIDs, cascade); err != nil {
			return err
		}
		if res.CascadedAnimals, err = tx.SoftDeleteAnimals(ctx, organizationID, animalIDs, cascade); err != nil {
			return err
		}

		c.markDeleted(now, actorID, reason)
		c.UpdatedAt = now
		return tx.UpdateClient(ctx, c)
	})
	s.metrics.RecordOp(entityClient, "delete", err)
	if err != nil {
		return DeleteResult{}, s.fail(err)
	}

	s.metrics.Cascaded(entityAnimal, res.CascadedAnimals)
	s.metrics.Cascaded(entityTreatment, res.CascadedTreatments)
	s.record(ctx, organizationID, actorID, activity.ActionDeleted, entityClient, id, map[string]any{
		"reason":             reason,
		"cascadedAnimals":    res.CascadedAnimals,
		"cascadedTreatments": res.CascadedTreatments,
	})
	return res, nil
}

// RestoreClient no restaura descendientes borrados en cascada.
func (s *Service) RestoreClient(ctx context.Context, organizationID, actorID, id string) (Client, error) {
	var out Client
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetClient(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityClient, id)
		}
		if !c.IsDeleted {
			return notDeleted(entityClient)
		}
		c.clear()
		c.UpdatedAt = s.now()
		if err := tx.UpdateClient(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	s.metrics.RecordOp(entityClient, "restore", err)
	if err != nil {
		return Client{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionRestored, entityClient, id, nil)
	return out, nil
}

// -------------------------
// Animals
// -------------------------

type AnimalInput struct {
	ClientID        string
	Name            string
	Species         Species
	Breed           string
	Sex             Sex
	BirthDate       *time.Time
	Color           string
	MicrochipNumber string
}

type AnimalPatch struct {
	Name            *string
	Species         *Species
	Breed           *string
	Sex             *Sex
	BirthDate       *time.Time
	Color           *string
	MicrochipNumber *string
}

func (s *Service) CreateAnimal(ctx context.Context, organizationID, actorID string, in AnimalInput) (Animal, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Animal{}, apperr.Validation("name is required")
	}
	if !in.Species.Valid() {
		return Animal{}, apperr.Validation("invalid species").WithDetail("species", string(in.Species))
	}
	if in.Sex == "" {
		in.Sex = SexUnknown
	}
	if !in.Sex.Valid() {
		return Animal{}, apperr.Validation("invalid sex").WithDetail("sex", string(in.Sex))
	}

	now := s.now()
	a := Animal{
		ID:              uuid.NewString(),
		OrganizationID:  organizationID,
		ClientID:        strings.TrimSpace(in.ClientID),
		Name:            name,
		Species:         in.Species,
		Breed:           strings.TrimSpace(in.Breed),
		Sex:             in.Sex,
		BirthDate:       in.BirthDate,
		Color:           strings.TrimSpace(in.Color),
		MicrochipNumber: normalizeMicrochip(in.MicrochipNumber),
		IsAlive:         true,
		CreatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetClient(ctx, organizationID, a.ClientID)
		if err != nil {
			return notFoundOr(err, entityClient, a.ClientID)
		}
		if c.IsDeleted {
			return parentDeleted(entityClient, c.ID)
		}
		if err := ensureMicrochipFree(ctx, tx, organizationID, a.MicrochipNumber, ""); err != nil {
			return err
		}
		return tx.InsertAnimal(ctx, a)
	})
	s.metrics.RecordOp(entityAnimal, "create", err)
	if err != nil {
		return Animal{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionCreated, entityAnimal, a.ID, map[string]any{"clientId": a.ClientID})
	return a, nil
}

func (s *Service) GetAnimal(ctx context.Context, organizationID, id string) (Animal, error) {
	a, err := s.store.GetAnimal(ctx, organizationID, id)
	if err != nil {
		return Animal{}, notFoundOr(err, entityAnimal, id)
	}
	return a, nil
}

func (s *Service) ListAnimals(ctx context.Context, organizationID, clientID string, includeDeleted bool) ([]Animal, error) {
	if _, err := s.GetClient(ctx, organizationID, clientID); err != nil {
		return nil, err
	}
	items, err := s.store.ListAnimalsByClient(ctx, organizationID, clientID, includeDeleted)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

func (s *Service) UpdateAnimal(ctx context.Context, organizationID, actorID, id string, p AnimalPatch) (Animal, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Animal{}, apperr.Validation("name cannot be empty")
	}
	if p.Species != nil && !p.Species.Valid() {
		return Animal{}, apperr.Validation("invalid species").WithDetail("species", string(*p.Species))
	}
	if p.Sex != nil && !p.Sex.Valid() {
		return Animal{}, apperr.Validation("invalid sex").WithDetail("sex", string(*p.Sex))
	}

	var out Animal
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.GetAnimal(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityAnimal, id)
		}
		if a.IsDeleted {
			return apperr.Deleted(entityAnimal)
		}

		if p.MicrochipNumber != nil {
			chip := normalizeMicrochip(*p.MicrochipNumber)
			if chip != a.MicrochipNumber {
				if err := ensureMicrochipFree(ctx, tx, organizationID, chip, a.ID); err != nil {
					return err
				}
			}
			a.MicrochipNumber = chip
		}
		a.Name = patchString(a.Name, p.Name)
		a.Breed = patchString(a.Breed, p.Breed)
		a.Color = patchString(a.Color, p.Color)
		if p.Species != nil {
			a.Species = *p.Species
		}
		if p.Sex != nil {
			a.Sex = *p.Sex
		}
		if p.BirthDate != nil {
			a.BirthDate = p.BirthDate
		}
		a.UpdatedAt = s.now()

		if err := tx.UpdateAnimal(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	s.metrics.RecordOp(entityAnimal, "update", err)
	if err != nil {
		return Animal{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionUpdated, entityAnimal, id, nil)
	return out, nil
}

// MarkDeceased registra el fallecimiento; no es un borrado lógico.
func (s *Service) MarkDeceased(ctx context.Context, organizationID, actorID, id string, dateOfDeath *time.Time, cause string) (Animal, error) {
	now := s.now()
	if dateOfDeath == nil {
		dateOfDeath = &now
	}
	if dateOfDeath.After(now) {
		return Animal{}, apperr.Validation("date_of_death cannot be in the future")
	}

	var out Animal
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.GetAnimal(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityAnimal, id)
		}
		if a.IsDeleted {
			return apperr.Deleted(entityAnimal)
		}
		if !a.IsAlive {
			return apperr.Precondition(CodeAnimalAlreadyDeceased, "animal is already marked as deceased")
		}
		a.IsAlive = false
		a.DateOfDeath = dateOfDeath
		a.CauseOfDeath = strings.TrimSpace(cause)
		a.UpdatedAt = now
		if err := tx.UpdateAnimal(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	s.metrics.RecordOp(entityAnimal, "mark_deceased", err)
	if err != nil {
		return Animal{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionUpdated, entityAnimal, id, map[string]any{"isAlive": false})
	return out, nil
}

func (s *Service) DeleteAnimal(ctx context.Context, organizationID, actorID, id, reason string) (DeleteResult, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return DeleteResult{}, err
	}

	var res DeleteResult
	err = s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.GetAnimal(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityAnimal, id)
		}
		if err := ensureClientActive(ctx, tx, organizationID, a.ClientID); err != nil {
			return err
		}
		if a.IsDeleted {
			return alreadyDeleted(entityAnimal)
		}

		now := s.now()
		ts, err := tx.ListTreatmentsByAnimal(ctx, organizationID, a.ID, TreatmentFilter{})
		if err != nil {
			return err
		}
		cascade := Deletion{At: now, By: actorID, Reason: fmt.Sprintf(cascadeReasonFmt, entityAnimal, reason)}
		ids := lo.Map(ts, func(t TreatmentRecord, _ int) string { return t.ID })
		if res.CascadedTreatments, err = tx.SoftDeleteTreatments(ctx, organizationID, ids, cascade); err != nil {
			return err
		}

		a.markDeleted(now, actorID, reason)
		a.UpdatedAt = now
		return tx.UpdateAnimal(ctx, a)
	})
	s.metrics.RecordOp(entityAnimal, "delete", err)
	if err != nil {
		return DeleteResult{}, s.fail(err)
	}

	s.metrics.Cascaded(entityTreatment, res.CascadedTreatments)
	s.record(ctx, organizationID, actorID, activity.ActionDeleted, entityAnimal, id, map[string]any{
		"reason":             reason,
		"cascadedTreatments": res.CascadedTreatments,
	})
	return res, nil
}

// RestoreAnimal exige el client activo y vuelve a validar el microchip.
func (s *Service) RestoreAnimal(ctx context.Context, organizationID, actorID, id string) (Animal, error) {
	var out Animal
	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.GetAnimal(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityAnimal, id)
		}
		if !a.IsDeleted {
			return notDeleted(entityAnimal)
		}
		if err := ensureClientActive(ctx, tx, organizationID, a.ClientID); err != nil {
			return err
		}
		if err := ensureMicrochipFree(ctx, tx, organizationID, a.MicrochipNumber, a.ID); err != nil {
			return err
		}
		a.clear()
		a.UpdatedAt = s.now()
		if err := tx.UpdateAnimal(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	s.metrics.RecordOp(entityAnimal, "restore", err)
	if err != nil {
		return Animal{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionRestored, entityAnimal, id, nil)
	return out, nil
}

// -------------------------
// Treatment records
// -------------------------

type TreatmentInput struct {
	AnimalID       string
	VetAccountID   string
	TreatmentDate  *time.Time
	ChiefComplaint string
	Diagnosis      string
	Treatment      string
	Prescription   string
	Notes          string
	FollowUpDate   *time.Time
	Cost           *decimal.Decimal
}

// TreatmentPatch: los campos omitidos se heredan de la versión anterior.
type TreatmentPatch struct {
	VetAccountID   *string
	TreatmentDate  *time.Time
	ChiefComplaint *string
	Diagnosis      *string
	Treatment      *string
	Prescription   *string
	Notes          *string
	FollowUpDate   *time.Time
	Cost           *decimal.Decimal
}

func (s *Service) CreateTreatment(ctx context.Context, organizationID, actorID string, in TreatmentInput) (TreatmentRecord, error) {
	if in.Cost != nil && in.Cost.IsNegative() {
		return TreatmentRecord{}, apperr.Validation("cost cannot be negative")
	}

	now := s.now()
	id := uuid.NewString()
	t := TreatmentRecord{
		ID:              id,
		OrganizationID:  organizationID,
		AnimalID:        strings.TrimSpace(in.AnimalID),
		VetAccountID:    lo.Ternary(strings.TrimSpace(in.VetAccountID) == "", actorID, strings.TrimSpace(in.VetAccountID)),
		TreatmentDate:   lo.FromPtrOr(in.TreatmentDate, now),
		ChiefComplaint:  strings.TrimSpace(in.ChiefComplaint),
		Diagnosis:       strings.TrimSpace(in.Diagnosis),
		Treatment:       strings.TrimSpace(in.Treatment),
		Prescription:    strings.TrimSpace(in.Prescription),
		Notes:           strings.TrimSpace(in.Notes),
		FollowUpDate:    in.FollowUpDate,
		Cost:            nullDecimal(in.Cost),
		Version:         1,
		RootRecordID:    id,
		IsLatestVersion: true,
		CreatedBy:       actorID,
		CreatedAt:       now,
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.GetAnimal(ctx, organizationID, t.AnimalID)
		if err != nil {
			return notFoundOr(err, entityAnimal, t.AnimalID)
		}
		if a.IsDeleted {
			return parentDeleted(entityAnimal, a.ID)
		}
		return tx.InsertTreatment(ctx, t)
	})
	s.metrics.RecordOp(entityTreatment, "create", err)
	if err != nil {
		return TreatmentRecord{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionCreated, entityTreatment, t.ID, map[string]any{"animalId": t.AnimalID})
	return t, nil
}

func (s *Service) GetTreatment(ctx context.Context, organizationID, id string) (TreatmentRecord, error) {
	t, err := s.store.GetTreatment(ctx, organizationID, id)
	if err != nil {
		return TreatmentRecord{}, notFoundOr(err, entityTreatment, id)
	}
	return t, nil
}

// ListTreatments devuelve solo la última versión de cada cadena.
func (s *Service) ListTreatments(ctx context.Context, organizationID, animalID string, includeDeleted bool) ([]TreatmentRecord, error) {
	if _, err := s.GetAnimal(ctx, organizationID, animalID); err != nil {
		return nil, err
	}
	items, err := s.store.ListTreatmentsByAnimal(ctx, organizationID, animalID, TreatmentFilter{
		LatestOnly:     true,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return items, nil
}

// UpdateTreatment nunca modifica la fila: baja el flag de la actual con CAS e
// inserta la versión N+1 en la misma transacción.
func (s *Service) UpdateTreatment(ctx context.Context, organizationID, actorID, id string, p TreatmentPatch) (TreatmentRecord, error) {
	if p.Cost != nil && p.Cost.IsNegative() {
		return TreatmentRecord{}, apperr.Validation("cost cannot be negative")
	}

	var next TreatmentRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetTreatment(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityTreatment, id)
		}
		if cur.IsDeleted {
			return apperr.Deleted(entityTreatment)
		}
		if !cur.IsLatestVersion {
			return versionConflict(ctx, tx, cur)
		}

		next = derive(cur, p)
		next.ID = uuid.NewString()
		next.CreatedBy = actorID
		next.CreatedAt = s.now()

		if err := tx.MarkNotLatest(ctx, organizationID, cur.ID, cur.Version); err != nil {
			if errors.Is(err, storage.ErrStale) {
				return versionConflict(ctx, tx, cur)
			}
			return err
		}
		if err := tx.InsertTreatment(ctx, next); err != nil {
			if c, ok := storage.Constraint(err); ok && (c == storage.UniqueTreatmentVersion || c == storage.UniqueTreatmentLatest) {
				return versionConflict(ctx, tx, cur)
			}
			return err
		}
		return nil
	})
	s.metrics.RecordOp(entityTreatment, "update", err)
	if err != nil {
		return TreatmentRecord{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionVersion, entityTreatment, next.ID, map[string]any{
		"parentRecordId": id,
		"version":        next.Version,
	})
	return next, nil
}

// derive copia R y aplica solo los campos presentes en el patch.
func derive(cur TreatmentRecord, p TreatmentPatch) TreatmentRecord {
	next := cur
	next.VetAccountID = patchString(cur.VetAccountID, p.VetAccountID)
	next.ChiefComplaint = patchString(cur.ChiefComplaint, p.ChiefComplaint)
	next.Diagnosis = patchString(cur.Diagnosis, p.Diagnosis)
	next.Treatment = patchString(cur.Treatment, p.Treatment)
	next.Prescription = patchString(cur.Prescription, p.Prescription)
	next.Notes = patchString(cur.Notes, p.Notes)
	if p.TreatmentDate != nil {
		next.TreatmentDate = *p.TreatmentDate
	}
	if p.FollowUpDate != nil {
		next.FollowUpDate = p.FollowUpDate
	}
	if p.Cost != nil {
		next.Cost = nullDecimal(p.Cost)
	}

	parent := cur.ID
	next.Version = cur.Version + 1
	next.ParentRecordID = &parent
	next.RootRecordID = cur.RootRecordID
	next.IsLatestVersion = true
	next.SoftDelete = SoftDelete{}
	return next
}

// DeleteTreatment borra una sola fila (sin cascada).
func (s *Service) DeleteTreatment(ctx context.Context, organizationID, actorID, id, reason string) (DeleteResult, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return DeleteResult{}, err
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTreatment(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityTreatment, id)
		}
		if err := ensureAnimalActive(ctx, tx, organizationID, t.AnimalID); err != nil {
			return err
		}
		if t.IsDeleted {
			return alreadyDeleted(entityTreatment)
		}
		t.markDeleted(s.now(), actorID, reason)
		return tx.UpdateTreatmentDeletion(ctx, t)
	})
	s.metrics.RecordOp(entityTreatment, "delete", err)
	if err != nil {
		return DeleteResult{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionDeleted, entityTreatment, id, map[string]any{"reason": reason})
	return DeleteResult{}, nil
}

func (s *Service) RestoreTreatment(ctx context.Context, organizationID, actorID, id string) (TreatmentRecord, error) {
	var out TreatmentRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTreatment(ctx, organizationID, id)
		if err != nil {
			return notFoundOr(err, entityTreatment, id)
		}
		if !t.IsDeleted {
			return notDeleted(entityTreatment)
		}
		if err := ensureAnimalActive(ctx, tx, organizationID, t.AnimalID); err != nil {
			return err
		}
		t.clear()
		if err := tx.UpdateTreatmentDeletion(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	s.metrics.RecordOp(entityTreatment, "restore", err)
	if err != nil {
		return TreatmentRecord{}, s.fail(err)
	}

	s.record(ctx, organizationID, actorID, activity.ActionRestored, entityTreatment, id, nil)
	return out, nil
}

// GetVersions sube por ParentRecordID hasta la raíz, junta el cierre de la
// cadena desde la raíz y ordena por versión. El resultado no depende del
// miembro consultado.
func (s *Service) GetVersions(ctx context.Context, organizationID, id string) ([]TreatmentRecord, error) {
	var out []TreatmentRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		root, err := findRoot(ctx, tx, organizationID, id)
		if err != nil {
			return err
		}
		candidates, err := tx.ListTreatmentsByRoot(ctx, organizationID, root.ID)
		if err != nil {
			return err
		}
		out = chainClosure(root, candidates)
		return nil
	})
	if err != nil {
		return nil, s.fail(err)
	}
	return out, nil
}

func findRoot(ctx context.Context, r Reader, organizationID, id string) (TreatmentRecord, error) {
	t, err := r.GetTreatment(ctx, organizationID, id)
	if err != nil {
		return TreatmentRecord{}, notFoundOr(err, entityTreatment, id)
	}
	seen := map[string]struct{}{t.ID: {}}
	for t.ParentRecordID != nil {
		parent, err := r.GetTreatment(ctx, organizationID, *t.ParentRecordID)
		if err != nil {
			return TreatmentRecord{}, notFoundOr(err, entityTreatment, *t.ParentRecordID)
		}
		if _, dup := seen[parent.ID]; dup {
			return TreatmentRecord{}, apperr.Internal(fmt.Errorf("treatment chain cycle at %s", parent.ID))
		}
		seen[parent.ID] = struct{}{}
		t = parent
	}
	return t, nil
}

// chainClosure recorre hijos desde la raíz (BFS) y devuelve orden por versión.
func chainClosure(root TreatmentRecord, candidates []TreatmentRecord) []TreatmentRecord {
	children := lo.GroupBy(lo.Filter(candidates, func(t TreatmentRecord, _ int) bool {
		return t.ParentRecordID != nil
	}), func(t TreatmentRecord) string { return *t.ParentRecordID })

	out := []TreatmentRecord{root}
	visited := map[string]struct{}{root.ID: {}}
	queue := []string{root.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if _, ok := visited[child.ID]; ok {
				continue
			}
			visited[child.ID] = struct{}{}
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// -------------------------
// helpers
// -------------------------

func ensureClientActive(ctx context.Context, r Reader, organizationID, clientID string) error {
	c, err := r.GetClient(ctx, organizationID, clientID)
	if err != nil {
		return notFoundOr(err, entityClient, clientID)
	}
	if c.IsDeleted {
		return parentDeleted(entityClient, c.ID)
	}
	return nil
}

func ensureAnimalActive(ctx context.Context, r Reader, organizationID, animalID string) error {
	a, err := r.GetAnimal(ctx, organizationID, animalID)
	if err != nil {
		return notFoundOr(err, entityAnimal, animalID)
	}
	if a.IsDeleted {
		return parentDeleted(entityAnimal, a.ID)
	}
	return nil
}

func ensureMicrochipFree(ctx context.Context, r Reader, organizationID, chip, selfID string) error {
	if chip == "" {
		return nil
	}
	other, err := r.FindActiveAnimalByMicrochip(ctx, organizationID, chip)
	switch {
	case err == nil && other.ID != selfID:
		return microchipExists(chip)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	}
	return nil
}

func versionConflict(ctx context.Context, r Reader, cur TreatmentRecord) error {
	e := apperr.Conflict(apperr.CodeVersionConflict, "treatment record was modified concurrently, reload and retry").
		WithDetail("recordId", cur.ID)
	chain, err := r.ListTreatmentsByRoot(ctx, cur.OrganizationID, cur.RootRecordID)
	if err != nil {
		return e
	}
	if latest, ok := lo.Find(chain, func(t TreatmentRecord) bool { return t.IsLatestVersion && t.ID != cur.ID }); ok {
		return e.WithDetail("latestId", latest.ID)
	}
	return e
}

func microchipExists(chip string) error {
	return apperr.Conflict(CodeMicrochipExists, "microchip already registered for an active animal").
		WithDetail("microchipNumber", chip)
}

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperr.Validation("reason is required")
	}
	return reason, nil
}

func alreadyDeleted(entity string) error {
	return apperr.Precondition(apperr.CodeAlreadyDeleted, entity+" is already deleted")
}

func notDeleted(entity string) error {
	return apperr.Precondition(apperr.CodeNotDeleted, entity+" is not deleted")
}

func parentDeleted(parent, parentID string) error {
	return apperr.Precondition(apperr.CodeParentDeleted, parent+" is deleted, restore it first").
		WithDetail("parentType", parent).
		WithDetail("parentId", parentID)
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(entity, id)
	}
	return err
}

// fail deja pasar los *apperr.Error y traduce el resto.
func (s *Service) fail(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if c, ok := storage.Constraint(err); ok && c == storage.UniqueActiveMicrochip {
		return apperr.Conflict(CodeMicrochipExists, "microchip already registered for an active animal")
	}
	if errors.Is(err, storage.ErrConflict) {
		return apperr.Conflict(apperr.CodeConflict, "unique constraint violated").Wrap(err)
	}
	return apperr.Internal(err)
}

func (s *Service) record(ctx context.Context, organizationID, actorID string, action activity.Action, entity, id string, details map[string]any) {
	s.recorder.Record(ctx, activity.Event{
		OrganizationID: organizationID,
		ActorID:        actorID,
		Action:         action,
		EntityType:     entity,
		EntityID:       id,
		Details:        details,
	})
}

func patchString(cur string, p *string) string {
	if p == nil {
		return cur
	}
	return strings.TrimSpace(*p)
}

func normalizeMicrochip(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
