package postgres

import (
	"context"
	"database/sql"
	"errors"

	"vet-practice-records/internal/domain/records"
	"vet-practice-records/internal/ports/storage"
)

// RecordStore implementa records.Store sobre database/sql.
type RecordStore struct {
	recordQueries
	db *sql.DB
}

var _ records.Store = (*RecordStore)(nil)

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{recordQueries: recordQueries{q: db}, db: db}
}

func (s *RecordStore) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&recordTx{recordQueries{q: tx}})
	})
}

// recordQueries son las lecturas, compartidas entre pool y transacción.
type recordQueries struct {
	q queryer
}

type recordTx struct {
	recordQueries
}

const (
	clientColumns = `
	id, organization_id, full_name, phone, email, address, notes,
	is_deleted, deleted_at, deleted_by, deletion_reason,
	created_by, created_at, updated_at`

	animalColumns = `
	id, organization_id, client_id, name, species, breed, sex, birth_date, color,
	microchip_number, is_alive, date_of_death, cause_of_death,
	is_deleted, deleted_at, deleted_by, deletion_reason,
	created_by, created_at, updated_at`

	treatmentColumns = `
	id, organization_id, animal_id, vet_account_id, treatment_date,
	chief_complaint, diagnosis, treatment, prescription, notes, follow_up_date, cost,
	version, parent_record_id, root_record_id, is_latest_version,
	is_deleted, deleted_at, deleted_by, deletion_reason,
	created_by, created_at`
)

// -------------------------
// Reads
// -------------------------

func (r recordQueries) GetClient(ctx context.Context, organizationID, id string) (records.Client, error) {
	return scanClient(r.q.QueryRowContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE organization_id = $1 AND id = $2
	`, organizationID, id))
}

func (r recordQueries) ListClients(ctx context.Context, organizationID string, includeDeleted bool) ([]records.Client, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE organization_id = $1 AND ($2 OR NOT is_deleted)
		ORDER BY created_at ASC, id ASC
	`, organizationID, includeDeleted)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClient)
}

func (r recordQueries) GetAnimal(ctx context.Context, organizationID, id string) (records.Animal, error) {
	return scanAnimal(r.q.QueryRowContext(ctx, `
		SELECT `+animalColumns+` FROM animals
		WHERE organization_id = $1 AND id = $2
	`, organizationID, id))
}

func (r recordQueries) ListAnimalsByClient(ctx context.Context, organizationID, clientID string, includeDeleted bool) ([]records.Animal, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+animalColumns+` FROM animals
		WHERE organization_id = $1 AND client_id = $2 AND ($3 OR NOT is_deleted)
		ORDER BY created_at ASC, id ASC
	`, organizationID, clientID, includeDeleted)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAnimal)
}

func (r recordQueries) FindActiveAnimalByMicrochip(ctx context.Context, organizationID, microchip string) (records.Animal, error) {
	if microchip == "" {
		return records.Animal{}, storage.ErrNotFound
	}
	return scanAnimal(r.q.QueryRowContext(ctx, `
		SELECT `+animalColumns+` FROM animals
		WHERE organization_id = $1 AND microchip_number = $2 AND NOT is_deleted
		LIMIT 1
	`, organizationID, microchip))
}

func (r recordQueries) GetTreatment(ctx context.Context, organizationID, id string) (records.TreatmentRecord, error) {
	return scanTreatment(r.q.QueryRowContext(ctx, `
		SELECT `+treatmentColumns+` FROM treatment_records
		WHERE organization_id = $1 AND id = $2
	`, organizationID, id))
}

func (r recordQueries) ListTreatmentsByAnimal(ctx context.Context, organizationID, animalID string, f records.TreatmentFilter) ([]records.TreatmentRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+treatmentColumns+` FROM treatment_records
		WHERE organization_id = $1 AND animal_id = $2
			AND (NOT $3 OR is_latest_version)
			AND ($4 OR NOT is_deleted)
		ORDER BY treatment_date DESC, created_at DESC, id ASC
	`, organizationID, animalID, f.LatestOnly, f.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTreatment)
}

func (r recordQueries) ListTreatmentsByRoot(ctx context.Context, organizationID, rootID string) ([]records.TreatmentRecord, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+treatmentColumns+` FROM treatment_records
		WHERE organization_id = $1 AND root_record_id = $2
		ORDER BY version ASC
	`, organizationID, rootID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTreatment)
}

// -------------------------
// Writes (solo dentro de InTx)
// -------------------------

func (tx *recordTx) InsertClient(ctx context.Context, c records.Client) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		c.ID, c.OrganizationID, c.FullName, c.Phone, c.Email, c.Address, c.Notes,
		c.IsDeleted, toNullTime(c.DeletedAt), c.DeletedBy, c.DeletionReason,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	return mapErr(err)
}

func (tx *recordTx) UpdateClient(ctx context.Context, c records.Client) error {
	return execOne(tx.q.ExecContext(ctx, `
		UPDATE clients
		SET
			full_name = $3,
			phone = $4,
			email = $5,
			address = $6,
			notes = $7,
			is_deleted = $8,
			deleted_at = $9,
			deleted_by = $10,
			deletion_reason = $11,
			updated_at = $12
		WHERE organization_id = $1 AND id = $2
	`,
		c.OrganizationID, c.ID, c.FullName, c.Phone, c.Email, c.Address, c.Notes,
		c.IsDeleted, toNullTime(c.DeletedAt), c.DeletedBy, c.DeletionReason,
		c.UpdatedAt,
	))
}

func (tx *recordTx) InsertAnimal(ctx context.Context, a records.Animal) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO animals (`+animalColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		a.ID, a.OrganizationID, a.ClientID, a.Name, string(a.Species), a.Breed, string(a.Sex),
		toNullTime(a.BirthDate), a.Color,
		a.MicrochipNumber, a.IsAlive, toNullTime(a.DateOfDeath), a.CauseOfDeath,
		a.IsDeleted, toNullTime(a.DeletedAt), a.DeletedBy, a.DeletionReason,
		a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	return mapErr(err)
}

func (tx *recordTx) UpdateAnimal(ctx context.Context, a records.Animal) error {
	return execOne(tx.q.ExecContext(ctx, `
		UPDATE animals
		SET
			name = $3,
			species = $4,
			breed = $5,
			sex = $6,
			birth_date = $7,
			color = $8,
			microchip_number = $9,
			is_alive = $10,
			date_of_death = $11,
			cause_of_death = $12,
			is_deleted = $13,
			deleted_at = $14,
			deleted_by = $15,
			deletion_reason = $16,
			updated_at = $17
		WHERE organization_id = $1 AND id = $2
	`,
		a.OrganizationID, a.ID, a.Name, string(a.Species), a.Breed, string(a.Sex),
		toNullTime(a.BirthDate), a.Color, a.MicrochipNumber,
		a.IsAlive, toNullTime(a.DateOfDeath), a.CauseOfDeath,
		a.IsDeleted, toNullTime(a.DeletedAt), a.DeletedBy, a.DeletionReason,
		a.UpdatedAt,
	))
}

func (tx *recordTx) InsertTreatment(ctx context.Context, t records.TreatmentRecord) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO treatment_records (`+treatmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`,
		t.ID, t.OrganizationID, t.AnimalID, t.VetAccountID, t.TreatmentDate,
		t.ChiefComplaint, t.Diagnosis, t.Treatment, t.Prescription, t.Notes,
		toNullTime(t.FollowUpDate), t.Cost,
		t.Version, toNullString(t.ParentRecordID), t.RootRecordID, t.IsLatestVersion,
		t.IsDeleted, toNullTime(t.DeletedAt), t.DeletedBy, t.DeletionReason,
		t.CreatedBy, t.CreatedAt,
	)
	return mapErr(err)
}

func (tx *recordTx) UpdateTreatmentDeletion(ctx context.Context, t records.TreatmentRecord) error {
	return execOne(tx.q.ExecContext(ctx, `
		UPDATE treatment_records
		SET is_deleted = $3, deleted_at = $4, deleted_by = $5, deletion_reason = $6
		WHERE organization_id = $1 AND id = $2
	`, t.OrganizationID, t.ID, t.IsDeleted, toNullTime(t.DeletedAt), t.DeletedBy, t.DeletionReason))
}

// MarkNotLatest: la condición sobre is_latest_version y version es el CAS.
func (tx *recordTx) MarkNotLatest(ctx context.Context, organizationID, id string, version int) error {
	err := execOne(tx.q.ExecContext(ctx, `
		UPDATE treatment_records
		SET is_latest_version = FALSE
		WHERE organization_id = $1 AND id = $2 AND is_latest_version AND version = $3
	`, organizationID, id, version))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ErrStale
	}
	return err
}

func (tx *recordTx) SoftDeleteAnimals(ctx context.Context, organizationID string, ids []string, d records.Deletion) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE animals
		SET is_deleted = TRUE, deleted_at = $3, deleted_by = $4, deletion_reason = $5, updated_at = $3
		WHERE organization_id = $1 AND id = ANY($2) AND NOT is_deleted
	`, organizationID, ids, d.At, d.By, d.Reason)
	return affected(res, err)
}

func (tx *recordTx) SoftDeleteTreatments(ctx context.Context, organizationID string, ids []string, d records.Deletion) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.q.ExecContext(ctx, `
		UPDATE treatment_records
		SET is_deleted = TRUE, deleted_at = $3, deleted_by = $4, deletion_reason = $5
		WHERE organization_id = $1 AND id = ANY($2) AND NOT is_deleted
	`, organizationID, ids, d.At, d.By, d.Reason)
	return affected(res, err)
}

// -------------------------
// scan helpers
// -------------------------

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanClient(row rowScanner) (records.Client, error) {
	var c records.Client
	var deletedAt sql.NullTime
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.FullName, &c.Phone, &c.Email, &c.Address, &c.Notes,
		&c.IsDeleted, &deletedAt, &c.DeletedBy, &c.DeletionReason,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return records.Client{}, mapErr(err)
	}
	c.DeletedAt = fromNullTime(deletedAt)
	return c, nil
}

func scanAnimal(row rowScanner) (records.Animal, error) {
	var a records.Animal
	var species, sex string
	var birth, death, deletedAt sql.NullTime
	if err := row.Scan(
		&a.ID, &a.OrganizationID, &a.ClientID, &a.Name, &species, &a.Breed, &sex, &birth, &a.Color,
		&a.MicrochipNumber, &a.IsAlive, &death, &a.CauseOfDeath,
		&a.IsDeleted, &deletedAt, &a.DeletedBy, &a.DeletionReason,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return records.Animal{}, mapErr(err)
	}
	a.Species = records.Species(species)
	a.Sex = records.Sex(sex)
	// ojo: date llega como time.Time a medianoche UTC
	a.BirthDate = fromNullTime(birth)
	a.DateOfDeath = fromNullTime(death)
	a.DeletedAt = fromNullTime(deletedAt)
	return a, nil
}

func scanTreatment(row rowScanner) (records.TreatmentRecord, error) {
	var t records.TreatmentRecord
	var followUp, deletedAt sql.NullTime
	var parent sql.NullString
	if err := row.Scan(
		&t.ID, &t.OrganizationID, &t.AnimalID, &t.VetAccountID, &t.TreatmentDate,
		&t.ChiefComplaint, &t.Diagnosis, &t.Treatment, &t.Prescription, &t.Notes, &followUp, &t.Cost,
		&t.Version, &parent, &t.RootRecordID, &t.IsLatestVersion,
		&t.IsDeleted, &deletedAt, &t.DeletedBy, &t.DeletionReason,
		&t.CreatedBy, &t.CreatedAt,
	); err != nil {
		return records.TreatmentRecord{}, mapErr(err)
	}
	t.FollowUpDate = fromNullTime(followUp)
	t.ParentRecordID = fromNullString(parent)
	t.DeletedAt = fromNullTime(deletedAt)
	return t, nil
}
