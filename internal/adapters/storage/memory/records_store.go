package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"vet-practice-records/internal/domain/records"
	"vet-practice-records/internal/ports/storage"
)

// recordState es el snapshot completo; las transacciones trabajan sobre un clon
// y lo publican solo si fn no falla.
type recordState struct {
	clients    map[string]records.Client
	animals    map[string]records.Animal
	treatments map[string]records.TreatmentRecord
}

func newRecordState() recordState {
	return recordState{
		clients:    make(map[string]records.Client),
		animals:    make(map[string]records.Animal),
		treatments: make(map[string]records.TreatmentRecord),
	}
}

// Los structs se reemplazan enteros, nunca se mutan en el lugar: alcanza con copiar los mapas.
func (s recordState) clone() recordState {
	out := recordState{
		clients:    make(map[string]records.Client, len(s.clients)),
		animals:    make(map[string]records.Animal, len(s.animals)),
		treatments: make(map[string]records.TreatmentRecord, len(s.treatments)),
	}
	for k, v := range s.clients {
		out.clients[k] = v
	}
	for k, v := range s.animals {
		out.animals[k] = v
	}
	for k, v := range s.treatments {
		out.treatments[k] = v
	}
	return out
}

type RecordStore struct {
	mu    sync.RWMutex
	state recordState
}

var _ records.Store = (*RecordStore)(nil)

func NewRecordStore() *RecordStore {
	return &RecordStore{state: newRecordState()}
}

func (s *RecordStore) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &recordTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *RecordStore) view() *recordTx {
	return &recordTx{state: s.state}
}

func (s *RecordStore) GetClient(ctx context.Context, organizationID, id string) (records.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetClient(ctx, organizationID, id)
}

func (s *RecordStore) ListClients(ctx context.Context, organizationID string, includeDeleted bool) ([]records.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListClients(ctx, organizationID, includeDeleted)
}

func (s *RecordStore) GetAnimal(ctx context.Context, organizationID, id string) (records.Animal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetAnimal(ctx, organizationID, id)
}

func (s *RecordStore) ListAnimalsByClient(ctx context.Context, organizationID, clientID string, includeDeleted bool) ([]records.Animal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListAnimalsByClient(ctx, organizationID, clientID, includeDeleted)
}

func (s *RecordStore) FindActiveAnimalByMicrochip(ctx context.Context, organizationID, microchip string) (records.Animal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindActiveAnimalByMicrochip(ctx, organizationID, microchip)
}

func (s *RecordStore) GetTreatment(ctx context.Context, organizationID, id string) (records.TreatmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetTreatment(ctx, organizationID, id)
}

func (s *RecordStore) ListTreatmentsByAnimal(ctx context.Context, organizationID, animalID string, f records.TreatmentFilter) ([]records.TreatmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTreatmentsByAnimal(ctx, organizationID, animalID, f)
}

func (s *RecordStore) ListTreatmentsByRoot(ctx context.Context, organizationID, rootID string) ([]records.TreatmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTreatmentsByRoot(ctx, organizationID, rootID)
}

// -------------------------
// recordTx
// -------------------------

type recordTx struct {
	state recordState
}

func (tx *recordTx) GetClient(_ context.Context, organizationID, id string) (records.Client, error) {
	c, ok := tx.state.clients[id]
	if !ok || c.OrganizationID != organizationID {
		return records.Client{}, storage.ErrNotFound
	}
	return c, nil
}

func (tx *recordTx) ListClients(_ context.Context, organizationID string, includeDeleted bool) ([]records.Client, error) {
	out := make([]records.Client, 0)
	for _, c := range tx.state.clients {
		if c.OrganizationID == organizationID && (includeDeleted || !c.IsDeleted) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *recordTx) GetAnimal(_ context.Context, organizationID, id string) (records.Animal, error) {
	a, ok := tx.state.animals[id]
	if !ok || a.OrganizationID != organizationID {
		return records.Animal{}, storage.ErrNotFound
	}
	return a, nil
}

func (tx *recordTx) ListAnimalsByClient(_ context.Context, organizationID, clientID string, includeDeleted bool) ([]records.Animal, error) {
	out := make([]records.Animal, 0)
	for _, a := range tx.state.animals {
		if a.OrganizationID == organizationID && a.ClientID == clientID && (includeDeleted || !a.IsDeleted) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *recordTx) FindActiveAnimalByMicrochip(_ context.Context, organizationID, microchip string) (records.Animal, error) {
	if microchip == "" {
		return records.Animal{}, storage.ErrNotFound
	}
	for _, a := range tx.state.animals {
		if a.OrganizationID == organizationID && a.MicrochipNumber == microchip && !a.IsDeleted {
			return a, nil
		}
	}
	return records.Animal{}, storage.ErrNotFound
}

func (tx *recordTx) GetTreatment(_ context.Context, organizationID, id string) (records.TreatmentRecord, error) {
	t, ok := tx.state.treatments[id]
	if !ok || t.OrganizationID != organizationID {
		return records.TreatmentRecord{}, storage.ErrNotFound
	}
	return t, nil
}

func (tx *recordTx) ListTreatmentsByAnimal(_ context.Context, organizationID, animalID string, f records.TreatmentFilter) ([]records.TreatmentRecord, error) {
	out := make([]records.TreatmentRecord, 0)
	for _, t := range tx.state.treatments {
		if t.OrganizationID != organizationID || t.AnimalID != animalID {
			continue
		}
		if f.LatestOnly && !t.IsLatestVersion {
			continue
		}
		if !f.IncludeDeleted && t.IsDeleted {
			continue
		}
		out = append(out, t)
	}
	// Más recientes primero, igual que el ORDER BY de postgres.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TreatmentDate.Equal(out[j].TreatmentDate) {
			return out[i].TreatmentDate.After(out[j].TreatmentDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *recordTx) ListTreatmentsByRoot(_ context.Context, organizationID, rootID string) ([]records.TreatmentRecord, error) {
	out := make([]records.TreatmentRecord, 0)
	for _, t := range tx.state.treatments {
		if t.OrganizationID == organizationID && t.RootRecordID == rootID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (tx *recordTx) InsertClient(_ context.Context, c records.Client) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("client id required")
	}
	if _, exists := tx.state.clients[c.ID]; exists {
		return storage.ErrConflict
	}
	tx.state.clients[c.ID] = c
	return nil
}

func (tx *recordTx) UpdateClient(_ context.Context, c records.Client) error {
	if _, exists := tx.state.clients[c.ID]; !exists {
		return storage.ErrNotFound
	}
	tx.state.clients[c.ID] = c
	return nil
}

func (tx *recordTx) InsertAnimal(_ context.Context, a records.Animal) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("animal id required")
	}
	if _, exists := tx.state.animals[a.ID]; exists {
		return storage.ErrConflict
	}
	if err := tx.checkMicrochip(a); err != nil {
		return err
	}
	tx.state.animals[a.ID] = a
	return nil
}

func (tx *recordTx) UpdateAnimal(_ context.Context, a records.Animal) error {
	if _, exists := tx.state.animals[a.ID]; !exists {
		return storage.ErrNotFound
	}
	if err := tx.checkMicrochip(a); err != nil {
		return err
	}
	tx.state.animals[a.ID] = a
	return nil
}

func (tx *recordTx) InsertTreatment(_ context.Context, t records.TreatmentRecord) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("treatment id required")
	}
	if _, exists := tx.state.treatments[t.ID]; exists {
		return storage.ErrConflict
	}
	for _, other := range tx.state.treatments {
		if other.RootRecordID != t.RootRecordID {
			continue
		}
		if other.Version == t.Version {
			return &storage.ConflictError{Constraint: storage.UniqueTreatmentVersion}
		}
		if t.IsLatestVersion && other.IsLatestVersion {
			return &storage.ConflictError{Constraint: storage.UniqueTreatmentLatest}
		}
	}
	tx.state.treatments[t.ID] = t
	return nil
}

func (tx *recordTx) UpdateTreatmentDeletion(_ context.Context, t records.TreatmentRecord) error {
	cur, exists := tx.state.treatments[t.ID]
	if !exists || cur.OrganizationID != t.OrganizationID {
		return storage.ErrNotFound
	}
	cur.SoftDelete = t.SoftDelete
	tx.state.treatments[t.ID] = cur
	return nil
}

func (tx *recordTx) MarkNotLatest(_ context.Context, organizationID, id string, version int) error {
	cur, exists := tx.state.treatments[id]
	if !exists || cur.OrganizationID != organizationID || !cur.IsLatestVersion || cur.Version != version {
		return storage.ErrStale
	}
	cur.IsLatestVersion = false
	tx.state.treatments[id] = cur
	return nil
}

func (tx *recordTx) SoftDeleteAnimals(_ context.Context, organizationID string, ids []string, d records.Deletion) (int, error) {
	n := 0
	for _, id := range ids {
		a, ok := tx.state.animals[id]
		if !ok || a.OrganizationID != organizationID || a.IsDeleted {
			continue
		}
		a.SoftDelete = deletionOf(d)
		a.UpdatedAt = d.At
		tx.state.animals[id] = a
		n++
	}
	return n, nil
}

func (tx *recordTx) SoftDeleteTreatments(_ context.Context, organizationID string, ids []string, d records.Deletion) (int, error) {
	n := 0
	for _, id := range ids {
		t, ok := tx.state.treatments[id]
		if !ok || t.OrganizationID != organizationID || t.IsDeleted {
			continue
		}
		t.SoftDelete = deletionOf(d)
		tx.state.treatments[id] = t
		n++
	}
	return n, nil
}

// Micro-chip único por org entre animales no borrados.
func (tx *recordTx) checkMicrochip(a records.Animal) error {
	if a.MicrochipNumber == "" || a.IsDeleted {
		return nil
	}
	for id, other := range tx.state.animals {
		if id != a.ID && !other.IsDeleted && other.OrganizationID == a.OrganizationID &&
			other.MicrochipNumber == a.MicrochipNumber {
			return &storage.ConflictError{Constraint: storage.UniqueActiveMicrochip}
		}
	}
	return nil
}

func deletionOf(d records.Deletion) records.SoftDelete {
	at := d.At
	return records.SoftDelete{
		IsDeleted:      true,
		DeletedAt:      &at,
		DeletedBy:      d.By,
		DeletionReason: d.Reason,
	}
}
