package records

import (
	"context"
	"time"
)

// TreatmentFilter para listados por animal.
type TreatmentFilter struct {
	LatestOnly     bool
	IncludeDeleted bool
}

// Deletion es lo que se estampa en cada fila borrada.
type Deletion struct {
	At     time.Time
	By     string
	Reason string
}

// Reader son las lecturas; todas filtran por organización.
// Devuelven storage.ErrNotFound si la fila no existe o es de otra org.
type Reader interface {
	GetClient(ctx context.Context, organizationID, id string) (Client, error)
	ListClients(ctx context.Context, organizationID string, includeDeleted bool) ([]Client, error)

	GetAnimal(ctx context.Context, organizationID, id string) (Animal, error)
	ListAnimalsByClient(ctx context.Context, organizationID, clientID string, includeDeleted bool) ([]Animal, error)
	FindActiveAnimalByMicrochip(ctx context.Context, organizationID, microchip string) (Animal, error)

	GetTreatment(ctx context.Context, organizationID, id string) (TreatmentRecord, error)
	ListTreatmentsByAnimal(ctx context.Context, organizationID, animalID string, f TreatmentFilter) ([]TreatmentRecord, error)
	ListTreatmentsByRoot(ctx context.Context, organizationID, rootID string) ([]TreatmentRecord, error)
}

// Tx es la vista transaccional. Nada de lo escrito es visible fuera hasta el commit.
type Tx interface {
	Reader

	InsertClient(ctx context.Context, c Client) error
	UpdateClient(ctx context.Context, c Client) error

	InsertAnimal(ctx context.Context, a Animal) error
	UpdateAnimal(ctx context.Context, a Animal) error

	InsertTreatment(ctx context.Context, t TreatmentRecord) error
	// UpdateTreatmentDeletion solo toca los campos de borrado lógico.
	UpdateTreatmentDeletion(ctx context.Context, t TreatmentRecord) error
	// MarkNotLatest es el compare-and-swap del versionado: baja el flag solo si
	// la fila sigue siendo la última y en esa versión; si no => storage.ErrStale.
	MarkNotLatest(ctx context.Context, organizationID, id string, version int) error

	// SoftDeleteAnimals / SoftDeleteTreatments marcan en bloque filas activas.
	SoftDeleteAnimals(ctx context.Context, organizationID string, ids []string, d Deletion) (int, error)
	SoftDeleteTreatments(ctx context.Context, organizationID string, ids []string, d Deletion) (int, error)
}

// Store: InTx hace commit si fn devuelve nil y rollback en cualquier otro caso.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
