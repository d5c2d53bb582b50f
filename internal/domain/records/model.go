package records

import (
	"time"

	"github.com/shopspring/decimal"
)

// Species define las especies soportadas.
// @Enum dog, cat, other
type Species string

const (
	SpeciesDog   Species = "dog"
	SpeciesCat   Species = "cat"
	SpeciesOther Species = "other"
)

func (s Species) Valid() bool {
	switch s {
	case SpeciesDog, SpeciesCat, SpeciesOther:
		return true
	}
	return false
}

// Sex define el sexo del animal.
// @Enum male, female, unknown
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

func (s Sex) Valid() bool {
	switch s {
	case SexMale, SexFemale, SexUnknown:
		return true
	}
	return false
}

// SoftDelete son los campos comunes de borrado lógico.
type SoftDelete struct {
	IsDeleted      bool
	DeletedAt      *time.Time
	DeletedBy      string
	DeletionReason string
}

func (d *SoftDelete) markDeleted(at time.Time, by, reason string) {
	d.IsDeleted = true
	d.DeletedAt = &at
	d.DeletedBy = by
	d.DeletionReason = reason
}

func (d *SoftDelete) clear() {
	*d = SoftDelete{}
}

// Client es el dueño de los animales dentro de una organización.
type Client struct {
	ID             string
	OrganizationID string

	FullName string
	Phone    string
	Email    string
	Address  string
	Notes    string

	SoftDelete

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Animal pertenece a un Client. IsAlive es independiente del borrado lógico.
type Animal struct {
	ID             string
	OrganizationID string
	ClientID       string

	Name      string
	Species   Species
	Breed     string
	Sex       Sex
	BirthDate *time.Time
	Color     string

	// MicrochipNumber es único entre animales activos de la organización.
	MicrochipNumber string

	IsAlive      bool
	DateOfDeath  *time.Time
	CauseOfDeath string

	SoftDelete

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TreatmentRecord es inmutable: cada update agrega una versión nueva a la cadena.
type TreatmentRecord struct {
	ID             string
	OrganizationID string
	AnimalID       string
	VetAccountID   string

	TreatmentDate  time.Time
	ChiefComplaint string
	Diagnosis      string
	Treatment      string
	Prescription   string
	Notes          string
	FollowUpDate   *time.Time
	Cost           decimal.NullDecimal

	Version         int
	ParentRecordID  *string
	RootRecordID    string // igual a ID en la raíz
	IsLatestVersion bool

	SoftDelete

	CreatedBy string
	CreatedAt time.Time
}

// DeleteResult son los descendientes borrados en cascada.
type DeleteResult struct {
	CascadedAnimals    int `json:"cascadedAnimals"`
	CascadedTreatments int `json:"cascadedTreatments"`
}
