package storage

import "errors"

// Sentinels que devuelven los adapters (memory/postgres). Los servicios de
// dominio los traducen a apperr; nunca se filtran al transport.
var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: unique constraint violated")

	// ErrStale: un compare-and-swap no encontró la fila en el estado esperado.
	ErrStale = errors.New("storage: stale row")
)

// ConflictError lleva el nombre de la constraint violada.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string { return "storage: unique constraint violated: " + e.Constraint }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Constraint devuelve el nombre si err es un conflicto de unicidad.
func Constraint(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}

// Nombres de constraint compartidos entre memory y el DDL de postgres.
const (
	UniqueAccountVCN        = "accounts_vcn_key"
	UniqueMembershipPair    = "memberships_account_org_key"
	UniqueOrganizationOwner = "memberships_single_owner_key"
	UniquePendingInvitation = "invitations_pending_email_key"
	UniqueActiveMicrochip   = "animals_active_microchip_key"
	UniqueTreatmentVersion  = "treatment_records_root_version_key"
	UniqueTreatmentLatest   = "treatment_records_latest_key"
)
