package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"vet-practice-records/internal/domain/organizations"
	"vet-practice-records/internal/domain/records"
	"vet-practice-records/internal/ports/authz"
	"vet-practice-records/internal/ports/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Corre contra una base real: DB_DSN=postgres://... go test ./internal/adapters/storage/postgres/
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db))
	return db
}

var pgT0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// seedOrg crea una organización propia por test; los datos no se pisan entre corridas.
func seedOrg(t *testing.T, db *sql.DB) string {
	t.Helper()
	orgID := uuid.NewString()
	ownerID := uuid.NewString()
	err := NewOrganizationsRepo(db).CreateWithOwner(context.Background(),
		organizations.Organization{ID: orgID, Name: "Clínica " + orgID[:8], CreatedBy: ownerID, CreatedAt: pgT0, UpdatedAt: pgT0},
		organizations.Membership{
			ID: uuid.NewString(), AccountID: ownerID, OrganizationID: orgID,
			Role: authz.RoleOwner, Status: authz.MembershipActive, Permissions: authz.AllPermissions(),
			JoinedAt: pgT0, UpdatedAt: pgT0,
		})
	require.NoError(t, err)
	return orgID
}

func newClient(orgID string) records.Client {
	return records.Client{ID: uuid.NewString(), OrganizationID: orgID, FullName: "Ana Pérez", CreatedBy: "u1", CreatedAt: pgT0, UpdatedAt: pgT0}
}

func newAnimal(orgID, clientID, chip string) records.Animal {
	return records.Animal{
		ID: uuid.NewString(), OrganizationID: orgID, ClientID: clientID,
		Name: "Luna", Species: records.SpeciesDog, Sex: records.SexFemale,
		MicrochipNumber: chip, IsAlive: true,
		CreatedBy: "u1", CreatedAt: pgT0, UpdatedAt: pgT0,
	}
}

func newRoot(orgID, animalID string) records.TreatmentRecord {
	id := uuid.NewString()
	return records.TreatmentRecord{
		ID: id, OrganizationID: orgID, AnimalID: animalID, VetAccountID: "u1",
		TreatmentDate: pgT0, Diagnosis: "Otitis",
		Version: 1, RootRecordID: id, IsLatestVersion: true,
		CreatedBy: "u1", CreatedAt: pgT0,
	}
}

func TestRecordStore_MarkNotLatestIsCompareAndSwap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewRecordStore(db)
	orgID := seedOrg(t, db)

	c := newClient(orgID)
	a := newAnimal(orgID, c.ID, "")
	root := newRoot(orgID, a.ID)
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		if err := tx.InsertClient(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertAnimal(ctx, a); err != nil {
			return err
		}
		return tx.InsertTreatment(ctx, root)
	}))

	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		return tx.MarkNotLatest(ctx, orgID, root.ID, 1)
	}))

	// la segunda escritura concurrente ya no encuentra la fila como latest
	err := store.InTx(ctx, func(tx records.Tx) error {
		return tx.MarkNotLatest(ctx, orgID, root.ID, 1)
	})
	require.ErrorIs(t, err, storage.ErrStale)

	// versión equivocada u otra organización: mismo resultado
	err = store.InTx(ctx, func(tx records.Tx) error {
		return tx.MarkNotLatest(ctx, uuid.NewString(), root.ID, 1)
	})
	require.ErrorIs(t, err, storage.ErrStale)

	got, err := store.GetTreatment(ctx, orgID, root.ID)
	require.NoError(t, err)
	assert.False(t, got.IsLatestVersion)
}

func TestRecordStore_CascadeSoftDeleteSkipsDeletedRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewRecordStore(db)
	orgID := seedOrg(t, db)

	c := newClient(orgID)
	a1 := newAnimal(orgID, c.ID, "")
	a2 := newAnimal(orgID, c.ID, "")
	t1 := newRoot(orgID, a1.ID)
	t2 := newRoot(orgID, a1.ID)
	t3 := newRoot(orgID, a2.ID)
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		if err := tx.InsertClient(ctx, c); err != nil {
			return err
		}
		for _, a := range []records.Animal{a1, a2} {
			if err := tx.InsertAnimal(ctx, a); err != nil {
				return err
			}
		}
		for _, tr := range []records.TreatmentRecord{t1, t2, t3} {
			if err := tx.InsertTreatment(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	}))

	first := records.Deletion{At: pgT0.Add(time.Hour), By: "u1", Reason: "duplicado"}
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		n, err := tx.SoftDeleteTreatments(ctx, orgID, []string{t1.ID}, first)
		require.Equal(t, 1, n)
		return err
	}))

	var animals, treatments int
	second := records.Deletion{At: pgT0.Add(2 * time.Hour), By: "u2", Reason: "baja del cliente"}
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		var err error
		if treatments, err = tx.SoftDeleteTreatments(ctx, orgID, []string{t1.ID, t2.ID, t3.ID}, second); err != nil {
			return err
		}
		animals, err = tx.SoftDeleteAnimals(ctx, orgID, []string{a1.ID, a2.ID}, second)
		return err
	}))
	assert.Equal(t, 2, treatments, "t1 ya estaba borrado")
	assert.Equal(t, 2, animals)

	// el borrado previo conserva su auditoría
	got, err := store.GetTreatment(ctx, orgID, t1.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, "u1", got.DeletedBy)
	assert.Equal(t, "duplicado", got.DeletionReason)

	// otra organización no toca nada
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		n, err := tx.SoftDeleteAnimals(ctx, uuid.NewString(), []string{a1.ID}, second)
		assert.Zero(t, n)
		return err
	}))
}

func TestRecordStore_ActiveMicrochipIsUnique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewRecordStore(db)
	orgID := seedOrg(t, db)

	c := newClient(orgID)
	first := newAnimal(orgID, c.ID, "985112000000001")
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		if err := tx.InsertClient(ctx, c); err != nil {
			return err
		}
		return tx.InsertAnimal(ctx, first)
	}))

	err := store.InTx(ctx, func(tx records.Tx) error {
		return tx.InsertAnimal(ctx, newAnimal(orgID, c.ID, "985112000000001"))
	})
	name, ok := storage.Constraint(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, storage.UniqueActiveMicrochip, name)

	// borrado el primero, el chip se libera
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		_, err := tx.SoftDeleteAnimals(ctx, orgID, []string{first.ID}, records.Deletion{At: pgT0, By: "u1", Reason: "error de carga"})
		return err
	}))
	require.NoError(t, store.InTx(ctx, func(tx records.Tx) error {
		return tx.InsertAnimal(ctx, newAnimal(orgID, c.ID, "985112000000001"))
	}))
}

func TestOrganizationsRepo_InvitationTransitionsOnlyFromPending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOrganizationsRepo(db)
	orgID := seedOrg(t, db)

	inv := organizations.Invitation{
		ID: uuid.NewString(), OrganizationID: orgID, Email: "vet@clinic.io",
		Role: authz.RoleMember, Status: organizations.InvitationPending,
		InvitedBy: "u1", ExpiresAt: pgT0.Add(48 * time.Hour), CreatedAt: pgT0,
	}
	require.NoError(t, repo.CreateInvitation(ctx, inv))

	responded := pgT0.Add(time.Hour)
	declined := inv
	declined.Status = organizations.InvitationDeclined
	declined.RespondedAt = &responded
	require.NoError(t, repo.UpdateInvitation(ctx, declined))

	accepted := inv
	accepted.Status = organizations.InvitationAccepted
	accepted.RespondedAt = &responded
	accountID := uuid.NewString()
	err := repo.AcceptInvitation(ctx, accepted, organizations.Membership{
		ID: uuid.NewString(), AccountID: accountID, OrganizationID: orgID,
		Role: authz.RoleMember, Status: authz.MembershipActive, JoinedAt: responded, UpdatedAt: responded,
	})
	require.ErrorIs(t, err, storage.ErrStale)

	got, err := repo.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, organizations.InvitationDeclined, got.Status)
	_, err = repo.GetMembership(ctx, accountID, orgID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
