package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"vet-practice-records/internal/domain/records"
	"vet-practice-records/internal/ports/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func seedClient(t *testing.T, s *RecordStore, orgID, id string) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(tx records.Tx) error {
		return tx.InsertClient(context.Background(), records.Client{ID: id, OrganizationID: orgID, FullName: "Ana", CreatedAt: t0})
	}))
}

func TestRecordStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	seedClient(t, s, "org-1", "c1")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx records.Tx) error {
		c, err := tx.GetClient(ctx, "org-1", "c1")
		require.NoError(t, err)
		c.FullName = "Changed"
		require.NoError(t, tx.UpdateClient(ctx, c))
		require.NoError(t, tx.InsertClient(ctx, records.Client{ID: "c2", OrganizationID: "org-1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := s.GetClient(ctx, "org-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.FullName)
	_, err = s.GetClient(ctx, "org-1", "c2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordStore_ReadsAreOrganizationScoped(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	seedClient(t, s, "org-1", "c1")

	_, err := s.GetClient(ctx, "org-2", "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	items, err := s.ListClients(ctx, "org-2", true)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRecordStore_ActiveMicrochipIsUniquePerOrganization(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()

	insert := func(id, orgID string) error {
		return s.InTx(ctx, func(tx records.Tx) error {
			return tx.InsertAnimal(ctx, records.Animal{ID: id, OrganizationID: orgID, MicrochipNumber: "985ABC"})
		})
	}
	require.NoError(t, insert("a1", "org-1"))
	require.NoError(t, insert("a3", "org-2"))

	err := insert("a2", "org-1")
	name, ok := storage.Constraint(err)
	require.True(t, ok)
	assert.Equal(t, storage.UniqueActiveMicrochip, name)

	// Borrado lógico libera el chip.
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		n, err := tx.SoftDeleteAnimals(ctx, "org-1", []string{"a1"}, records.Deletion{At: t0, By: "u1", Reason: "dup"})
		assert.Equal(t, 1, n)
		return err
	}))
	require.NoError(t, insert("a2", "org-1"))

	a, err := s.FindActiveAnimalByMicrochip(ctx, "org-1", "985ABC")
	require.NoError(t, err)
	assert.Equal(t, "a2", a.ID)
}

func TestRecordStore_SoftDeleteSkipsAlreadyDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	d := records.Deletion{At: t0, By: "u1", Reason: "first"}

	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		for _, id := range []string{"t1", "t2"} {
			if err := tx.InsertTreatment(ctx, records.TreatmentRecord{
				ID: id, OrganizationID: "org-1", AnimalID: "a1", Version: 1, RootRecordID: id, IsLatestVersion: true,
			}); err != nil {
				return err
			}
		}
		n, err := tx.SoftDeleteTreatments(ctx, "org-1", []string{"t1"}, d)
		assert.Equal(t, 1, n)
		return err
	}))

	var n int
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		var err error
		n, err = tx.SoftDeleteTreatments(ctx, "org-1", []string{"t1", "t2"}, records.Deletion{At: t0.Add(time.Hour), By: "u2", Reason: "second"})
		return err
	}))
	assert.Equal(t, 1, n)

	t1, err := s.GetTreatment(ctx, "org-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "first", t1.DeletionReason)
	assert.Equal(t, "u1", t1.DeletedBy)
}

func TestRecordStore_MarkNotLatestIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()
	v1 := records.TreatmentRecord{ID: "v1", OrganizationID: "org-1", AnimalID: "a1", Version: 1, RootRecordID: "v1", IsLatestVersion: true}
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error { return tx.InsertTreatment(ctx, v1) }))

	// Versión equivocada => stale, sin efectos.
	err := s.InTx(ctx, func(tx records.Tx) error { return tx.MarkNotLatest(ctx, "org-1", "v1", 2) })
	require.ErrorIs(t, err, storage.ErrStale)

	parent := "v1"
	v2 := records.TreatmentRecord{ID: "v2", OrganizationID: "org-1", AnimalID: "a1", Version: 2, ParentRecordID: &parent, RootRecordID: "v1", IsLatestVersion: true}

	// Insertar otra "última" sin bajar el flag viola la constraint.
	err = s.InTx(ctx, func(tx records.Tx) error { return tx.InsertTreatment(ctx, v2) })
	name, ok := storage.Constraint(err)
	require.True(t, ok)
	assert.Equal(t, storage.UniqueTreatmentLatest, name)

	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		if err := tx.MarkNotLatest(ctx, "org-1", "v1", 1); err != nil {
			return err
		}
		return tx.InsertTreatment(ctx, v2)
	}))

	// Segundo CAS sobre v1 ya no aplica.
	err = s.InTx(ctx, func(tx records.Tx) error { return tx.MarkNotLatest(ctx, "org-1", "v1", 1) })
	require.ErrorIs(t, err, storage.ErrStale)

	latest, err := s.ListTreatmentsByAnimal(ctx, "org-1", "a1", records.TreatmentFilter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "v2", latest[0].ID)

	chain, err := s.ListTreatmentsByRoot(ctx, "org-1", "v1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, []int{1, 2}, []int{chain[0].Version, chain[1].Version})
}

func TestActivityLog_ListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	l := NewActivityLog()
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, l.Write(ctx, activityEvent(id, "org-1")))
	}
	require.NoError(t, l.Write(ctx, activityEvent("x1", "org-2")))

	items, err := l.ListByOrganization(ctx, "org-1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "e3", items[0].ID)
	assert.Equal(t, "e2", items[1].ID)
}
