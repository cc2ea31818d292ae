package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/internal/repository"
)

func newWorklistFixture(t *testing.T) (*WorklistService, *repository.SQLiteStore) {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "worklist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := NewWorklistService(store.Patients(), store.MedicalRecords(), store.Diagnoses(), logger)
	return svc, store
}

func addPatient(t *testing.T, store *repository.SQLiteStore, name string) *domain.Patient {
	t.Helper()
	p := &domain.Patient{Name: name, Gender: "F", Age: 52}
	require.NoError(t, store.Patients().UpsertByName(context.Background(), p))
	return p
}

func addRecord(t *testing.T, store *repository.SQLiteStore, patientID uuid.UUID, uploadedAt time.Time) *domain.MedicalRecord {
	t.Helper()
	rec := &domain.MedicalRecord{
		PatientID:  patientID,
		ImageID:    uuid.New().String() + ".png",
		ImageName:  "chest.png",
		UploadedAt: uploadedAt,
	}
	require.NoError(t, store.MedicalRecords().Create(context.Background(), rec))
	return rec
}

func finalizeFor(t *testing.T, store *repository.SQLiteStore, patientID uuid.UUID, result string, controversy bool) *domain.DiagnosisRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Diagnoses().EnsurePending(ctx, patientID))
	rec, err := store.Diagnoses().GetByPatient(ctx, patientID)
	require.NoError(t, err)
	require.NoError(t, rec.Finalize(domain.FinalizeInput{
		Result:        result,
		Diagnostician: "dr.chen",
		Controversy:   controversy,
	}, time.Now()))
	require.NoError(t, store.Diagnoses().Update(ctx, rec))
	return rec
}

func TestReconcile_OneEntryPerPatient(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	a := addPatient(t, store, "alice")
	b := addPatient(t, store, "bob")
	c := addPatient(t, store, "carol")
	addRecord(t, store, a.ID, time.Now())

	entries, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	seen := map[uuid.UUID]*domain.WorklistEntry{}
	for _, e := range entries {
		seen[e.Patient.ID] = e
		assert.Equal(t, domain.StatusPending, e.Diagnosis.Status)
		assert.Equal(t, e.Patient.ID, e.Diagnosis.PatientID)
	}
	assert.NotNil(t, seen[a.ID].LatestRecord)
	assert.Nil(t, seen[b.ID].LatestRecord)
	assert.Nil(t, seen[c.ID].LatestRecord)
}

func TestReconcile_Idempotent(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	addPatient(t, store, "alice")

	first, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	firstID := first[0].Diagnosis.ID

	second, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, firstID, second[0].Diagnosis.ID)

	count, err := store.Diagnoses().CountByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReconcile_EveryEntryIsPersisted(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	addPatient(t, store, "alice")
	addPatient(t, store, "bob")

	entries, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// reconcile reports only diagnosis records it has ensured, never an
	// unsaved placeholder view
	for _, e := range entries {
		stored, err := store.Diagnoses().GetByID(ctx, e.Diagnosis.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Patient.ID, stored.PatientID)
	}
}

func TestReconcile_DeletedDiagnosisComesBackPending(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	p := addPatient(t, store, "alice")
	finalized := finalizeFor(t, store, p.ID, "Pneumonia", false)

	require.NoError(t, store.Diagnoses().Delete(ctx, finalized.ID))

	entries, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fresh := entries[0].Diagnosis
	assert.Equal(t, domain.StatusPending, fresh.Status)
	assert.NotEqual(t, finalized.ID, fresh.ID)
	assert.Nil(t, fresh.Result)
	assert.Nil(t, fresh.Diagnostician)
}

func TestReconcile_FinalizedSurvivesReconcile(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	p := addPatient(t, store, "alice")
	finalized := finalizeFor(t, store, p.ID, "Normal", false)

	entries, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, finalized.ID, entries[0].Diagnosis.ID)
	assert.Equal(t, domain.StatusFinalized, entries[0].Diagnosis.Status)
	require.NotNil(t, entries[0].Diagnosis.Result)
	assert.Equal(t, "Normal", *entries[0].Diagnosis.Result)
}

func TestListWorklist_DoesNotWrite(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	p := addPatient(t, store, "alice")

	entries, err := svc.ListWorklist(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusPending, entries[0].Diagnosis.Status)
	assert.Equal(t, p.ID, entries[0].Diagnosis.PatientID)

	// the synthesized pending view must not have been persisted
	count, err := store.Diagnoses().CountByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestWorklist_LatestRecordWins(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	p := addPatient(t, store, "alice")
	base := time.Now().Add(-time.Hour)
	addRecord(t, store, p.ID, base)
	newest := addRecord(t, store, p.ID, base.Add(30*time.Minute))

	entries, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].LatestRecord)
	assert.Equal(t, newest.ID, entries[0].LatestRecord.ID)
}

func TestWorklist_Filters(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	a := addPatient(t, store, "alice")
	b := addPatient(t, store, "bob")
	c := addPatient(t, store, "carol")
	finalizeFor(t, store, a.ID, "Pneumonia", true)
	finalizeFor(t, store, b.ID, "Normal", false)

	tests := []struct {
		name   string
		filter domain.WorklistFilter
		want   []uuid.UUID
	}{
		{"no filter", domain.WorklistFilter{}, []uuid.UUID{a.ID, b.ID, c.ID}},
		{"result all", domain.WorklistFilter{Result: domain.ResultFilterAll}, []uuid.UUID{a.ID, b.ID, c.ID}},
		{"result pneumonia", domain.WorklistFilter{Result: domain.ResultFilterPneumonia}, []uuid.UUID{a.ID}},
		{"result normal", domain.WorklistFilter{Result: domain.ResultFilterNormal}, []uuid.UUID{b.ID}},
		{"status pending", domain.WorklistFilter{Status: domain.StatusPending}, []uuid.UUID{c.ID}},
		{"status finalized", domain.WorklistFilter{Status: domain.StatusFinalized}, []uuid.UUID{a.ID, b.ID}},
		{
			"controversy true",
			domain.WorklistFilter{Controversy: boolPtr(true)},
			[]uuid.UUID{a.ID},
		},
		{
			"controversy false excludes unset",
			domain.WorklistFilter{Controversy: boolPtr(false)},
			[]uuid.UUID{b.ID},
		},
		{
			"conjunction",
			domain.WorklistFilter{Result: domain.ResultFilterPneumonia, Status: domain.StatusFinalized, Controversy: boolPtr(true)},
			[]uuid.UUID{a.ID},
		},
		{
			"conjunction empty",
			domain.WorklistFilter{Result: domain.ResultFilterNormal, Controversy: boolPtr(true)},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := svc.Reconcile(ctx, tt.filter)
			require.NoError(t, err)

			var got []uuid.UUID
			for _, e := range entries {
				got = append(got, e.Patient.ID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestStats(t *testing.T) {
	svc, store := newWorklistFixture(t)
	ctx := context.Background()

	a := addPatient(t, store, "alice")
	addPatient(t, store, "bob")
	addPatient(t, store, "carol")

	_, err := svc.Reconcile(ctx, domain.WorklistFilter{})
	require.NoError(t, err)
	finalizeFor(t, store, a.ID, "Normal", false)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Finalized)
}

func boolPtr(b bool) *bool { return &b }
