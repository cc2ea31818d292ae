package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/domain"
)

// WorklistService assembles the physician worklist: one entry per patient,
// joining the most recent medical record with the patient's diagnosis.
type WorklistService struct {
	patients  domain.PatientRepository
	records   domain.MedicalRecordRepository
	diagnoses domain.DiagnosisRepository
	log       *logrus.Logger
}

func NewWorklistService(
	patients domain.PatientRepository,
	records domain.MedicalRecordRepository,
	diagnoses domain.DiagnosisRepository,
	logger *logrus.Logger,
) *WorklistService {
	return &WorklistService{
		patients:  patients,
		records:   records,
		diagnoses: diagnoses,
		log:       logger,
	}
}

// EnsurePendingRecords guarantees every given patient has a persisted
// diagnosis record, creating Pending ones where missing. The insert is
// conflict-tolerant, so concurrent callers converge on a single record
// per patient.
func (s *WorklistService) EnsurePendingRecords(ctx context.Context, patients []*domain.Patient) error {
	for _, p := range patients {
		if err := s.diagnoses.EnsurePending(ctx, p.ID); err != nil {
			return fmt.Errorf("ensuring pending diagnosis for patient %s: %w", p.ID, err)
		}
	}
	return nil
}

// ListWorklist builds the merged view without writing anything. Patients
// whose diagnosis has not been persisted yet appear with an unsaved Pending
// record; patients without imaging appear with a nil LatestRecord.
func (s *WorklistService) ListWorklist(ctx context.Context, filter domain.WorklistFilter) ([]*domain.WorklistEntry, error) {
	patients, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	return s.buildEntries(ctx, patients, filter)
}

// buildEntries merges a fixed roster snapshot with the latest record and
// diagnosis per patient.
func (s *WorklistService) buildEntries(ctx context.Context, patients []*domain.Patient, filter domain.WorklistFilter) ([]*domain.WorklistEntry, error) {
	entries := make([]*domain.WorklistEntry, 0, len(patients))
	for _, p := range patients {
		entry := &domain.WorklistEntry{Patient: *p}

		latest, err := s.records.LatestByPatient(ctx, p.ID)
		switch {
		case err == nil:
			entry.LatestRecord = latest
		case errors.Is(err, domain.ErrNotFound):
			// no imaging yet
		default:
			return nil, fmt.Errorf("loading latest record for patient %s: %w", p.ID, err)
		}

		diag, err := s.diagnoses.GetByPatient(ctx, p.ID)
		switch {
		case err == nil:
			entry.Diagnosis = *diag
		case errors.Is(err, domain.ErrNotFound):
			entry.Diagnosis = *domain.NewPendingDiagnosis(p.ID)
		default:
			return nil, fmt.Errorf("loading diagnosis for patient %s: %w", p.ID, err)
		}

		if filter.Matches(*entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Reconcile ensures persisted Pending records for every patient, then
// returns the merged worklist. Both phases work from one roster snapshot,
// so every entry in the response refers to an ensured record.
func (s *WorklistService) Reconcile(ctx context.Context, filter domain.WorklistFilter) ([]*domain.WorklistEntry, error) {
	patients, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	if err := s.EnsurePendingRecords(ctx, patients); err != nil {
		return nil, err
	}
	return s.buildEntries(ctx, patients, filter)
}

// Stats reports the pending/finalized split across persisted diagnoses.
func (s *WorklistService) Stats(ctx context.Context) (*domain.WorklistStats, error) {
	pending, err := s.diagnoses.CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("counting pending diagnoses: %w", err)
	}
	finalized, err := s.diagnoses.CountByStatus(ctx, domain.StatusFinalized)
	if err != nil {
		return nil, fmt.Errorf("counting finalized diagnoses: %w", err)
	}
	return &domain.WorklistStats{Pending: pending, Finalized: finalized}, nil
}
