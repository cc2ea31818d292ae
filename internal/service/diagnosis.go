package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/domain"
)

// DiagnosisService drives the Pending -> Finalized lifecycle.
type DiagnosisService struct {
	diagnoses domain.DiagnosisRepository
	log       *logrus.Logger
	now       func() time.Time
}

func NewDiagnosisService(diagnoses domain.DiagnosisRepository, logger *logrus.Logger) *DiagnosisService {
	return &DiagnosisService{
		diagnoses: diagnoses,
		log:       logger,
		now:       time.Now,
	}
}

// Get returns a single diagnosis record.
func (s *DiagnosisService) Get(ctx context.Context, id uuid.UUID) (*domain.DiagnosisRecord, error) {
	rec, err := s.diagnoses.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading diagnosis %s: %w", id, err)
	}
	return rec, nil
}

// Finalize records the physician's verdict. Validation and transition
// failures leave the stored record untouched, still Pending.
func (s *DiagnosisService) Finalize(ctx context.Context, id uuid.UUID, in domain.FinalizeInput) (*domain.DiagnosisRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.diagnoses.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading diagnosis %s: %w", id, err)
	}

	if err := rec.Finalize(in, s.now()); err != nil {
		return nil, err
	}

	if err := s.diagnoses.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving diagnosis %s: %w", id, err)
	}

	s.log.WithFields(logrus.Fields{
		"diagnosis_id":  rec.ID,
		"patient_id":    rec.PatientID,
		"diagnostician": in.Diagnostician,
		"result":        in.Result,
		"controversy":   in.Controversy,
	}).Info("diagnosis finalized")

	return rec, nil
}

// Delete removes a diagnosis record entirely. A later reconcile pass will
// recreate a fresh Pending record for the patient.
func (s *DiagnosisService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.diagnoses.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting diagnosis %s: %w", id, err)
	}
	s.log.WithField("diagnosis_id", id).Info("diagnosis deleted")
	return nil
}
