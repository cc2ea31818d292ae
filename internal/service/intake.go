package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/pkg/imaging"
)

// IntakeService handles patient registration, chest image submission and
// record retrieval.
type IntakeService struct {
	patients   domain.PatientRepository
	records    domain.MedicalRecordRepository
	diagnoses  domain.DiagnosisRepository
	images     domain.ImageStore
	classifier domain.Classifier
	log        *logrus.Logger
}

func NewIntakeService(
	patients domain.PatientRepository,
	records domain.MedicalRecordRepository,
	diagnoses domain.DiagnosisRepository,
	images domain.ImageStore,
	classifier domain.Classifier,
	logger *logrus.Logger,
) *IntakeService {
	return &IntakeService{
		patients:   patients,
		records:    records,
		diagnoses:  diagnoses,
		images:     images,
		classifier: classifier,
		log:        logger,
	}
}

// UpsertPatient creates or refreshes a patient profile keyed by name.
func (s *IntakeService) UpsertPatient(ctx context.Context, patient *domain.Patient) (*domain.Patient, error) {
	if patient.Name == "" {
		return nil, domain.NewValidationError("name", "name is required", patient.Name)
	}
	if err := s.patients.UpsertByName(ctx, patient); err != nil {
		return nil, fmt.Errorf("upserting patient %q: %w", patient.Name, err)
	}
	return patient, nil
}

// GetPatient returns a single patient profile.
func (s *IntakeService) GetPatient(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", id, err)
	}
	return p, nil
}

// SubmitRecord stores a chest image and appends a medical record for the
// patient. The patient's diagnosis record is ensured in the same call so a
// fresh submission is immediately visible on the worklist.
func (s *IntakeService) SubmitRecord(ctx context.Context, record *domain.MedicalRecord, imageName string, image io.Reader) (*domain.MedicalRecord, error) {
	if _, err := s.patients.GetByID(ctx, record.PatientID); err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", record.PatientID, err)
	}

	imageID, err := s.images.Save(ctx, imageName, image)
	if err != nil {
		return nil, fmt.Errorf("storing image %q: %w", imageName, err)
	}
	record.ImageID = imageID
	record.ImageName = imageName

	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("creating medical record: %w", err)
	}

	if err := s.diagnoses.EnsurePending(ctx, record.PatientID); err != nil {
		return nil, fmt.Errorf("ensuring pending diagnosis for patient %s: %w", record.PatientID, err)
	}

	s.log.WithFields(logrus.Fields{
		"record_id":  record.ID,
		"patient_id": record.PatientID,
		"image_id":   imageID,
	}).Info("medical record submitted")

	return record, nil
}

// PatientHistory lists a patient's medical records, newest first.
func (s *IntakeService) PatientHistory(ctx context.Context, patientID uuid.UUID) ([]*domain.MedicalRecord, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", patientID, err)
	}
	records, err := s.records.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing records for patient %s: %w", patientID, err)
	}
	return records, nil
}

// RecordDetail returns a single medical record.
func (s *IntakeService) RecordDetail(ctx context.Context, id uuid.UUID) (*domain.MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}
	return rec, nil
}

// OpenImage streams the stored chest image for a record.
func (s *IntakeService) OpenImage(ctx context.Context, recordID uuid.UUID) (io.ReadCloser, string, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, "", fmt.Errorf("loading record %s: %w", recordID, err)
	}
	rc, err := s.images.Open(ctx, rec.ImageID)
	if err != nil {
		return nil, "", fmt.Errorf("opening image %q: %w", rec.ImageID, err)
	}
	return rc, rec.ImageName, nil
}

// DeletePatient removes a patient. Medical records and the diagnosis
// record cascade at the storage layer.
func (s *IntakeService) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.patients.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting patient %s: %w", id, err)
	}
	s.log.WithField("patient_id", id).Info("patient deleted")
	return nil
}

// ClassifyRecord runs the screening model against a stored chest image.
func (s *IntakeService) ClassifyRecord(ctx context.Context, recordID uuid.UUID) (*domain.InferenceResult, error) {
	rc, _, err := s.OpenImage(ctx, recordID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	return s.classifier.Classify(ctx, img)
}
