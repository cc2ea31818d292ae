package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/pneumonia-screening-server/internal/domain"
)

// MedicalRecordRepository handles medical record persistence on PostgreSQL
type MedicalRecordRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewMedicalRecordRepository creates a new medical record repository
func NewMedicalRecordRepository(db *pgxpool.Pool, logger *logrus.Logger) *MedicalRecordRepository {
	return &MedicalRecordRepository{
		db:  db,
		log: logger,
	}
}

// Create inserts a new medical record. Records are immutable once created;
// a resubmission creates a new row rather than updating an existing one.
func (r *MedicalRecordRepository) Create(ctx context.Context, record *domain.MedicalRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	query := `
		INSERT INTO medical_records (
			id, patient_id, image_id, image_name,
			medical_history, symptoms, other, uploaded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, COALESCE($8, now())
		)
		RETURNING seq, uploaded_at, created_at`

	var uploadedAt interface{}
	if !record.UploadedAt.IsZero() {
		uploadedAt = record.UploadedAt
	}

	err := r.db.QueryRow(ctx, query,
		record.ID,
		record.PatientID,
		record.ImageID,
		record.ImageName,
		record.MedicalHistory,
		record.Symptoms,
		record.Other,
		uploadedAt,
	).Scan(&record.Seq, &record.UploadedAt, &record.CreatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"record_id":  record.ID,
			"patient_id": record.PatientID,
			"error":      err,
		}).Error("Failed to create medical record")
		return fmt.Errorf("creating medical record: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"record_id":  record.ID,
		"patient_id": record.PatientID,
		"image_id":   record.ImageID,
	}).Info("Medical record created")

	return nil
}

const medicalRecordColumns = `id, patient_id, seq, image_id, image_name,
	medical_history, symptoms, other, uploaded_at, created_at`

func scanMedicalRecord(row pgx.Row) (*domain.MedicalRecord, error) {
	var m domain.MedicalRecord
	err := row.Scan(
		&m.ID,
		&m.PatientID,
		&m.Seq,
		&m.ImageID,
		&m.ImageName,
		&m.MedicalHistory,
		&m.Symptoms,
		&m.Other,
		&m.UploadedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID retrieves a medical record by its ID
func (r *MedicalRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MedicalRecord, error) {
	query := `SELECT ` + medicalRecordColumns + ` FROM medical_records WHERE id = $1`

	record, err := scanMedicalRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("medical record %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"record_id": id,
			"error":     err,
		}).Error("Failed to get medical record by ID")
		return nil, fmt.Errorf("getting medical record by ID: %w", err)
	}

	return record, nil
}

// LatestByPatient returns the most recent record by upload time, ties broken
// by the monotonic insertion sequence.
func (r *MedicalRecordRepository) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*domain.MedicalRecord, error) {
	query := `SELECT ` + medicalRecordColumns + `
		FROM medical_records
		WHERE patient_id = $1
		ORDER BY uploaded_at DESC, seq DESC
		LIMIT 1`

	record, err := scanMedicalRecord(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("medical records for patient %s: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest medical record: %w", err)
	}

	return record, nil
}

// ListByPatient returns all of a patient's records, newest first.
func (r *MedicalRecordRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*domain.MedicalRecord, error) {
	query := `SELECT ` + medicalRecordColumns + `
		FROM medical_records
		WHERE patient_id = $1
		ORDER BY uploaded_at DESC, seq DESC`

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to list medical records")
		return nil, fmt.Errorf("listing medical records: %w", err)
	}
	defer rows.Close()

	var records []*domain.MedicalRecord
	for rows.Next() {
		record, err := scanMedicalRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning medical record row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating medical record rows: %w", err)
	}

	return records, nil
}
