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

// PatientRepository handles patient data persistence on PostgreSQL
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// UpsertByName inserts a patient or, when the display name is already taken,
// updates that patient's attributes in place. The stored UUID and created_at
// are written back into the given patient.
func (r *PatientRepository) UpsertByName(ctx context.Context, patient *domain.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}

	query := `
		INSERT INTO patients (
			id, name, gender, age, marital_status, occupation,
			phone_number, address, medical_history, symptoms, other
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (name) DO UPDATE SET
			gender = EXCLUDED.gender,
			age = EXCLUDED.age,
			marital_status = EXCLUDED.marital_status,
			occupation = EXCLUDED.occupation,
			phone_number = EXCLUDED.phone_number,
			address = EXCLUDED.address,
			medical_history = EXCLUDED.medical_history,
			symptoms = EXCLUDED.symptoms,
			other = EXCLUDED.other
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		patient.ID,
		patient.Name,
		patient.Gender,
		patient.Age,
		patient.MaritalStatus,
		patient.Occupation,
		patient.PhoneNumber,
		patient.Address,
		patient.MedicalHistory,
		patient.Symptoms,
		patient.Other,
	).Scan(&patient.ID, &patient.CreatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_name": patient.Name,
			"error":        err,
		}).Error("Failed to upsert patient")
		return fmt.Errorf("upserting patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":   patient.ID,
		"patient_name": patient.Name,
	}).Info("Patient upserted")

	return nil
}

const patientColumns = `id, name, gender, age, marital_status, occupation,
	phone_number, address, medical_history, symptoms, other, created_at`

func scanPatient(row pgx.Row) (*domain.Patient, error) {
	var p domain.Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Gender,
		&p.Age,
		&p.MaritalStatus,
		&p.Occupation,
		&p.PhoneNumber,
		&p.Address,
		&p.MedicalHistory,
		&p.Symptoms,
		&p.Other,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a patient by its ID
func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	patient, err := scanPatient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to get patient by ID")
		return nil, fmt.Errorf("getting patient by ID: %w", err)
	}

	return patient, nil
}

// List returns the full patient roster, newest first.
func (r *PatientRepository) List(ctx context.Context) ([]*domain.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.WithError(err).Error("Failed to list patients")
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient row: %w", err)
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patient rows: %w", err)
	}

	return patients, nil
}

// Delete removes a patient; medical and diagnosis records cascade.
func (r *PatientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to delete patient")
		return fmt.Errorf("deleting patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", id).Info("Patient deleted")
	return nil
}
