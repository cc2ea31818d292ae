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

// DiagnosisRepository handles diagnosis record persistence on PostgreSQL.
// The diagnosis_records.patient_id UNIQUE constraint enforces the
// one-active-record-per-patient invariant; EnsurePending leans on it so
// concurrent reconciliations cannot create duplicates.
type DiagnosisRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewDiagnosisRepository creates a new diagnosis repository
func NewDiagnosisRepository(db *pgxpool.Pool, logger *logrus.Logger) *DiagnosisRepository {
	return &DiagnosisRepository{
		db:  db,
		log: logger,
	}
}

// EnsurePending inserts a Pending record for the patient if none exists.
func (r *DiagnosisRepository) EnsurePending(ctx context.Context, patientID uuid.UUID) error {
	query := `
		INSERT INTO diagnosis_records (id, patient_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, uuid.New(), patientID, domain.StatusPending)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to ensure pending diagnosis record")
		return fmt.Errorf("ensuring pending diagnosis record: %w", err)
	}

	if tag.RowsAffected() > 0 {
		r.log.WithField("patient_id", patientID).Info("Pending diagnosis record created")
	}
	return nil
}

const diagnosisColumns = `id, patient_id, status, result, detailed_diagnosis,
	suggestion, diagnosed_at, diagnostician, controversy, controversy_reason, created_at`

func scanDiagnosis(row pgx.Row) (*domain.DiagnosisRecord, error) {
	var d domain.DiagnosisRecord
	err := row.Scan(
		&d.ID,
		&d.PatientID,
		&d.Status,
		&d.Result,
		&d.DetailedDiagnosis,
		&d.Suggestion,
		&d.DiagnosedAt,
		&d.Diagnostician,
		&d.Controversy,
		&d.ControversyReason,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetByID retrieves a diagnosis record by its ID
func (r *DiagnosisRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnosis_records WHERE id = $1`

	record, err := scanDiagnosis(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("diagnosis record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting diagnosis record by ID: %w", err)
	}

	return record, nil
}

// GetByPatient retrieves the patient's active diagnosis record
func (r *DiagnosisRepository) GetByPatient(ctx context.Context, patientID uuid.UUID) (*domain.DiagnosisRecord, error) {
	query := `SELECT ` + diagnosisColumns + ` FROM diagnosis_records WHERE patient_id = $1`

	record, err := scanDiagnosis(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("diagnosis record for patient %s: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting diagnosis record by patient: %w", err)
	}

	return record, nil
}

// Update persists the full clinical field set in a single statement. The
// status guard makes the write a compare-and-swap: only a stored Pending
// record can be overwritten, so concurrent finalizations of the same record
// cannot silently replace an earlier verdict.
func (r *DiagnosisRepository) Update(ctx context.Context, record *domain.DiagnosisRecord) error {
	query := `
		UPDATE diagnosis_records SET
			status = $2,
			result = $3,
			detailed_diagnosis = $4,
			suggestion = $5,
			diagnosed_at = $6,
			diagnostician = $7,
			controversy = $8,
			controversy_reason = $9
		WHERE id = $1 AND status = $10`

	tag, err := r.db.Exec(ctx, query,
		record.ID,
		record.Status,
		record.Result,
		record.DetailedDiagnosis,
		record.Suggestion,
		record.DiagnosedAt,
		record.Diagnostician,
		record.Controversy,
		record.ControversyReason,
		domain.StatusPending,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"diagnosis_id": record.ID,
			"error":        err,
		}).Error("Failed to update diagnosis record")
		return fmt.Errorf("updating diagnosis record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diagnosis record %s: %w", record.ID, domain.ErrInvalidTransition)
	}

	r.log.WithFields(logrus.Fields{
		"diagnosis_id": record.ID,
		"patient_id":   record.PatientID,
		"status":       record.Status,
	}).Info("Diagnosis record updated")

	return nil
}

// Delete removes a diagnosis record outright. The next reconciliation
// recreates a fresh Pending record for the patient; no history is retained.
func (r *DiagnosisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM diagnosis_records WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"diagnosis_id": id,
			"error":        err,
		}).Error("Failed to delete diagnosis record")
		return fmt.Errorf("deleting diagnosis record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diagnosis record %s: %w", id, domain.ErrNotFound)
	}

	r.log.WithField("diagnosis_id", id).Info("Diagnosis record deleted")
	return nil
}

// CountByStatus counts records in a given lifecycle state.
func (r *DiagnosisRepository) CountByStatus(ctx context.Context, status domain.DiagnosisStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM diagnosis_records WHERE status = $1`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting diagnosis records: %w", err)
	}
	return count, nil
}
