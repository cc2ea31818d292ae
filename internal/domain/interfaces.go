package domain

import (
	"context"
	"image"
	"io"

	"github.com/google/uuid"
)

// PatientRepository manages patient identity and narrative data.
// UpsertByName is the single place where the legacy match-by-display-name
// behavior lives; everything else is keyed by the generated UUID.
type PatientRepository interface {
	UpsertByName(ctx context.Context, patient *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MedicalRecordRepository manages immutable submission events.
type MedicalRecordRepository interface {
	Create(ctx context.Context, record *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	// LatestByPatient returns the most recent record by upload time,
	// ties broken by insertion sequence. ErrNotFound when none exist.
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error)
}

// DiagnosisRepository manages diagnosis records and enforces the
// one-active-record-per-patient invariant at the storage level.
type DiagnosisRepository interface {
	// EnsurePending inserts a Pending record for the patient if and only if
	// none exists. Safe to call concurrently for the same patient.
	EnsurePending(ctx context.Context, patientID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*DiagnosisRecord, error)
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*DiagnosisRecord, error)
	// Update persists the record only while the stored row is still Pending;
	// a record already finalized (or deleted) yields ErrInvalidTransition.
	Update(ctx context.Context, record *DiagnosisRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context, status DiagnosisStatus) (int64, error)
}

// ImageStore resolves opaque identifiers to stored image bytes.
type ImageStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (id string, err error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// Classifier runs the pneumonia model against a decoded bitmap.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*InferenceResult, error)
}

// ConfigManager provides access to application configuration
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetModelConfig() *ModelConfig
	Validate() error
}
