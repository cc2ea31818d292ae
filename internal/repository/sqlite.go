package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pneumonia-screening-server/internal/domain"
)

// SQLiteStore backs the patient, medical record and diagnosis repositories
// with a single SQLite database for standalone operation.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the database file and schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		gender TEXT NOT NULL DEFAULT '',
		age INTEGER NOT NULL DEFAULT 0,
		marital_status TEXT NOT NULL DEFAULT '',
		occupation TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		medical_history TEXT NOT NULL DEFAULT '',
		symptoms TEXT NOT NULL DEFAULT '',
		other TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS medical_records (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		image_id TEXT NOT NULL DEFAULT '',
		image_name TEXT NOT NULL DEFAULT '',
		medical_history TEXT NOT NULL DEFAULT '',
		symptoms TEXT NOT NULL DEFAULT '',
		other TEXT NOT NULL DEFAULT '',
		uploaded_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_medical_records_recency
		ON medical_records(patient_id, uploaded_at DESC, seq DESC);

	CREATE TABLE IF NOT EXISTS diagnosis_records (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL UNIQUE REFERENCES patients(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'Pending',
		result TEXT,
		detailed_diagnosis TEXT,
		suggestion TEXT,
		diagnosed_at DATETIME,
		diagnostician TEXT,
		controversy INTEGER,
		controversy_reason TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_diagnosis_records_status
		ON diagnosis_records(status);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Patients returns the patient repository view of the store.
func (s *SQLiteStore) Patients() *SQLitePatientRepository {
	return &SQLitePatientRepository{db: s.db}
}

// MedicalRecords returns the medical record repository view of the store.
func (s *SQLiteStore) MedicalRecords() *SQLiteMedicalRecordRepository {
	return &SQLiteMedicalRecordRepository{db: s.db}
}

// Diagnoses returns the diagnosis repository view of the store.
func (s *SQLiteStore) Diagnoses() *SQLiteDiagnosisRepository {
	return &SQLiteDiagnosisRepository{db: s.db}
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// SQLitePatientRepository implements domain.PatientRepository.
type SQLitePatientRepository struct {
	db *sql.DB
}

const sqlitePatientColumns = `id, name, gender, age, marital_status, occupation,
	phone_number, address, medical_history, symptoms, other, created_at`

// UpsertByName inserts a patient or updates the row holding the same name.
func (r *SQLitePatientRepository) UpsertByName(ctx context.Context, patient *domain.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (
			id, name, gender, age, marital_status, occupation,
			phone_number, address, medical_history, symptoms, other, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			gender = excluded.gender,
			age = excluded.age,
			marital_status = excluded.marital_status,
			occupation = excluded.occupation,
			phone_number = excluded.phone_number,
			address = excluded.address,
			medical_history = excluded.medical_history,
			symptoms = excluded.symptoms,
			other = excluded.other`,
		patient.ID.String(), patient.Name, patient.Gender, patient.Age,
		patient.MaritalStatus, patient.Occupation, patient.PhoneNumber,
		patient.Address, patient.MedicalHistory, patient.Symptoms,
		patient.Other, patient.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting patient: %w", err)
	}

	// The conflict path keeps the original row; read back its identity.
	var id string
	err = r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM patients WHERE name = ?`, patient.Name,
	).Scan(&id, &patient.CreatedAt)
	if err != nil {
		return fmt.Errorf("reading back upserted patient: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parsing patient id: %w", err)
	}
	patient.ID = parsed
	return nil
}

func scanSQLitePatient(row scanner) (*domain.Patient, error) {
	var p domain.Patient
	var id string
	err := row.Scan(
		&id, &p.Name, &p.Gender, &p.Age, &p.MaritalStatus, &p.Occupation,
		&p.PhoneNumber, &p.Address, &p.MedicalHistory, &p.Symptoms,
		&p.Other, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing patient id: %w", err)
	}
	return &p, nil
}

// GetByID retrieves a patient by its ID
func (r *SQLitePatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqlitePatientColumns+` FROM patients WHERE id = ?`, id.String())

	patient, err := scanSQLitePatient(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting patient by ID: %w", err)
	}
	return patient, nil
}

// List returns the full patient roster, newest first.
func (r *SQLitePatientRepository) List(ctx context.Context) ([]*domain.Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqlitePatientColumns+` FROM patients ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		patient, err := scanSQLitePatient(rows)
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
func (r *SQLitePatientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("patient %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SQLiteMedicalRecordRepository implements domain.MedicalRecordRepository.
type SQLiteMedicalRecordRepository struct {
	db *sql.DB
}

const sqliteMedicalRecordColumns = `id, patient_id, seq, image_id, image_name,
	medical_history, symptoms, other, uploaded_at, created_at`

// Create inserts a new immutable medical record with the next insertion
// sequence number.
func (r *SQLiteMedicalRecordRepository) Create(ctx context.Context, record *domain.MedicalRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.UploadedAt.IsZero() {
		record.UploadedAt = time.Now().UTC()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO medical_records (
			id, seq, patient_id, image_id, image_name,
			medical_history, symptoms, other, uploaded_at, created_at
		) VALUES (
			?, (SELECT IFNULL(MAX(seq), 0) + 1 FROM medical_records),
			?, ?, ?, ?, ?, ?, ?, ?
		)
		RETURNING seq`,
		record.ID.String(), record.PatientID.String(), record.ImageID,
		record.ImageName, record.MedicalHistory, record.Symptoms,
		record.Other, record.UploadedAt, record.CreatedAt,
	).Scan(&record.Seq)
	if err != nil {
		return fmt.Errorf("creating medical record: %w", err)
	}
	return nil
}

func scanSQLiteMedicalRecord(row scanner) (*domain.MedicalRecord, error) {
	var m domain.MedicalRecord
	var id, patientID string
	err := row.Scan(
		&id, &patientID, &m.Seq, &m.ImageID, &m.ImageName,
		&m.MedicalHistory, &m.Symptoms, &m.Other, &m.UploadedAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing medical record id: %w", err)
	}
	if m.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, fmt.Errorf("parsing medical record patient id: %w", err)
	}
	return &m, nil
}

// GetByID retrieves a medical record by its ID
func (r *SQLiteMedicalRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MedicalRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteMedicalRecordColumns+` FROM medical_records WHERE id = ?`, id.String())

	record, err := scanSQLiteMedicalRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("medical record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting medical record by ID: %w", err)
	}
	return record, nil
}

// LatestByPatient returns the most recent record by upload time, ties broken
// by insertion sequence.
func (r *SQLiteMedicalRecordRepository) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*domain.MedicalRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteMedicalRecordColumns+`
		FROM medical_records
		WHERE patient_id = ?
		ORDER BY uploaded_at DESC, seq DESC
		LIMIT 1`, patientID.String())

	record, err := scanSQLiteMedicalRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("medical records for patient %s: %w", patientID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest medical record: %w", err)
	}
	return record, nil
}

// ListByPatient returns all of a patient's records, newest first.
func (r *SQLiteMedicalRecordRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*domain.MedicalRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteMedicalRecordColumns+`
		FROM medical_records
		WHERE patient_id = ?
		ORDER BY uploaded_at DESC, seq DESC`, patientID.String())
	if err != nil {
		return nil, fmt.Errorf("listing medical records: %w", err)
	}
	defer rows.Close()

	var records []*domain.MedicalRecord
	for rows.Next() {
		record, err := scanSQLiteMedicalRecord(rows)
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

// SQLiteDiagnosisRepository implements domain.DiagnosisRepository.
type SQLiteDiagnosisRepository struct {
	db *sql.DB
}

const sqliteDiagnosisColumns = `id, patient_id, status, result, detailed_diagnosis,
	suggestion, diagnosed_at, diagnostician, controversy, controversy_reason, created_at`

// EnsurePending inserts a Pending record for the patient if none exists.
// INSERT OR IGNORE against the patient_id UNIQUE index keeps concurrent
// callers from creating duplicates.
func (r *SQLiteDiagnosisRepository) EnsurePending(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO diagnosis_records (id, patient_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.New().String(), patientID.String(), domain.StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensuring pending diagnosis record: %w", err)
	}
	return nil
}

func scanSQLiteDiagnosis(row scanner) (*domain.DiagnosisRecord, error) {
	var d domain.DiagnosisRecord
	var id, patientID string
	var result, detailed, suggestion, diagnostician, reason sql.NullString
	var diagnosedAt sql.NullTime
	var controversy sql.NullBool

	err := row.Scan(
		&id, &patientID, &d.Status, &result, &detailed, &suggestion,
		&diagnosedAt, &diagnostician, &controversy, &reason, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing diagnosis id: %w", err)
	}
	if d.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, fmt.Errorf("parsing diagnosis patient id: %w", err)
	}
	if result.Valid {
		d.Result = &result.String
	}
	if detailed.Valid {
		d.DetailedDiagnosis = &detailed.String
	}
	if suggestion.Valid {
		d.Suggestion = &suggestion.String
	}
	if diagnosedAt.Valid {
		t := diagnosedAt.Time
		d.DiagnosedAt = &t
	}
	if diagnostician.Valid {
		d.Diagnostician = &diagnostician.String
	}
	if controversy.Valid {
		d.Controversy = &controversy.Bool
	}
	if reason.Valid {
		d.ControversyReason = &reason.String
	}
	return &d, nil
}

// GetByID retrieves a diagnosis record by its ID
func (r *SQLiteDiagnosisRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DiagnosisRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteDiagnosisColumns+` FROM diagnosis_records WHERE id = ?`, id.String())

	record, err := scanSQLiteDiagnosis(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("diagnosis record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting diagnosis record by ID: %w", err)
	}
	return record, nil
}

// GetByPatient retrieves the patient's active diagnosis record
func (r *SQLiteDiagnosisRepository) GetByPatient(ctx context.Context, patientID uuid.UUID) (*domain.DiagnosisRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteDiagnosisColumns+` FROM diagnosis_records WHERE patient_id = ?`,
		patientID.String())

	record, err := scanSQLiteDiagnosis(row)
	if err != nil {
		if err == sql.ErrNoRows {
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
func (r *SQLiteDiagnosisRepository) Update(ctx context.Context, record *domain.DiagnosisRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE diagnosis_records SET
			status = ?,
			result = ?,
			detailed_diagnosis = ?,
			suggestion = ?,
			diagnosed_at = ?,
			diagnostician = ?,
			controversy = ?,
			controversy_reason = ?
		WHERE id = ? AND status = ?`,
		record.Status,
		nullString(record.Result),
		nullString(record.DetailedDiagnosis),
		nullString(record.Suggestion),
		nullTime(record.DiagnosedAt),
		nullString(record.Diagnostician),
		nullBool(record.Controversy),
		nullString(record.ControversyReason),
		record.ID.String(),
		domain.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("updating diagnosis record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating diagnosis record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("diagnosis record %s: %w", record.ID, domain.ErrInvalidTransition)
	}
	return nil
}

// Delete removes a diagnosis record outright. The next reconciliation
// recreates a fresh Pending record for the patient; no history is retained.
func (r *SQLiteDiagnosisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM diagnosis_records WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting diagnosis record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting diagnosis record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("diagnosis record %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CountByStatus counts records in a given lifecycle state.
func (r *SQLiteDiagnosisRepository) CountByStatus(ctx context.Context, status domain.DiagnosisStatus) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM diagnosis_records WHERE status = ?`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting diagnosis records: %w", err)
	}
	return count, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
