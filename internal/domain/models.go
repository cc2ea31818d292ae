package domain

import (
	"time"

	"github.com/google/uuid"
)

// Patient holds identity attributes and the free-text medical narrative.
// Identity is the generated UUID; the display name is a mutable attribute
// that the legacy submission path still uses for upsert matching.
type Patient struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Gender        string    `json:"gender"`
	Age           int       `json:"age"`
	MaritalStatus string    `json:"marital_status,omitempty"`
	Occupation    string    `json:"occupation,omitempty"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	Address       string    `json:"address,omitempty"`

	MedicalHistory string `json:"medical_history,omitempty"`
	Symptoms       string `json:"symptoms,omitempty"`
	Other          string `json:"other,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// MedicalRecord is one immutable submission event. A new submission creates
// a new record; the current record is the most recent by upload time, with
// the monotonic Seq breaking ties.
type MedicalRecord struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Seq       int64     `json:"seq"`

	ImageID   string `json:"image_id"`
	ImageName string `json:"image_name"`

	MedicalHistory string `json:"medical_history,omitempty"`
	Symptoms       string `json:"symptoms,omitempty"`
	Other          string `json:"other,omitempty"`

	UploadedAt time.Time `json:"uploaded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DiagnosisRecord is the workflow-critical entity. At most one active record
// exists per patient; all clinical fields are null while Pending.
type DiagnosisRecord struct {
	ID        uuid.UUID       `json:"id"`
	PatientID uuid.UUID       `json:"patient_id"`
	Status    DiagnosisStatus `json:"status"`

	Result            *string    `json:"result,omitempty"`
	DetailedDiagnosis *string    `json:"detailed_diagnosis,omitempty"`
	Suggestion        *string    `json:"suggestion,omitempty"`
	DiagnosedAt       *time.Time `json:"diagnosed_at,omitempty"`
	Diagnostician     *string    `json:"diagnostician,omitempty"`
	Controversy       *bool      `json:"controversy,omitempty"`
	ControversyReason *string    `json:"controversy_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewPendingDiagnosis constructs the initial record for a patient.
func NewPendingDiagnosis(patientID uuid.UUID) *DiagnosisRecord {
	return &DiagnosisRecord{
		ID:        uuid.New(),
		PatientID: patientID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// InferenceResult is the transient outcome of one classifier invocation.
// Confidences are per-class sigmoid outputs in class order (normal,
// pneumonia) and are not required to sum to 1. LatencyMS covers the forward
// pass only.
type InferenceResult struct {
	Label       ClinicalLabel `json:"label"`
	Confidences [2]float32    `json:"confidences"`
	LatencyMS   float64       `json:"latency_ms"`
}

// WorklistEntry is the merged per-patient view shown to a doctor.
type WorklistEntry struct {
	Patient      Patient         `json:"patient"`
	LatestRecord *MedicalRecord  `json:"latest_record,omitempty"`
	Diagnosis    DiagnosisRecord `json:"diagnosis"`
}

// WorklistFilter restricts the merged worklist. Zero values mean "no
// restriction"; populated fields compose by conjunction.
type WorklistFilter struct {
	Result      string          // "", "All", "Normal" or "Pneumonia"
	Status      DiagnosisStatus // "" for any
	Controversy *bool           // nil for any
}

// Matches reports whether an entry satisfies every populated filter field.
func (f WorklistFilter) Matches(e WorklistEntry) bool {
	if f.Result != "" && f.Result != ResultFilterAll {
		if e.Diagnosis.Result == nil || *e.Diagnosis.Result != f.Result {
			return false
		}
	}
	if f.Status != "" && e.Diagnosis.Status != f.Status {
		return false
	}
	if f.Controversy != nil {
		if e.Diagnosis.Controversy == nil || *e.Diagnosis.Controversy != *f.Controversy {
			return false
		}
	}
	return true
}

// WorklistStats summarizes the doctor-facing queue.
type WorklistStats struct {
	Pending   int64 `json:"pending"`
	Finalized int64 `json:"finalized"`
}
