package domain

import (
	"strings"
	"time"
)

// FinalizeInput carries the doctor's verdict for a pending diagnosis.
type FinalizeInput struct {
	Result            string `json:"result"`
	DetailedDiagnosis string `json:"detailed_diagnosis"`
	Suggestion        string `json:"suggestion"`
	Diagnostician     string `json:"diagnostician"`
	Controversy       bool   `json:"controversy"`
	ControversyReason string `json:"controversy_reason"`
}

// Validate checks the required finalize fields. The controversy reason is
// deliberately not required when the flag is set; an absent reason is stored
// as an empty annotation.
func (in FinalizeInput) Validate() error {
	if strings.TrimSpace(in.Result) == "" {
		return NewValidationError("result", "diagnosis result must not be empty", in.Result)
	}
	if strings.TrimSpace(in.Diagnostician) == "" {
		return NewValidationError("diagnostician", "diagnostician must not be empty", in.Diagnostician)
	}
	return nil
}

// Finalize transitions the record from Pending to Finalized, setting all
// clinical fields and the finalize timestamp atomically. It is legal only
// from Pending; Finalized is terminal for the normal flow and reverting
// requires deleting the record.
func (r *DiagnosisRecord) Finalize(in FinalizeInput, now time.Time) error {
	if r.Status != StatusPending {
		return ErrInvalidTransition
	}
	if err := in.Validate(); err != nil {
		return err
	}

	result := in.Result
	detailed := in.DetailedDiagnosis
	suggestion := in.Suggestion
	diagnostician := in.Diagnostician
	controversy := in.Controversy
	diagnosedAt := now.UTC()

	r.Status = StatusFinalized
	r.Result = &result
	r.DetailedDiagnosis = &detailed
	r.Suggestion = &suggestion
	r.Diagnostician = &diagnostician
	r.DiagnosedAt = &diagnosedAt
	r.Controversy = &controversy
	if controversy {
		reason := in.ControversyReason
		r.ControversyReason = &reason
	} else {
		r.ControversyReason = nil
	}
	return nil
}

// IsFinalized reports whether the record reached the terminal state.
func (r *DiagnosisRecord) IsFinalized() bool {
	return r.Status == StatusFinalized
}
