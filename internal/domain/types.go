package domain

import (
	"errors"
)

// Core Enums and Types

// DiagnosisStatus represents the lifecycle state of a diagnosis record
type DiagnosisStatus string

const (
	StatusPending   DiagnosisStatus = "Pending"
	StatusFinalized DiagnosisStatus = "Finalized"
)

// ClinicalLabel represents the classes emitted by the pneumonia classifier
type ClinicalLabel string

const (
	LabelNormal    ClinicalLabel = "normal"
	LabelPneumonia ClinicalLabel = "pneumonia"
)

// ClassLabels fixes the classifier's output vector order: normal, pneumonia.
var ClassLabels = [2]ClinicalLabel{LabelNormal, LabelPneumonia}

// Worklist result filter values
const (
	ResultFilterAll       = "All"
	ResultFilterNormal    = "Normal"
	ResultFilterPneumonia = "Pneumonia"
)

// Sentinel errors shared across layers
var (
	ErrNotFound          = errors.New("not found")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrImageDecode       = errors.New("image decode failed")
	ErrInvalidTransition = errors.New("invalid diagnosis transition")
)
