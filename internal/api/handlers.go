package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/pkg/imaging"
)

// handleUpsertPatient creates or refreshes a patient profile, matched by
// display name.
func (s *Server) handleUpsertPatient(c *gin.Context) {
	var patient domain.Patient
	if err := c.ShouldBindJSON(&patient); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid patient payload", err.Error()))
		return
	}

	saved, err := s.intake.UpsertPatient(c.Request.Context(), &patient)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleGetPatient(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	patient, err := s.intake.GetPatient(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleDeletePatient(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.intake.DeletePatient(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePatientHistory(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	records, err := s.intake.PatientHistory(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": id, "records": records})
}

// handleSubmitRecord accepts a multipart form with the chest image and the
// narrative fields, and appends a new medical record for the patient.
func (s *Server) handleSubmitRecord(c *gin.Context) {
	patientID, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		s.respondError(c, domain.NewValidationError("image", "image file is required", err.Error()))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		s.respondError(c, domain.NewValidationError("image", "failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	record := &domain.MedicalRecord{
		PatientID:      patientID,
		MedicalHistory: c.PostForm("medical_history"),
		Symptoms:       c.PostForm("symptoms"),
		Other:          c.PostForm("other"),
	}

	saved, err := s.intake.SubmitRecord(c.Request.Context(), record, fileHeader.Filename, file)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleGetRecord(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	record, err := s.intake.RecordDetail(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleRecordImage streams the stored chest image back to the caller.
func (s *Server) handleRecordImage(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	rc, name, err := s.intake.OpenImage(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

// handleClassifyRecord runs the screening model against a stored record.
func (s *Server) handleClassifyRecord(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := s.intake.ClassifyRecord(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": id, "inference": result})
}

// handleAnalyze classifies an uploaded image without persisting anything.
func (s *Server) handleAnalyze(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		s.respondError(c, domain.NewValidationError("image", "image file is required", err.Error()))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		s.respondError(c, domain.NewValidationError("image", "failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	img, err := imaging.Decode(file)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", domain.ErrImageDecode, err))
		return
	}

	result, err := s.classifier.Classify(c.Request.Context(), img)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inference": result})
}

// handleWorklist reconciles diagnosis records with the patient roster and
// returns the merged, filtered worklist.
func (s *Server) handleWorklist(c *gin.Context) {
	filter := domain.WorklistFilter{
		Result: c.Query("result"),
		Status: domain.DiagnosisStatus(c.Query("status")),
	}
	if raw := c.Query("controversy"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("controversy", "must be a boolean", raw))
			return
		}
		filter.Controversy = &v
	}

	entries, err := s.worklist.Reconcile(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

func (s *Server) handleWorklistStats(c *gin.Context) {
	stats, err := s.worklist.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetDiagnosis(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	record, err := s.diagnosis.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleFinalizeDiagnosis records the doctor's verdict. The diagnostician
// defaults to the authenticated identity forwarded in X-Diagnostician.
func (s *Server) handleFinalizeDiagnosis(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var input domain.FinalizeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid finalize payload", err.Error()))
		return
	}
	if input.Diagnostician == "" {
		input.Diagnostician = c.GetHeader("X-Diagnostician")
	}

	record, err := s.diagnosis.Finalize(c.Request.Context(), id, input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleDeleteDiagnosis(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.diagnosis.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.respondError(c, domain.NewValidationError(name, "must be a UUID", c.Param(name)))
		return uuid.Nil, false
	}
	return id, true
}

// respondError translates domain failures into the standardized error
// payload and status code.
func (s *Server) respondError(c *gin.Context, err error) {
	correlationID := c.GetString("correlation_id")

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.CodeValidation, validationErr.Message, validationErr.Field, correlationID))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(
			domain.CodeNotFound, "resource not found", err.Error(), correlationID))
	case errors.Is(err, domain.ErrImageDecode):
		c.JSON(http.StatusUnprocessableEntity, domain.NewAPIError(
			domain.CodeImageDecode, "image could not be decoded", err.Error(), correlationID))
	case errors.Is(err, domain.ErrModelUnavailable):
		c.JSON(http.StatusServiceUnavailable, domain.NewAPIError(
			domain.CodeModelUnavailable, "inference model unavailable", err.Error(), correlationID))
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, domain.NewAPIError(
			domain.CodeValidation, "diagnosis is not pending", err.Error(), correlationID))
	default:
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.CodeStorage, "internal error", "", correlationID))
	}
}
