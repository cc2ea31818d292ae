package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumonia-screening-server/internal/config"
	"github.com/pneumonia-screening-server/internal/domain"
	"github.com/pneumonia-screening-server/internal/repository"
	"github.com/pneumonia-screening-server/internal/service"
	"github.com/pneumonia-screening-server/internal/storage"
)

type stubClassifier struct {
	result *domain.InferenceResult
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, img image.Image) (*domain.InferenceResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(t *testing.T, classifier domain.Classifier) *Server {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = dataDir
	manager := config.NewLiteManager(cfg)

	store, err := repository.NewSQLiteStore(filepath.Join(dataDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	images, err := storage.NewFileStore(filepath.Join(dataDir, "media"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	intake := service.NewIntakeService(store.Patients(), store.MedicalRecords(), store.Diagnoses(), images, classifier, logger)
	worklist := service.NewWorklistService(store.Patients(), store.MedicalRecords(), store.Diagnoses(), logger)
	diagnosis := service.NewDiagnosisService(store.Diagnoses(), logger)

	return NewServer(manager, intake, worklist, diagnosis, classifier)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func uploadImage(t *testing.T, srv *Server, path string, extraFields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 32, 32))
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "chest.png")
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	for k, v := range extraFields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func createPatient(t *testing.T, srv *Server, name string) domain.Patient {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/patients", map[string]interface{}{
		"name": name, "gender": "M", "age": 47,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var p domain.Patient
	decodeBody(t, w, &p)
	return p
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPatientLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})

	p := createPatient(t, srv, "alice")
	assert.Equal(t, "alice", p.Name)

	// upsert by the same name returns the same identity
	again := createPatient(t, srv, "alice")
	assert.Equal(t, p.ID, again.ID)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/patients/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/patients/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/patients/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRecordAndHistory(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})
	p := createPatient(t, srv, "alice")

	w := uploadImage(t, srv, "/api/v1/patients/"+p.ID.String()+"/records", map[string]string{
		"symptoms": "persistent cough",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var rec domain.MedicalRecord
	decodeBody(t, w, &rec)
	assert.Equal(t, p.ID, rec.PatientID)
	assert.Equal(t, "persistent cough", rec.Symptoms)
	assert.NotEmpty(t, rec.ImageID)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/patients/"+p.ID.String()+"/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Records []domain.MedicalRecord `json:"records"`
	}
	decodeBody(t, w, &history)
	require.Len(t, history.Records, 1)

	// stored image streams back
	w = doJSON(t, srv, http.MethodGet, "/api/v1/records/"+rec.ID.String()+"/image", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}

func TestWorklistReconcileAndFinalize(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})
	createPatient(t, srv, "alice")

	var worklist struct {
		Count   int                    `json:"count"`
		Entries []domain.WorklistEntry `json:"entries"`
	}

	w := doJSON(t, srv, http.MethodGet, "/api/v1/worklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &worklist)
	require.Equal(t, 1, worklist.Count)
	require.Equal(t, domain.StatusPending, worklist.Entries[0].Diagnosis.Status)
	diagnosisID := worklist.Entries[0].Diagnosis.ID

	// finalize with the diagnostician carried in the trusted header
	req := httptest.NewRequest(http.MethodPut, "/api/v1/diagnoses/"+diagnosisID.String()+"/finalize",
		bytes.NewBufferString(`{"result":"Pneumonia","detailed_diagnosis":"right lower lobe","controversy":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Diagnostician", "dr.chen")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var finalized domain.DiagnosisRecord
	decodeBody(t, w, &finalized)
	assert.Equal(t, domain.StatusFinalized, finalized.Status)
	require.NotNil(t, finalized.Diagnostician)
	assert.Equal(t, "dr.chen", *finalized.Diagnostician)
	require.NotNil(t, finalized.ControversyReason)
	assert.Empty(t, *finalized.ControversyReason)

	// a second finalize conflicts
	w = doJSON(t, srv, http.MethodPut, "/api/v1/diagnoses/"+diagnosisID.String()+"/finalize", map[string]interface{}{
		"result": "Normal", "diagnostician": "dr.wu",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// deleting the verdict resurfaces the patient as Pending
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/diagnoses/"+diagnosisID.String(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/worklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &worklist)
	require.Equal(t, 1, worklist.Count)
	assert.Equal(t, domain.StatusPending, worklist.Entries[0].Diagnosis.Status)
	assert.NotEqual(t, diagnosisID, worklist.Entries[0].Diagnosis.ID)
}

func TestFinalizeValidation(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})
	createPatient(t, srv, "alice")

	var worklist struct {
		Entries []domain.WorklistEntry `json:"entries"`
	}
	w := doJSON(t, srv, http.MethodGet, "/api/v1/worklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &worklist)
	require.Len(t, worklist.Entries, 1)
	id := worklist.Entries[0].Diagnosis.ID

	// missing result
	w = doJSON(t, srv, http.MethodPut, "/api/v1/diagnoses/"+id.String()+"/finalize", map[string]interface{}{
		"diagnostician": "dr.chen",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// missing diagnostician (no header either)
	w = doJSON(t, srv, http.MethodPut, "/api/v1/diagnoses/"+id.String()+"/finalize", map[string]interface{}{
		"result": "Normal",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorklistFilterQuery(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})
	createPatient(t, srv, "alice")
	createPatient(t, srv, "bob")

	var worklist struct {
		Count int `json:"count"`
	}

	w := doJSON(t, srv, http.MethodGet, "/api/v1/worklist?status=Pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &worklist)
	assert.Equal(t, 2, worklist.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/worklist?status=Finalized", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &worklist)
	assert.Equal(t, 0, worklist.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/worklist?controversy=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{
		result: &domain.InferenceResult{
			Label:       domain.LabelPneumonia,
			Confidences: [2]float32{0.2, 0.9},
			LatencyMS:   12.5,
		},
	})

	w := uploadImage(t, srv, "/api/v1/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Inference domain.InferenceResult `json:"inference"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, domain.LabelPneumonia, resp.Inference.Label)
}

func TestAnalyzeRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "junk.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("this is not an image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// the payload carries the underlying decode cause
	var apiErr domain.APIError
	decodeBody(t, w, &apiErr)
	assert.Equal(t, domain.CodeImageDecode, apiErr.Code)
	assert.NotEmpty(t, apiErr.Details)
}

func TestRecordImageFilenameEscaped(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})
	p := createPatient(t, srv, "alice")

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	const trickyName = `chest "lateral".png`

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", trickyName)
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/records", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec domain.MedicalRecord
	decodeBody(t, w, &rec)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/records/"+rec.ID.String()+"/image", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// the quoted filename must survive header round-tripping intact
	disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "inline", disposition)
	assert.Equal(t, trickyName, params["filename"])
}

func TestClassifyUnavailableModel(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{err: domain.ErrModelUnavailable})

	w := uploadImage(t, srv, "/api/v1/analyze", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInvalidUUIDPath(t *testing.T) {
	srv := newTestServer(t, &stubClassifier{})

	w := doJSON(t, srv, http.MethodGet, "/api/v1/patients/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
