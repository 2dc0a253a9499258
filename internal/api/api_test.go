package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/HealthLog/internal/flow"
	"github.com/BTreeMap/HealthLog/internal/models"
	"github.com/BTreeMap/HealthLog/internal/store"
)

type mockTranscriber struct {
	transcript string
	err        error
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.transcript, nil
}

type mockAssessor struct {
	response string
	err      error
	calls    int
}

func (m *mockAssessor) GenerateAssessment(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type mockAnalyzer struct {
	output string
	err    error
}

func (m *mockAnalyzer) AnalyzeMealPhoto(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.output, nil
}

type mockRows struct {
	calls int
	err   error
}

func (m *mockRows) Append(ctx context.Context, date, label, notes string) error {
	m.calls++
	return m.err
}

type testDeps struct {
	transcriber *mockTranscriber
	assessor    *mockAssessor
	analyzer    *mockAnalyzer
	rows        *mockRows
	st          store.Store
}

func newTestServer() (*Server, *testDeps) {
	deps := &testDeps{
		transcriber: &mockTranscriber{transcript: "ate eggs and toast"},
		assessor:    &mockAssessor{response: "Nice start to the day."},
		analyzer:    &mockAnalyzer{output: "Grilled chicken with vegetables."},
		rows:        &mockRows{},
		st:          store.NewInMemoryStore(),
	}
	machine := flow.NewMachine(deps.transcriber, deps.assessor, deps.analyzer, deps.rows)
	server := NewServer(machine, deps.st)
	return server, deps
}

// doRequest sends a request through the full middleware and routing chain.
func doRequest(server *Server, method, path, sessionID, contentType string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if sessionID != "" {
		req.Header.Set(SessionHeaderName, sessionID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func parseAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, rec.Body.String())
	}
	return response
}

func stepResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	response := parseAPIResponse(t, rec)
	if response.Status != string(models.APIStatusOK) {
		t.Fatalf("Expected status=%s, got status=%s, message=%s", models.APIStatusOK, response.Status, response.Message)
	}
	result, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result to be a map, got %T", response.Result)
	}
	return result
}

func multipartBody(t *testing.T, field, filename string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

// jpegBytes opens with the JPEG magic number so content sniffing accepts it.
var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer()
	rec := doRequest(server, http.MethodGet, "/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Expected healthy status, got %s", rec.Body.String())
	}
}

func TestFullVisitOverHTTP(t *testing.T) {
	server, deps := newTestServer()
	const sid = "s_visit"

	// Opening voice note
	rec := doRequest(server, http.MethodPost, "/session/audio", sid, "audio/wav", []byte("fake-audio"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d (body: %s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	result := stepResult(t, rec)
	if result["stage"] != string(models.StagePhotoCheck) {
		t.Errorf("Expected stage %s, got %v", models.StagePhotoCheck, result["stage"])
	}
	if result["reply"] != "Nice start to the day." {
		t.Errorf("Expected assessment reply, got %v", result["reply"])
	}

	// Meal photo does not advance the stage
	body, contentType := multipartBody(t, photoFieldName, "meal.jpg", jpegBytes)
	rec = doRequest(server, http.MethodPost, "/session/photo", sid, contentType, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d (body: %s)", http.StatusOK, rec.Code, rec.Body.String())
	}
	result = stepResult(t, rec)
	if result["stage"] != string(models.StagePhotoCheck) {
		t.Errorf("Expected stage to remain %s after photo, got %v", models.StagePhotoCheck, result["stage"])
	}

	// Voice detail advances to the carb question
	deps.transcriber.transcript = "also had a salad"
	rec = doRequest(server, http.MethodPost, "/session/audio", sid, "audio/wav", []byte("fake-audio"))
	result = stepResult(t, rec)
	if result["stage"] != string(models.StageCarbCheckAsk) {
		t.Errorf("Expected stage %s, got %v", models.StageCarbCheckAsk, result["stage"])
	}
	if result["reply"] != flow.CarbQuestion {
		t.Errorf("Expected the carb question, got %v", result["reply"])
	}

	// Carb answer
	rec = doRequest(server, http.MethodPost, "/session/carbs", sid, "application/json", []byte(`{"answer":"just rice"}`))
	result = stepResult(t, rec)
	if result["stage"] != string(models.StageFinalSummary) {
		t.Errorf("Expected stage %s, got %v", models.StageFinalSummary, result["stage"])
	}

	// Final summary appends exactly one spreadsheet row
	deps.assessor.response = "Solid adherence today."
	rec = doRequest(server, http.MethodPost, "/session/summary", sid, "", nil)
	result = stepResult(t, rec)
	if result["reply"] != "Solid adherence today." {
		t.Errorf("Expected summary reply, got %v", result["reply"])
	}
	if deps.rows.calls != 1 {
		t.Errorf("Expected exactly 1 row append, got %d", deps.rows.calls)
	}

	// Repeating the summary request must not append another row
	rec = doRequest(server, http.MethodPost, "/session/summary", sid, "", nil)
	result = stepResult(t, rec)
	if result["reply"] != "Solid adherence today." {
		t.Errorf("Expected replayed summary, got %v", result["reply"])
	}
	if deps.rows.calls != 1 {
		t.Errorf("Expected still 1 row append after replay, got %d", deps.rows.calls)
	}

	// The visit left one local log entry
	rec = doRequest(server, http.MethodGet, "/entries", sid, "", nil)
	response := parseAPIResponse(t, rec)
	entries, ok := response.Result.([]interface{})
	if !ok {
		t.Fatalf("Expected result to be a slice, got %T", response.Result)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 log entry, got %d", len(entries))
	}
}

func TestAudioEndpoint_TranscriptionFailure(t *testing.T) {
	server, deps := newTestServer()
	deps.transcriber.err = models.ErrUnrecognizedAudio
	const sid = "s_badaudio"

	rec := doRequest(server, http.MethodPost, "/session/audio", sid, "audio/wav", []byte("garbage"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}

	// The failure must not have advanced or persisted the session.
	rec = doRequest(server, http.MethodGet, "/session", sid, "", nil)
	result := stepResult(t, rec)
	if result["stage"] != string(models.StageStart) {
		t.Errorf("Expected stage to remain %s, got %v", models.StageStart, result["stage"])
	}
	if result["transcription_log"] != "" {
		t.Errorf("Expected empty log after failed transcription, got %v", result["transcription_log"])
	}
}

func TestAudioEndpoint_EmptyBody(t *testing.T) {
	server, _ := newTestServer()
	rec := doRequest(server, http.MethodPost, "/session/audio", "s_empty", "audio/wav", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestAudioEndpoint_StageConflict(t *testing.T) {
	server, deps := newTestServer()
	sess := models.NewSession("s_done")
	sess.Stage = models.StageFinalSummary
	if err := deps.st.SaveSession(sess); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	rec := doRequest(server, http.MethodPost, "/session/audio", "s_done", "audio/wav", []byte("audio"))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestPhotoEndpoint_UnsupportedFormat(t *testing.T) {
	server, deps := newTestServer()
	sess := models.NewSession("s_photo")
	sess.Stage = models.StagePhotoCheck
	if err := deps.st.SaveSession(sess); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	body, contentType := multipartBody(t, photoFieldName, "notes.txt", []byte("this is not an image"))
	rec := doRequest(server, http.MethodPost, "/session/photo", "s_photo", contentType, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestPhotoEndpoint_StageConflict(t *testing.T) {
	server, _ := newTestServer()
	body, contentType := multipartBody(t, photoFieldName, "meal.jpg", jpegBytes)
	rec := doRequest(server, http.MethodPost, "/session/photo", "s_fresh", contentType, body)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestCarbEndpoint_InvalidJSON(t *testing.T) {
	server, _ := newTestServer()
	rec := doRequest(server, http.MethodPost, "/session/carbs", "s_json", "application/json", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestCarbEndpoint_EmptyAnswer(t *testing.T) {
	server, _ := newTestServer()
	rec := doRequest(server, http.MethodPost, "/session/carbs", "s_blank", "application/json", []byte(`{"answer":"   "}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestSummaryEndpoint_GeneratorFailure(t *testing.T) {
	server, deps := newTestServer()
	deps.assessor.err = errors.New("service unavailable")
	sess := models.NewSession("s_fail")
	sess.Stage = models.StageFinalSummary
	sess.TranscriptionLog = "ate eggs and toast"
	sess.CarbResponse = "none"
	if err := deps.st.SaveSession(sess); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	rec := doRequest(server, http.MethodPost, "/session/summary", "s_fail", "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status %d, got %d", http.StatusBadGateway, rec.Code)
	}
	if deps.rows.calls != 0 {
		t.Errorf("Expected no row append after failed generation, got %d", deps.rows.calls)
	}
}

func TestResetEndpoint(t *testing.T) {
	server, deps := newTestServer()
	sess := models.NewSession("s_reset")
	sess.Stage = models.StageFinalSummary
	sess.TranscriptionLog = "ate eggs and toast"
	sess.CarbResponse = "just rice"
	if err := deps.st.SaveSession(sess); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	rec := doRequest(server, http.MethodPost, "/session/reset", "s_reset", "", nil)
	result := stepResult(t, rec)
	if result["stage"] != string(models.StageStart) {
		t.Errorf("Expected stage %s after reset, got %v", models.StageStart, result["stage"])
	}

	// The cleared record is persisted.
	stored, err := deps.st.GetSession("s_reset")
	if err != nil || stored == nil {
		t.Fatalf("Failed to reload session: %v", err)
	}
	if stored.Stage != models.StageStart || stored.TranscriptionLog != "" || stored.CarbResponse != "" {
		t.Errorf("Expected cleared session in store, got %+v", stored)
	}
}

func TestSessionMinting(t *testing.T) {
	server, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected a session cookie to be set")
	}
	if !strings.HasPrefix(cookie.Value, "s_") {
		t.Errorf("Expected session ID with s_ prefix, got %q", cookie.Value)
	}

	result := stepResult(t, rec)
	if result["stage"] != string(models.StageStart) {
		t.Errorf("Expected fresh session in stage %s, got %v", models.StageStart, result["stage"])
	}
	if result["id"] != cookie.Value {
		t.Errorf("Expected session ID %q in response, got %v", cookie.Value, result["id"])
	}
}

func TestSessionPersistsAcrossRequests(t *testing.T) {
	server, _ := newTestServer()
	const sid = "s_sticky"

	rec := doRequest(server, http.MethodPost, "/session/audio", sid, "audio/wav", []byte("fake-audio"))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d (body: %s)", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = doRequest(server, http.MethodGet, "/session", sid, "", nil)
	result := stepResult(t, rec)
	if result["stage"] != string(models.StagePhotoCheck) {
		t.Errorf("Expected rehydrated stage %s, got %v", models.StagePhotoCheck, result["stage"])
	}
	if result["transcription_log"] != "ate eggs and toast" {
		t.Errorf("Expected rehydrated log, got %v", result["transcription_log"])
	}
}
