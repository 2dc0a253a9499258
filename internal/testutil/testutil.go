// Package testutil provides common test utilities and helpers for HealthLog tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/BTreeMap/HealthLog/internal/api"
	"github.com/BTreeMap/HealthLog/internal/flow"
	"github.com/BTreeMap/HealthLog/internal/models"
	"github.com/BTreeMap/HealthLog/internal/store"
)

// TestingT is the subset of testing.T the helpers need. It lets tests of the
// helpers themselves substitute a recording implementation.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatal(args ...interface{})
}

// Canned adapter outputs used by NewTestServer.
const (
	TestTranscript    = "ate eggs and toast"
	TestAssessment    = "Nice start to the day."
	TestPhotoAnalysis = "Grilled chicken with vegetables."
)

// MockTranscriber returns a fixed transcript or a fixed error.
type MockTranscriber struct {
	Transcript string
	Err        error
}

// Transcribe implements flow.Transcriber.
func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Transcript, nil
}

// MockAssessor returns a fixed assessment or a fixed error and counts calls.
type MockAssessor struct {
	Response string
	Err      error
	Calls    int
}

// GenerateAssessment implements flow.Assessor.
func (m *MockAssessor) GenerateAssessment(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// MockAnalyzer returns a fixed photo analysis or a fixed error.
type MockAnalyzer struct {
	Output string
	Err    error
}

// AnalyzeMealPhoto implements flow.PhotoAnalyzer.
func (m *MockAnalyzer) AnalyzeMealPhoto(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Output, nil
}

// MockRows records appended spreadsheet rows.
type MockRows struct {
	Calls int
	Err   error
}

// Append implements flow.RowAppender.
func (m *MockRows) Append(ctx context.Context, date, label, notes string) error {
	m.Calls++
	return m.Err
}

// NewTestServer creates an API server over an in-memory store and mock
// adapters that return the canned Test* values. This centralizes the test
// server creation logic used across multiple test files.
func NewTestServer() *api.Server {
	machine := flow.NewMachine(
		&MockTranscriber{Transcript: TestTranscript},
		&MockAssessor{Response: TestAssessment},
		&MockAnalyzer{Output: TestPhotoAnalysis},
		&MockRows{},
	)
	return api.NewServer(machine, store.NewInMemoryStore())
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON-marshaled body.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateJSONRequest creates an HTTP request with a raw JSON string body.
func CreateJSONRequest(t TestingT, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if jsonBody != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// AssertEntryCount validates the number of log entries stored for a session.
func AssertEntryCount(t TestingT, st store.Store, sessionID string, expected int, context string) {
	t.Helper()
	entries, err := st.GetLogEntries(sessionID)
	if err != nil {
		t.Fatalf("%s: failed to get log entries: %v", context, err)
	}
	if len(entries) != expected {
		t.Errorf("%s: expected %d log entries, got %d", context, expected, len(entries))
	}
}

// SeedTestData adds a mid-visit session and a completed session with one log
// entry to the store.
func SeedTestData(t TestingT, st store.Store) {
	t.Helper()

	active := models.NewSession("s_seed_active")
	active.Stage = models.StagePhotoCheck
	active.TranscriptionLog = TestTranscript
	if err := st.SaveSession(active); err != nil {
		t.Fatalf("failed to seed active session: %v", err)
	}

	done := models.NewSession("s_seed_done")
	done.Stage = models.StageFinalSummary
	done.TranscriptionLog = TestTranscript
	done.CarbResponse = "just rice"
	done.FinalSummary = TestAssessment
	if err := st.SaveSession(done); err != nil {
		t.Fatalf("failed to seed completed session: %v", err)
	}

	entry := models.LogEntry{
		SessionID: done.ID,
		Date:      "2025-08-25",
		Label:     models.StageLabel(models.StageFinalSummary),
		Notes:     TestAssessment,
	}
	if err := st.AddLogEntry(entry); err != nil {
		t.Fatalf("failed to seed log entry: %v", err)
	}
}

// AssertSessionEquals compares the durable fields of two session records.
func AssertSessionEquals(t TestingT, expected, actual models.Session, context string) {
	t.Helper()
	if actual.ID != expected.ID ||
		actual.Stage != expected.Stage ||
		actual.TranscriptionLog != expected.TranscriptionLog ||
		actual.PhotoAssessment != expected.PhotoAssessment ||
		actual.CarbResponse != expected.CarbResponse ||
		actual.PhotoAnalysisDone != expected.PhotoAnalysisDone ||
		actual.FinalSummary != expected.FinalSummary {
		t.Errorf("%s: sessions don't match\nexpected: %+v\nactual: %+v", context, expected, actual)
	}
}

// MustMarshalJSON marshals an object to JSON and fails the test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails the test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
