package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/HealthLog/internal/api"
	"github.com/BTreeMap/HealthLog/internal/models"
	"github.com/BTreeMap/HealthLog/internal/testutil"
)

func serve(server *api.Server, req *http.Request, sessionID string) *httptest.ResponseRecorder {
	req.Header.Set(api.SessionHeaderName, sessionID)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func stepStage(t *testing.T, response map[string]interface{}) string {
	t.Helper()
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result object, got %T", response["result"])
	}
	stage, _ := result["stage"].(string)
	return stage
}

// TestVisitLifecycle walks a complete daily visit through the assembled
// server: voice note, follow-up detail, carb answer, final summary, reset.
func TestVisitLifecycle(t *testing.T) {
	server := testutil.NewTestServer()
	const sid = "s_lifecycle"

	req := httptest.NewRequest(http.MethodPost, "/session/audio", bytes.NewReader([]byte("fake-audio")))
	req.Header.Set("Content-Type", "audio/wav")
	rec := serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "opening voice note")
	response := testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	if stage := stepStage(t, response); stage != string(models.StagePhotoCheck) {
		t.Errorf("Expected stage %s after opening note, got %s", models.StagePhotoCheck, stage)
	}

	req = httptest.NewRequest(http.MethodPost, "/session/audio", bytes.NewReader([]byte("fake-audio")))
	req.Header.Set("Content-Type", "audio/wav")
	rec = serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "voice detail")
	response = testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	if stage := stepStage(t, response); stage != string(models.StageCarbCheckAsk) {
		t.Errorf("Expected stage %s after detail, got %s", models.StageCarbCheckAsk, stage)
	}

	req = testutil.CreateJSONRequest(t, http.MethodPost, "/session/carbs", `{"answer":"just rice"}`)
	rec = serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "carb answer")
	response = testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	if stage := stepStage(t, response); stage != string(models.StageFinalSummary) {
		t.Errorf("Expected stage %s after carb answer, got %s", models.StageFinalSummary, stage)
	}

	req = httptest.NewRequest(http.MethodPost, "/session/summary", nil)
	rec = serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "final summary")
	response = testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	result := response["result"].(map[string]interface{})
	if result["reply"] != testutil.TestAssessment {
		t.Errorf("Expected canned assessment as summary, got %v", result["reply"])
	}

	req = httptest.NewRequest(http.MethodGet, "/entries", nil)
	rec = serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "entries")
	response = testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	entries, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("Expected entries slice, got %T", response["result"])
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 log entry after summary, got %d", len(entries))
	}

	req = httptest.NewRequest(http.MethodPost, "/session/reset", nil)
	rec = serve(server, req, sid)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "reset")
	response = testutil.AssertJSONResponse(t, rec, string(models.APIStatusOK))
	if stage := stepStage(t, response); stage != string(models.StageStart) {
		t.Errorf("Expected stage %s after reset, got %s", models.StageStart, stage)
	}
}

func TestCarbAnswerRejectionOverHTTP(t *testing.T) {
	server := testutil.NewTestServer()

	req := testutil.CreateJSONRequest(t, http.MethodPost, "/session/carbs", `{"answer":""}`)
	rec := serve(server, req, "s_rejected")
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rec.Code, "empty carb answer")
	testutil.AssertJSONResponse(t, rec, string(models.APIStatusError))
}
