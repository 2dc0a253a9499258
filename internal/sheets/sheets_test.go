package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func TestNewLogger_MissingSpreadsheetID(t *testing.T) {
	_, err := NewLogger(context.Background(), WithCredentialsJSON([]byte(`{}`)))
	if err == nil || !strings.Contains(err.Error(), "spreadsheet ID") {
		t.Errorf("expected spreadsheet ID error, got %v", err)
	}
}

func TestNewLogger_MissingCredentials(t *testing.T) {
	_, err := NewLogger(context.Background(), WithSpreadsheetID("sheet-123"))
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("expected credentials error, got %v", err)
	}
}

func TestNewLogger_UnreadableCredentialsFile(t *testing.T) {
	_, err := NewLogger(context.Background(),
		WithSpreadsheetID("sheet-123"),
		WithCredentialsFile("/nonexistent/creds.json"),
	)
	if err == nil {
		t.Error("expected error for unreadable credentials file, got nil")
	}
}

// newTestLogger points a Logger at a local HTTP server standing in for the
// Sheets API.
func newTestLogger(t *testing.T, handler http.Handler) (*Logger, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	svc, err := sheets.NewService(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint(srv.URL),
	)
	if err != nil {
		srv.Close()
		t.Fatalf("failed to create sheets service: %v", err)
	}
	return &Logger{svc: svc, spreadsheetID: "sheet-123", appendRange: DefaultAppendRange}, srv
}

func TestAppend_SendsOneRow(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Values [][]interface{} `json:"values"`
	}
	logger, srv := newTestLogger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode append body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := logger.Append(context.Background(), "2025-08-25", "Final Summary", "notes blob")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if !strings.Contains(gotPath, "sheet-123") {
		t.Errorf("append did not target configured spreadsheet: %s", gotPath)
	}
	if len(gotBody.Values) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(gotBody.Values))
	}
	row := gotBody.Values[0]
	if len(row) != 3 || row[0] != "2025-08-25" || row[1] != "Final Summary" || row[2] != "notes blob" {
		t.Errorf("unexpected row contents: %v", row)
	}
}

func TestAppend_ServiceError(t *testing.T) {
	logger, srv := newTestLogger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 500, "message": "backend"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := logger.Append(context.Background(), "2025-08-25", "Final Summary", "notes")
	if err == nil {
		t.Error("expected error from failing append, got nil")
	}
}
