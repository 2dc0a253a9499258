// Package api provides HTTP handlers for HealthLog endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/HealthLog/internal/flow"
	"github.com/BTreeMap/HealthLog/internal/models"
	"github.com/BTreeMap/HealthLog/internal/util"
)

const (
	// SessionCookieName carries the session ID between browser requests.
	SessionCookieName = "healthlog_session"
	// SessionHeaderName overrides the cookie for non-browser clients.
	SessionHeaderName = "X-Session-ID"
)

// resolveSession finds the session ID from the request header or cookie,
// minting a new ID and setting the cookie when neither is present, and
// rehydrates the record from the store. A fresh session is not written to the
// store until its first committed step.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (models.Session, error) {
	id := r.Header.Get(SessionHeaderName)
	if id == "" {
		if c, err := r.Cookie(SessionCookieName); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = util.GenerateSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		slog.Debug("Server.resolveSession: minted new session", "sessionID", id)
	}

	sess, err := s.st.GetSession(id)
	if err != nil {
		return models.Session{}, err
	}
	if sess == nil {
		return models.NewSession(id), nil
	}
	return *sess, nil
}

// statusForError maps state machine and adapter errors to HTTP status codes.
// Stage mismatches are conflicts, bad input is a client error, unrecognized
// uploads are unprocessable, and anything else is an upstream service
// failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrStageMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyAudio),
		errors.Is(err, models.ErrEmptyImage),
		errors.Is(err, models.ErrEmptyCarbAnswer),
		errors.Is(err, models.ErrCarbAnswerTooLong):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnrecognizedAudio),
		errors.Is(err, models.ErrUnrecognizedImage),
		errors.Is(err, models.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// commitStep persists the updated session and its optional log entry, then
// writes the step response. Entry persistence failures are warnings, matching
// the policy that logging never fails a completed step.
func (s *Server) commitStep(w http.ResponseWriter, res flow.StepResult) {
	if err := s.st.SaveSession(res.Session); err != nil {
		slog.Error("Server.commitStep: failed to save session", "sessionID", res.Session.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save session"))
		return
	}
	if res.Entry != nil {
		if err := s.st.AddLogEntry(*res.Entry); err != nil {
			slog.Warn("Server.commitStep: failed to record log entry", "sessionID", res.Session.ID, "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.StepResponse{
		SessionID: res.Session.ID,
		Stage:     res.Session.Stage,
		Reply:     res.Reply,
		Speech:    res.Speech,
	}))
}

// healthHandler provides a health check endpoint for monitoring (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// getSessionHandler returns the current session record (GET /session).
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.getSessionHandler: processing session request", "path", r.URL.Path)
	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// audioHandler accepts a voice note for the current stage (POST /session/audio).
func (s *Server) audioHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.audioHandler: processing audio submission", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.audioHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	audio, err := readUpload(w, r, audioFieldName, maxAudioSize)
	if err != nil {
		slog.Warn("Server.audioHandler: failed to read upload", "sessionID", sess.ID, "error", err)
		status, msg := uploadErrorStatus(err)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}
	if len(audio) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No audio data received"))
		return
	}

	res, err := s.machine.HandleAudio(r.Context(), sess, audio)
	if err != nil {
		slog.Warn("Server.audioHandler: step failed", "sessionID", sess.ID, "stage", sess.Stage, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.audioHandler: audio step committed", "sessionID", sess.ID, "stage", res.Session.Stage)
	s.commitStep(w, res)
}

// photoHandler accepts a meal photo during the photo check stage
// (POST /session/photo).
func (s *Server) photoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.photoHandler: processing photo submission", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.photoHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	image, err := readUpload(w, r, photoFieldName, maxPhotoSize)
	if err != nil {
		slog.Warn("Server.photoHandler: failed to read upload", "sessionID", sess.ID, "error", err)
		status, msg := uploadErrorStatus(err)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}
	if len(image) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No photo data received"))
		return
	}

	mimeType, ok := allowedImageMIME(image)
	if !ok {
		slog.Warn("Server.photoHandler: unsupported image format", "sessionID", sess.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unsupported image format"))
		return
	}

	res, err := s.machine.HandlePhoto(r.Context(), sess, image, mimeType)
	if err != nil {
		slog.Warn("Server.photoHandler: step failed", "sessionID", sess.ID, "stage", sess.Stage, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.photoHandler: photo analyzed", "sessionID", sess.ID)
	s.commitStep(w, res)
}

// carbAnswerHandler records the answer to the carb question
// (POST /session/carbs).
func (s *Server) carbAnswerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.carbAnswerHandler: processing carb answer", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.carbAnswerHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	var req models.CarbAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.carbAnswerHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.carbAnswerHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.machine.HandleCarbAnswer(r.Context(), sess, req.Answer)
	if err != nil {
		slog.Warn("Server.carbAnswerHandler: step failed", "sessionID", sess.ID, "stage", sess.Stage, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.carbAnswerHandler: carb answer recorded", "sessionID", sess.ID)
	s.commitStep(w, res)
}

// summaryHandler generates or replays the final summary
// (POST /session/summary).
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.summaryHandler: processing summary request", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.summaryHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	res, err := s.machine.HandleSummary(r.Context(), sess)
	if err != nil {
		slog.Warn("Server.summaryHandler: step failed", "sessionID", sess.ID, "stage", sess.Stage, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.summaryHandler: summary delivered", "sessionID", sess.ID)
	s.commitStep(w, res)
}

// resetHandler starts a new session under the same ID (POST /session/reset).
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.resetHandler: processing reset request", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.resetHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	res := s.machine.Reset(sess)
	slog.Info("Server.resetHandler: session reset", "sessionID", sess.ID)
	s.commitStep(w, res)
}

// entriesHandler lists the log entries recorded for the current session
// (GET /entries).
func (s *Server) entriesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.entriesHandler: processing entries request", "path", r.URL.Path)

	sess, err := s.resolveSession(w, r)
	if err != nil {
		slog.Error("Server.entriesHandler: failed to load session", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	entries, err := s.st.GetLogEntries(sess.ID)
	if err != nil {
		slog.Error("Server.entriesHandler: failed to fetch log entries", "sessionID", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch log entries"))
		return
	}
	slog.Debug("Server.entriesHandler: entries fetched", "sessionID", sess.ID, "count", len(entries))
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}
