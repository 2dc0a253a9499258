// Package models defines the core data structures for HealthLog.
//
// It includes the conversation session record, spreadsheet log entries, and
// the API response envelope, which are shared across modules.
package models

import (
	"errors"
	"time"
	"unicode/utf8"
)

// Validation constants for input validation
const (
	// MaxTranscriptionLogLength defines the maximum allowed length, in runes,
	// of the accumulated transcription log. The log is truncated to this cap
	// on every write (truncate-on-append).
	MaxTranscriptionLogLength = 4096
	// MaxCarbAnswerLength defines the maximum allowed length for the carb
	// check answer.
	MaxCarbAnswerLength = 1000
	// MaxSpeechTextLength defines the maximum length, in runes, of text
	// prepared for speech synthesis.
	MaxSpeechTextLength = 500
)

// LogDateLayout is the date format used for spreadsheet rows and log entries.
const LogDateLayout = "2006-01-02"

// Error variables for better error handling and testability
var (
	ErrEmptySessionID    = errors.New("session ID cannot be empty")
	ErrInvalidStage      = errors.New("invalid conversation stage")
	ErrLogTooLong        = errors.New("transcription log exceeds maximum length")
	ErrEmptyAudio        = errors.New("audio payload is empty")
	ErrUnrecognizedAudio = errors.New("audio format was not recognized")
	ErrEmptyTranscript   = errors.New("transcription produced no text")
	ErrEmptyImage        = errors.New("image payload is empty")
	ErrUnrecognizedImage = errors.New("image could not be processed")
	ErrEmptyCarbAnswer   = errors.New("carb answer cannot be empty")
	ErrCarbAnswerTooLong = errors.New("carb answer exceeds maximum length")
	ErrStageMismatch     = errors.New("event not accepted in current stage")
)

// Session is the conversation record for one user session. It accumulates
// free-text notes across the voice and photo stages and carries the stage
// pointer for the conversation state machine. The record is a plain value:
// transitions take a Session in and return a new Session out, and the caller
// persists the result.
type Session struct {
	ID                string    `json:"id"`
	Stage             Stage     `json:"stage"`
	TranscriptionLog  string    `json:"transcription_log"`
	PhotoAssessment   string    `json:"photo_assessment,omitempty"`
	CarbResponse      string    `json:"carb_response,omitempty"`
	PhotoAnalysisDone bool      `json:"photo_analysis_done"`
	FinalSummary      string    `json:"final_summary,omitempty"`
	SummaryLoggedAt   time.Time `json:"summary_logged_at,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// NewSession creates a session record in the start stage with all
// accumulation fields at their defaults.
func NewSession(id string) Session {
	now := time.Now().UTC()
	return Session{
		ID:        id,
		Stage:     StageStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate performs validation on a Session record.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	if !IsValidStage(s.Stage) {
		return ErrInvalidStage
	}
	if utf8.RuneCountInString(s.TranscriptionLog) > MaxTranscriptionLogLength {
		return ErrLogTooLong
	}
	if utf8.RuneCountInString(s.CarbResponse) > MaxCarbAnswerLength {
		return ErrCarbAnswerTooLong
	}
	return nil
}

// SummaryLogged reports whether the final summary row has been appended to
// the external log for this session.
func (s *Session) SummaryLogged() bool {
	return !s.SummaryLoggedAt.IsZero()
}

// LogEntry is the local mirror of one appended spreadsheet row.
type LogEntry struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Date      string    `json:"date"`  // LogDateLayout
	Label     string    `json:"label"` // short stage label, e.g. "Final Summary"
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate performs validation on a LogEntry.
func (e *LogEntry) Validate() error {
	if e.SessionID == "" {
		return ErrEmptySessionID
	}
	if e.Date == "" || e.Label == "" {
		return errors.New("log entry date and label are required")
	}
	return nil
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
