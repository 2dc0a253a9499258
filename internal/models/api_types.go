package models

import "strings"

// CarbAnswerRequest is the JSON body for POST /session/carbs.
type CarbAnswerRequest struct {
	Answer string `json:"answer"`
}

// Validate performs validation on a CarbAnswerRequest.
func (r *CarbAnswerRequest) Validate() error {
	if strings.TrimSpace(r.Answer) == "" {
		return ErrEmptyCarbAnswer
	}
	return nil
}

// StepResponse is the JSON result of one conversation step.
type StepResponse struct {
	SessionID string `json:"session_id"`
	Stage     Stage  `json:"stage"`
	Reply     string `json:"reply"`
	Speech    string `json:"speech,omitempty"`
}
