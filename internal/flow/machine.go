// Package flow implements the conversation state machine for a daily health
// log visit. A visit moves through a fixed forward sequence of stages: an
// initial voice note, a photo check that accepts an optional meal photo and a
// required voice detail, a fixed carb question, and a final synthesized
// summary that produces one spreadsheet row.
//
// Transitions are pure with respect to stored state: each handler takes the
// current session record as a value and returns the updated record for the
// caller to persist. A failed adapter call returns an error and no updated
// record, so the stored session never reflects a half-applied step.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/HealthLog/internal/models"
	"github.com/BTreeMap/HealthLog/internal/sanitize"
)

// Transcriber converts captured audio bytes to plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Assessor generates natural-language assessment text from prompts.
type Assessor interface {
	GenerateAssessment(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// PhotoAnalyzer generates natural-language text from a meal photo and an
// analysis prompt.
type PhotoAnalyzer interface {
	AnalyzeMealPhoto(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// RowAppender appends one dated row to the external spreadsheet log.
type RowAppender interface {
	Append(ctx context.Context, date, label, notes string) error
}

// Opts holds configuration options for the conversation machine.
type Opts struct {
	// HealthPlan overrides the fixed plan paragraph embedded in prompts.
	HealthPlan string
	// SystemPrompt overrides the system framing for assessment calls.
	SystemPrompt string
}

// Option configures the conversation machine.
type Option func(*Opts)

// WithHealthPlan replaces the default health-plan paragraph.
func WithHealthPlan(plan string) Option {
	return func(o *Opts) { o.HealthPlan = plan }
}

// WithSystemPrompt replaces the default system prompt for assessment calls.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Machine drives the staged conversation. It holds the three generator
// adapters and the spreadsheet appender; it never touches the session store.
type Machine struct {
	transcriber  Transcriber
	assessor     Assessor
	analyzer     PhotoAnalyzer
	rows         RowAppender
	healthPlan   string
	systemPrompt string
	now          func() time.Time
}

// NewMachine creates a conversation machine. A nil rows appender disables
// spreadsheet logging; the other adapters are required.
func NewMachine(transcriber Transcriber, assessor Assessor, analyzer PhotoAnalyzer, rows RowAppender, opts ...Option) *Machine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	healthPlan := cfg.HealthPlan
	if strings.TrimSpace(healthPlan) == "" {
		healthPlan = DefaultHealthPlan
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &Machine{
		transcriber:  transcriber,
		assessor:     assessor,
		analyzer:     analyzer,
		rows:         rows,
		healthPlan:   healthPlan,
		systemPrompt: systemPrompt,
		now:          time.Now,
	}
}

// StepResult carries the outcome of one committed transition: the updated
// session record for the caller to persist, the reply to display, the speech
// variant of the reply, and, when a spreadsheet row was produced, its local
// mirror entry.
type StepResult struct {
	Session models.Session
	Reply   string
	Speech  string
	Entry   *models.LogEntry
}

// HandleAudio processes captured audio for the current stage. In the start
// stage it opens the visit; in the photo check stage it records the required
// voice detail. Audio is not accepted in any later stage.
func (m *Machine) HandleAudio(ctx context.Context, sess models.Session, audio []byte) (StepResult, error) {
	switch sess.Stage {
	case models.StageStart:
		return m.startVisit(ctx, sess, audio)
	case models.StagePhotoCheck:
		return m.addVoiceDetail(ctx, sess, audio)
	default:
		return StepResult{}, fmt.Errorf("%w: audio not accepted in stage %s", models.ErrStageMismatch, sess.Stage)
	}
}

// startVisit transcribes the opening voice note, stores the transcript as
// the start of the log, and replies with an acknowledgement assessment. The
// transcript is stored exactly as returned by the transcriber; only
// generator output passes through sanitize.
func (m *Machine) startVisit(ctx context.Context, sess models.Session, audio []byte) (StepResult, error) {
	slog.Debug("Machine.startVisit: transcribing opening voice note", "sessionID", sess.ID)
	transcript, err := m.transcriber.Transcribe(ctx, audio, "")
	if err != nil {
		slog.Error("Machine.startVisit: transcription failed", "sessionID", sess.ID, "error", err)
		return StepResult{}, fmt.Errorf("transcription failed: %w", err)
	}

	assessment, err := m.assessor.GenerateAssessment(ctx, m.systemPrompt, InitialAssessmentPrompt(m.healthPlan, transcript))
	if err != nil {
		slog.Error("Machine.startVisit: assessment failed", "sessionID", sess.ID, "error", err)
		return StepResult{}, fmt.Errorf("assessment failed: %w", err)
	}

	sess.TranscriptionLog = truncateLog(transcript)
	sess.Stage = models.StagePhotoCheck
	sess.UpdatedAt = m.now().UTC()

	slog.Debug("Machine.startVisit: advanced to photo check", "sessionID", sess.ID, "transcriptLength", len(transcript))
	return StepResult{Session: sess, Reply: sanitize.Output(assessment), Speech: sanitize.ForSpeech(assessment)}, nil
}

// addVoiceDetail transcribes the follow-up voice note in the photo check
// stage, folds it into the log under the USER DETAIL prefix, and advances to
// the carb question. No generator runs here; the reply is the fixed question.
func (m *Machine) addVoiceDetail(ctx context.Context, sess models.Session, audio []byte) (StepResult, error) {
	slog.Debug("Machine.addVoiceDetail: transcribing voice detail", "sessionID", sess.ID)
	transcript, err := m.transcriber.Transcribe(ctx, audio, "")
	if err != nil {
		slog.Error("Machine.addVoiceDetail: transcription failed", "sessionID", sess.ID, "error", err)
		return StepResult{}, fmt.Errorf("transcription failed: %w", err)
	}

	sess.TranscriptionLog = appendToLog(sess.TranscriptionLog, UserDetailPrefix+transcript)
	sess.Stage = models.StageCarbCheckAsk
	sess.UpdatedAt = m.now().UTC()

	slog.Debug("Machine.addVoiceDetail: advanced to carb check", "sessionID", sess.ID)
	return StepResult{Session: sess, Reply: CarbQuestion, Speech: CarbQuestion}, nil
}

// HandlePhoto analyzes a meal photo during the photo check stage and folds
// the analysis into the log under the PHOTO ANALYSIS prefix. The stage does
// not advance on photo success alone; a voice detail is still required to
// move past the photo check.
func (m *Machine) HandlePhoto(ctx context.Context, sess models.Session, image []byte, mimeType string) (StepResult, error) {
	if sess.Stage != models.StagePhotoCheck {
		return StepResult{}, fmt.Errorf("%w: photo not accepted in stage %s", models.ErrStageMismatch, sess.Stage)
	}

	slog.Debug("Machine.HandlePhoto: analyzing meal photo", "sessionID", sess.ID, "imageSize", len(image))
	output, err := m.analyzer.AnalyzeMealPhoto(ctx, MealPhotoPrompt(m.healthPlan), image, mimeType)
	if err != nil {
		slog.Error("Machine.HandlePhoto: photo analysis failed", "sessionID", sess.ID, "error", err)
		return StepResult{}, fmt.Errorf("photo analysis failed: %w", err)
	}

	assessment := sanitize.Output(output)
	sess.PhotoAssessment = assessment
	sess.TranscriptionLog = appendToLog(sess.TranscriptionLog, PhotoAnalysisPrefix+assessment)
	sess.PhotoAnalysisDone = true
	sess.UpdatedAt = m.now().UTC()

	slog.Debug("Machine.HandlePhoto: photo analysis folded into log", "sessionID", sess.ID)
	return StepResult{Session: sess, Reply: assessment, Speech: sanitize.ForSpeech(assessment)}, nil
}

// HandleCarbAnswer records the free-text answer to the carb question and
// advances to the final summary stage. No generator call happens here.
func (m *Machine) HandleCarbAnswer(ctx context.Context, sess models.Session, answer string) (StepResult, error) {
	if sess.Stage != models.StageCarbCheckAsk {
		return StepResult{}, fmt.Errorf("%w: carb answer not accepted in stage %s", models.ErrStageMismatch, sess.Stage)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return StepResult{}, models.ErrEmptyCarbAnswer
	}
	if utf8.RuneCountInString(answer) > models.MaxCarbAnswerLength {
		return StepResult{}, models.ErrCarbAnswerTooLong
	}

	sess.CarbResponse = answer
	sess.Stage = models.StageFinalSummary
	sess.UpdatedAt = m.now().UTC()

	slog.Debug("Machine.HandleCarbAnswer: advanced to final summary", "sessionID", sess.ID)
	return StepResult{Session: sess, Reply: CarbAck, Speech: CarbAck}, nil
}

// HandleSummary produces the final synthesized summary. The generation and
// the spreadsheet append happen exactly once per visit: repeat requests
// replay the stored summary text without another generator call or row.
// A spreadsheet append failure is a warning and the visit still completes.
func (m *Machine) HandleSummary(ctx context.Context, sess models.Session) (StepResult, error) {
	if sess.Stage != models.StageFinalSummary {
		return StepResult{}, fmt.Errorf("%w: summary not available in stage %s", models.ErrStageMismatch, sess.Stage)
	}

	if sess.SummaryLogged() {
		slog.Debug("Machine.HandleSummary: replaying stored summary", "sessionID", sess.ID)
		return StepResult{Session: sess, Reply: sess.FinalSummary, Speech: sanitize.ForSpeech(sess.FinalSummary)}, nil
	}

	summary, err := m.assessor.GenerateAssessment(ctx, m.systemPrompt, FinalSummaryPrompt(m.healthPlan, sess.TranscriptionLog, sess.CarbResponse))
	if err != nil {
		slog.Error("Machine.HandleSummary: summary generation failed", "sessionID", sess.ID, "error", err)
		return StepResult{}, fmt.Errorf("summary generation failed: %w", err)
	}

	clean := sanitize.Output(summary)
	now := m.now().UTC()

	entry := models.LogEntry{
		SessionID: sess.ID,
		Date:      now.Format(models.LogDateLayout),
		Label:     models.StageLabel(models.StageFinalSummary),
		Notes:     rowNotes(clean, sess.CarbResponse, sess.TranscriptionLog),
		CreatedAt: now,
	}
	if m.rows != nil {
		if err := m.rows.Append(ctx, entry.Date, entry.Label, entry.Notes); err != nil {
			slog.Warn("Machine.HandleSummary: spreadsheet append failed", "sessionID", sess.ID, "error", err)
		}
	}

	sess.FinalSummary = clean
	sess.SummaryLoggedAt = now
	sess.UpdatedAt = now

	slog.Debug("Machine.HandleSummary: summary generated and logged", "sessionID", sess.ID)
	return StepResult{Session: sess, Reply: clean, Speech: sanitize.ForSpeech(clean), Entry: &entry}, nil
}

// Reset returns a fresh session record with the same ID and every
// accumulation field cleared to its default.
func (m *Machine) Reset(sess models.Session) StepResult {
	slog.Debug("Machine.Reset: session reset", "sessionID", sess.ID)
	fresh := models.NewSession(sess.ID)
	return StepResult{Session: fresh, Reply: StartPrompt, Speech: StartPrompt}
}

// appendToLog joins new text onto the accumulated log with a newline
// separator and truncates the result to the log cap. Truncation keeps the
// head of the string and is idempotent.
func appendToLog(log, addition string) string {
	if log == "" {
		return truncateLog(addition)
	}
	return truncateLog(log + "\n" + addition)
}

func truncateLog(s string) string {
	return sanitize.CapRunes(s, models.MaxTranscriptionLogLength)
}

// rowNotes assembles the notes column of a spreadsheet row from the
// synthesized summary, the carb answer, and the accumulated log.
func rowNotes(summary, carbAnswer, log string) string {
	return fmt.Sprintf("%s\nCarb answer: %s\nLog: %s", summary, carbAnswer, log)
}
