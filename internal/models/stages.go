// Package models defines stage type definitions to avoid circular imports.
package models

// Stage represents the current position in the conversation sequence.
type Stage string

// Stage constants for the conversation flow. Stages only advance forward
// through this order; the explicit reset action returns to StageStart.
const (
	StageStart        Stage = "START"
	StagePhotoCheck   Stage = "PHOTO_CHECK"
	StageCarbCheckAsk Stage = "CARB_CHECK_ASK"
	StageFinalSummary Stage = "FINAL_SUMMARY"
)

// stageOrder fixes the forward sequence of conversation stages.
var stageOrder = []Stage{StageStart, StagePhotoCheck, StageCarbCheckAsk, StageFinalSummary}

// IsValidStage checks if the given stage is part of the conversation sequence.
func IsValidStage(s Stage) bool {
	switch s {
	case StageStart, StagePhotoCheck, StageCarbCheckAsk, StageFinalSummary:
		return true
	default:
		return false
	}
}

// StageRank returns the position of a stage in the fixed forward order, or -1
// for an unknown stage. Useful for asserting that transitions are monotonic.
func StageRank(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// StageLabel returns the short human-readable label used for spreadsheet rows
// and log entries.
func StageLabel(s Stage) string {
	switch s {
	case StageStart:
		return "Initial Log"
	case StagePhotoCheck:
		return "Photo Check"
	case StageCarbCheckAsk:
		return "Carb Check"
	case StageFinalSummary:
		return "Final Summary"
	default:
		return string(s)
	}
}
