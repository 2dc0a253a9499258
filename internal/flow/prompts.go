package flow

import "fmt"

// DefaultHealthPlan is the fixed health-plan paragraph embedded verbatim in
// every generator prompt. Deployments can replace it at startup with
// WithHealthPlan or the HEALTHLOG_HEALTH_PLAN_FILE setting.
const DefaultHealthPlan = `
I want to reduce my belly circumference from 101cm to under 95cm.
My daily habits are: a) fasting from 5:30 pm to 9:30 am daily, b) eat meals with meat based protein plus vegetables, avoiding potatoes and other higher carb vegetables, c) avoid standard carbs, d) limit snacks to only those that are based on high fibre and gut healhty ingredients (e.g. nuts, seeds, fruit and yogurt).
`

// defaultSystemPrompt frames every text assessment call. Generated replies are
// spoken aloud and written to the spreadsheet, so the prompt asks for short
// plain prose; contraction marks and formatting characters are additionally
// stripped by the sanitize package regardless of whether the model complies.
const defaultSystemPrompt = "You are a supportive personal health coach reviewing one day of my food and activity log. " +
	"Keep replies brief, specific, and encouraging. " +
	"Write plain prose without contractions, markdown, or special formatting characters."

// Stage instruction blocks appended to the shared assessment prompt.
const (
	initialInstruction = "Acknowledge what I have logged so far, then ask me to add any further detail about meals or activity I have not mentioned yet."
	finalInstruction   = "Write the final summary for today: assess my adherence to the plan, account for my carb answer, and end with one specific suggestion for tomorrow."
)

// CarbQuestion is the fixed question presented in the carb check stage. It is
// a static string, not model output.
const CarbQuestion = "Before we finish: did you have any rice, bread, or other carbs today that we have not logged yet?"

// CarbAck is the static reply returned when a carb answer is recorded.
const CarbAck = "Got it. Ask for your final summary when you are ready."

// StartPrompt greets a fresh session.
const StartPrompt = "Record a voice note describing your meals and activity to start your daily log."

// Prefixes used when folding later inputs into the accumulated log.
const (
	UserDetailPrefix    = "USER DETAIL: "
	PhotoAnalysisPrefix = "PHOTO ANALYSIS: "
)

// InitialAssessmentPrompt builds the acknowledgement-mode prompt for the
// first voice note of a session.
func InitialAssessmentPrompt(plan, transcript string) string {
	return fmt.Sprintf("I have logged the following daily activities and notes: \"%s\". "+
		"My overall health plan is: %s. "+
		"Please assess my progress based on my notes, highlight key adherence points or areas for improvement, and provide a brief, encouraging summary. %s",
		transcript, plan, initialInstruction)
}

// FinalSummaryPrompt builds the synthesis-mode prompt from the full
// accumulated log and the carb check answer.
func FinalSummaryPrompt(plan, log, carbAnswer string) string {
	return fmt.Sprintf("I have logged the following daily activities and notes: \"%s\". "+
		"When asked whether I had any additional carbs today, I answered: \"%s\". "+
		"My overall health plan is: %s. %s",
		log, carbAnswer, plan, finalInstruction)
}

// MealPhotoPrompt builds the vision prompt that accompanies a meal photo.
func MealPhotoPrompt(plan string) string {
	return fmt.Sprintf("This is a photo of my meal. My diet plan is: %s. "+
		"Please analyze the meal and tell me if it aligns with my plan. "+
		"Identify the food items and provide specific feedback and suggestions for improvement.",
		plan)
}
