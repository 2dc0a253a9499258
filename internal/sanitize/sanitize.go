// Package sanitize normalizes generator output for display, logging, and
// speech synthesis. It applies a fixed, enumerated substitution list exactly
// once at the generator-adapter boundary; transcripts and user answers are
// never sanitized.
package sanitize

import (
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/HealthLog/internal/models"
)

// ---- Substitutions ----

// substitutions is the hard-coded list of old/new pairs removed from
// generator output: the apostrophe (U+0027), the right and left single
// quotation marks (U+2019, U+2018), and the markdown emphasis, heading, and
// code markers. Contraction punctuation is stripped unconditionally rather
// than asking the model to avoid it; markdown markers are stripped because
// output is spoken and logged as plain prose.
var substitutions = []string{
	"'", "",
	"’", "",
	"‘", "",
	"*", "",
	"#", "",
	"`", "",
}

var replacer = strings.NewReplacer(substitutions...)

// Output applies the substitution list to generator output. Idempotent:
// sanitizing already-sanitized text returns the identical string.
func Output(s string) string {
	return replacer.Replace(s)
}

// ForSpeech prepares generator output for speech synthesis: the substitution
// list is applied and the result is capped at models.MaxSpeechTextLength
// runes. The cut falls on a rune boundary so multi-byte characters are never
// split.
func ForSpeech(s string) string {
	return CapRunes(Output(s), models.MaxSpeechTextLength)
}

// CapRunes truncates s to at most max runes. Strings at or under the cap are
// returned unchanged, so capping is idempotent.
func CapRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
