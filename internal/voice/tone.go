package voice

import "strings"

// ToneDetector infers the emotional register of a transcript.
type ToneDetector interface {
	DetectTone(text string) Tone
}

// ToneDetectorFunc adapts a plain function to [ToneDetector].
type ToneDetectorFunc func(text string) Tone

// DetectTone implements [ToneDetector].
func (f ToneDetectorFunc) DetectTone(text string) Tone { return f(text) }

// KeywordToneDetector applies punctuation and keyword rules, first match wins:
//
//	"!" together with "great" or "amazing"  -> excited
//	"?"                                      -> questioning
//	"not working" or "won't"                 -> frustrated
//
// Keyword matching ignores case.
type KeywordToneDetector struct{}

var _ ToneDetector = KeywordToneDetector{}

// DetectTone implements [ToneDetector].
func (KeywordToneDetector) DetectTone(text string) Tone {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "!") && containsAny(lower, "great", "amazing"):
		return ToneExcited
	case strings.Contains(text, "?"):
		return ToneQuestioning
	case containsAny(lower, "not working", "won't", "won’t"):
		return ToneFrustrated
	}
	return ToneNone
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
