package voice

import (
	"errors"
	"slices"
)

// DefaultVoice is the synthesis voice used when a session names none.
const DefaultVoice = "alloy"

var (
	// ErrEmptyTranscript is returned by a Transcriber when the clip was
	// transcribed but contained no usable text.
	ErrEmptyTranscript = errors.New("voice: empty transcript")

	// ErrNotConfigured is returned by a stage whose backing provider was not
	// configured (typically a missing credential).
	ErrNotConfigured = errors.New("voice: service not configured")
)

// SessionConfig is the caller-supplied context of one voice turn.
type SessionConfig struct {
	ConversationID string
	UserID         string

	// Mode selects the assistant persona (see [ResolvePrompt]).
	Mode string

	// SystemPrompt, when set, replaces the mode prompt.
	SystemPrompt string

	// Voice is the synthesis voice. Empty selects [DefaultVoice].
	Voice string

	// UserToken is the caller's bearer token, forwarded for auditing only.
	UserToken string

	// AudioFilename names the uploaded clip. Its extension tells the
	// transcription backend the container format.
	AudioFilename string
}

// VoiceOrDefault returns the configured voice or [DefaultVoice].
func (c SessionConfig) VoiceOrDefault() string {
	if c.Voice == "" {
		return DefaultVoice
	}
	return c.Voice
}

// Tone is the emotional register inferred from a transcript.
type Tone string

const (
	ToneNone        Tone = ""
	ToneExcited     Tone = "excited"
	ToneQuestioning Tone = "questioning"
	ToneFrustrated  Tone = "frustrated"
	ToneUncertain   Tone = "uncertain"
)

// Annotation is a transcript together with its detected tone.
type Annotation struct {
	Transcript string
	Tone       Tone
}

// Annotated renders the transcript with its tone suffix, e.g.
// "How do I prepare? (tone: questioning)". Without a tone the transcript is
// returned unchanged.
func (a Annotation) Annotated() string {
	if a.Tone == ToneNone {
		return a.Transcript
	}
	return a.Transcript + " (tone: " + string(a.Tone) + ")"
}

// ModerationVerdict is the outcome of content moderation for one transcript.
type ModerationVerdict struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

// ErrorTag identifies the stage at which a turn degraded.
type ErrorTag string

const (
	TagNone                 ErrorTag = ""
	TagRateLimited          ErrorTag = "rate_limited"
	TagSpeechToTextFailed   ErrorTag = "speech_to_text_failed"
	TagEmptyTranscription   ErrorTag = "empty_transcription"
	TagContentFlagged       ErrorTag = "content_flagged"
	TagTextProcessingFailed ErrorTag = "text_processing_failed"
	TagTextToSpeechFailed   ErrorTag = "text_to_speech_failed"
	TagGeneral              ErrorTag = "general_voice_processing_error"
)

// Response is the result of one voice turn. Text is never empty; an empty
// AudioURL tells the client to continue by text.
type Response struct {
	AudioURL   string             `json:"audioUrl"`
	Text       string             `json:"text"`
	TokenCount int                `json:"tokenCount"`
	Moderation *ModerationVerdict `json:"moderation,omitempty"`
	Error      ErrorTag           `json:"error,omitempty"`
}

// Clone returns a copy of r that shares no mutable state with it.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Moderation != nil {
		m := *r.Moderation
		m.Categories = slices.Clone(r.Moderation.Categories)
		out.Moderation = &m
	}
	return &out
}
