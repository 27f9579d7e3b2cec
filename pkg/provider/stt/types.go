package stt

import "time"

// Transcript is the result of a single transcription request.
type Transcript struct {
	// Text is the recognised speech content. May be empty when the clip held
	// no intelligible speech.
	Text string

	// Language is the language reported by the backend, if any.
	Language string

	// Duration is the length of the submitted clip as reported by the backend.
	// Zero when unknown.
	Duration time.Duration

	// Segments holds per-segment detail when the backend returns it.
	Segments []Segment
}

// Segment is one timed span of a transcript.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// DefaultFilename is used when a Request carries no filename.
const DefaultFilename = "audio.webm"

// FilenameOrDefault returns req.Filename, or [DefaultFilename] when empty.
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return DefaultFilename
	}
	return r.Filename
}
