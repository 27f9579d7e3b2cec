package tts

import "strings"

// Request describes a single synthesis call.
type Request struct {
	// Text is the full text to speak.
	Text string

	// Voice is the provider-specific voice identifier (e.g., "alloy" for
	// OpenAI or a voice ID for ElevenLabs).
	Voice string

	// Model is the synthesis model (e.g., "tts-1"). Empty selects the
	// provider default.
	Model string

	// Format is the requested container/codec (e.g., "mp3"). Empty selects
	// the provider default.
	Format string
}

// Audio is an encoded speech payload.
type Audio struct {
	// Data holds the complete encoded audio.
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/mpeg").
	ContentType string
}

// ContentTypeFor maps a short format name to its MIME type. Unknown formats
// map to "application/octet-stream".
func ContentTypeFor(format string) string {
	f := strings.ToLower(format)
	switch {
	case f == "mp3" || strings.HasPrefix(f, "mp3_"):
		return "audio/mpeg"
	case f == "wav":
		return "audio/wav"
	case f == "opus" || strings.HasPrefix(f, "opus_"):
		return "audio/ogg"
	case f == "aac":
		return "audio/aac"
	case f == "flac":
		return "audio/flac"
	case f == "pcm" || strings.HasPrefix(f, "pcm_"):
		return "audio/pcm"
	case strings.HasPrefix(f, "ulaw_"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}
