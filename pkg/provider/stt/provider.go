// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., OpenAI Whisper or
// a local whisper.cpp server) and exposes a uniform request/response
// interface. A voice turn captures one complete audio clip in the browser and
// submits it in a single call, so there is no streaming session here.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request carries one audio clip and its recognition hints.
type Request struct {
	// Audio is the encoded clip exactly as captured (webm/opus, wav, mp3, …).
	Audio []byte

	// Filename is the name reported to the provider. Many providers infer the
	// container format from the extension, so it should match the payload.
	// Defaults to "audio.webm" when empty.
	Filename string

	// ContentType is the MIME type of Audio. Optional.
	ContentType string

	// Language is an ISO-639-1 hint (e.g., "en"). Empty lets the provider
	// auto-detect.
	Language string

	// Prompt is optional biasing text (company names, HR vocabulary).
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe submits req to the backend and waits for the transcript.
	//
	// Returns an error if the request cannot be delivered, the backend answers
	// with a non-success status, or ctx is cancelled. An empty transcript is
	// not an error at this layer.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
