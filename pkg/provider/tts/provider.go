// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI speech,
// ElevenLabs, or a local Coqui server) and presents a uniform one-shot
// interface: a complete reply goes in, one encoded audio payload comes out.
// The voice pipeline stores that payload and hands the client a URL to it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by providers when asked to synthesise nothing.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per in-flight voice turn plus the phrase preloader).
type Provider interface {
	// Synthesize renders req.Text in req.Voice and returns the encoded audio.
	//
	// Providers fall back to their own defaults for empty Voice, Model and
	// Format fields. Returns an error if the backend fails or ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
