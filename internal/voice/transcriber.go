package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/hrvoice/pkg/provider/stt"
)

// Transcriber turns a recorded clip into an annotated transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, cfg SessionConfig) (Annotation, error)
}

// SpeechToText is the [Transcriber] backed by an [stt.Provider].
type SpeechToText struct {
	provider stt.Provider
	opts     adapterOptions
}

var _ Transcriber = (*SpeechToText)(nil)

// NewSpeechToText wraps p. A nil p yields an adapter that always returns
// [ErrNotConfigured].
func NewSpeechToText(p stt.Provider, opts ...AdapterOption) *SpeechToText {
	o := newAdapterOptions(opts)
	if o.tone == nil {
		o.tone = KeywordToneDetector{}
	}
	return &SpeechToText{provider: p, opts: o}
}

// Transcribe submits audio and annotates the result with its tone. Provider
// errors are returned unchanged apart from wrapping; a blank transcript
// returns [ErrEmptyTranscript].
func (s *SpeechToText) Transcribe(ctx context.Context, audio []byte, cfg SessionConfig) (Annotation, error) {
	if s.provider == nil {
		return Annotation{}, ErrNotConfigured
	}
	tr, err := s.provider.Transcribe(ctx, stt.Request{
		Audio:    audio,
		Filename: cfg.AudioFilename,
		Language: s.opts.language,
	})
	s.opts.record(ctx, "stt", err)
	if err != nil {
		return Annotation{}, fmt.Errorf("voice: transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return Annotation{}, ErrEmptyTranscript
	}
	return Annotation{Transcript: text, Tone: s.opts.tone.DetectTone(text)}, nil
}
