package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

// DefaultSpeechModel is the synthesis model requested by [TextToSpeech].
const DefaultSpeechModel = "tts-1"

// Speech is synthesized audio for a reply.
type Speech struct {
	AudioURL   string
	Text       string
	TokenCount int
}

// Synthesizer renders reply text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, cfg SessionConfig) (Speech, error)
}

// AudioSink stores an audio payload and returns a URL that serves it.
// [audiostore.Store] is the production implementation.
type AudioSink interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// PutPinned stores a payload that is never evicted.
	PutPinned(ctx context.Context, data []byte, contentType string) (string, error)
	// Alive reports whether url still serves audio.
	Alive(url string) bool
}

// TextToSpeech is the [Synthesizer] backed by a [tts.Provider].
type TextToSpeech struct {
	provider tts.Provider
	sink     AudioSink
	phrases  *PhraseCache
	opts     adapterOptions
}

var _ Synthesizer = (*TextToSpeech)(nil)

// NewTextToSpeech wraps p, storing payloads in sink. phrases may be nil, in
// which case the adapter gets its own empty cache. A nil p yields
// [ErrNotConfigured] for every phrase that is not preloaded.
func NewTextToSpeech(p tts.Provider, sink AudioSink, phrases *PhraseCache, opts ...AdapterOption) *TextToSpeech {
	o := newAdapterOptions(opts)
	if o.model == "" {
		o.model = DefaultSpeechModel
	}
	if phrases == nil {
		phrases = NewPhraseCache()
	}
	return &TextToSpeech{provider: p, sink: sink, phrases: phrases, opts: o}
}

// Configured reports whether a synthesis provider is present.
func (s *TextToSpeech) Configured() bool { return s.provider != nil }

// Phrases returns the preloaded phrase cache consulted before synthesis.
func (s *TextToSpeech) Phrases() *PhraseCache { return s.phrases }

// Synthesize returns preloaded audio for an exact phrase match, otherwise
// renders text with the session's voice.
func (s *TextToSpeech) Synthesize(ctx context.Context, text string, cfg SessionConfig) (Speech, error) {
	if url, ok := s.phrase(text); ok {
		return Speech{AudioURL: url, Text: text, TokenCount: EstimateTokens(text)}, nil
	}
	url, err := s.render(ctx, text, cfg.VoiceOrDefault(), false)
	if err != nil {
		return Speech{}, err
	}
	return Speech{AudioURL: url, Text: text, TokenCount: EstimateTokens(text)}, nil
}

// phrase returns the preloaded URL for text if the sink still serves it. A
// stale entry is dropped so the phrase is rendered again.
func (s *TextToSpeech) phrase(text string) (string, bool) {
	url, ok := s.phrases.Get(text)
	if !ok {
		return "", false
	}
	if !s.sink.Alive(url) {
		s.phrases.Delete(text)
		return "", false
	}
	return url, true
}

// render calls the provider and stores the payload, bypassing the phrase
// cache. Pinned payloads outlive the sink's retention limits.
func (s *TextToSpeech) render(ctx context.Context, text, voice string, pinned bool) (string, error) {
	if s.provider == nil {
		return "", ErrNotConfigured
	}
	audio, err := s.provider.Synthesize(ctx, tts.Request{
		Text:   text,
		Voice:  voice,
		Model:  s.opts.model,
		Format: s.opts.format,
	})
	s.opts.record(ctx, "tts", err)
	if err != nil {
		return "", fmt.Errorf("voice: synthesize: %w", err)
	}
	put := s.sink.Put
	if pinned {
		put = s.sink.PutPinned
	}
	url, err := put(ctx, audio.Data, audio.ContentType)
	if err != nil {
		return "", fmt.Errorf("voice: store audio: %w", err)
	}
	return url, nil
}

// EstimateTokens approximates usage as ceil(words * 1.3).
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	// Integer form of ceil(words*1.3) avoids float rounding (10*1.3 > 13).
	return (words*13 + 9) / 10
}

// SynthesizerFunc adapts a plain function to [Synthesizer].
type SynthesizerFunc func(ctx context.Context, text string, cfg SessionConfig) (Speech, error)

// Synthesize implements [Synthesizer].
func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, cfg SessionConfig) (Speech, error) {
	return f(ctx, text, cfg)
}
