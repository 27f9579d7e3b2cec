package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/hrvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/hrvoice/pkg/provider/llm/mock"
	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
	moderationmock "github.com/MrWong99/hrvoice/pkg/provider/moderation/mock"
	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/hrvoice/pkg/provider/stt/mock"
	"github.com/MrWong99/hrvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hrvoice/pkg/provider/tts/mock"
)

// memSink is an AudioSink that keeps payloads in memory. drop makes a URL
// stop serving.
type memSink struct {
	mu      sync.Mutex
	clips   [][]byte
	types   []string
	pinned  map[string]bool
	dropped map[string]bool
	err     error
}

func (s *memSink) Put(_ context.Context, data []byte, contentType string) (string, error) {
	return s.put(data, contentType, false)
}

func (s *memSink) PutPinned(_ context.Context, data []byte, contentType string) (string, error) {
	return s.put(data, contentType, true)
}

func (s *memSink) put(data []byte, contentType string, pinned bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.clips = append(s.clips, data)
	s.types = append(s.types, contentType)
	url := fmt.Sprintf("mem://%d", len(s.clips))
	if pinned {
		if s.pinned == nil {
			s.pinned = make(map[string]bool)
		}
		s.pinned[url] = true
	}
	return url, nil
}

func (s *memSink) Alive(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if _, err := fmt.Sscanf(url, "mem://%d", &n); err != nil || n < 1 || n > len(s.clips) {
		return false
	}
	return !s.dropped[url]
}

func (s *memSink) drop(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped == nil {
		s.dropped = make(map[string]bool)
	}
	s.dropped[url] = true
}

func TestSpeechToText_AnnotatesTone(t *testing.T) {
	p := &sttmock.Provider{Result: &stt.Transcript{Text: "  How do I prepare for my review?  "}}
	s := NewSpeechToText(p, WithLanguage("en"))

	ann, err := s.Transcribe(context.Background(), []byte("clip"), SessionConfig{AudioFilename: "turn.ogg"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if ann.Transcript != "How do I prepare for my review?" {
		t.Errorf("transcript = %q", ann.Transcript)
	}
	if ann.Tone != ToneQuestioning {
		t.Errorf("tone = %q, want questioning", ann.Tone)
	}
	req := p.Calls[0].Req
	if string(req.Audio) != "clip" || req.Filename != "turn.ogg" || req.Language != "en" {
		t.Errorf("request = %+v", req)
	}
}

func TestSpeechToText_EmptyTranscript(t *testing.T) {
	for _, text := range []string{"", "   \n\t"} {
		p := &sttmock.Provider{Result: &stt.Transcript{Text: text}}
		_, err := NewSpeechToText(p).Transcribe(context.Background(), nil, SessionConfig{})
		if !errors.Is(err, ErrEmptyTranscript) {
			t.Errorf("text %q: err = %v, want ErrEmptyTranscript", text, err)
		}
	}
}

func TestSpeechToText_ProviderErrorPropagates(t *testing.T) {
	errDown := errors.New("whisper down")
	s := NewSpeechToText(&sttmock.Provider{Err: errDown},
		WithToneDetector(ToneDetectorFunc(func(string) Tone {
			t.Fatal("tone detection ran on a failed transcription")
			return ToneNone
		})),
	)
	_, err := s.Transcribe(context.Background(), []byte("x"), SessionConfig{})
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
}

func TestSpeechToText_NotConfigured(t *testing.T) {
	_, err := NewSpeechToText(nil).Transcribe(context.Background(), []byte("x"), SessionConfig{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestContentModerator_Verdict(t *testing.T) {
	p := &moderationmock.Provider{Result: &moderation.Result{
		Flagged:    true,
		Categories: []string{"harassment"},
		Scores:     map[string]float64{"harassment": 0.91, "violence": 0.2},
	}}
	v := NewContentModerator(p).Moderate(context.Background(), "text")
	if !v.Flagged || v.Score != 0.91 || len(v.Categories) != 1 {
		t.Errorf("verdict = %+v", v)
	}
}

// nilModeration answers with neither a result nor an error.
type nilModeration struct{}

func (nilModeration) Moderate(context.Context, string) (*moderation.Result, error) { return nil, nil }

func TestContentModerator_FailsOpen(t *testing.T) {
	tests := []struct {
		name string
		m    *ContentModerator
	}{
		{"provider error", NewContentModerator(&moderationmock.Provider{Err: errors.New("status 503")})},
		{"nil result", NewContentModerator(nilModeration{})},
		{"not configured", NewContentModerator(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.m.Moderate(context.Background(), "anything")
			if v.Flagged {
				t.Fatal("verdict should not be flagged")
			}
		})
	}
}

func TestResponseGenerator_Request(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Start by listing your wins...",
		Usage:   llm.Usage{TotalTokens: 42},
	}}
	g := NewResponseGenerator(p)
	ann := Annotation{Transcript: "How do I prepare for my review?", Tone: ToneQuestioning}

	gen := g.Generate(context.Background(), ann, "performance", "")
	if gen.Failed || gen.Content != "Start by listing your wins..." || gen.TokenCount != 42 {
		t.Fatalf("generation = %+v", gen)
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt != ModePrompts["performance"] {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser ||
		req.Messages[0].Content != "How do I prepare for my review? (tone: questioning)" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 500 {
		t.Errorf("temperature=%v max_tokens=%d, want 0.7/500", req.Temperature, req.MaxTokens)
	}

	g.Generate(context.Background(), ann, "performance", "Be brief.")
	if got := p.CompleteCalls[1].Req.SystemPrompt; got != "Be brief." {
		t.Errorf("override prompt = %q", got)
	}
}

func TestResponseGenerator_Fallback(t *testing.T) {
	tests := []struct {
		name string
		g    *ResponseGenerator
		want string
	}{
		{"provider error", NewResponseGenerator(&llmmock.Provider{CompleteErr: errors.New("429")}), MsgApology},
		{"empty reply", NewResponseGenerator(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}}), MsgApology},
		{"blank reply", NewResponseGenerator(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n\t "}}), MsgApology},
		{"nil reply", NewResponseGenerator(&llmmock.Provider{}), MsgApology},
		{"not configured", NewResponseGenerator(nil), MsgNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := tt.g.Generate(context.Background(), Annotation{Transcript: "hi"}, "general", "")
			if !gen.Failed || gen.Content != tt.want || gen.TokenCount != 10 {
				t.Errorf("generation = %+v", gen)
			}
		})
	}
}

func TestTextToSpeech_Synthesize(t *testing.T) {
	p := &ttsmock.Provider{Result: &tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}}
	sink := &memSink{}
	s := NewTextToSpeech(p, sink, nil)

	sp, err := s.Synthesize(context.Background(), "Start by listing your wins", SessionConfig{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.AudioURL != "mem://1" || sp.Text != "Start by listing your wins" {
		t.Errorf("speech = %+v", sp)
	}
	if sp.TokenCount != 7 { // ceil(5 * 1.3)
		t.Errorf("token count = %d, want 7", sp.TokenCount)
	}
	req := p.Calls[0].Req
	if req.Voice != "alloy" || req.Model != "tts-1" {
		t.Errorf("voice=%q model=%q, want alloy/tts-1", req.Voice, req.Model)
	}
	if string(sink.clips[0]) != "mp3" || sink.types[0] != "audio/mpeg" {
		t.Errorf("sink got %q (%s)", sink.clips[0], sink.types[0])
	}

	_, _ = s.Synthesize(context.Background(), "hello", SessionConfig{Voice: "nova"})
	if got := p.Calls[1].Req.Voice; got != "nova" {
		t.Errorf("voice = %q, want nova", got)
	}
}

func TestTextToSpeech_PhraseCacheHit(t *testing.T) {
	p := &ttsmock.Provider{}
	sink := &memSink{}
	preloaded, _ := sink.PutPinned(context.Background(), []byte("mp3"), "audio/mpeg")
	phrases := NewPhraseCache()
	phrases.Put("Good question.", preloaded)
	s := NewTextToSpeech(p, sink, phrases)

	sp, err := s.Synthesize(context.Background(), "Good question.", SessionConfig{Voice: "echo"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.AudioURL != preloaded {
		t.Errorf("audio url = %q, want %q", sp.AudioURL, preloaded)
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called %d times for a preloaded phrase", p.CallCount())
	}
}

func TestTextToSpeech_StalePhraseIsRendered(t *testing.T) {
	p := &ttsmock.Provider{}
	sink := &memSink{}
	stale, _ := sink.Put(context.Background(), []byte("old"), "audio/mpeg")
	sink.drop(stale)
	phrases := NewPhraseCache()
	phrases.Put("Good question.", stale)
	s := NewTextToSpeech(p, sink, phrases)

	sp, err := s.Synthesize(context.Background(), "Good question.", SessionConfig{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.AudioURL == stale || !sink.Alive(sp.AudioURL) {
		t.Errorf("audio url = %q, want a fresh servable clip", sp.AudioURL)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.CallCount())
	}
	if _, ok := phrases.Get("Good question."); ok {
		t.Error("stale phrase entry should be dropped")
	}
}

func TestTextToSpeech_Errors(t *testing.T) {
	errDown := errors.New("tts down")
	if _, err := NewTextToSpeech(&ttsmock.Provider{Err: errDown}, &memSink{}, nil).
		Synthesize(context.Background(), "hi", SessionConfig{}); !errors.Is(err, errDown) {
		t.Errorf("provider error: err = %v", err)
	}
	errFull := errors.New("sink full")
	if _, err := NewTextToSpeech(&ttsmock.Provider{}, &memSink{err: errFull}, nil).
		Synthesize(context.Background(), "hi", SessionConfig{}); !errors.Is(err, errFull) {
		t.Errorf("sink error: err = %v", err)
	}
	if _, err := NewTextToSpeech(nil, &memSink{}, nil).
		Synthesize(context.Background(), "hi", SessionConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("not configured: err = %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 2},
		{"one two", 3},
		{"one two three", 4},
		{strings.Repeat("word ", 10), 13},
		{strings.Repeat("word ", 42), 55},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d words) = %d, want %d", len(strings.Fields(tt.text)), got, tt.want)
		}
	}
}
