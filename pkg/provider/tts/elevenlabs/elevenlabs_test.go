package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

// session is what the fake server observed on its single socket.
type session struct {
	mu     sync.Mutex
	query  map[string]string
	apiKey string
	path   string
	input  []inputMessage
}

func (s *session) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.input))
	for i, m := range s.input {
		out[i] = m.Text
	}
	return out
}

// fakeStream accepts one socket, records client frames and answers the flush
// with frames.
func fakeStream(t *testing.T, frames ...outputMessage) (*Provider, *session) {
	t.Helper()
	s := &session{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.path = r.URL.Path
		s.apiKey = r.Header.Get("xi-api-key")
		s.query = map[string]string{
			"model_id":      r.URL.Query().Get("model_id"),
			"output_format": r.URL.Query().Get("output_format"),
		}
		s.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			var m inputMessage
			if err := wsjson.Read(ctx, conn, &m); err != nil {
				return
			}
			s.mu.Lock()
			s.input = append(s.input, m)
			s.mu.Unlock()
			if m.Text != "" {
				continue
			}
			for _, f := range frames {
				if err := wsjson.Write(ctx, conn, f); err != nil {
					return
				}
			}
			return
		}
	}))
	t.Cleanup(srv.Close)

	p, err := New("xi-test-key",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")+"/"),
		WithVoiceMap(map[string]string{"alloy": "21m00Tcm4TlvDq8ikWAM"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, s
}

func frame(data string) outputMessage {
	return outputMessage{Audio: base64.StdEncoding.EncodeToString([]byte(data))}
}

func TestSynthesize_StreamsSentences(t *testing.T) {
	p, s := fakeStream(t, frame("ID3"), frame("-audio"), outputMessage{IsFinal: true})

	audio, err := p.Synthesize(context.Background(), tts.Request{
		Text:  "Welcome aboard! Your laptop ships on Monday. Questions?",
		Voice: "alloy",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != "ID3-audio" || audio.ContentType != "audio/mpeg" {
		t.Errorf("audio = %q (%s)", audio.Data, audio.ContentType)
	}

	want := []string{" ", "Welcome aboard! ", "Your laptop ships on Monday. ", "Questions? ", ""}
	if got := s.texts(); !slices.Equal(got, want) {
		t.Errorf("client frames = %q, want %q", got, want)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if vs := s.input[0].VoiceSettings; vs == nil || vs.Stability != 0.5 || vs.SimilarityBoost != 0.75 {
		t.Errorf("first frame voice settings = %+v", vs)
	}
	if s.path != "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream-input" {
		t.Errorf("path = %q, want mapped voice ID", s.path)
	}
	if s.apiKey != "xi-test-key" {
		t.Errorf("xi-api-key = %q", s.apiKey)
	}
	if s.query["model_id"] != defaultModel || s.query["output_format"] != defaultFormat {
		t.Errorf("query = %v", s.query)
	}
}

func TestSynthesize_RequestOverrides(t *testing.T) {
	p, s := fakeStream(t, frame("pcm"), outputMessage{IsFinal: true})

	audio, err := p.Synthesize(context.Background(), tts.Request{
		Text:   "Hello",
		Voice:  "custom-voice",
		Model:  "eleven_multilingual_v2",
		Format: "pcm",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.ContentType != "audio/pcm" {
		t.Errorf("ContentType = %q", audio.ContentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query["model_id"] != "eleven_multilingual_v2" || s.query["output_format"] != "pcm_16000" {
		t.Errorf("query = %v", s.query)
	}
	if !strings.Contains(s.path, "/custom-voice/") {
		t.Errorf("path = %q, unmapped voice should pass through", s.path)
	}
}

func TestSynthesize_NormalCloseEndsStream(t *testing.T) {
	p, _ := fakeStream(t, frame("abc"), frame("def"))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "alloy"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != "abcdef" {
		t.Errorf("Data = %q", audio.Data)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		frames []outputMessage
		want   string
	}{
		{"server error", []outputMessage{{Error: "quota_exceeded", Message: "character limit reached"}}, "quota_exceeded: character limit reached"},
		{"bad frame", []outputMessage{{Audio: "!!not base64"}}, "decode audio frame"},
		{"no audio", []outputMessage{{IsFinal: true}}, "without audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := fakeStream(t, tt.frames...)
			_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "alloy"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSynthesize_RejectsBeforeDialing(t *testing.T) {
	p, err := New("key", WithEndpoint("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  ", Voice: "v"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("blank text: err = %v, want ErrEmptyText", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil || !strings.Contains(err.Error(), "voice") {
		t.Errorf("no voice: err = %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}

	p, _ := New("key")
	if p.model != defaultModel || p.format != defaultFormat || p.endpoint != defaultEndpoint {
		t.Errorf("defaults = %q %q %q", p.model, p.format, p.endpoint)
	}

	p, _ = New("key",
		WithModel("eleven_turbo_v2"), WithModel(""),
		WithOutputFormat("opus"),
		WithDefaultVoice("fallback-id"),
		WithVoiceSettings(1.4, -0.2))
	if p.model != "eleven_turbo_v2" || p.format != "opus_48000_64" {
		t.Errorf("options = %q %q", p.model, p.format)
	}
	if p.settings != (voiceSettings{Stability: 1, SimilarityBoost: 0}) {
		t.Errorf("settings = %+v, want clamped", p.settings)
	}
	if p.voice("") != "fallback-id" {
		t.Errorf("voice(\"\") = %q", p.voice(""))
	}
}

func TestResolveFormat(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		"MP3":       "mp3_44100_128",
		"pcm_24000": "pcm_24000",
		"wav":       "",
		" ulaw ":    "ulaw_8000",
	} {
		if got := resolveFormat(in); got != want {
			t.Errorf("resolveFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"You have 3.5 days left.", []string{"You have 3.5 days left."}},
		{"Done! Anything else?\nBye", []string{"Done!", "Anything else?", "Bye"}},
		{"no punctuation", []string{"no punctuation"}},
		{"  ...  ", []string{"..."}},
	}
	for _, tt := range tests {
		if got := sentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("sentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
