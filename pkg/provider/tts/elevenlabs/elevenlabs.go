// Package elevenlabs synthesises replies with the ElevenLabs stream-input
// WebSocket API.
//
// Each Synthesize call opens one socket, sends the reply sentence by sentence
// so generation starts before the whole text is uploaded, flushes, and
// collects the streamed audio frames into a single payload.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultFormat   = "mp3_44100_128"
)

var _ tts.Provider = (*Provider)(nil)

// shortFormats maps the pipeline's short format names to ElevenLabs output
// formats.
var shortFormats = map[string]string{
	"mp3":  "mp3_44100_128",
	"pcm":  "pcm_16000",
	"opus": "opus_48000_64",
	"ulaw": "ulaw_8000",
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID. Default "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the default output format, either an ElevenLabs name
// ("pcm_24000") or a short one ("mp3"). Requests naming a format override it.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if f := resolveFormat(format); f != "" {
			p.format = f
		}
	}
}

// WithEndpoint overrides the WebSocket base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithDefaultVoice sets the voice ID for requests that name none.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) { p.defaultVoice = voiceID }
}

// WithVoiceMap translates pipeline voice names (e.g. "alloy") into ElevenLabs
// voice IDs.
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) { p.voices = m }
}

// WithVoiceSettings sets stability and similarity boost, both in [0, 1].
// Defaults 0.5 and 0.75.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: clamp01(stability), SimilarityBoost: clamp01(similarity)}
	}
}

// Provider implements [tts.Provider] on the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	format       string
	endpoint     string
	defaultVoice string
	voices       map[string]string
	settings     voiceSettings
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		format:   defaultFormat,
		endpoint: defaultEndpoint,
		settings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── wire messages ──

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// inputMessage is one client frame. The first carries voice settings and a
// single space; an empty Text flushes the buffer.
type inputMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// outputMessage is one server frame.
type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize streams req.Text to ElevenLabs and returns the concatenated
// audio once the server marks the final frame or closes normally.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	voiceID := p.voice(req.Voice)
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice must not be empty")
	}
	model := p.model
	if strings.HasPrefix(req.Model, "eleven_") {
		model = req.Model
	}
	format := p.format
	if f := resolveFormat(req.Format); f != "" {
		format = f
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID, model, format), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": {p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()

	settings := p.settings
	msgs := []inputMessage{{Text: " ", VoiceSettings: &settings}}
	for _, s := range sentences(req.Text) {
		msgs = append(msgs, inputMessage{Text: s + " ", TryTriggerGeneration: true})
	}
	msgs = append(msgs, inputMessage{Text: ""})
	for _, m := range msgs {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audio, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
	return &tts.Audio{Data: audio, ContentType: tts.ContentTypeFor(format)}, nil
}

func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var buf bytes.Buffer
	for {
		var out outputMessage
		err := wsjson.Read(ctx, conn, &out)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		if out.Error != "" {
			if out.Message != "" {
				return nil, fmt.Errorf("elevenlabs: %s: %s", out.Error, out.Message)
			}
			return nil, fmt.Errorf("elevenlabs: %s", out.Error)
		}
		if out.Audio != "" {
			frame, err := base64.StdEncoding.DecodeString(out.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio frame: %w", err)
			}
			buf.Write(frame)
		}
		if out.IsFinal {
			break
		}
	}
	if buf.Len() == 0 {
		return nil, errors.New("elevenlabs: stream ended without audio")
	}
	return buf.Bytes(), nil
}

func (p *Provider) voice(name string) string {
	if id, ok := p.voices[name]; ok {
		return id
	}
	if name == "" {
		return p.defaultVoice
	}
	return name
}

func (p *Provider) streamURL(voiceID, model, format string) string {
	q := url.Values{"model_id": {model}, "output_format": {format}}
	return p.endpoint + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// resolveFormat returns the ElevenLabs output format for f, or "" when f is
// empty or unknown.
func resolveFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if mapped, ok := shortFormats[f]; ok {
		return mapped
	}
	if strings.Contains(f, "_") {
		return f
	}
	return ""
}

// sentences splits text after ., ! and ? so each fragment can trigger
// generation on its own.
func sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if next := i + 1; next == len(text) || text[next] == ' ' || text[next] == '\n' {
			if s := strings.TrimSpace(text[start:next]); s != "" {
				out = append(out, s)
			}
			start = next
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
