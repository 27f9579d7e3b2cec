// Package coqui synthesises replies on a self-hosted Coqui TTS server, for
// deployments that must keep employee conversations on premises.
//
// Two server APIs are supported:
//
//   - [APIModeStandard] (default): the stock Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), GET /api/tts with query parameters.
//   - [APIModeXTTS]: the XTTS v2 API server, POST /tts_to_audio/ with a JSON
//     body naming a reference speaker.
//
// Both answer with a WAV file, which is validated and returned unchanged.
// Coqui cannot encode other formats, so Request.Format is ignored.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("de"))
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	standardPath = "/api/tts"
	xttsPath     = "/tts_to_audio/"

	// maxErrorBody bounds how much of a failed response is read for the
	// error message.
	maxErrorBody = 4 << 10
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithTimeout sets the HTTP timeout per synthesis. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithAPIMode selects the server API. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithVoiceMap translates pipeline voice names (e.g. "alloy") into Coqui
// speaker IDs or XTTS reference speaker names. Unmapped voices pass through.
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) { p.voices = m }
}

// WithHTTPClient replaces the HTTP client. WithTimeout applied afterwards
// modifies it.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements [tts.Provider] against a Coqui server. It is safe for
// concurrent use.
type Provider struct {
	baseURL  string
	language string
	mode     APIMode
	voices   map[string]string
	client   *http.Client
}

// New creates a Provider for the server at baseURL (e.g.
// "http://localhost:5002").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL must not be empty")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// speaker resolves the pipeline voice name.
func (p *Provider) speaker(voice string) string {
	if mapped, ok := p.voices[voice]; ok {
		return mapped
	}
	return voice
}

// Synthesize renders req.Text and returns the server's WAV response.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}

	httpReq, err := p.newRequest(ctx, req.Text, p.speaker(req.Voice))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("coqui: %s %s: status %d: %s",
			httpReq.Method, httpReq.URL.Path, resp.StatusCode, errorMessage(body))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	slog.Debug("coqui: synthesized reply", "mode", p.mode, "chars", len(req.Text),
		"sample_rate", info.SampleRate, "duration", info.Duration())
	return &tts.Audio{Data: wav, ContentType: tts.ContentTypeFor("wav")}, nil
}

func (p *Provider) newRequest(ctx context.Context, text, speaker string) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		if speaker == "" {
			return nil, errors.New("coqui: xtts mode needs a voice naming the reference speaker")
		}
		body, err := json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{text, speaker, p.language})
		if err != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+xttsPath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("coqui: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
		return req, nil
	}

	q := url.Values{"text": {text}, "language_id": {p.language}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+standardPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// errorMessage extracts a readable message from a failed response. The XTTS
// server answers FastAPI style ({"detail": ...}); the standard server sends
// HTML or plain text.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"detail.0.msg", "detail", "message", "error"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
				return r.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty body"
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

// wavInfo is the format of a RIFF/WAVE payload.
type wavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// Duration is the playback length of the PCM data.
func (w wavInfo) Duration() time.Duration {
	bytesPerSec := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(w.DataBytes) * time.Second / time.Duration(bytesPerSec)
}

// parseWAV walks the RIFF chunks of wav until the data chunk. A missing fmt
// chunk assumes Coqui's native 22.05 kHz mono 16-bit output.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: response is not a RIFF/WAVE file")
	}

	info := wavInfo{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := wav[off+8:]

		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return wavInfo{}, errors.New("coqui: truncated WAV fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			info.DataBytes = min(size, len(body))
			return info, nil
		}

		// Chunks are word aligned.
		off += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: WAV response has no data chunk")
}
