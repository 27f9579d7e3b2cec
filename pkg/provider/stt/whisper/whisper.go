// Package whisper transcribes voice turns on a self-hosted whisper.cpp
// server, so employee audio never leaves the company network.
//
// Clips go to the server's POST /inference endpoint as a multipart upload and
// are forwarded unchanged; whisper-server built with ffmpeg decodes webm and
// mp3 itself. Responses are requested as verbose_json so the transcript
// carries the detected language, clip duration and timed segments.
//
//	p, err := whisper.New("http://whisper.internal:8080", whisper.WithLanguage("de"))
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/hrvoice/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	inferencePath   = "/inference"
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use (e.g. "small"). Empty keeps
// whatever model whisper-server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language for requests that carry none.
// "auto" lets the server detect it. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithTimeout bounds each inference call. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements [stt.Provider] against a whisper.cpp server.
type Provider struct {
	endpoint string
	model    string
	language string
	client   *http.Client
}

// New creates a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(baseURL, "/") + inferencePath,
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the clip and returns the server's transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("whisper: audio must not be empty")
	}

	body, contentType, err := p.form(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("whisper: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response: %w", err)
	}
	// whisper-server reports some failures as {"error": ...} with status 200.
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		return nil, fmt.Errorf("whisper: inference: status %d: %s", resp.StatusCode, msg.String())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: inference: status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("whisper: inference: response is not JSON")
	}
	return parseTranscript(data), nil
}

func (p *Provider) form(req stt.Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", req.FilenameOrDefault())
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	for _, f := range [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", req.Prompt},
	} {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// parseTranscript reads a verbose_json body. Plain {"text": ...} answers from
// older servers yield a transcript without segments.
func parseTranscript(data []byte) *stt.Transcript {
	res := gjson.ParseBytes(data)
	tr := &stt.Transcript{
		Text:     strings.TrimSpace(res.Get("text").String()),
		Language: res.Get("language").String(),
		Duration: seconds(res.Get("duration").Float()),
	}
	for _, seg := range res.Get("segments").Array() {
		text := strings.TrimSpace(seg.Get("text").String())
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, stt.Segment{
			Text:  text,
			Start: seconds(seg.Get("start").Float()),
			End:   seconds(seg.Get("end").Float()),
		})
	}
	return tr
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
