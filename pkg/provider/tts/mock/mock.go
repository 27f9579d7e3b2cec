// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio payloads to the synthesizer and to
// verify which text and voice were requested.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &tts.Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "Hello", Voice: "alloy"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize. When nil, a small canned mp3 payload
	// is returned instead.
	Result *tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// ErrFor maps specific texts to errors. Checked before Err.
	ErrFor map[string]error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Result (or a canned payload) and Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	if err, ok := p.ErrFor[req.Text]; ok {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &tts.Audio{Data: []byte("mock-audio:" + req.Text), ContentType: "audio/mpeg"}, nil
	}
	data := make([]byte, len(p.Result.Data))
	copy(data, p.Result.Data)
	return &tts.Audio{Data: data, ContentType: p.Result.ContentType}, nil
}

// CallCount returns the number of Synthesize invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the text of every recorded call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
