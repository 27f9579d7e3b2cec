// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed a controlled Transcript to the caller and to verify
// which audio clips were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &stt.Transcript{Text: "How do I prepare for my review?"},
//	}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: clip})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hrvoice/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Audio is a copy.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. When nil, an empty Transcript is
	// returned.
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: cp})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &stt.Transcript{}, nil
	}
	out := *p.Result
	return &out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
