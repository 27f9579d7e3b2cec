// Package mock provides a test double for the moderation.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
)

// ModerateCall records a single invocation of Moderate.
type ModerateCall struct {
	// Ctx is the context passed to Moderate.
	Ctx context.Context
	// Text is the input passed to Moderate.
	Text string
}

// Provider is a mock implementation of moderation.Provider.
// A nil Result yields an unflagged verdict.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Moderate.
	Result *moderation.Result

	// Err, if non-nil, is returned as the error from Moderate.
	Err error

	// Calls records every invocation of Moderate in order.
	Calls []ModerateCall
}

// Moderate records the call and returns Result, Err.
func (p *Provider) Moderate(ctx context.Context, text string) (*moderation.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ModerateCall{Ctx: ctx, Text: text})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &moderation.Result{}, nil
	}
	r := *p.Result
	return &r, nil
}

// CallCount returns the number of Moderate invocations. Thread-safe.
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

var _ moderation.Provider = (*Provider)(nil)
